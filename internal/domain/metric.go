package domain

import "time"

// Metric 应用上报的指标数据点（追加写入，不做修改）
type Metric struct {
	ID         string            `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name       string            `json:"name" gorm:"type:varchar(100);index:idx_metrics_name_time;not null"`
	Value      float64           `json:"value" gorm:"not null"`
	Unit       string            `json:"unit,omitempty" gorm:"type:varchar(20)"`
	Dimensions map[string]string `json:"dimensions,omitempty" gorm:"serializer:json;type:json"`
	Source     string            `json:"source" gorm:"type:varchar(100);index;not null"`
	// 服务端填充
	Timestamp time.Time `json:"timestamp" gorm:"index:idx_metrics_name_time;not null"`
	IP        string    `json:"ip,omitempty" gorm:"type:varchar(45)"`
	UserAgent string    `json:"userAgent,omitempty" gorm:"type:varchar(255)"`
	APIKeyID  string    `json:"-" gorm:"type:varchar(36);index"`
}

// TableName GORM表名
func (Metric) TableName() string {
	return "metrics"
}

// AggregateFunc 指标聚合函数
type AggregateFunc string

const (
	AggregateAvg   AggregateFunc = "avg"
	AggregateMin   AggregateFunc = "min"
	AggregateMax   AggregateFunc = "max"
	AggregateSum   AggregateFunc = "sum"
	AggregateCount AggregateFunc = "count"
)

// AggregateResult 指标聚合查询结果
type AggregateResult struct {
	Value      float64 // 聚合值；样本数为 0 时无意义
	SampleSize int     // 窗口内样本数量
}

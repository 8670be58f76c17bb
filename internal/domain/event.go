package domain

import "time"

// EventLevel 事件级别
type EventLevel string

const (
	EventLevelDebug EventLevel = "debug"
	EventLevelInfo  EventLevel = "info"
	EventLevelWarn  EventLevel = "warn"
	EventLevelError EventLevel = "error"
	EventLevelFatal EventLevel = "fatal"
)

// Event 应用上报的遥测事件（追加写入，不做修改）
type Event struct {
	ID        string                 `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Type      string                 `json:"type" gorm:"type:varchar(50);index;not null"`
	Level     EventLevel             `json:"level" gorm:"type:varchar(10);index"`
	Source    string                 `json:"source" gorm:"type:varchar(100);index;not null"`
	Message   string                 `json:"message" gorm:"type:text"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" gorm:"serializer:json;type:json"`
	UserID    string                 `json:"userId,omitempty" gorm:"type:varchar(100);index"`
	SessionID string                 `json:"sessionId,omitempty" gorm:"type:varchar(100)"`
	RequestID string                 `json:"requestId,omitempty" gorm:"type:varchar(100)"`
	Tags      []string               `json:"tags,omitempty" gorm:"serializer:json;type:json"`
	// 以下字段由服务端写入时填充，客户端提交值会被覆盖
	Timestamp time.Time `json:"timestamp" gorm:"index;not null"`
	IP        string    `json:"ip,omitempty" gorm:"type:varchar(45)"`
	UserAgent string    `json:"userAgent,omitempty" gorm:"type:varchar(255)"`
	APIKeyID  string    `json:"-" gorm:"type:varchar(36);index"`
}

// TableName GORM表名
func (Event) TableName() string {
	return "events"
}

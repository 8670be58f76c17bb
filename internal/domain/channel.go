package domain

import "strings"

// 实时频道名称
//
// 频道只是路由键，不是持久化实体。events/metrics/alerts 三个
// 前缀需要 read 权限订阅，system 前缀为公开频道。
const (
	ChannelEvents        = "events:realtime"
	ChannelMetrics       = "metrics:realtime"
	ChannelAlerts        = "alerts:realtime"
	ChannelSystemStatus  = "system:status"
	ChannelSystemNotices = "system:announcements"
)

// IsPublicChannel 检查频道是否为公开频道（无需认证即可订阅）
func IsPublicChannel(channel string) bool {
	return strings.HasPrefix(channel, "system:")
}

// ChannelPermission 返回订阅频道所需的权限
//
// 公开频道返回空字符串表示无需权限；未知前缀按 admin 处理，
// 避免新增频道时默认放开
func ChannelPermission(channel string) Permission {
	switch {
	case IsPublicChannel(channel):
		return ""
	case strings.HasPrefix(channel, "events:"),
		strings.HasPrefix(channel, "metrics:"),
		strings.HasPrefix(channel, "alerts:"):
		return PermissionRead
	default:
		return PermissionAdmin
	}
}

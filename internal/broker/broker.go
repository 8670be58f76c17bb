// Package broker 提供实时消息的发布订阅抽象
//
// 网关与告警引擎通过 Broker 把事件、指标与告警推向下游，
// WebSocket 中心订阅后转发给客户端。支持三种驱动：
// redis（默认）、kafka（高吞吐场景）与 memory（单机/测试）
package broker

import (
	"context"
	"errors"
)

// ErrClosed 代理已关闭
var ErrClosed = errors.New("broker is closed")

// Message 一条发布的消息
type Message struct {
	Channel string // 逻辑频道名，如 events:realtime
	Payload []byte // JSON 编码的消息体
}

// Subscription 一次订阅
//
// Messages 返回的通道在 Close 或代理关闭后关闭，
// 消费方以通道关闭作为退出信号
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Broker 发布订阅代理
type Broker interface {
	// Publish 向频道发布消息，无订阅者时直接丢弃
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe 订阅一组频道
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
	Close() error
}

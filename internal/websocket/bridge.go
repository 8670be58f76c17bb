package websocket

import (
	"context"

	"go.uber.org/zap"

	"pulse/backend/internal/broker"
)

// Bridge 把消息总线上的频道消息转发进 Hub
//
// 每个进程各自持有一份订阅，多实例部署时所有实例都能收到
// 全量消息并分发给本地客户端
type Bridge struct {
	hub    *Hub
	broker broker.Broker
	log    *zap.Logger
}

// NewBridge 创建总线到Hub的转发器
func NewBridge(hub *Hub, b broker.Broker, logger *zap.Logger) *Bridge {
	return &Bridge{hub: hub, broker: b, log: logger}
}

// Run 订阅所有实时频道并转发，阻塞直到 ctx 取消
func (b *Bridge) Run(ctx context.Context, channels ...string) error {
	sub, err := b.broker.Subscribe(ctx, channels...)
	if err != nil {
		return err
	}
	defer sub.Close()

	b.log.Info("broker bridge started", zap.Strings("channels", channels))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				b.log.Warn("broker subscription closed")
				return nil
			}
			b.hub.Broadcast(msg.Channel, msg.Payload)
		}
	}
}

package broker

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker 基于 Redis Pub/Sub 的发布订阅代理
//
// 多实例部署时每个实例订阅同一组频道，Redis 负责跨实例扇出
type RedisBroker struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBroker 创建 Redis 代理
//
// 复用调用方持有的客户端连接池，Close 不关闭底层客户端
func NewRedisBroker(client *redis.Client, logger *zap.Logger) *RedisBroker {
	return &RedisBroker{
		client: client,
		logger: logger,
	}
}

// Publish 向频道发布消息
func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

// Subscribe 订阅一组频道
func (b *RedisBroker) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channels...)

	// 等待订阅确认，失败立即返回而不是静默丢消息
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	sub := &redisSubscription{
		pubsub:   pubsub,
		messages: make(chan Message, subscriberBuffer),
	}
	go sub.pump(b.logger)
	return sub, nil
}

// Close 关闭代理
func (b *RedisBroker) Close() error {
	return nil
}

type redisSubscription struct {
	pubsub   *redis.PubSub
	messages chan Message
	once     sync.Once
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.messages
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.pubsub.Close()
	})
	return err
}

// pump 把 Redis 消息搬运到订阅通道，连接关闭后退出
func (s *redisSubscription) pump(logger *zap.Logger) {
	defer close(s.messages)

	for msg := range s.pubsub.Channel() {
		select {
		case s.messages <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
		default:
			logger.Warn("subscriber buffer full, dropping message",
				zap.String("channel", msg.Channel))
		}
	}
}

package broker

import (
	"context"
	"sync"
)

// subscriberBuffer 每个订阅者的消息缓冲，写满即丢弃该订阅者的消息
const subscriberBuffer = 64

// MemoryBroker 进程内发布订阅代理
//
// 慢订阅者的缓冲写满时丢弃消息而不是阻塞发布方，
// 与分布式驱动的投递语义保持一致（至多一次）
type MemoryBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[*memorySubscription]struct{} // channel -> subs
	closed      bool
}

// NewMemoryBroker 创建进程内代理
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subscribers: make(map[string]map[*memorySubscription]struct{}),
	}
}

// Publish 向频道发布消息
func (b *MemoryBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	msg := Message{Channel: channel, Payload: payload}
	for sub := range b.subscribers[channel] {
		select {
		case sub.messages <- msg:
		default:
			// 缓冲已满，丢弃
		}
	}
	return nil
}

// Subscribe 订阅一组频道
func (b *MemoryBroker) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	sub := &memorySubscription{
		broker:   b,
		channels: channels,
		messages: make(chan Message, subscriberBuffer),
	}
	for _, channel := range channels {
		if b.subscribers[channel] == nil {
			b.subscribers[channel] = make(map[*memorySubscription]struct{})
		}
		b.subscribers[channel][sub] = struct{}{}
	}
	return sub, nil
}

// Close 关闭代理并结束所有订阅
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	seen := make(map[*memorySubscription]struct{})
	for _, subs := range b.subscribers {
		for sub := range subs {
			if _, ok := seen[sub]; ok {
				continue
			}
			seen[sub] = struct{}{}
			close(sub.messages)
		}
	}
	b.subscribers = make(map[string]map[*memorySubscription]struct{})
	return nil
}

type memorySubscription struct {
	broker   *MemoryBroker
	channels []string
	messages chan Message
	once     sync.Once
}

func (s *memorySubscription) Messages() <-chan Message {
	return s.messages
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		defer s.broker.mu.Unlock()

		if s.broker.closed {
			return
		}
		for _, channel := range s.channels {
			delete(s.broker.subscribers[channel], s)
			if len(s.broker.subscribers[channel]) == 0 {
				delete(s.broker.subscribers, channel)
			}
		}
		close(s.messages)
	})
	return nil
}

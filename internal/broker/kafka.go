package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaBroker 基于 Kafka 的发布订阅代理
//
// 频道名映射为主题名（冒号替换为点）。每个订阅使用独立的
// 消费组，保证各实例都能收到全量消息而不是分摊分区
type KafkaBroker struct {
	brokers     []string
	groupPrefix string
	topicPrefix string
	writer      *kafka.Writer
	logger      *zap.Logger
}

// NewKafkaBroker 创建 Kafka 代理
func NewKafkaBroker(brokers []string, groupPrefix, topicPrefix string, logger *zap.Logger) *KafkaBroker {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}

	return &KafkaBroker{
		brokers:     brokers,
		groupPrefix: groupPrefix,
		topicPrefix: topicPrefix,
		writer:      writer,
		logger:      logger,
	}
}

// Publish 向频道发布消息
func (b *KafkaBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.writer.WriteMessages(ctx, kafka.Message{
		Topic: b.topic(channel),
		Value: payload,
	})
}

// Subscribe 订阅一组频道
func (b *KafkaBroker) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	sub := &kafkaSubscription{
		messages: make(chan Message, subscriberBuffer),
		done:     make(chan struct{}),
	}

	groupID := fmt.Sprintf("%s-%s", b.groupPrefix, uuid.New().String())
	for _, channel := range channels {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers: b.brokers,
			GroupID: groupID,
			Topic:   b.topic(channel),
		})
		sub.readers = append(sub.readers, reader)

		sub.wg.Add(1)
		go sub.pump(reader, channel, b.logger)
	}

	go func() {
		sub.wg.Wait()
		close(sub.messages)
	}()

	return sub, nil
}

// Close 关闭代理
func (b *KafkaBroker) Close() error {
	return b.writer.Close()
}

// topic 频道名到 Kafka 主题名的映射
func (b *KafkaBroker) topic(channel string) string {
	return b.topicPrefix + strings.ReplaceAll(channel, ":", ".")
}

type kafkaSubscription struct {
	readers  []*kafka.Reader
	messages chan Message
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func (s *kafkaSubscription) Messages() <-chan Message {
	return s.messages
}

func (s *kafkaSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		for _, reader := range s.readers {
			reader.Close()
		}
	})
	return nil
}

// pump 把 Kafka 消息搬运到订阅通道，读取出错后退出
func (s *kafkaSubscription) pump(reader *kafka.Reader, channel string, logger *zap.Logger) {
	defer s.wg.Done()

	for {
		msg, err := reader.ReadMessage(context.Background())
		if err != nil {
			select {
			case <-s.done:
			default:
				logger.Error("kafka read failed",
					zap.String("channel", channel), zap.Error(err))
			}
			return
		}

		select {
		case s.messages <- Message{Channel: channel, Payload: msg.Value}:
		case <-s.done:
			return
		}
	}
}

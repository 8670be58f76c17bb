package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveMessage(t *testing.T, sub Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscription channel closed unexpectedly")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestMemoryBrokerPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	defer b.Close()

	sub, err := b.Subscribe(ctx, "events:realtime")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, "events:realtime", []byte(`{"type":"page_view"}`)))

	msg := receiveMessage(t, sub)
	assert.Equal(t, "events:realtime", msg.Channel)
	assert.JSONEq(t, `{"type":"page_view"}`, string(msg.Payload))
}

func TestMemoryBrokerChannelIsolation(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	defer b.Close()

	events, err := b.Subscribe(ctx, "events:realtime")
	require.NoError(t, err)
	defer events.Close()

	alerts, err := b.Subscribe(ctx, "alerts:realtime")
	require.NoError(t, err)
	defer alerts.Close()

	require.NoError(t, b.Publish(ctx, "alerts:realtime", []byte(`{}`)))

	msg := receiveMessage(t, alerts)
	assert.Equal(t, "alerts:realtime", msg.Channel)

	// 未订阅的频道收不到消息
	select {
	case <-events.Messages():
		t.Fatal("events subscriber should not receive alert message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBrokerMultiChannelSubscription(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	defer b.Close()

	sub, err := b.Subscribe(ctx, "events:realtime", "metrics:realtime")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, "events:realtime", []byte(`1`)))
	require.NoError(t, b.Publish(ctx, "metrics:realtime", []byte(`2`)))

	channels := map[string]bool{}
	for i := 0; i < 2; i++ {
		msg := receiveMessage(t, sub)
		channels[msg.Channel] = true
	}
	assert.True(t, channels["events:realtime"])
	assert.True(t, channels["metrics:realtime"])
}

func TestMemoryBrokerSubscriptionClose(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	defer b.Close()

	sub, err := b.Subscribe(ctx, "events:realtime")
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	// 重复关闭安全
	require.NoError(t, sub.Close())

	// 取消订阅后的发布不会出错
	require.NoError(t, b.Publish(ctx, "events:realtime", []byte(`{}`)))

	_, ok := <-sub.Messages()
	assert.False(t, ok)
}

func TestMemoryBrokerClose(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()

	sub, err := b.Subscribe(ctx, "events:realtime")
	require.NoError(t, err)

	require.NoError(t, b.Close())

	_, ok := <-sub.Messages()
	assert.False(t, ok)

	assert.ErrorIs(t, b.Publish(ctx, "events:realtime", []byte(`{}`)), ErrClosed)
	_, err = b.Subscribe(ctx, "events:realtime")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryBrokerSlowSubscriberDrops(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	defer b.Close()

	sub, err := b.Subscribe(ctx, "metrics:realtime")
	require.NoError(t, err)
	defer sub.Close()

	// 写满缓冲后继续发布不会阻塞
	for i := 0; i < subscriberBuffer*2; i++ {
		require.NoError(t, b.Publish(ctx, "metrics:realtime", []byte(`{}`)))
	}

	received := 0
	for {
		select {
		case <-sub.Messages():
			received++
		case <-time.After(50 * time.Millisecond):
			assert.Equal(t, subscriberBuffer, received)
			return
		}
	}
}

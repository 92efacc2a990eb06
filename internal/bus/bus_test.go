package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"oikos/concierge/pkg/types"
)

func env(t string) *types.Envelope {
	return &types.Envelope{V: types.EnvelopeVersion, Type: t, Topic: "run:1", Ts: time.Now().UnixMilli()}
}

func TestPublishReachesAllTopicSubscribers(t *testing.T) {
	b := New(zap.NewNop())

	a := b.Subscribe("run:1", 4)
	c := b.Subscribe("run:1", 4)
	other := b.Subscribe("run:2", 4)
	defer a.Close()
	defer c.Close()
	defer other.Close()

	b.Publish("run:1", env("run_started"))

	require.Len(t, a.C, 1)
	require.Len(t, c.C, 1)
	assert.Empty(t, other.C)

	got := <-a.C
	assert.Equal(t, "run_started", got.Type)
}

func TestPublishToEmptyTopicIsNoOp(t *testing.T) {
	b := New(zap.NewNop())
	b.Publish("nobody", env("run_started"))
	assert.Equal(t, 0, b.SubscriberCount("nobody"))
}

func TestFullBufferDropsInsteadOfBlocking(t *testing.T) {
	b := New(zap.NewNop())
	sub := b.Subscribe("run:1", 2)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish("run:1", env("stream_chunk"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}
	assert.Len(t, sub.C, 2)
}

func TestCloseRemovesSubscriptionAndClosesChannel(t *testing.T) {
	b := New(zap.NewNop())
	sub := b.Subscribe("run:1", 1)
	require.Equal(t, 1, b.SubscriberCount("run:1"))

	sub.Close()
	assert.Equal(t, 0, b.SubscriberCount("run:1"))

	_, open := <-sub.C
	assert.False(t, open)

	// Closing twice is safe.
	sub.Close()

	// Publishing after close must not panic on the closed channel.
	b.Publish("run:1", env("run_success"))
}

func TestConcurrentPublishAndClose(t *testing.T) {
	b := New(zap.NewNop())

	for i := 0; i < 50; i++ {
		sub := b.Subscribe("run:1", 1)
		go b.Publish("run:1", env("stream_chunk"))
		go sub.Close()
	}

	// Drain: all subscriptions eventually unregister.
	assert.Eventually(t, func() bool {
		return b.SubscriberCount("run:1") == 0
	}, time.Second, 5*time.Millisecond)
}

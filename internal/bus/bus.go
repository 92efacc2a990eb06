// Package bus provides explicit per-topic message passing for push
// delivery. Producers publish envelopes to named topics; consumers hold
// their own subscriptions. There is no process-wide singleton: every Bus is
// constructed and wired explicitly.
package bus

import (
	"sync"

	"go.uber.org/zap"

	"oikos/concierge/pkg/types"
)

// Subscription is one consumer's view of a topic. C is closed when the
// subscription is cancelled. Delivery is best-effort: when the buffer is
// full the frame is dropped, because the event log, not the transport, is
// the source of truth a consumer reconciles against.
type Subscription struct {
	C chan *types.Envelope

	bus    *Bus
	topic  string
	id     int
	closed bool
	mu     sync.Mutex
}

// Close cancels the subscription and closes C.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.bus.unsubscribe(s.topic, s.id)
	close(s.C)
}

// Bus fans envelopes out to topic subscribers.
type Bus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	nextID int
	topics map[string]map[int]*Subscription
}

// New creates an empty bus.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger: logger,
		topics: make(map[string]map[int]*Subscription),
	}
}

// Subscribe registers a consumer on a topic with the given buffer size.
func (b *Bus) Subscribe(topic string, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		C:     make(chan *types.Envelope, buffer),
		bus:   b,
		topic: topic,
		id:    b.nextID,
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[int]*Subscription)
	}
	b.topics[topic][sub.id] = sub
	return sub
}

// Publish delivers an envelope to every subscriber of the topic without
// blocking the producer.
func (b *Bus) Publish(topic string, env *types.Envelope) {
	b.mu.RLock()
	subs := b.topics[topic]
	pending := make([]*Subscription, 0, len(subs))
	for _, sub := range subs {
		pending = append(pending, sub)
	}
	b.mu.RUnlock()

	for _, sub := range pending {
		sub.mu.Lock()
		if sub.closed {
			sub.mu.Unlock()
			continue
		}
		select {
		case sub.C <- env:
		default:
			b.logger.Warn("push frame dropped, subscriber buffer full",
				zap.String("topic", topic),
				zap.String("type", env.Type),
				zap.Int64("sequence", envSequence(env)))
		}
		sub.mu.Unlock()
	}
}

// SubscriberCount returns the number of live subscriptions on a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *Bus) unsubscribe(topic string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.topics[topic]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
}

func envSequence(env *types.Envelope) int64 {
	if env.Data == nil {
		return 0
	}
	if seq, ok := env.Data["sequence"].(int64); ok {
		return seq
	}
	return 0
}

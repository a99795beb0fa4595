// Package binding ties a topic subscription to the lifetime of its owner.
//
// A binding holds at most one subscription. Bind replaces it, Close tears it
// down. Once Bind or Close returns, no callback of the replaced activation
// starts, including callbacks waiting on a fetch that was already in flight,
// and a callback already running on another goroutine has returned.
// Callbacks of one binding never run concurrently with each other.
package binding

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
	"github.com/rs/zerolog"

	"dinerlive/internal/transport"
)

// Transport opens subscriptions on the shared connection
type Transport interface {
	Subscribe(topic string, handler transport.Handler) (transport.Subscription, error)
}

// activation is one Bind call that opened a subscription
type activation struct {
	gen   uint64
	topic string
	ctx   context.Context
}

// MessageBinding delivers raw messages of one topic to a callback. It is the
// only part of the package that talks to the transport.
type MessageBinding struct {
	transport Transport
	logger    zerolog.Logger

	mu     sync.Mutex
	sub    transport.Subscription
	topic  string
	cancel context.CancelFunc

	gen       atomic.Uint64
	deliverMu sync.Mutex
	// goroutine running a callback, 0 when none
	owner atomic.Int64
}

// NewMessageBinding creates an unbound MessageBinding
func NewMessageBinding(tr Transport, logger zerolog.Logger) *MessageBinding {
	return &MessageBinding{
		transport: tr,
		logger:    logger.With().Str("component", "binding").Logger(),
	}
}

// Bind tears down the current subscription and, unless topic is empty,
// subscribes onMessage to topic
func (b *MessageBinding) Bind(topic string, onMessage func(transport.Message)) {
	b.bind(topic, func(act *activation, msg transport.Message) {
		b.run(act, func() { onMessage(msg) })
	})
}

// Close tears down the current subscription. It is idempotent.
func (b *MessageBinding) Close() {
	b.mu.Lock()
	b.teardownLocked()
	b.mu.Unlock()
	b.fence()
}

// Active reports whether the binding holds a subscription
func (b *MessageBinding) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sub != nil
}

// Topic returns the subscribed topic, or "" when inactive
func (b *MessageBinding) Topic() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.topic
}

func (b *MessageBinding) bind(topic string, handler func(act *activation, msg transport.Message)) {
	b.mu.Lock()
	gen := b.teardownLocked()
	if topic != "" {
		b.subscribeLocked(gen, topic, handler)
	}
	b.mu.Unlock()
	b.fence()
}

func (b *MessageBinding) subscribeLocked(gen uint64, topic string, handler func(*activation, transport.Message)) {
	ctx, cancel := context.WithCancel(context.Background())
	act := &activation{gen: gen, topic: topic, ctx: ctx}

	sub, err := b.transport.Subscribe(topic, func(msg transport.Message) {
		b.dispatch(act, msg, handler)
	})
	if err != nil {
		cancel()
		b.logger.Error().Err(err).Str("topic", topic).Msg("failed to subscribe, realtime updates disabled")
		return
	}

	b.sub = sub
	b.topic = topic
	b.cancel = cancel
	b.logger.Debug().Str("topic", topic).Str("subscription", sub.ID()).Msg("subscribed")
}

// teardownLocked invalidates the current activation and closes its
// subscription. It returns the generation of the next activation.
func (b *MessageBinding) teardownLocked() uint64 {
	gen := b.gen.Add(1)
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	if b.sub != nil {
		b.closeSubscription(b.sub)
		b.sub = nil
		b.topic = ""
	}
	return gen
}

func (b *MessageBinding) closeSubscription(sub transport.Subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Str("topic", sub.Topic()).Interface("panic", r).Msg("panic while closing subscription")
		}
	}()
	if err := sub.Close(); err != nil {
		b.logger.Warn().Err(err).Str("topic", sub.Topic()).Msg("failed to close subscription")
		return
	}
	b.logger.Debug().Str("topic", sub.Topic()).Msg("unsubscribed")
}

// fence waits for a running callback to return. It returns immediately when
// called from inside a callback of this binding.
func (b *MessageBinding) fence() {
	if b.owner.Load() == goid.Get() {
		return
	}
	b.deliverMu.Lock()
	b.deliverMu.Unlock()
}

// dispatch hands msg to handler without taking deliverMu. Owner callbacks
// must go through run.
func (b *MessageBinding) dispatch(act *activation, msg transport.Message, handler func(*activation, transport.Message)) {
	if b.gen.Load() != act.gen {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("topic", act.topic).Msg("binding handler panic")
		}
	}()
	handler(act, msg)
}

// run calls fn if act is still the current activation. Panics in fn are logged.
func (b *MessageBinding) run(act *activation, fn func()) bool {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	if b.gen.Load() != act.gen {
		return false
	}

	b.owner.Store(goid.Get())
	defer b.owner.Store(0)
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("topic", act.topic).Msg("binding callback panic")
		}
	}()
	fn()
	return true
}

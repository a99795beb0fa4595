package binding

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"dinerlive/internal/reconcile"
	"dinerlive/internal/transport"
)

// ErrSkip is returned by an Extractor for messages the owner is not interested in
var ErrSkip = errors.New("binding: message skipped")

// Extractor maps a push message to the id of the entity it concerns
type Extractor[ID comparable] func(msg transport.Message) (ID, error)

// Fetcher retrieves the current snapshot of one entity
type Fetcher[ID comparable, E any] func(ctx context.Context, id ID) (E, error)

// UpdateBinding refetches an entity whenever its topic announces a change and
// hands the fresh snapshot to the owner.
//
// Each message starts its own fetch. Fetches are neither de-duplicated nor
// cancelled by later messages; the reconcile policy decides which results are
// applied. A failed extraction or fetch is logged and leaves the subscription
// open. Extraction runs on the transport's dispatch goroutine and must not
// block; onUpdate runs on the fetch goroutine under the binding's callback lock.
type UpdateBinding[ID comparable, E any] struct {
	msgs   *MessageBinding
	policy reconcile.Policy[ID]
	logger zerolog.Logger

	inflight sync.WaitGroup
}

// NewUpdateBinding creates an unbound UpdateBinding. A nil policy applies
// results in arrival order.
func NewUpdateBinding[ID comparable, E any](tr Transport, policy reconcile.Policy[ID], logger zerolog.Logger) *UpdateBinding[ID, E] {
	if policy == nil {
		policy = reconcile.Arrival[ID]{}
	}
	logger = logger.With().Str("kind", "update").Logger()
	return &UpdateBinding[ID, E]{
		msgs:   NewMessageBinding(tr, logger),
		policy: policy,
		logger: logger.With().Str("component", "binding").Logger(),
	}
}

// Bind replaces the current subscription. Every call counts as a change of
// topic, fetcher, callback or extractor, even if the topic is unchanged.
func (b *UpdateBinding[ID, E]) Bind(topic string, fetch Fetcher[ID, E], onUpdate func(E), extract Extractor[ID]) {
	b.msgs.bind(topic, func(act *activation, msg transport.Message) {
		id, err := extract(msg)
		if errors.Is(err, ErrSkip) {
			return
		}
		if err != nil {
			b.logger.Warn().Err(err).Str("topic", act.topic).Msg("dropping message without entity id")
			return
		}
		ticket := b.policy.Begin(id)

		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			b.fetch(act, ticket, fetch, onUpdate)
		}()
	})
}

func (b *UpdateBinding[ID, E]) fetch(act *activation, ticket reconcile.Ticket[ID], fetch Fetcher[ID, E], onUpdate func(E)) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("topic", act.topic).Msg("fetcher panic")
		}
	}()

	entity, err := fetch(act.ctx, ticket.ID)
	if err != nil {
		if act.ctx.Err() == nil {
			b.logger.Error().Err(err).Str("topic", act.topic).Interface("id", ticket.ID).Msg("failed to fetch entity")
		}
		return
	}

	applied := false
	ran := b.msgs.run(act, func() {
		if !b.policy.Accept(ticket, entity) {
			return
		}
		applied = true
		onUpdate(entity)
	})
	switch {
	case !ran:
		b.logger.Debug().Str("topic", act.topic).Interface("id", ticket.ID).Msg("discarding fetch result after teardown")
	case !applied:
		b.logger.Debug().Str("topic", act.topic).Interface("id", ticket.ID).Msg("discarding superseded fetch result")
	}
}

// Close tears down the subscription and cancels fetches in flight. It is idempotent.
func (b *UpdateBinding[ID, E]) Close() {
	b.msgs.Close()
}

// Active reports whether the binding holds a subscription
func (b *UpdateBinding[ID, E]) Active() bool {
	return b.msgs.Active()
}

// Topic returns the subscribed topic, or "" when inactive
func (b *UpdateBinding[ID, E]) Topic() string {
	return b.msgs.Topic()
}

// wait blocks until fetches started so far have resolved
func (b *UpdateBinding[ID, E]) wait() {
	b.inflight.Wait()
}

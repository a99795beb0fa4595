package views

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"dinerlive/internal/api"
	"dinerlive/internal/binding"
	"dinerlive/internal/topic"
	"dinerlive/internal/transport"
)

// OrderDetail shows one order. Order changes are broadcast on a single
// collection topic, so messages about other orders are skipped before any fetch.
type OrderDetail struct {
	binding *binding.UpdateBinding[string, api.Order]
	fetch   binding.Fetcher[string, api.Order]
	logger  zerolog.Logger

	mu       sync.RWMutex
	publicID string
	current  api.Order
	loaded   bool
	onChange func(api.Order)
}

// NewOrderDetail creates an OrderDetail that loads orders with fetch
func NewOrderDetail(tr binding.Transport, fetch binding.Fetcher[string, api.Order], opts Options) (*OrderDetail, error) {
	policy, err := newPolicy[string](opts)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger.With().Str("view", "order").Logger()
	return &OrderDetail{
		binding: binding.NewUpdateBinding[string, api.Order](tr, policy, logger),
		fetch:   fetch,
		logger:  logger,
	}, nil
}

// OnChange registers fn to be called after every applied update
func (v *OrderDetail) OnChange(fn func(api.Order)) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

// Show switches the view to the order publicID, loads it and follows its
// updates. An empty id shows nothing.
func (v *OrderDetail) Show(ctx context.Context, publicID string) error {
	v.mu.Lock()
	v.publicID = publicID
	v.mu.Unlock()

	if publicID == "" {
		v.binding.Bind("", v.fetch, v.apply, v.extract)
	} else {
		v.binding.Bind(topic.Orders(), v.fetch, v.apply, v.extract)
	}

	v.mu.Lock()
	v.current = api.Order{}
	v.loaded = false
	v.mu.Unlock()

	if publicID == "" {
		return nil
	}

	order, err := v.fetch(ctx, publicID)
	if err != nil {
		return fmt.Errorf("failed to load order %s: %w", publicID, err)
	}

	v.mu.Lock()
	if v.publicID == publicID && !v.loaded {
		v.current = order
		v.loaded = true
	}
	v.mu.Unlock()
	return nil
}

// Current returns the displayed order and whether one is loaded
func (v *OrderDetail) Current() (api.Order, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current, v.loaded
}

// Close stops following updates
func (v *OrderDetail) Close() {
	v.binding.Close()
}

func (v *OrderDetail) extract(msg transport.Message) (string, error) {
	id, err := topic.OrderPublicID(msg)
	if err != nil {
		return "", err
	}
	v.mu.RLock()
	mine := id == v.publicID
	v.mu.RUnlock()
	if !mine {
		return "", binding.ErrSkip
	}
	return id, nil
}

func (v *OrderDetail) apply(order api.Order) {
	v.mu.Lock()
	if order.PublicID != v.publicID {
		v.mu.Unlock()
		return
	}
	v.current = order
	v.loaded = true
	notify := v.onChange
	v.mu.Unlock()

	v.logger.Info().Str("order", order.PublicID).Str("status", order.Status).Msg("order updated")
	if notify != nil {
		notify(order)
	}
}

// OrderList shows every order and upserts any order the server announces
type OrderList struct {
	binding *binding.UpdateBinding[string, api.Order]
	fetch   binding.Fetcher[string, api.Order]
	logger  zerolog.Logger

	mu       sync.Mutex
	orders   *list[string, api.Order]
	onChange func(api.Order, []api.Order)
}

// NewOrderList creates an empty OrderList
func NewOrderList(tr binding.Transport, fetch binding.Fetcher[string, api.Order], opts Options) (*OrderList, error) {
	policy, err := newPolicy[string](opts)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger.With().Str("view", "orders").Logger()
	return &OrderList{
		binding: binding.NewUpdateBinding[string, api.Order](tr, policy, logger),
		fetch:   fetch,
		logger:  logger,
		orders:  newList(orderKey, nil),
	}, nil
}

func orderKey(o api.Order) string { return o.PublicID }

// OnChange registers fn to be called with the changed order and the list
func (v *OrderList) OnChange(fn func(api.Order, []api.Order)) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

// Open shows orders and follows the order topic
func (v *OrderList) Open(orders []api.Order) {
	v.mu.Lock()
	v.orders.reset(orders)
	v.mu.Unlock()

	v.binding.Bind(topic.Orders(), v.fetch, v.apply, topic.OrderPublicID)
}

// Orders returns the displayed orders, newest announcements first
func (v *OrderList) Orders() []api.Order {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.orders.snapshot()
}

// Close stops following updates
func (v *OrderList) Close() {
	v.binding.Close()
}

func (v *OrderList) apply(order api.Order) {
	v.mu.Lock()
	added := v.orders.upsert(order, true)
	snapshot, notify := v.orders.snapshot(), v.onChange
	v.mu.Unlock()

	v.logger.Info().
		Str("order", order.PublicID).
		Str("status", order.Status).
		Bool("new", added).
		Msg("order updated")
	if notify != nil {
		notify(order, snapshot)
	}
}

package views

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"dinerlive/internal/api"
	"dinerlive/internal/binding"
	"dinerlive/internal/topic"
)

// ProductDetail shows one menu item and refetches it whenever the server
// announces a change
type ProductDetail struct {
	binding *binding.UpdateBinding[int64, api.MenuItem]
	fetch   binding.Fetcher[int64, api.MenuItem]
	logger  zerolog.Logger

	mu       sync.RWMutex
	id       int64
	current  api.MenuItem
	loaded   bool
	onChange func(api.MenuItem)
}

// NewProductDetail creates a ProductDetail that loads items with fetch
func NewProductDetail(tr binding.Transport, fetch binding.Fetcher[int64, api.MenuItem], opts Options) (*ProductDetail, error) {
	policy, err := newPolicy[int64](opts)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger.With().Str("view", "product").Logger()
	return &ProductDetail{
		binding: binding.NewUpdateBinding[int64, api.MenuItem](tr, policy, logger),
		fetch:   fetch,
		logger:  logger,
	}, nil
}

// OnChange registers fn to be called after every applied update
func (v *ProductDetail) OnChange(fn func(api.MenuItem)) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

// Show switches the view to the menu item id, loads it and follows its
// updates. A zero id shows nothing. The subscription is kept even if the
// initial load fails.
func (v *ProductDetail) Show(ctx context.Context, id int64) error {
	v.mu.Lock()
	v.id = id
	v.mu.Unlock()

	// Bind fences off updates of the previous item before the state is reset
	if id == 0 {
		v.binding.Bind("", v.fetch, v.apply, topic.MenuItemID)
	} else {
		v.binding.Bind(topic.MenuItem(id), v.fetch, v.apply, topic.MenuItemID)
	}

	v.mu.Lock()
	v.current = api.MenuItem{}
	v.loaded = false
	v.mu.Unlock()

	if id == 0 {
		return nil
	}

	item, err := v.fetch(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load menu item %d: %w", id, err)
	}

	v.mu.Lock()
	if v.id == id && !v.loaded {
		v.current = item
		v.loaded = true
	}
	v.mu.Unlock()
	return nil
}

// Current returns the displayed item and whether one is loaded
func (v *ProductDetail) Current() (api.MenuItem, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current, v.loaded
}

// Close stops following updates
func (v *ProductDetail) Close() {
	v.binding.Close()
}

func (v *ProductDetail) apply(item api.MenuItem) {
	v.mu.Lock()
	if item.ID != v.id {
		v.mu.Unlock()
		return
	}
	v.current = item
	v.loaded = true
	notify := v.onChange
	v.mu.Unlock()

	v.logger.Info().Int64("id", item.ID).Str("name", item.Name).Msg("menu item updated")
	if notify != nil {
		notify(item)
	}
}

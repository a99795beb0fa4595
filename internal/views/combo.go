package views

import (
	"sync"

	"github.com/rs/zerolog"

	"dinerlive/internal/api"
	"dinerlive/internal/binding"
	"dinerlive/internal/reconcile"
	"dinerlive/internal/topic"
	"dinerlive/internal/transport"
)

// ComboList shows combos, drops them when the server deletes them and
// refetches each one when it changes
type ComboList struct {
	tr      binding.Transport
	fetch   binding.Fetcher[int64, api.Combo]
	policy  reconcile.Policy[int64]
	deletes *binding.DeleteBinding
	logger  zerolog.Logger

	mu       sync.Mutex
	combos   *list[int64, api.Combo]
	watches  map[int64]*binding.UpdateBinding[int64, api.Combo]
	closed   bool
	onChange func([]api.Combo)
}

// NewComboList creates an empty ComboList
func NewComboList(tr binding.Transport, fetch binding.Fetcher[int64, api.Combo], opts Options) (*ComboList, error) {
	policy, err := newPolicy[int64](opts)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger.With().Str("view", "combos").Logger()
	return &ComboList{
		tr:      tr,
		fetch:   fetch,
		policy:  policy,
		deletes: binding.NewDeleteBinding(tr, logger),
		logger:  logger,
		combos:  newList(comboKey, nil),
		watches: make(map[int64]*binding.UpdateBinding[int64, api.Combo]),
	}, nil
}

func comboKey(c api.Combo) int64 { return c.ID }

// OnChange registers fn to be called with the list after every change
func (v *ComboList) OnChange(fn func([]api.Combo)) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

// Open shows combos and follows deletions and per-combo updates
func (v *ComboList) Open(combos []api.Combo) {
	v.mu.Lock()
	v.closed = false
	v.combos.reset(combos)
	stale := v.takeWatchesLocked()
	v.mu.Unlock()

	for _, w := range stale {
		w.Close()
	}

	v.deletes.Bind(topic.ComboDelete(), v.handleDelete)
	if v.isClosed() {
		v.deletes.Close()
		return
	}
	for _, c := range combos {
		v.watch(c.ID)
	}
}

// Combos returns the displayed combos
func (v *ComboList) Combos() []api.Combo {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.combos.snapshot()
}

// Close stops following deletions and updates
func (v *ComboList) Close() {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()

	v.deletes.Close()

	v.mu.Lock()
	stale := v.takeWatchesLocked()
	v.mu.Unlock()

	for _, w := range stale {
		w.Close()
	}
}

func (v *ComboList) watch(id int64) {
	w := binding.NewUpdateBinding[int64, api.Combo](v.tr, v.policy, v.logger)

	v.mu.Lock()
	if _, ok := v.watches[id]; ok || v.closed {
		v.mu.Unlock()
		return
	}
	v.watches[id] = w
	v.mu.Unlock()

	w.Bind(topic.ComboItem(id), v.fetch, v.handleUpdate, topic.ComboID)

	// Close or a deletion may have taken w before it was bound
	v.mu.Lock()
	orphaned := v.closed || v.watches[id] != w
	v.mu.Unlock()
	if orphaned {
		w.Close()
	}
}

func (v *ComboList) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

func (v *ComboList) handleUpdate(c api.Combo) {
	v.mu.Lock()
	if _, ok := v.combos.get(c.ID); !ok {
		v.mu.Unlock()
		return
	}
	v.combos.set(c.ID, c)
	snapshot, notify := v.combos.snapshot(), v.onChange
	v.mu.Unlock()

	v.logger.Info().Int64("id", c.ID).Str("name", c.Name).Msg("combo updated")
	if notify != nil {
		notify(snapshot)
	}
}

func (v *ComboList) handleDelete(msg transport.Message) {
	deleted, err := topic.DecodeComboDeleted(msg)
	if err != nil {
		v.logger.Warn().Err(err).Msg("ignoring malformed combo deletion")
		return
	}

	v.mu.Lock()
	removed := v.combos.remove(deleted.ComboID)
	w := v.watches[deleted.ComboID]
	delete(v.watches, deleted.ComboID)
	snapshot, notify := v.combos.snapshot(), v.onChange
	v.mu.Unlock()

	if w != nil {
		w.Close()
	}
	if !removed {
		return
	}
	v.logger.Info().Int64("id", deleted.ComboID).Msg("combo deleted")
	if notify != nil {
		notify(snapshot)
	}
}

func (v *ComboList) takeWatchesLocked() []*binding.UpdateBinding[int64, api.Combo] {
	out := make([]*binding.UpdateBinding[int64, api.Combo], 0, len(v.watches))
	for id, w := range v.watches {
		out = append(out, w)
		delete(v.watches, id)
	}
	return out
}

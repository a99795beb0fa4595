// Package reconcile decides whether a fetched entity snapshot may replace the
// one a caller currently shows. Results of concurrent fetches resolve in any
// order, so a policy compares each result against what was already applied for
// the same correlation id.
package reconcile

import (
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"dinerlive/internal/config"
)

// Ticket is issued when a message is dispatched and presented with the fetch result
type Ticket[ID comparable] struct {
	ID  ID
	Seq uint64
}

// Policy decides whether a fetch result is applied
type Policy[ID comparable] interface {
	// Begin is called in message order, before the fetch starts
	Begin(id ID) Ticket[ID]
	// Accept is called when the fetch for ticket resolved with entity.
	// It records entity as applied when it returns true.
	Accept(ticket Ticket[ID], entity any) bool
}

// Versioned is implemented by entities that carry a server-side version.
// A zero version means unknown.
type Versioned interface {
	Version() int64
}

// New returns the policy for mode. size bounds the per-id bookkeeping.
func New[ID comparable](mode string, size int) (Policy[ID], error) {
	if size <= 0 {
		size = config.DefaultTrackerSize
	}
	switch mode {
	case config.ReconcileArrival:
		return Arrival[ID]{}, nil
	case "", config.ReconcileSequenced:
		return NewSequenced[ID](size), nil
	case config.ReconcileVersioned:
		return NewVersioned[ID](size), nil
	default:
		return nil, fmt.Errorf("unknown reconciliation mode %q", mode)
	}
}

// Arrival applies every result in the order fetches resolve. An older snapshot
// resolving after a newer one overwrites it.
type Arrival[ID comparable] struct{}

func (Arrival[ID]) Begin(id ID) Ticket[ID] { return Ticket[ID]{ID: id} }
func (Arrival[ID]) Accept(Ticket[ID], any) bool { return true }

// Sequenced applies a result only if no result of a later message for the
// same id was applied before it.
type Sequenced[ID comparable] struct {
	next    atomic.Uint64
	mu      sync.Mutex
	applied *lru.Cache[ID, uint64]
}

// NewSequenced creates a Sequenced policy remembering at most size ids
func NewSequenced[ID comparable](size int) *Sequenced[ID] {
	return &Sequenced[ID]{applied: newTracker[ID, uint64](size)}
}

func (p *Sequenced[ID]) Begin(id ID) Ticket[ID] {
	return Ticket[ID]{ID: id, Seq: p.next.Add(1)}
}

func (p *Sequenced[ID]) Accept(t Ticket[ID], _ any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return acceptSeq(p.applied, t)
}

// VersionedPolicy applies a result only if its version is newer than the last
// applied version for the same id. Entities without a version are sequenced.
type VersionedPolicy[ID comparable] struct {
	seq      *Sequenced[ID]
	versions *lru.Cache[ID, int64]
}

// NewVersioned creates a version-aware policy remembering at most size ids
func NewVersioned[ID comparable](size int) *VersionedPolicy[ID] {
	return &VersionedPolicy[ID]{
		seq:      NewSequenced[ID](size),
		versions: newTracker[ID, int64](size),
	}
}

func (p *VersionedPolicy[ID]) Begin(id ID) Ticket[ID] {
	return p.seq.Begin(id)
}

func (p *VersionedPolicy[ID]) Accept(t Ticket[ID], entity any) bool {
	v, ok := entity.(Versioned)
	if !ok || v.Version() == 0 {
		return p.seq.Accept(t, entity)
	}

	p.seq.mu.Lock()
	defer p.seq.mu.Unlock()

	version := v.Version()
	if last, found := p.versions.Get(t.ID); found && version <= last {
		return false
	}
	p.versions.Add(t.ID, version)
	if last, found := p.seq.applied.Get(t.ID); !found || t.Seq > last {
		p.seq.applied.Add(t.ID, t.Seq)
	}
	return true
}

func acceptSeq[ID comparable](applied *lru.Cache[ID, uint64], t Ticket[ID]) bool {
	if last, found := applied.Get(t.ID); found && t.Seq <= last {
		return false
	}
	applied.Add(t.ID, t.Seq)
	return true
}

func newTracker[K comparable, V any](size int) *lru.Cache[K, V] {
	c, err := lru.New[K, V](size)
	if err != nil {
		// only fails for a non-positive size
		c, _ = lru.New[K, V](config.DefaultTrackerSize)
	}
	return c
}

// Package views holds long-lived client state kept fresh by realtime bindings.
// A view is opened with its initial data, follows server pushes until Close,
// and is safe for concurrent use.
package views

import (
	"github.com/rs/zerolog"

	"dinerlive/internal/reconcile"
)

// Options configures the bindings of a view
type Options struct {
	Logger         zerolog.Logger
	Reconciliation string
	TrackerSize    int
}

func newPolicy[ID comparable](opts Options) (reconcile.Policy[ID], error) {
	return reconcile.New[ID](opts.Reconciliation, opts.TrackerSize)
}

// list is an ordered collection keyed by entity id
type list[K comparable, E any] struct {
	key   func(E) K
	items []E
	index map[K]int
}

func newList[K comparable, E any](key func(E) K, items []E) *list[K, E] {
	l := &list[K, E]{key: key}
	l.reset(items)
	return l
}

func (l *list[K, E]) reset(items []E) {
	l.items = make([]E, 0, len(items))
	l.index = make(map[K]int, len(items))
	for _, e := range items {
		l.upsert(e, false)
	}
}

// upsert replaces the entity with the same key or inserts it. New entities
// go first when front is set, last otherwise. It reports whether e was new.
func (l *list[K, E]) upsert(e E, front bool) bool {
	k := l.key(e)
	if i, ok := l.index[k]; ok {
		l.items[i] = e
		return false
	}
	if !front {
		l.index[k] = len(l.items)
		l.items = append(l.items, e)
		return true
	}
	l.items = append([]E{e}, l.items...)
	l.reindex()
	return true
}

func (l *list[K, E]) get(k K) (E, bool) {
	i, ok := l.index[k]
	if !ok {
		var zero E
		return zero, false
	}
	return l.items[i], true
}

func (l *list[K, E]) set(k K, e E) {
	if i, ok := l.index[k]; ok {
		l.items[i] = e
	}
}

func (l *list[K, E]) remove(k K) bool {
	i, ok := l.index[k]
	if !ok {
		return false
	}
	l.items = append(l.items[:i], l.items[i+1:]...)
	l.reindex()
	return true
}

func (l *list[K, E]) snapshot() []E {
	return append([]E(nil), l.items...)
}

func (l *list[K, E]) reindex() {
	clear(l.index)
	for i, e := range l.items {
		l.index[l.key(e)] = i
	}
}

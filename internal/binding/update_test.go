package binding

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dinerlive/internal/api"
	"dinerlive/internal/reconcile"
	"dinerlive/internal/topic"
	"dinerlive/internal/transport"
)

// updates collects onUpdate calls
type updates[E any] struct {
	mu  sync.Mutex
	got []E
	ch  chan E
}

func newUpdates[E any]() *updates[E] {
	return &updates[E]{ch: make(chan E, 16)}
}

func (u *updates[E]) add(e E) {
	u.mu.Lock()
	u.got = append(u.got, e)
	u.mu.Unlock()
	u.ch <- e
}

func (u *updates[E]) all() []E {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]E(nil), u.got...)
}

func (u *updates[E]) next(t *testing.T) E {
	t.Helper()
	select {
	case e := <-u.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}
	var zero E
	return zero
}

func TestUpdateBinding_ProductScenario(t *testing.T) {
	tr := newFakeTransport()
	b := NewUpdateBinding[int64, api.MenuItem](tr, reconcile.NewSequenced[int64](16), zerolog.Nop())
	defer b.Close()

	var mu sync.Mutex
	var fetched []int64
	fetch := func(_ context.Context, id int64) (api.MenuItem, error) {
		mu.Lock()
		fetched = append(fetched, id)
		mu.Unlock()
		return api.MenuItem{ID: id, Name: "Pho", Price: 50000}, nil
	}
	got := newUpdates[api.MenuItem]()

	b.Bind(topic.MenuItem(42), fetch, got.add, topic.MenuItemID)
	require.True(t, b.Active())
	assert.Equal(t, "/topic/menu/42", b.Topic())

	tr.publish("/topic/menu/42", `{"menuItemId":42}`)
	assert.Equal(t, api.MenuItem{ID: 42, Name: "Pho", Price: 50000}, got.next(t))
	b.wait()
	assert.Len(t, got.all(), 1)

	tr.publish("/topic/menu/42", `{"menuItemId":99}`)
	got.next(t)
	b.wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{42, 99}, fetched)
}

func TestUpdateBinding_EmptyTopicIsNoop(t *testing.T) {
	tr := newFakeTransport()
	b := NewUpdateBinding[int64, api.MenuItem](tr, nil, zerolog.Nop())

	b.Bind("", func(context.Context, int64) (api.MenuItem, error) {
		t.Fatal("unexpected fetch")
		return api.MenuItem{}, nil
	}, func(api.MenuItem) {}, topic.MenuItemID)

	assert.Empty(t, tr.subscriptions())
	assert.False(t, b.Active())
}

func TestUpdateBinding_FetchFailureContained(t *testing.T) {
	tr := newFakeTransport()
	b := NewUpdateBinding[int64, api.MenuItem](tr, reconcile.NewSequenced[int64](16), zerolog.Nop())
	defer b.Close()

	fetch := func(_ context.Context, id int64) (api.MenuItem, error) {
		if id == 1 {
			return api.MenuItem{}, fmt.Errorf("fetch %d: %w", id, errBoom)
		}
		return api.MenuItem{ID: id, Name: "Bun Cha"}, nil
	}
	got := newUpdates[api.MenuItem]()
	b.Bind("/topic/menu/1", fetch, got.add, topic.MenuItemID)

	tr.publish("/topic/menu/1", `{"menuItemId":1}`)
	tr.publish("/topic/menu/1", `{"menuItemId":2}`)
	b.wait()

	assert.Equal(t, []api.MenuItem{{ID: 2, Name: "Bun Cha"}}, got.all())
	assert.True(t, b.Active(), "subscription stays open after a failed fetch")
}

func TestUpdateBinding_ExtractionFailureDropsMessage(t *testing.T) {
	tr := newFakeTransport()
	b := NewUpdateBinding[int64, api.MenuItem](tr, nil, zerolog.Nop())
	defer b.Close()

	calls := 0
	fetch := func(_ context.Context, id int64) (api.MenuItem, error) {
		calls++
		return api.MenuItem{ID: id}, nil
	}
	b.Bind("/topic/menu/1", fetch, func(api.MenuItem) {}, topic.MenuItemID)

	tr.publish("/topic/menu/1", `{}`)
	tr.publish("/topic/menu/1", `garbage`)
	b.wait()
	assert.Zero(t, calls)
}

func TestUpdateBinding_NoUpdateAfterClose(t *testing.T) {
	tr := newFakeTransport()
	b := NewUpdateBinding[int64, api.MenuItem](tr, nil, zerolog.Nop())

	started := make(chan context.Context, 1)
	release := make(chan struct{})
	fetch := func(ctx context.Context, id int64) (api.MenuItem, error) {
		started <- ctx
		<-release // ignores ctx on purpose
		return api.MenuItem{ID: id}, nil
	}
	got := newUpdates[api.MenuItem]()
	b.Bind("/topic/menu/5", fetch, got.add, topic.MenuItemID)

	tr.publish("/topic/menu/5", `{"menuItemId":5}`)
	ctx := <-started

	b.Close()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	close(release)
	b.wait()
	assert.Empty(t, got.all())
	assert.Equal(t, 1, tr.closeCount(0))
}

func TestUpdateBinding_RebindDiscardsOldActivation(t *testing.T) {
	tr := newFakeTransport()
	b := NewUpdateBinding[int64, api.MenuItem](tr, nil, zerolog.Nop())
	defer b.Close()

	release := make(chan struct{})
	slow := func(_ context.Context, id int64) (api.MenuItem, error) {
		<-release
		return api.MenuItem{ID: id, Name: "old"}, nil
	}
	fast := func(_ context.Context, id int64) (api.MenuItem, error) {
		return api.MenuItem{ID: id, Name: "new"}, nil
	}
	got := newUpdates[api.MenuItem]()

	b.Bind("/topic/menu/1", slow, got.add, topic.MenuItemID)
	tr.publish("/topic/menu/1", `{"menuItemId":1}`)

	b.Bind("/topic/menu/2", fast, got.add, topic.MenuItemID)
	close(release)
	tr.publish("/topic/menu/2", `{"menuItemId":2}`)
	b.wait()

	assert.Equal(t, []api.MenuItem{{ID: 2, Name: "new"}}, got.all())
	assert.Equal(t, 1, tr.closeCount(0))
}

// gatedFetch returns a fetcher whose n-th call blocks until the n-th gate is
// released, and reports each call start on started
func gatedFetch(gates []chan struct{}, started chan<- int) Fetcher[int64, api.MenuItem] {
	var mu sync.Mutex
	n := 0
	return func(_ context.Context, id int64) (api.MenuItem, error) {
		mu.Lock()
		mine := n
		n++
		mu.Unlock()
		started <- mine
		<-gates[mine]
		return api.MenuItem{ID: id, Name: fmt.Sprintf("v%d", mine+1)}, nil
	}
}

func publishInOrder(t *testing.T, tr *fakeTransport, started <-chan int, bodies ...string) {
	t.Helper()
	for i, body := range bodies {
		tr.publish("/topic/menu/1", body)
		select {
		case n := <-started:
			require.Equal(t, i, n)
		case <-time.After(2 * time.Second):
			t.Fatal("fetch did not start")
		}
	}
}

func TestUpdateBinding_SequencedRejectsStale(t *testing.T) {
	tr := newFakeTransport()
	b := NewUpdateBinding[int64, api.MenuItem](tr, reconcile.NewSequenced[int64](16), zerolog.Nop())
	defer b.Close()

	gates := []chan struct{}{make(chan struct{}), make(chan struct{})}
	started := make(chan int, 2)
	got := newUpdates[api.MenuItem]()
	b.Bind("/topic/menu/1", gatedFetch(gates, started), got.add, topic.MenuItemID)

	publishInOrder(t, tr, started, `{"menuItemId":1}`, `{"menuItemId":1}`)

	// the later message resolves first
	close(gates[1])
	assert.Equal(t, "v2", got.next(t).Name)
	close(gates[0])
	b.wait()

	assert.Equal(t, []api.MenuItem{{ID: 1, Name: "v2"}}, got.all())
}

func TestUpdateBinding_ArrivalAppliesStale(t *testing.T) {
	tr := newFakeTransport()
	b := NewUpdateBinding[int64, api.MenuItem](tr, reconcile.Arrival[int64]{}, zerolog.Nop())
	defer b.Close()

	gates := []chan struct{}{make(chan struct{}), make(chan struct{})}
	started := make(chan int, 2)
	got := newUpdates[api.MenuItem]()
	b.Bind("/topic/menu/1", gatedFetch(gates, started), got.add, topic.MenuItemID)

	publishInOrder(t, tr, started, `{"menuItemId":1}`, `{"menuItemId":1}`)

	close(gates[1])
	assert.Equal(t, "v2", got.next(t).Name)
	close(gates[0])
	assert.Equal(t, "v1", got.next(t).Name, "arrival order lets the older snapshot win")
	b.wait()
}

func TestUpdateBinding_CollectionIDsIndependent(t *testing.T) {
	tr := newFakeTransport()
	b := NewUpdateBinding[string, api.Order](tr, reconcile.NewSequenced[string](16), zerolog.Nop())
	defer b.Close()

	gateA := make(chan struct{})
	fetch := func(_ context.Context, id string) (api.Order, error) {
		if id == "a" {
			<-gateA
		}
		return api.Order{PublicID: id, Status: "PAID"}, nil
	}
	got := newUpdates[api.Order]()
	b.Bind(topic.Orders(), fetch, got.add, topic.OrderPublicID)

	tr.publish("/topic/order", `{"orderPublicId":"a","status":"PAID"}`)
	tr.publish("/topic/order", `{"orderPublicId":"b","status":"PAID"}`)
	assert.Equal(t, "b", got.next(t).PublicID)
	close(gateA)
	assert.Equal(t, "a", got.next(t).PublicID)
	b.wait()
}

func TestUpdateBinding_FetcherPanicContained(t *testing.T) {
	tr := newFakeTransport()
	b := NewUpdateBinding[int64, api.MenuItem](tr, nil, zerolog.Nop())
	defer b.Close()

	fetch := func(_ context.Context, id int64) (api.MenuItem, error) {
		if id == 1 {
			panic("fetcher exploded")
		}
		return api.MenuItem{ID: id}, nil
	}
	got := newUpdates[api.MenuItem]()
	b.Bind("/topic/menu/1", fetch, got.add, topic.MenuItemID)

	tr.publish("/topic/menu/1", `{"menuItemId":1}`)
	tr.publish("/topic/menu/1", `{"menuItemId":2}`)
	b.wait()
	assert.Equal(t, []api.MenuItem{{ID: 2}}, got.all())
}

func TestUpdateBinding_EveryBindIsAChange(t *testing.T) {
	tr := newFakeTransport()
	b := NewUpdateBinding[int64, api.MenuItem](tr, nil, zerolog.Nop())

	fetch := func(_ context.Context, id int64) (api.MenuItem, error) { return api.MenuItem{ID: id}, nil }
	b.Bind("/topic/menu/1", fetch, func(api.MenuItem) {}, topic.MenuItemID)
	b.Bind("/topic/menu/1", fetch, func(api.MenuItem) {}, topic.MenuItemID)

	subs := tr.subscriptions()
	require.Len(t, subs, 2)
	assert.Equal(t, 1, tr.closeCount(0))
	assert.Equal(t, 0, tr.closeCount(1))

	b.Close()
	assert.Equal(t, 1, tr.closeCount(1))
	assert.Equal(t, 0, tr.publish("/topic/menu/1", `{"menuItemId":1}`))
}

func TestUpdateBinding_ExtractorSkip(t *testing.T) {
	tr := newFakeTransport()
	b := NewUpdateBinding[string, api.Order](tr, nil, zerolog.Nop())
	defer b.Close()

	fetched := make(chan string, 4)
	fetch := func(_ context.Context, id string) (api.Order, error) {
		fetched <- id
		return api.Order{PublicID: id}, nil
	}
	only := func(msg transport.Message) (string, error) {
		id, err := topic.OrderPublicID(msg)
		if err == nil && id != "mine" {
			return "", ErrSkip
		}
		return id, err
	}
	got := newUpdates[api.Order]()
	b.Bind(topic.Orders(), fetch, got.add, only)

	tr.publish("/topic/order", `{"orderPublicId":"other","status":"NEW"}`)
	tr.publish("/topic/order", `{"orderPublicId":"mine","status":"NEW"}`)
	assert.Equal(t, "mine", got.next(t).PublicID)
	b.wait()

	close(fetched)
	var ids []string
	for id := range fetched {
		ids = append(ids, id)
	}
	assert.Equal(t, []string{"mine"}, ids)
}

func TestUpdateBinding_CloseWaitsForRunningUpdate(t *testing.T) {
	tr := newFakeTransport()
	b := NewUpdateBinding[int64, api.MenuItem](tr, nil, zerolog.Nop())

	entered := make(chan struct{})
	release := make(chan struct{})
	fetch := func(_ context.Context, id int64) (api.MenuItem, error) {
		return api.MenuItem{ID: id}, nil
	}
	b.Bind(topic.MenuItem(42), fetch, func(api.MenuItem) {
		close(entered)
		<-release
	}, topic.MenuItemID)

	tr.publish("/topic/menu/42", `{"menuItemId":42}`)
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("onUpdate did not start")
	}

	closed := make(chan struct{})
	go func() {
		b.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while onUpdate was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after onUpdate finished")
	}
	b.wait()
}

func TestUpdateBinding_CloseFromUpdate(t *testing.T) {
	tr := newFakeTransport()
	b := NewUpdateBinding[int64, api.MenuItem](tr, nil, zerolog.Nop())

	fetch := func(_ context.Context, id int64) (api.MenuItem, error) {
		return api.MenuItem{ID: id}, nil
	}
	done := make(chan struct{})
	b.Bind(topic.MenuItem(42), fetch, func(api.MenuItem) {
		b.Close()
		close(done)
	}, topic.MenuItemID)

	tr.publish("/topic/menu/42", `{"menuItemId":42}`)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close from onUpdate did not return")
	}
	b.wait()
	assert.False(t, b.Active())
}

func TestUpdateBinding_SlowUpdateDoesNotBlockDelivery(t *testing.T) {
	tr := newFakeTransport()
	b := NewUpdateBinding[int64, api.MenuItem](tr, nil, zerolog.Nop())

	fetched := make(chan int64, 4)
	fetch := func(_ context.Context, id int64) (api.MenuItem, error) {
		fetched <- id
		return api.MenuItem{ID: id}, nil
	}
	release := make(chan struct{})
	b.Bind(topic.MenuItem(42), fetch, func(api.MenuItem) { <-release }, topic.MenuItemID)

	tr.publish("/topic/menu/42", `{"menuItemId":42}`)
	assert.Equal(t, int64(42), <-fetched)

	// the first onUpdate is blocked; the next message is still extracted and fetched
	delivered := make(chan struct{})
	go func() {
		tr.publish("/topic/menu/42", `{"menuItemId":42}`)
		close(delivered)
	}()
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery blocked behind a running onUpdate")
	}
	select {
	case id := <-fetched:
		assert.Equal(t, int64(42), id)
	case <-time.After(2 * time.Second):
		t.Fatal("second message was not fetched")
	}

	close(release)
	b.Close()
	b.wait()
}

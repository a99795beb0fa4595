package binding

import (
	"errors"
	"fmt"
	"sync"

	"dinerlive/internal/transport"
)

type fakeSub struct {
	id       string
	topic    string
	tr       *fakeTransport
	closes   int
	closeErr error
	panics   bool
}

func (s *fakeSub) ID() string    { return s.id }
func (s *fakeSub) Topic() string { return s.topic }

func (s *fakeSub) Close() error {
	s.tr.mu.Lock()
	s.closes++
	s.tr.events = append(s.tr.events, "close "+s.topic)
	s.tr.mu.Unlock()
	if s.panics {
		panic("close exploded")
	}
	return s.closeErr
}

// fakeTransport records subscriptions and delivers synchronously
type fakeTransport struct {
	mu           sync.Mutex
	subs         []*fakeSub
	handlers     map[*fakeSub]transport.Handler
	events       []string
	subscribeErr error
	closeErr     error
	closePanics  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[*fakeSub]transport.Handler)}
}

func (f *fakeTransport) Subscribe(topic string, h transport.Handler) (transport.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "subscribe "+topic)
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	sub := &fakeSub{
		id:       fmt.Sprintf("sub-%d", len(f.subs)),
		topic:    topic,
		tr:       f,
		closeErr: f.closeErr,
		panics:   f.closePanics,
	}
	f.subs = append(f.subs, sub)
	f.handlers[sub] = h
	return sub, nil
}

// publish delivers to every subscription on topic that has not been closed
func (f *fakeTransport) publish(topic, body string) int {
	var targets []transport.Handler
	var ids []string
	f.mu.Lock()
	for _, s := range f.subs {
		if s.topic == topic && s.closes == 0 {
			targets = append(targets, f.handlers[s])
			ids = append(ids, s.id)
		}
	}
	f.mu.Unlock()

	for i, h := range targets {
		h(transport.Message{Topic: topic, SubscriptionID: ids[i], Body: []byte(body)})
	}
	return len(targets)
}

// handler returns the handler of the i-th subscription, closed or not
func (f *fakeTransport) handler(i int) transport.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[f.subs[i]]
}

func (f *fakeTransport) subscriptions() []*fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeSub(nil), f.subs...)
}

func (f *fakeTransport) closeCount(i int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[i].closes
}

func (f *fakeTransport) eventLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

var errBoom = errors.New("boom")

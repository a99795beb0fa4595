package transport

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dinerlive/internal/config"
	"dinerlive/internal/stomp"
	"dinerlive/internal/stomp/stomptest"
)

const waitTimeout = 5 * time.Second

func newTestManager(t *testing.T, broker *stomptest.Broker) *Manager {
	t.Helper()
	m := NewManager(config.BrokerConfig{
		URL:               broker.URL(),
		Host:              "localhost",
		HandshakeTimeout:  2000,
		ReconnectInterval: 50,
		MessageTimeout:    5000,
		PingInterval:      -1,
		HeartBeat:         -1,
		DispatchQueueSize: 64,
	}, zerolog.Nop())
	m.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

type recorder struct {
	mu   sync.Mutex
	msgs []Message
	ch   chan Message
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Message, 100)}
}

func (r *recorder) handle(msg Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	r.ch <- msg
}

func (r *recorder) next(t *testing.T) Message {
	t.Helper()
	select {
	case msg := <-r.ch:
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("no message received")
		return Message{}
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestManager_LazyConnectAndDeliver(t *testing.T) {
	broker := stomptest.NewBroker()
	defer broker.Close()
	m := newTestManager(t, broker)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, broker.Connects(), "no connection before the first subscribe")
	assert.False(t, m.Connected())

	rec := newRecorder()
	sub, err := m.Subscribe("/topic/menu/42", rec.handle)
	require.NoError(t, err)
	assert.Equal(t, "/topic/menu/42", sub.Topic())
	require.True(t, broker.WaitFor(waitTimeout, func() bool { return broker.Subscribers("/topic/menu/42") == 1 }))

	connect := broker.FramesOf(frame.CONNECT)
	require.Len(t, connect, 1)
	assert.Equal(t, stomp.Version, connect[0].Header.Get(frame.AcceptVersion))
	assert.Equal(t, "localhost", connect[0].Header.Get(frame.Host))

	assert.Equal(t, 1, broker.Publish("/topic/menu/42", []byte(`{"menuItemId":42}`)))
	msg := rec.next(t)
	assert.Equal(t, "/topic/menu/42", msg.Topic)
	assert.Equal(t, sub.ID(), msg.SubscriptionID)
	assert.NotEmpty(t, msg.MessageID)
	assert.JSONEq(t, `{"menuItemId":42}`, string(msg.Body))
	assert.True(t, m.Connected())
}

func TestManager_SharesOneConnection(t *testing.T) {
	broker := stomptest.NewBroker()
	defer broker.Close()
	m := newTestManager(t, broker)

	for i := 0; i < 5; i++ {
		_, err := m.Subscribe(fmt.Sprintf("/topic/menu/%d", i), func(Message) {})
		require.NoError(t, err)
	}
	require.True(t, broker.WaitFor(waitTimeout, func() bool { return len(broker.FramesOf(frame.SUBSCRIBE)) == 5 }))
	assert.Equal(t, 1, broker.Connects())
	assert.Equal(t, 5, m.SubscriptionCount())
}

func TestManager_CloseStopsDelivery(t *testing.T) {
	broker := stomptest.NewBroker()
	defer broker.Close()
	m := newTestManager(t, broker)

	rec := newRecorder()
	sub, err := m.Subscribe("/topic/order", rec.handle)
	require.NoError(t, err)
	require.True(t, broker.WaitFor(waitTimeout, func() bool { return broker.Subscribers("/topic/order") == 1 }))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	require.True(t, broker.WaitFor(waitTimeout, func() bool { return broker.Subscribers("/topic/order") == 0 }))

	unsub := broker.FramesOf(frame.UNSUBSCRIBE)
	require.Len(t, unsub, 1)
	assert.Equal(t, sub.ID(), unsub[0].Header.Get(frame.Id))

	broker.Publish("/topic/order", []byte(`{"orderPublicId":"abc"}`))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 0, m.SubscriptionCount())
}

func TestManager_ResubscribesAfterReconnect(t *testing.T) {
	broker := stomptest.NewBroker()
	defer broker.Close()
	m := newTestManager(t, broker)

	rec := newRecorder()
	sub, err := m.Subscribe("/topic/tables", rec.handle)
	require.NoError(t, err)
	require.True(t, broker.WaitFor(waitTimeout, func() bool { return broker.Subscribers("/topic/tables") == 1 }))

	broker.DropConnections()
	require.True(t, broker.WaitFor(waitTimeout, func() bool {
		return broker.Connects() == 2 && broker.Subscribers("/topic/tables") == 1
	}))

	subs := broker.FramesOf(frame.SUBSCRIBE)
	require.Len(t, subs, 2)
	assert.Equal(t, sub.ID(), subs[1].Header.Get(frame.Id), "subscription id survives reconnects")

	broker.Publish("/topic/tables", []byte(`{"tableId":3,"statusId":2}`))
	msg := rec.next(t)
	assert.Equal(t, sub.ID(), msg.SubscriptionID)
	assert.Equal(t, 2, m.Connects())
}

func TestManager_RetriesRejectedConnect(t *testing.T) {
	broker := stomptest.NewBroker()
	defer broker.Close()
	broker.RejectNextConnect()
	m := newTestManager(t, broker)

	_, err := m.Subscribe("/topic/reservations", func(Message) {})
	require.NoError(t, err)
	require.True(t, broker.WaitFor(waitTimeout, func() bool { return broker.Subscribers("/topic/reservations") == 1 }))
	assert.Len(t, broker.FramesOf(frame.CONNECT), 2)
}

func TestManager_DeliversInOrder(t *testing.T) {
	broker := stomptest.NewBroker()
	defer broker.Close()
	m := newTestManager(t, broker)

	rec := newRecorder()
	_, err := m.Subscribe("/topic/order", rec.handle)
	require.NoError(t, err)
	require.True(t, broker.WaitFor(waitTimeout, func() bool { return broker.Subscribers("/topic/order") == 1 }))

	for i := 0; i < 20; i++ {
		broker.Publish("/topic/order", []byte(fmt.Sprintf(`{"n":%d}`, i)))
	}
	for i := 0; i < 20; i++ {
		msg := rec.next(t)
		assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), string(msg.Body))
	}
}

func TestManager_HandlerPanicIsContained(t *testing.T) {
	broker := stomptest.NewBroker()
	defer broker.Close()
	m := newTestManager(t, broker)

	rec := newRecorder()
	first := true
	_, err := m.Subscribe("/topic/combo/delete", func(msg Message) {
		if first {
			first = false
			panic("boom")
		}
		rec.handle(msg)
	})
	require.NoError(t, err)
	require.True(t, broker.WaitFor(waitTimeout, func() bool { return broker.Subscribers("/topic/combo/delete") == 1 }))

	broker.Publish("/topic/combo/delete", []byte(`{"comboId":1}`))
	broker.Publish("/topic/combo/delete", []byte(`{"comboId":2}`))
	msg := rec.next(t)
	assert.JSONEq(t, `{"comboId":2}`, string(msg.Body))
}

func TestManager_SubscribeErrors(t *testing.T) {
	broker := stomptest.NewBroker()
	defer broker.Close()

	m := NewManager(config.BrokerConfig{URL: broker.URL()}, zerolog.Nop())
	_, err := m.Subscribe("/topic/order", func(Message) {})
	assert.ErrorIs(t, err, ErrNotStarted)

	m.Start()
	_, err = m.Subscribe("", func(Message) {})
	assert.ErrorIs(t, err, ErrEmptyTopic)

	require.NoError(t, m.Shutdown(context.Background()))
	_, err = m.Subscribe("/topic/order", func(Message) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_ShutdownDisconnects(t *testing.T) {
	broker := stomptest.NewBroker()
	defer broker.Close()
	m := newTestManager(t, broker)

	sub, err := m.Subscribe("/topic/order", func(Message) {})
	require.NoError(t, err)
	require.True(t, broker.WaitFor(waitTimeout, func() bool { return broker.Subscribers("/topic/order") == 1 }))

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	disconnect := broker.FramesOf(frame.DISCONNECT)
	require.Len(t, disconnect, 1)
	assert.NotEmpty(t, disconnect[0].Header.Get(frame.Receipt))
	assert.False(t, m.Connected())
	assert.NoError(t, sub.Close(), "closing after shutdown is a no-op")
}

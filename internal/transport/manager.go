package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"dinerlive/internal/config"
	"dinerlive/internal/stomp"
)

const writeWait = 10 * time.Second

type delivery struct {
	subID string
	msg   Message
}

// Manager owns the single STOMP-over-WebSocket connection shared by every binding.
// It connects lazily on the first Subscribe, keeps subscriptions alive across
// reconnects and delivers messages to handlers from one dispatch goroutine.
type Manager struct {
	cfg    config.BrokerConfig
	logger zerolog.Logger

	// writeMu serializes frame writes and is taken before mu so that
	// registering a subscription and sending its SUBSCRIBE are atomic
	writeMu sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	subs     map[string]*subscription
	receipts map[string]chan struct{}
	started  bool
	dialing  bool
	closed   bool

	events    chan delivery
	connected atomic.Bool
	connects  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a connection manager. Nothing is dialed until the first Subscribe.
func NewManager(cfg config.BrokerConfig, logger zerolog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	queueSize := cfg.DispatchQueueSize
	if queueSize <= 0 {
		queueSize = config.DefaultDispatchQueueSize
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger.With().Str("component", "transport").Logger(),
		subs:     make(map[string]*subscription),
		receipts: make(map[string]chan struct{}),
		events:   make(chan delivery, queueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the dispatch worker. It is idempotent.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true
	m.wg.Add(1)
	go m.dispatchWorker()
}

// Connected returns true while a STOMP session is established
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

// Connects returns how many STOMP sessions have been established so far
func (m *Manager) Connects() int {
	return int(m.connects.Load())
}

// SubscriptionCount returns the number of live subscriptions
func (m *Manager) SubscriptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Subscribe registers handler for topic. It never waits for the network: when no
// session is established the SUBSCRIBE frame is sent as soon as one is.
func (m *Manager) Subscribe(topic string, handler Handler) (Subscription, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if handler == nil {
		return nil, fmt.Errorf("transport: nil handler for %s", topic)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if !m.started {
		m.mu.Unlock()
		return nil, ErrNotStarted
	}
	sub := &subscription{
		id:      uuid.NewString(),
		topic:   topic,
		handler: handler,
		manager: m,
	}
	m.subs[sub.id] = sub
	conn := m.conn
	if conn == nil && !m.dialing {
		m.dialing = true
		m.wg.Add(1)
		go m.connectLoop()
	}
	m.mu.Unlock()

	if conn != nil {
		if err := m.writeFrame(conn, stomp.NewSubscribe(sub.id, topic)); err != nil {
			// the read loop notices the broken connection and resubscribes after reconnecting
			m.logger.Warn().Err(err).Str("topic", topic).Msg("failed to send SUBSCRIBE")
		}
	}

	m.logger.Debug().Str("subID", sub.id).Str("topic", topic).Msg("subscription registered")
	return sub, nil
}

func (m *Manager) unsubscribe(sub *subscription) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	if _, ok := m.subs[sub.id]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.subs, sub.id)
	conn := m.conn
	m.mu.Unlock()

	m.logger.Debug().Str("subID", sub.id).Str("topic", sub.topic).Msg("subscription removed")

	if conn == nil {
		return nil
	}
	if err := m.writeFrame(conn, stomp.NewUnsubscribe(sub.id)); err != nil {
		return fmt.Errorf("failed to send UNSUBSCRIBE: %w", err)
	}
	return nil
}

// Shutdown sends DISCONNECT, closes the connection and stops all goroutines.
// Subscriptions are dropped; their Close becomes a no-op.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.writeMu.Lock()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.writeMu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.subs = make(map[string]*subscription)
	receiptID := ""
	var receipt chan struct{}
	if conn != nil {
		receiptID = uuid.NewString()
		receipt = make(chan struct{})
		m.receipts[receiptID] = receipt
	}
	m.mu.Unlock()

	if conn != nil {
		if err := m.writeFrame(conn, stomp.NewDisconnect(receiptID)); err != nil {
			m.logger.Debug().Err(err).Msg("failed to send DISCONNECT")
			receipt = nil
		}
	}
	m.writeMu.Unlock()

	if receipt != nil {
		select {
		case <-receipt:
		case <-ctx.Done():
		case <-time.After(m.cfg.GetHandshakeTimeoutDuration()):
		}
	}

	m.cancel()
	m.mu.Lock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info().Msg("transport shut down")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("transport shutdown: %w", ctx.Err())
	}
}

func (m *Manager) writeFrame(conn *websocket.Conn, f *frame.Frame) error {
	raw, err := stomp.Encode(f)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// connectLoop dials, runs the session until the connection breaks and redials
// every reconnect interval until Shutdown.
func (m *Manager) connectLoop() {
	defer m.wg.Done()

	interval := m.cfg.GetReconnectIntervalDuration()
	if interval <= 0 {
		interval = time.Duration(config.DefaultReconnectInterval) * time.Millisecond
	}

	for {
		if m.ctx.Err() != nil {
			return
		}

		conn, heartbeat, err := m.dial()
		if err != nil {
			m.logger.Warn().Err(err).Str("url", m.cfg.URL).Dur("nextRetry", interval).Msg("STOMP connect failed, will retry")
			if !m.sleep(interval) {
				return
			}
			continue
		}

		if !m.attach(conn) {
			conn.Close()
			return
		}
		m.runSession(conn, heartbeat)
		m.detach(conn)

		if m.ctx.Err() != nil {
			m.logger.Info().Msg("STOMP reader stopped (shutdown)")
			return
		}
		m.logger.Warn().Dur("interval", interval).Msg("STOMP connection lost, reconnecting")
		if !m.sleep(interval) {
			return
		}
	}
}

func (m *Manager) sleep(d time.Duration) bool {
	select {
	case <-m.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// dial opens the WebSocket and performs the CONNECT/CONNECTED handshake.
// It returns the interval at which the client must send heart-beats.
func (m *Manager) dial() (*websocket.Conn, time.Duration, error) {
	timeout := m.cfg.GetHandshakeTimeoutDuration()
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultHandshakeTimeout) * time.Millisecond
	}

	m.logger.Info().Str("url", m.cfg.URL).Msg("STOMP connecting")
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		Subprotocols:     []string{"v12.stomp", "v11.stomp", "v10.stomp"},
	}
	ctx, cancel := context.WithTimeout(m.ctx, timeout)
	defer cancel()
	conn, _, err := dialer.DialContext(ctx, m.cfg.URL, http.Header{})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to connect WebSocket: %w", err)
	}

	headers := make(map[string]string, len(m.cfg.ConnectHeaders)+2)
	for k, v := range m.cfg.ConnectHeaders {
		headers[k] = v
	}
	if m.cfg.Login != "" {
		headers[frame.Login] = m.cfg.Login
		headers[frame.Passcode] = m.cfg.Passcode
	}
	hb := m.cfg.GetHeartBeatDuration()
	offered := stomp.HeartBeat{Send: hb, Receive: hb}
	if err := m.writeFrame(conn, stomp.NewConnect(m.cfg.Host, offered, headers)); err != nil {
		conn.Close()
		return nil, 0, fmt.Errorf("failed to send CONNECT: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return nil, 0, fmt.Errorf("failed to read CONNECTED: %w", err)
		}
		frames, err := stomp.Parse(data)
		if err != nil {
			conn.Close()
			return nil, 0, fmt.Errorf("failed to parse handshake response: %w", err)
		}
		if len(frames) == 0 {
			continue
		}
		f := frames[0]
		switch f.Command {
		case frame.CONNECTED:
			conn.SetReadDeadline(time.Time{})
			server, err := stomp.ParseHeartBeat(f.Header.Get(frame.HeartBeat))
			if err != nil {
				m.logger.Warn().Err(err).Msg("ignoring server heart-beat header")
			}
			return conn, offered.Negotiate(server), nil
		case frame.ERROR:
			conn.Close()
			return nil, 0, fmt.Errorf("broker rejected CONNECT: %s", f.Header.Get(frame.Message))
		default:
			conn.Close()
			return nil, 0, fmt.Errorf("unexpected %s frame during handshake", f.Command)
		}
	}
}

// attach publishes conn as the live connection and (re)sends SUBSCRIBE for every
// registered subscription, keeping their ids.
func (m *Manager) attach(conn *websocket.Conn) bool {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.conn = conn
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	m.connected.Store(true)
	m.connects.Add(1)
	m.logger.Info().Str("url", m.cfg.URL).Int("subscriptions", len(subs)).Msg("STOMP connected")

	var failed int
	for _, sub := range subs {
		if err := m.writeFrame(conn, stomp.NewSubscribe(sub.id, sub.topic)); err != nil {
			failed++
			m.logger.Warn().Err(err).Str("topic", sub.topic).Msg("failed to re-subscribe")
		}
	}
	if len(subs) > 0 {
		m.logger.Debug().Int("total", len(subs)).Int("failed", failed).Msg("resubscribe done")
	}
	return true
}

func (m *Manager) detach(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	m.connected.Store(false)
	conn.Close()
}

// runSession reads frames until the connection fails
func (m *Manager) runSession(conn *websocket.Conn, heartbeat time.Duration) {
	readTimeout := m.cfg.GetMessageTimeoutDuration()
	if readTimeout <= 0 {
		readTimeout = time.Duration(config.DefaultMessageTimeout) * time.Millisecond
	}
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	m.wg.Add(1)
	go m.keepalive(conn, heartbeat, done)

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if m.ctx.Err() == nil {
				m.logger.Debug().Err(err).Msg("STOMP read error")
			}
			return
		}

		frames, err := stomp.Parse(data)
		if err != nil {
			m.logger.Warn().Err(err).Int("len", len(data)).Msg("STOMP frame parse error")
		}
		for _, f := range frames {
			m.handleFrame(f)
		}
	}
}

func (m *Manager) handleFrame(f *frame.Frame) {
	switch f.Command {
	case frame.MESSAGE:
		msg := Message{
			Topic:          f.Header.Get(frame.Destination),
			SubscriptionID: f.Header.Get(frame.Subscription),
			MessageID:      f.Header.Get(frame.MessageId),
			Header:         stomp.Headers(f),
			Body:           f.Body,
		}
		select {
		case <-m.ctx.Done():
		case m.events <- delivery{subID: msg.SubscriptionID, msg: msg}:
		default:
			m.logger.Warn().Str("topic", msg.Topic).Msg("dispatch queue full, dropping message")
		}
	case frame.RECEIPT:
		id := f.Header.Get(frame.ReceiptId)
		m.mu.Lock()
		ch, ok := m.receipts[id]
		delete(m.receipts, id)
		m.mu.Unlock()
		if ok {
			close(ch)
		}
	case frame.ERROR:
		m.logger.Error().Str("message", f.Header.Get(frame.Message)).Str("body", string(f.Body)).Msg("STOMP ERROR frame")
	default:
		m.logger.Debug().Str("command", f.Command).Msg("ignoring frame")
	}
}

// keepalive sends WebSocket pings and STOMP heart-beat EOLs until done is closed
func (m *Manager) keepalive(conn *websocket.Conn, heartbeat time.Duration, done <-chan struct{}) {
	defer m.wg.Done()

	var pingC, beatC <-chan time.Time
	if d := m.cfg.GetPingIntervalDuration(); d > 0 {
		t := time.NewTicker(d)
		defer t.Stop()
		pingC = t.C
	}
	if heartbeat > 0 {
		t := time.NewTicker(heartbeat)
		defer t.Stop()
		beatC = t.C
	}

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-done:
			return
		case <-pingC:
			m.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait))
			m.writeMu.Unlock()
			if err != nil {
				m.logger.Debug().Err(err).Msg("ping write failed")
				return
			}
		case <-beatC:
			m.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.TextMessage, []byte{'\n'})
			m.writeMu.Unlock()
			if err != nil {
				m.logger.Debug().Err(err).Msg("heart-beat write failed")
				return
			}
		}
	}
}

func (m *Manager) dispatchWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case d := <-m.events:
			m.mu.Lock()
			sub, ok := m.subs[d.subID]
			m.mu.Unlock()
			if !ok {
				m.logger.Debug().Str("subscription", d.subID).Msg("message for closed subscription, dropping")
				continue
			}
			m.dispatch(sub, d.msg)
		}
	}
}

func (m *Manager) dispatch(sub *subscription, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Str("topic", sub.topic).Msg("subscription handler panic")
		}
	}()
	start := time.Now()
	sub.handler(msg)
	if d := time.Since(start); d > 2*time.Second {
		m.logger.Warn().Str("topic", sub.topic).Dur("handlerDuration", d).Msg("subscription handler slow")
	}
}

type subscription struct {
	id      string
	topic   string
	handler Handler
	manager *Manager
	once    sync.Once
	err     error
}

func (s *subscription) ID() string    { return s.id }
func (s *subscription) Topic() string { return s.topic }

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.err = s.manager.unsubscribe(s)
	})
	return s.err
}

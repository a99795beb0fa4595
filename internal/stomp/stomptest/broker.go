// Package stomptest provides an in-process STOMP-over-WebSocket broker for tests.
package stomptest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"

	"dinerlive/internal/stomp"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Broker is a minimal STOMP broker: CONNECT, SUBSCRIBE, UNSUBSCRIBE, DISCONNECT and
// MESSAGE fan-out to subscribers of a destination.
type Broker struct {
	server *httptest.Server

	mu       sync.Mutex
	sessions map[*session]struct{}
	frames   []*frame.Frame
	notify   chan struct{}

	connects   atomic.Int64
	msgSeq     atomic.Int64
	rejectNext atomic.Bool
}

type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	subs    map[string]string // subscription id -> destination
}

// NewBroker starts a broker on a local httptest server
func NewBroker() *Broker {
	b := &Broker{
		sessions: make(map[*session]struct{}),
		notify:   make(chan struct{}, 1),
	}
	b.server = httptest.NewServer(http.HandlerFunc(b.serveWS))
	return b
}

// URL returns the ws:// URL of the broker
func (b *Broker) URL() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http")
}

// Close stops the broker and drops every connection
func (b *Broker) Close() {
	b.DropConnections()
	b.server.Close()
}

// Connects returns how many CONNECT frames were accepted
func (b *Broker) Connects() int {
	return int(b.connects.Load())
}

// RejectNextConnect makes the broker answer the next CONNECT with an ERROR frame
func (b *Broker) RejectNextConnect() {
	b.rejectNext.Store(true)
}

// Frames returns a copy of every client frame received so far
func (b *Broker) Frames() []*frame.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*frame.Frame, len(b.frames))
	copy(out, b.frames)
	return out
}

// FramesOf returns received client frames with the given command
func (b *Broker) FramesOf(cmd string) []*frame.Frame {
	var out []*frame.Frame
	for _, f := range b.Frames() {
		if f.Command == cmd {
			out = append(out, f)
		}
	}
	return out
}

// Subscribers returns the number of live subscriptions on a destination
func (b *Broker) Subscribers(destination string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for s := range b.sessions {
		for _, dest := range s.subs {
			if dest == destination {
				n++
			}
		}
	}
	return n
}

// WaitFor polls cond until it returns true or the timeout elapses
func (b *Broker) WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-b.notify:
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Publish sends body as a MESSAGE to every subscription of destination.
// It returns how many subscriptions received it.
func (b *Broker) Publish(destination string, body []byte) int {
	b.mu.Lock()
	type target struct {
		s     *session
		subID string
	}
	var targets []target
	for s := range b.sessions {
		for id, dest := range s.subs {
			if dest == destination {
				targets = append(targets, target{s, id})
			}
		}
	}
	b.mu.Unlock()

	sent := 0
	for _, t := range targets {
		msgID := fmt.Sprintf("m-%d", b.msgSeq.Add(1))
		if err := t.s.write(stomp.NewMessage(t.subID, msgID, destination, body)); err == nil {
			sent++
		}
	}
	return sent
}

// DropConnections closes every client connection without a DISCONNECT, simulating a network failure
func (b *Broker) DropConnections() {
	b.mu.Lock()
	sessions := make([]*session, 0, len(b.sessions))
	for s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.sessions = make(map[*session]struct{})
	b.mu.Unlock()

	for _, s := range sessions {
		s.conn.Close()
	}
}

func (b *Broker) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s := &session{conn: conn, subs: make(map[string]string)}
	defer func() {
		b.mu.Lock()
		delete(b.sessions, s)
		b.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frames, err := stomp.Parse(data)
		if err != nil {
			_ = s.write(frame.New(frame.ERROR, frame.Message, err.Error()))
			return
		}
		for _, f := range frames {
			if !b.handle(s, f) {
				return
			}
		}
	}
}

func (b *Broker) handle(s *session, f *frame.Frame) bool {
	b.mu.Lock()
	b.frames = append(b.frames, f)
	switch f.Command {
	case frame.SUBSCRIBE:
		s.subs[f.Header.Get(frame.Id)] = f.Header.Get(frame.Destination)
	case frame.UNSUBSCRIBE:
		delete(s.subs, f.Header.Get(frame.Id))
	}
	b.mu.Unlock()

	defer func() {
		select {
		case b.notify <- struct{}{}:
		default:
		}
	}()

	switch f.Command {
	case frame.CONNECT, frame.STOMP:
		if b.rejectNext.CompareAndSwap(true, false) {
			_ = s.write(frame.New(frame.ERROR, frame.Message, "access denied"))
			return false
		}
		b.mu.Lock()
		b.sessions[s] = struct{}{}
		b.mu.Unlock()
		b.connects.Add(1)
		_ = s.write(frame.New(frame.CONNECTED, frame.Version, stomp.Version, frame.HeartBeat, "0,0"))
	case frame.DISCONNECT:
		if receipt := f.Header.Get(frame.Receipt); receipt != "" {
			_ = s.write(frame.New(frame.RECEIPT, frame.ReceiptId, receipt))
		}
		return false
	}
	return true
}

func (s *session) write(f *frame.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	raw, err := stomp.Encode(f)
	if err != nil {
		return err
	}
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, raw)
}

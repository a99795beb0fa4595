package transport

import "errors"

var (
	// ErrClosed is returned by Subscribe after Shutdown
	ErrClosed = errors.New("transport: manager is shut down")
	// ErrNotStarted is returned by Subscribe before Start
	ErrNotStarted = errors.New("transport: manager not started")
	// ErrEmptyTopic is returned when subscribing to an empty topic
	ErrEmptyTopic = errors.New("transport: empty topic")
)

// Message is one server push delivered on a topic
type Message struct {
	Topic          string
	SubscriptionID string
	MessageID      string
	Header         map[string]string
	Body           []byte
}

// Handler receives messages for one subscription. Handlers of a Manager are
// invoked from a single dispatch goroutine, in the order messages were received.
type Handler func(msg Message)

// Subscription is one logical subscription multiplexed over the shared connection
type Subscription interface {
	// ID returns the STOMP subscription id
	ID() string
	// Topic returns the subscribed destination
	Topic() string
	// Close unsubscribes. It is idempotent.
	Close() error
}

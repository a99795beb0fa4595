package stomp

import (
	"fmt"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

// HeartBeat is a heart-beat pair: Send is how often the sender can send
// heart-beats, Receive how often it wants to receive them. Zero disables.
type HeartBeat struct {
	Send    time.Duration
	Receive time.Duration
}

// String formats the heart-beat header value in milliseconds
func (h HeartBeat) String() string {
	return fmt.Sprintf("%d,%d", h.Send.Milliseconds(), h.Receive.Milliseconds())
}

// ParseHeartBeat parses a "cx,cy" header value. An absent header means no heart-beats.
func ParseHeartBeat(v string) (HeartBeat, error) {
	if v == "" {
		return HeartBeat{}, nil
	}
	cx, cy, err := frame.ParseHeartBeat(v)
	if err != nil {
		return HeartBeat{}, fmt.Errorf("%w: heart-beat %q", ErrInvalidFrame, v)
	}
	return HeartBeat{Send: cx, Receive: cy}, nil
}

// Negotiate returns the interval at which the client must send heart-beats
// given the server's CONNECTED value. Zero means none.
func (h HeartBeat) Negotiate(server HeartBeat) time.Duration {
	if h.Send == 0 || server.Receive == 0 {
		return 0
	}
	if h.Send > server.Receive {
		return h.Send
	}
	return server.Receive
}

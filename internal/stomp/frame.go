// Package stomp builds and decodes the STOMP 1.2 frames exchanged over one
// WebSocket message. Frame modelling and the wire codec come from go-stomp.
package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/go-stomp/stomp/v3/frame"
)

// Version is the STOMP protocol version spoken by the client
const Version = "1.2"

var (
	// ErrIncompleteFrame is returned when a frame is missing its NUL terminator
	ErrIncompleteFrame = errors.New("stomp: incomplete frame")
	// ErrInvalidFrame is returned for frames that cannot be parsed
	ErrInvalidFrame = errors.New("stomp: invalid frame")
)

// Encode writes f in wire form. A content-length header is set for non-empty bodies.
func Encode(f *frame.Frame) ([]byte, error) {
	if f.Header == nil {
		f.Header = frame.NewHeader()
	}
	if len(f.Body) > 0 {
		f.Header.Set(frame.ContentLength, strconv.Itoa(len(f.Body)))
	}
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Parse decodes every frame contained in one WebSocket message.
// Heart-beat EOLs between frames are skipped; a message made only of EOLs yields no frames.
func Parse(data []byte) ([]*frame.Frame, error) {
	trimmed := bytes.TrimRight(data, "\r\n")
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[len(trimmed)-1] != 0 {
		return nil, ErrIncompleteFrame
	}

	var frames []*frame.Frame
	r := frame.NewReader(bytes.NewReader(trimmed))
	for {
		f, err := r.Read()
		switch {
		case errors.Is(err, io.EOF):
			return frames, nil
		case errors.Is(err, io.ErrUnexpectedEOF):
			return frames, ErrIncompleteFrame
		case err != nil:
			return frames, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		case f == nil:
			// heart-beat
			continue
		}
		frames = append(frames, f)
	}
}

// ParseFrame decodes exactly one frame
func ParseFrame(data []byte) (*frame.Frame, error) {
	frames, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if len(frames) != 1 {
		return nil, fmt.Errorf("%w: expected 1 frame, got %d", ErrInvalidFrame, len(frames))
	}
	return frames[0], nil
}

// Headers flattens the frame headers into a map. Repeated headers keep their first value.
func Headers(f *frame.Frame) map[string]string {
	out := make(map[string]string, f.Header.Len())
	for i := 0; i < f.Header.Len(); i++ {
		k, v := f.Header.GetAt(i)
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// NewConnect builds a CONNECT frame. Extra headers (login, passcode, tokens) are copied verbatim.
func NewConnect(host string, heartbeat HeartBeat, extra map[string]string) *frame.Frame {
	f := frame.New(frame.CONNECT,
		frame.AcceptVersion, Version,
		frame.Host, host,
		frame.HeartBeat, heartbeat.String(),
	)
	for k, v := range extra {
		f.Header.Set(k, v)
	}
	return f
}

// NewSubscribe builds a SUBSCRIBE frame with auto acknowledgement
func NewSubscribe(id, destination string) *frame.Frame {
	return frame.New(frame.SUBSCRIBE, frame.Id, id, frame.Destination, destination, frame.Ack, "auto")
}

// NewUnsubscribe builds an UNSUBSCRIBE frame
func NewUnsubscribe(id string) *frame.Frame {
	return frame.New(frame.UNSUBSCRIBE, frame.Id, id)
}

// NewDisconnect builds a DISCONNECT frame, optionally asking for a receipt
func NewDisconnect(receipt string) *frame.Frame {
	f := frame.New(frame.DISCONNECT)
	if receipt != "" {
		f.Header.Set(frame.Receipt, receipt)
	}
	return f
}

// NewMessage builds a MESSAGE frame as a broker would send it
func NewMessage(subscription, messageID, destination string, body []byte) *frame.Frame {
	f := frame.New(frame.MESSAGE,
		frame.Subscription, subscription,
		frame.MessageId, messageID,
		frame.Destination, destination,
		frame.ContentType, "application/json",
	)
	f.Body = body
	return f
}

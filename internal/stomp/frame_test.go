package stomp

import (
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, f *frame.Frame) []byte {
	t.Helper()
	raw, err := Encode(f)
	require.NoError(t, err)
	return raw
}

func TestEncodeAndParse(t *testing.T) {
	f := NewMessage("sub-1", "m-7", "/topic/menu/42", []byte(`{"menuItemId":42}`))

	parsed, err := ParseFrame(encode(t, f))
	require.NoError(t, err)
	assert.Equal(t, frame.MESSAGE, parsed.Command)
	assert.Equal(t, "sub-1", parsed.Header.Get(frame.Subscription))
	assert.Equal(t, "/topic/menu/42", parsed.Header.Get(frame.Destination))
	assert.Equal(t, "17", parsed.Header.Get(frame.ContentLength))
	assert.JSONEq(t, `{"menuItemId":42}`, string(parsed.Body))
}

func TestEncode_HeaderValuesRoundTrip(t *testing.T) {
	f := frame.New(frame.SEND, "x-note", "a:b\nc\\d")

	parsed, err := ParseFrame(encode(t, f))
	require.NoError(t, err)
	assert.Equal(t, "a:b\nc\\d", parsed.Header.Get("x-note"))
}

func TestNewConnect(t *testing.T) {
	f := NewConnect("localhost", HeartBeat{Send: time.Second}, map[string]string{"login": "guest"})

	parsed, err := ParseFrame(encode(t, f))
	require.NoError(t, err)
	assert.Equal(t, frame.CONNECT, parsed.Command)
	assert.Equal(t, Version, parsed.Header.Get(frame.AcceptVersion))
	assert.Equal(t, "localhost", parsed.Header.Get(frame.Host))
	assert.Equal(t, "1000,0", parsed.Header.Get(frame.HeartBeat))
	assert.Equal(t, "guest", parsed.Header.Get("login"))
}

func TestParse_MultipleFramesAndHeartbeats(t *testing.T) {
	data := append([]byte("\n\n"), encode(t, NewSubscribe("s1", "/topic/order"))...)
	data = append(data, '\n')
	data = append(data, encode(t, NewUnsubscribe("s1"))...)
	data = append(data, '\n')

	frames, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, frame.SUBSCRIBE, frames[0].Command)
	assert.Equal(t, "auto", frames[0].Header.Get(frame.Ack))
	assert.Equal(t, frame.UNSUBSCRIBE, frames[1].Command)
	assert.Equal(t, "s1", frames[1].Header.Get(frame.Id))
}

func TestParse_HeartbeatOnly(t *testing.T) {
	frames, err := Parse([]byte("\n"))
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestParse_FirstHeaderWins(t *testing.T) {
	frames, err := Parse([]byte("MESSAGE\nfoo:1\nfoo:2\n\n\x00"))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "1", frames[0].Header.Get("foo"))
	assert.Equal(t, "1", Headers(frames[0])["foo"])
	assert.Empty(t, frames[0].Body)
}

func TestParse_BodyWithNULUsesContentLength(t *testing.T) {
	frames, err := Parse([]byte("MESSAGE\ncontent-length:3\n\na\x00b\x00"))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("a\x00b"), frames[0].Body)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("MESSAGE\nfoo:1\n\nbody"))
	assert.ErrorIs(t, err, ErrIncompleteFrame)

	_, err = Parse([]byte("MESSAGE\ncontent-length:x\n\n\x00"))
	assert.Error(t, err)

	_, err = Parse([]byte("MESSAGE\ncontent-length:10\n\nshort\x00"))
	assert.Error(t, err)
}

func TestHeartBeat(t *testing.T) {
	hb, err := ParseHeartBeat("10000,5000")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, hb.Send)
	assert.Equal(t, 5*time.Second, hb.Receive)
	assert.Equal(t, "10000,5000", hb.String())

	client := HeartBeat{Send: 4 * time.Second, Receive: 4 * time.Second}
	assert.Equal(t, 5*time.Second, client.Negotiate(hb))
	assert.Equal(t, time.Duration(0), client.Negotiate(HeartBeat{}))

	none, err := ParseHeartBeat("")
	require.NoError(t, err)
	assert.Equal(t, HeartBeat{}, none)

	_, err = ParseHeartBeat("1,2,3")
	assert.ErrorIs(t, err, ErrInvalidFrame)
	_, err = ParseHeartBeat("-1,0")
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

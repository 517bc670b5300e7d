// Package testhelpers holds utilities shared by the HTTP and WebSocket tests:
// dialing with an Origin header, sending protocol events and reading the
// newline batched frames the server writes.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// DefaultOrigin is the origin allowed by the default configuration.
const DefaultOrigin = "http://localhost:8080"

// ErrNoEvent is returned by Next when nothing arrives before the timeout.
var ErrNoEvent = errors.New("no event before timeout")

// Event is one decoded protocol envelope.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(e.Data, v), "decode %s payload %s", e.Event, e.Data)
}

// WebSocketURL converts an httptest URL into its ws:// form with path.
func WebSocketURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

// ConnectWebSocket dials url presenting origin. An empty origin sends no
// Origin header.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Peer is a test client that understands batched frames.
type Peer struct {
	t       *testing.T
	Conn    *websocket.Conn
	ID      string
	pending []Event
}

// Dial connects a Peer and consumes the initial connected event.
func Dial(t *testing.T, url string) *Peer {
	t.Helper()
	conn, _, err := ConnectWebSocket(url, DefaultOrigin)
	require.NoError(t, err)

	p := &Peer{t: t, Conn: conn}
	t.Cleanup(func() { _ = p.Conn.Close() })

	hello := p.WaitFor("connected", 2*time.Second)
	var payload struct {
		ConnectionID string `json:"connectionId"`
	}
	hello.Decode(t, &payload)
	require.NotEmpty(t, payload.ConnectionID)
	p.ID = payload.ConnectionID
	return p
}

// Send writes one event.
func (p *Peer) Send(event string, data any) {
	p.t.Helper()
	require.NoError(p.t, SendEvent(p.Conn, event, data))
}

// Next returns the next event, reading a new frame if none is buffered.
func (p *Peer) Next(timeout time.Duration) (Event, error) {
	if len(p.pending) == 0 {
		if err := p.Conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return Event{}, err
		}
		_, raw, err := p.Conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return Event{}, ErrNoEvent
			}
			return Event{}, err
		}
		events, err := SplitFrame(raw)
		if err != nil {
			return Event{}, err
		}
		p.pending = events
	}

	ev := p.pending[0]
	p.pending = p.pending[1:]
	return ev, nil
}

// WaitFor skips events until one named event arrives.
func (p *Peer) WaitFor(event string, timeout time.Duration) Event {
	p.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		require.Positive(p.t, remaining, "timed out waiting for %s", event)

		ev, err := p.Next(remaining)
		require.NoError(p.t, err, "waiting for %s", event)
		if ev.Event == event {
			return ev
		}
	}
}

// ExpectNone fails if an event named event arrives within window. A gorilla
// connection cannot be read again after a read timeout, so this must be the
// last read of the peer.
func (p *Peer) ExpectNone(event string, window time.Duration) {
	p.t.Helper()
	deadline := time.Now().Add(window)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		ev, err := p.Next(remaining)
		if err != nil {
			return
		}
		require.NotEqual(p.t, event, ev.Event, "unexpected %s: %s", ev.Event, ev.Data)
	}
}

// SendEvent writes {"event","data"} as one text frame.
func SendEvent(conn *websocket.Conn, event string, data any) error {
	frame := map[string]any{"event": event}
	if data != nil {
		frame["data"] = data
	}
	return conn.WriteJSON(frame)
}

// SplitFrame decodes a frame holding one envelope or several newline
// separated ones.
func SplitFrame(raw []byte) ([]Event, error) {
	var single Event
	if err := json.Unmarshal(raw, &single); err == nil {
		return []Event{single}, nil
	}

	var out []Event
	for _, line := range bytes.Split(raw, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// DoJSON sends body as JSON and returns the status code and response body.
func DoJSON(t *testing.T, method, url string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

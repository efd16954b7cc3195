// Package testhelpers provides common utilities shared by the relay's tests.
//
// It covers in-memory connections for driving the hub directly as well as
// helpers for standing up HTTP test servers and talking to them over
// WebSocket.
package testhelpers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gorelay/internal/hub"
)

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:3000"

// ErrSendFailed is returned by a RecordingConn configured to fail.
var ErrSendFailed = errors.New("testhelpers: simulated send failure")

// RecordingConn is an in-memory hub.Connection that records every payload it
// is sent.
type RecordingConn struct {
	id string

	mu       sync.Mutex
	received []hub.Payload
	fail     bool
	closed   bool
}

// NewRecordingConn creates a connection with the given identifier.
func NewRecordingConn(id string) *RecordingConn {
	return &RecordingConn{id: id}
}

// NewFailingConn creates a connection whose Send always fails.
func NewFailingConn(id string) *RecordingConn {
	return &RecordingConn{id: id, fail: true}
}

// ID implements hub.Connection.
func (c *RecordingConn) ID() string { return c.id }

// Send implements hub.Connection.
func (c *RecordingConn) Send(p hub.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return ErrSendFailed
	}
	c.received = append(c.received, p)
	return nil
}

// Close marks the connection closed.
func (c *RecordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *RecordingConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Received returns the payload bodies received so far, in order.
func (c *RecordingConn) Received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.received))
	for i, p := range c.received {
		out[i] = string(p.Data)
	}
	return out
}

// Payloads returns a copy of the raw payloads received so far.
func (c *RecordingConn) Payloads() []hub.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]hub.Payload(nil), c.received...)
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// AssertReceived fails the test unless conn received exactly want, in order.
func AssertReceived(t *testing.T, conn *RecordingConn, want ...string) {
	t.Helper()
	got := conn.Received()
	if len(got) != len(want) {
		t.Errorf("connection %s: expected %d messages %q, got %d %q", conn.ID(), len(want), want, len(got), got)
		return
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("connection %s: message %d: expected %q, got %q", conn.ID(), i, want[i], got[i])
		}
	}
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// WebSocketURL converts an httptest server URL into the relay's ws endpoint.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// ConnectWebSocket dials url with the test origin header set.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// ReceiveText reads one frame within timeout and returns it as a string.
func ReceiveText(conn *websocket.Conn, timeout time.Duration) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	_, data, err := conn.ReadMessage()
	return string(data), err
}

// ExpectNoMessage fails the test if conn receives a frame within timeout.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	if msg, err := ReceiveText(conn, timeout); err == nil {
		t.Errorf("Expected no message, got %q", msg)
	}
}

// WaitFor polls cond until it holds or timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

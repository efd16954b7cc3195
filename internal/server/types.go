package server

import (
	"errors"
	"net"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gorelay/internal/hub"
)

var (
	// ErrSendBufferFull is returned by Client.Send when the client's outbound
	// queue has no room. The payload is dropped for that client only.
	ErrSendBufferFull = errors.New("server: client send buffer full")

	// ErrClientClosed is returned by Client.Send after the client has closed.
	ErrClientClosed = errors.New("server: client closed")

	// ErrServerClosing is returned when a connection arrives after Shutdown
	// has started.
	ErrServerClosing = errors.New("server: shutting down")
)

// frameType maps a payload kind to the WebSocket frame that carries it.
func frameType(k hub.PayloadKind) int {
	if k == hub.BinaryPayload {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

func payloadKind(messageType int) hub.PayloadKind {
	if messageType == websocket.BinaryMessage {
		return hub.BinaryPayload
	}
	return hub.TextPayload
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	return strings.Contains(err.Error(), "broken pipe")
}

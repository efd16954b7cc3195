// Package server is the HTTP and WebSocket front of the relay.
//
// It owns everything between a raw network connection and the hub: the
// upgrade handshake and origin policy, per-connection read and write pumps,
// rate limiting, routing and graceful shutdown. Broadcast semantics live in
// package hub.
package server

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// WebSocketHandler upgrades the request, registers the new client with the
// hub and starts its pumps.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	if s.isClosing() {
		http.Error(w, "Server is shutting down.", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "request_id", middleware.GetReqID(r.Context()))
		return
	}

	client := newClient(uuid.NewString(), conn, s.hub, r.RemoteAddr, s.logger, s.currentSettings())
	if err := s.admit(client); err != nil {
		if errors.Is(err, ErrServerClosing) {
			client.writeClose()
		}
		_ = conn.Close()
		return
	}

	go func() {
		defer s.wg.Done()
		client.writePump()
	}()
	go func() {
		defer s.wg.Done()
		client.readPump()
	}()
}

// admit registers c with the hub and reserves its two pump goroutines. Once
// Shutdown has set closing it refuses c, so every admitted client is in the
// snapshot hub.Close takes and in the WaitGroup Shutdown waits on.
func (s *Server) admit(c *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return ErrServerClosing
	}
	if err := s.hub.OnConnect(c); err != nil {
		return err
	}
	s.wg.Add(2)
	return nil
}

func (s *Server) isClosing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closing
}

// HealthHandler reports that the relay is up.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "Relay server is running!")
}

// StatsHandler reports the number of live connections as JSON.
func (s *Server) StatsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]int{"connections": s.hub.Count()}); err != nil {
		s.logger.Warn("error writing stats response", "error", err)
	}
}

// TestPageHandler serves a small HTML page for trying the relay in a browser.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		s.logger.Warn("error writing HTML response", "error", err)
	}
}

package server

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gorelay/internal/config"
	"github.com/Tyrowin/gorelay/internal/hub"
)

// Server is the WebSocket transport in front of a hub. It upgrades requests,
// runs a read and a write pump per connection, and reports connect, message
// and disconnect events to the hub.
type Server struct {
	hub      *hub.Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
	addr     string

	// mu guards settings and closing.
	mu       sync.RWMutex
	settings settings
	closing  bool

	wg sync.WaitGroup
}

// New creates a Server for h using cfg. A nil logger falls back to the default.
func New(cfg *config.Config, h *hub.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		hub:    h,
		logger: logger,
		addr:   cfg.Server.Addr,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.Apply(cfg)
	return s
}

// Hub returns the hub this server feeds.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

package server

import (
	"time"

	"github.com/Tyrowin/gorelay/internal/config"
)

const (
	defaultMaxMessageSize = 64 * 1024
	defaultSendBuffer     = 256
	defaultBurst          = 5
	defaultRefillInterval = time.Second
)

// settings is the subset of configuration consulted per connection.
type settings struct {
	maxMessageSize int64
	sendBuffer     int
	burst          int
	refillInterval time.Duration
	origins        originPolicy
}

func defaultSettings() settings {
	return settings{
		maxMessageSize: defaultMaxMessageSize,
		sendBuffer:     defaultSendBuffer,
		burst:          defaultBurst,
		refillInterval: defaultRefillInterval,
	}
}

func sanitizeSettings(cfg *config.Config) settings {
	s := settings{
		maxMessageSize: cfg.Server.MaxMessageSize,
		sendBuffer:     cfg.Server.SendBuffer,
		burst:          cfg.RateLimit.Burst,
		refillInterval: cfg.RateLimit.RefillInterval,
	}

	if s.maxMessageSize <= 0 {
		s.maxMessageSize = defaultMaxMessageSize
	}
	if s.sendBuffer <= 0 {
		s.sendBuffer = defaultSendBuffer
	}
	if s.burst <= 0 {
		s.burst = defaultBurst
	}
	if s.refillInterval <= 0 {
		s.refillInterval = defaultRefillInterval
	}

	return s
}

// Apply swaps in a new configuration. Origins take effect for the next
// handshake and rate limits for every open client as well as new ones. Size
// and buffer limits apply to connections opened afterwards. The listen
// address is fixed for the life of the Server.
func (s *Server) Apply(cfg *config.Config) {
	next := sanitizeSettings(cfg)
	next.origins = newOriginPolicy(cfg.Server.AllowedOrigins, s.logger)

	s.mu.Lock()
	s.settings = next
	s.mu.Unlock()

	updated := 0
	if s.hub != nil {
		for _, conn := range s.hub.Registry().Snapshot() {
			if c, ok := conn.(*Client); ok {
				c.setRateLimit(next.burst, next.refillInterval)
				updated++
			}
		}
	}

	s.logger.Info("settings applied",
		"origins", cfg.Server.AllowedOrigins,
		"max_message_size", next.maxMessageSize,
		"rate_limit_burst", next.burst,
		"rate_limit_interval", next.refillInterval,
		"live_clients_updated", updated)
}

func (s *Server) currentSettings() settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Package config loads relay settings from defaults, an optional YAML file and
// RELAY_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// RateLimit defines per-connection token bucket parameters.
type RateLimit struct {
	Burst          int           `mapstructure:"burst" validate:"gt=0"`
	RefillInterval time.Duration `mapstructure:"refill_interval" validate:"gt=0"`
}

// Config holds every tunable of the relay process.
type Config struct {
	Server struct {
		Addr           string   `mapstructure:"addr" validate:"required"`
		AllowedOrigins []string `mapstructure:"allowed_origins" validate:"dive,required"`
		MaxMessageSize int64    `mapstructure:"max_message_size" validate:"gt=0"`
		SendBuffer     int      `mapstructure:"send_buffer" validate:"gt=0"`
	} `mapstructure:"server"`

	RateLimit RateLimit `mapstructure:"rate_limit"`

	Log struct {
		Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	} `mapstructure:"log"`

	Shutdown struct {
		Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
	} `mapstructure:"shutdown"`
}

var validate = validator.New()

// newDefaultsViper carries only the built-in defaults.
func newDefaultsViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_message_size", 64*1024)
	v.SetDefault("server.send_buffer", 256)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("rate_limit.refill_interval", time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("shutdown.timeout", 10*time.Second)

	return v
}

func newViper() *viper.Viper {
	v := newDefaultsViper()

	// Env overrides
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Default returns the built-in configuration. RELAY_* variables are not
// consulted; use Load for that.
func Default() *Config {
	c, err := decode(newDefaultsViper())
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads path (if non-empty) on top of defaults and environment.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.Server.AllowedOrigins = splitOrigins(c.Server.AllowedOrigins)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SlogLevel maps the configured level name to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Watch loads path and calls onChange with every later valid revision of the
// file. Invalid revisions are logged and skipped.
func Watch(path string, logger *slog.Logger, onChange func(*Config)) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	initial, err := decode(v)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		c, err := decode(v)
		if err != nil {
			logger.Error("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		logger.Info("config reloaded", "file", e.Name)
		onChange(c)
	})
	v.WatchConfig()

	return initial, nil
}

// splitOrigins accepts both list values and a single comma-separated string,
// which is how RELAY_SERVER_ALLOWED_ORIGINS arrives from the environment.
func splitOrigins(origins []string) []string {
	var out []string
	for _, o := range origins {
		for _, part := range strings.Split(o, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Package cli wires configuration, logging, the hub and the server into the
// relay command.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/gorelay/internal/config"
	"github.com/Tyrowin/gorelay/internal/hub"
	"github.com/Tyrowin/gorelay/internal/server"
)

// Main runs the relay command line and exits non-zero on failure.
func Main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type flags struct {
	cfgPath  string
	addr     string
	logLevel string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:          "relay",
		Short:        "Real-time WebSocket broadcast relay",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&f.cfgPath, "config", "", "config file (yaml)")
	root.PersistentFlags().StringVar(&f.addr, "addr", "", "listen address, overrides server.addr")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "log level (debug|info|warn|error), overrides log.level")

	serve := serveCmd(f)
	root.AddCommand(serve)
	root.AddCommand(configCmd(f))

	// Running the bare command serves.
	root.RunE = serve.RunE

	return root
}

func serveCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Accept WebSocket clients and relay every message to all of them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, f, cmd.ErrOrStderr())
		},
	}
}

func configCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(effective(cfg))
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func loadConfig(f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.cfgPath)
	if err != nil {
		return nil, err
	}
	return withOverrides(cfg, f)
}

func withOverrides(cfg *config.Config, f *flags) (*config.Config, error) {
	if f.addr != "" {
		cfg.Server.Addr = f.addr
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func serve(ctx context.Context, f *flags, logOut io.Writer) error {
	var (
		live atomic.Pointer[server.Server]
		cfg  *config.Config
		err  error
	)

	if f.cfgPath != "" {
		// Bootstrap logger for reload messages; replaced below once the
		// configured level is known.
		bootstrap := newLogger(logOut, slog.LevelInfo)
		cfg, err = config.Watch(f.cfgPath, bootstrap, func(next *config.Config) {
			next, err := withOverrides(next, f)
			if err != nil {
				bootstrap.Error("ignoring config change", "error", err)
				return
			}
			if srv := live.Load(); srv != nil {
				srv.Apply(next)
			}
		})
		if err != nil {
			return err
		}
		cfg, err = withOverrides(cfg, f)
	} else {
		cfg, err = loadConfig(f)
	}
	if err != nil {
		return err
	}

	logger := newLogger(logOut, cfg.SlogLevel())
	slog.SetDefault(logger)

	h := hub.New(hub.NewRegistry(), hub.WithLogger(logger))
	srv := server.New(cfg, h, logger)
	live.Store(srv)

	return srv.Run(ctx, cfg.Shutdown.Timeout)
}

// effective is the printable view of a Config.
func effective(cfg *config.Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"addr":             cfg.Server.Addr,
			"allowed_origins":  cfg.Server.AllowedOrigins,
			"max_message_size": cfg.Server.MaxMessageSize,
			"send_buffer":      cfg.Server.SendBuffer,
		},
		"rate_limit": map[string]any{
			"burst":           cfg.RateLimit.Burst,
			"refill_interval": cfg.RateLimit.RefillInterval.String(),
		},
		"log": map[string]any{
			"level": cfg.Log.Level,
		},
		"shutdown": map[string]any{
			"timeout": cfg.Shutdown.Timeout.String(),
		},
	}
}

// Package app owns the top-level lifecycle of the copy-trading relay. It
// wires the account store, the follower registry, the master supervisor and
// the optional observation surfaces, then runs them until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/copyrelay/internal/config"
	"github.com/alanyoungcy/copyrelay/internal/server"
	"github.com/alanyoungcy/copyrelay/internal/server/handler"
)

// App is the root application object. It owns the configuration, logger and
// a list of cleanup functions called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the relay and blocks until the context
// is cancelled or the admin server fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting relay",
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("accounts", a.cfg.Relay.AccountsPath),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// Instrument specs must be loaded before any order can be sized.
	go deps.Specs.Run(ctx)
	if err := deps.Specs.WaitLoaded(ctx); err != nil {
		return fmt.Errorf("app: instrument specs: %w", err)
	}

	if deps.Archiver != nil {
		go deps.Archiver.Run(ctx)
	}

	// The supervisor owns the master stream, the translator and the copy
	// loop. The master comes up disarmed; nothing trades until the
	// operator starts it.
	go deps.Supervisor.Run(ctx)

	errCh := make(chan error, 1)
	if a.cfg.Server.Enabled {
		srv := server.NewServer(server.Config{
			Port:        a.cfg.Server.Port,
			APIKey:      a.cfg.Server.APIKey,
			CORSOrigins: a.cfg.Server.CORSOrigins,
		}, server.Handlers{
			Health:   handler.NewHealthHandler(a.logger),
			Accounts: handler.NewAccountsHandler(deps.Accounts, deps.Commands, a.logger),
			Control:  handler.NewControlHandler(deps.Commands, a.logger),
		}, a.logger)

		go func() { errCh <- srv.Start() }()
		a.closers = append(a.closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("app: admin server: %w", err)
		}
	}

	// Follower sessions outlive ctx; tear them down explicitly.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	deps.Registry.ShutdownAll(shutdownCtx)

	return ctx.Err()
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down relay")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

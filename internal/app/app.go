package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dokzlo13/netdevd/internal/config"
	"github.com/dokzlo13/netdevd/internal/reconcile"
)

// App is the main application container that manages all services and their lifecycle.
type App struct {
	cfg      *config.Config
	services *Services
}

// New creates a new App instance with all services initialized but not started.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
	}, nil
}

// Services exposes the wired services.
func (a *App) Services() *Services {
	return a.services
}

// Run runs the orchestrator loop, the control server and ledger retention
// until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	s := a.services
	s.Device.Start(ctx)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.Orchestrator.Run(gCtx)
	})

	if s.HTTP != nil {
		g.Go(func() error {
			return s.HTTP.Run(gCtx, a.cfg.ShutdownTimeout.Duration())
		})
	}

	g.Go(func() error {
		return s.Ledger.RunRetention(gCtx, a.cfg.Ledger.Retention(), a.cfg.Ledger.CleanupInterval.Duration())
	})

	log.Info().
		Str("driver", a.cfg.Device.Driver).
		Str("manifest", a.cfg.Manifest).
		Bool("dry_run", a.cfg.Reconciler.DryRun).
		Msg("netdevd started")

	return g.Wait()
}

// RunOnce runs a single reconcile cycle.
func (a *App) RunOnce(ctx context.Context) (*reconcile.CycleResult, error) {
	return a.services.Orchestrator.RunOnce(ctx, "once")
}

// ResetState clears persisted bindings.
// This is useful for resetting state on startup with --reset-state flag.
func (a *App) ResetState(ctx context.Context) error {
	return a.services.ClearState(ctx)
}

// Close gracefully shuts down all services.
func (a *App) Close() {
	log.Info().Msg("Shutting down...")
	if a.services != nil {
		a.services.Close()
	}
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}

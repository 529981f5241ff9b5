package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/netdevd/internal/config"
	"github.com/dokzlo13/netdevd/internal/db"
	"github.com/dokzlo13/netdevd/internal/device"
	"github.com/dokzlo13/netdevd/internal/eventbus"
	"github.com/dokzlo13/netdevd/internal/httpapi"
	"github.com/dokzlo13/netdevd/internal/ledger"
	"github.com/dokzlo13/netdevd/internal/manifest"
	"github.com/dokzlo13/netdevd/internal/metrics"
	"github.com/dokzlo13/netdevd/internal/reconcile"
	"github.com/dokzlo13/netdevd/internal/reconcile/iface"
	"github.com/dokzlo13/netdevd/internal/reconcile/radius"
	"github.com/dokzlo13/netdevd/internal/reconcile/servergroup"
	"github.com/dokzlo13/netdevd/internal/reconcile/snmp"
	"github.com/dokzlo13/netdevd/internal/state"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB       *db.DB
	Store    *state.Store
	Ledger   *ledger.Ledger
	Bus      *eventbus.Bus
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// Reconciliation
	Device       *DeviceService
	Manifest     *manifest.Source
	Orchestrator *reconcile.Orchestrator

	// Control surface
	HTTP *httpapi.Server

	bindingResets []func(ctx context.Context) error
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Store = state.NewStore(database.DB)
	s.Ledger = ledger.New(database.DB)

	// Metrics on a private registry
	s.Registry = prometheus.NewRegistry()
	s.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.Metrics = metrics.New(s.Registry)

	// Event bus fans commit and cycle events out to the ledger and metrics
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	s.Ledger.Subscribe(s.Bus)
	s.Metrics.Subscribe(s.Bus)

	s.Device, err = NewDeviceService(cfg, s.Metrics)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Manifest = manifest.NewSource(cfg.Manifest)

	s.Orchestrator = reconcile.NewOrchestrator(cfg.Reconciler.PeriodicInterval.Duration(), cfg.Reconciler.Debounce())
	s.Orchestrator.SetPublisher(s.Bus)
	s.Orchestrator.OnCycleStart(s.Manifest.Reload)

	if err := s.registerKinds(); err != nil {
		s.Close()
		return nil, err
	}

	if cfg.HTTP.Enabled {
		s.HTTP = httpapi.NewServer(cfg.HTTP.Addr(), s.Device, s.Orchestrator, s.Ledger, s.Registry)
	}

	return s, nil
}

// registerKinds creates one engine per kind, in reconciliation order.
func (s *Services) registerKinds() error {
	known := make(map[string]bool, len(device.Kinds))
	for _, k := range device.Kinds {
		known[string(k)] = true
	}
	for kind := range s.cfg.Reconciler.Prefetch {
		if !known[kind] {
			return fmt.Errorf("reconciler.prefetch: unknown kind %q", kind)
		}
	}

	if err := register[iface.Interface](s, iface.New(), s.Manifest.Interfaces); err != nil {
		return err
	}
	if err := register[radius.Server](s, radius.New(), s.Manifest.RadiusServers); err != nil {
		return err
	}
	if err := register[servergroup.Group](s, servergroup.New(), s.Manifest.ServerGroups); err != nil {
		return err
	}
	return register[snmp.Receiver](s, snmp.New(), s.Manifest.SNMPReceivers)
}

func register[T any](s *Services, adapter reconcile.Adapter[T], source reconcile.Source[T]) error {
	kind := adapter.Kind()
	policy, err := reconcile.ParsePrefetchPolicy(s.cfg.Reconciler.Prefetch[string(kind)])
	if err != nil {
		return fmt.Errorf("reconciler.prefetch.%s: %w", kind, err)
	}

	bindings := state.NewBindings[T](s.Store, kind)
	engine := reconcile.NewEngine(adapter, s.Device.Gateway, reconcile.EngineConfig{
		Policy: policy,
		DryRun: s.cfg.Reconciler.DryRun,
	}, bindings)

	s.Orchestrator.Register(reconcile.Bind(engine, source))
	s.bindingResets = append(s.bindingResets, bindings.Reset)

	log.Debug().Str("kind", string(kind)).Str("prefetch", policy.String()).Msg("Kind registered")
	return nil
}

// ClearState removes every persisted binding.
func (s *Services) ClearState(ctx context.Context) error {
	for _, reset := range s.bindingResets {
		if err := reset(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		s.Bus.Close(ctx)
	}
	if s.Device != nil {
		s.Device.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}

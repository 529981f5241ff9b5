package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/netdevd/internal/device"
	"github.com/dokzlo13/netdevd/internal/eventbus"
)

// Reconciler reconciles every declared resource of one kind.
type Reconciler interface {
	Kind() device.Kind
	Reconcile(ctx context.Context) (*KindResult, error)
}

// Source returns the declared resources of one kind for the current cycle.
type Source[T any] func(ctx context.Context) ([]Desired[T], error)

type boundEngine[T any] struct {
	engine *Engine[T]
	source Source[T]
}

// Bind pairs an engine with the source of its declared resources.
func Bind[T any](engine *Engine[T], source Source[T]) Reconciler {
	return &boundEngine[T]{engine: engine, source: source}
}

func (b *boundEngine[T]) Kind() device.Kind {
	return b.engine.Kind()
}

func (b *boundEngine[T]) Reconcile(ctx context.Context) (*KindResult, error) {
	desired, err := b.source(ctx)
	if err != nil {
		return nil, fmt.Errorf("load declared %s: %w", b.engine.Kind(), err)
	}
	return b.engine.Reconcile(ctx, desired)
}

// Publisher receives reconciliation events.
type Publisher interface {
	Publish(event eventbus.Event)
}

// CycleResult summarizes one pass over every registered kind.
type CycleResult struct {
	ID       string
	Trigger  string
	Started  time.Time
	Duration time.Duration
	Kinds    []*KindResult
	Errors   map[device.Kind]error
}

// Changed returns the number of resources changed on the device.
func (c *CycleResult) Changed() int {
	n := 0
	for _, k := range c.Kinds {
		n += k.Changed()
	}
	return n
}

// Failed returns the number of failed resources plus kinds that could not be discovered.
func (c *CycleResult) Failed() int {
	n := len(c.Errors)
	for _, k := range c.Kinds {
		n += k.Failed()
	}
	return n
}

// Orchestrator runs reconcile cycles across all kinds.
// Cycles are serialized; triggers arriving during a cycle coalesce into one more cycle.
type Orchestrator struct {
	reconcilers []Reconciler
	publisher   Publisher
	refresh     func(ctx context.Context) error

	cycleMu sync.Mutex
	trigger chan string

	lastMu sync.RWMutex
	last   *CycleResult

	periodicInterval time.Duration
	debounce         time.Duration
}

// NewOrchestrator creates an orchestrator. A zero interval defaults to 5 minutes.
func NewOrchestrator(periodicInterval, debounce time.Duration) *Orchestrator {
	if periodicInterval == 0 {
		periodicInterval = 5 * time.Minute
	}
	return &Orchestrator{
		trigger:          make(chan string, 1),
		periodicInterval: periodicInterval,
		debounce:         debounce,
	}
}

// Register adds a reconciler. Kinds run in registration order.
func (o *Orchestrator) Register(r Reconciler) {
	o.reconcilers = append(o.reconcilers, r)
}

// SetPublisher sets where commit and cycle events go.
func (o *Orchestrator) SetPublisher(p Publisher) {
	o.publisher = p
}

// OnCycleStart sets a hook run before every cycle, e.g. to re-read the manifest.
// If it fails the cycle is skipped.
func (o *Orchestrator) OnCycleStart(fn func(ctx context.Context) error) {
	o.refresh = fn
}

// Trigger requests a cycle as soon as possible.
func (o *Orchestrator) Trigger(reason string) {
	select {
	case o.trigger <- reason:
	default:
		// Already triggered
	}
}

// Last returns the most recent cycle result, or nil before the first cycle.
func (o *Orchestrator) Last() *CycleResult {
	o.lastMu.RLock()
	defer o.lastMu.RUnlock()
	return o.last
}

// Run reconciles once at start, then on every tick and trigger until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Info().
		Dur("periodic_interval", o.periodicInterval).
		Dur("debounce", o.debounce).
		Int("kinds", len(o.reconcilers)).
		Msg("Orchestrator started")

	o.runLogged(ctx, "startup")

	ticker := time.NewTicker(o.periodicInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Orchestrator stopping")
			return nil
		case reason := <-o.trigger:
			if !o.wait(ctx) {
				return nil
			}
			o.runLogged(ctx, reason)
		case <-ticker.C:
			o.runLogged(ctx, "periodic")
		}
	}
}

// wait applies the debounce delay. Triggers arriving meanwhile are absorbed.
func (o *Orchestrator) wait(ctx context.Context) bool {
	if o.debounce <= 0 {
		return true
	}
	timer := time.NewTimer(o.debounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-o.trigger:
		case <-timer.C:
			return true
		}
	}
}

func (o *Orchestrator) runLogged(ctx context.Context, trigger string) {
	if _, err := o.RunOnce(ctx, trigger); err != nil {
		log.Error().Err(err).Str("trigger", trigger).Msg("Reconcile cycle failed")
	}
}

// RunOnce runs one cycle over every kind. Per-kind and per-resource failures
// are reported in the result; the error is non-nil only when the cycle could
// not start.
func (o *Orchestrator) RunOnce(ctx context.Context, trigger string) (*CycleResult, error) {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	cycle := &CycleResult{
		ID:      uuid.New().String(),
		Trigger: trigger,
		Started: time.Now(),
		Errors:  make(map[device.Kind]error),
	}
	logger := log.With().Str("cycle", cycle.ID).Logger()

	if o.refresh != nil {
		if err := o.refresh(ctx); err != nil {
			return nil, fmt.Errorf("prepare cycle: %w", err)
		}
	}

	logger.Debug().Str("trigger", trigger).Msg("Cycle started")

	for _, r := range o.reconcilers {
		kind := r.Kind()
		if err := ctx.Err(); err != nil {
			cycle.Errors[kind] = err
			continue
		}

		result, err := r.Reconcile(ctx)
		if err != nil {
			cycle.Errors[kind] = err
			logger.Error().Err(err).Str("kind", string(kind)).Msg("Kind reconcile failed")
			o.publish(eventbus.Event{
				Type: eventbus.EventDiscoveryFailed,
				Data: map[string]any{"cycle_id": cycle.ID, "kind": string(kind), "error": err.Error()},
			})
			continue
		}

		cycle.Kinds = append(cycle.Kinds, result)
		for _, out := range result.Outcomes {
			if out.Action == ActionNone && out.Err == nil {
				continue
			}
			o.publish(commitEvent(cycle.ID, kind, out))
		}
	}

	cycle.Duration = time.Since(cycle.Started)

	o.lastMu.Lock()
	o.last = cycle
	o.lastMu.Unlock()

	o.publish(eventbus.Event{
		Type: eventbus.EventCycle,
		Data: map[string]any{
			"cycle_id":    cycle.ID,
			"trigger":     trigger,
			"duration_ms": cycle.Duration.Milliseconds(),
			"changed":     cycle.Changed(),
			"failed":      cycle.Failed(),
		},
	})

	logger.Info().
		Str("trigger", trigger).
		Dur("duration", cycle.Duration).
		Int("changed", cycle.Changed()).
		Int("failed", cycle.Failed()).
		Msg("Cycle completed")

	return cycle, nil
}

func (o *Orchestrator) publish(event eventbus.Event) {
	if o.publisher != nil {
		o.publisher.Publish(event)
	}
}

func commitEvent(cycleID string, kind device.Kind, out Outcome) eventbus.Event {
	data := map[string]any{
		"cycle_id": cycleID,
		"kind":     string(kind),
		"name":     out.Name,
		"key":      out.Key,
		"action":   out.Action.String(),
		"staged":   out.Staged,
		"dry_run":  out.DryRun,
	}
	if out.Err != nil {
		data["error"] = out.Err.Error()
	}
	return eventbus.Event{Type: eventbus.EventCommit, Data: data}
}

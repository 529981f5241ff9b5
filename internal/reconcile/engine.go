package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/netdevd/internal/device"
)

// BindingStore persists bindings across restarts.
type BindingStore[T any] interface {
	LoadBindings(ctx context.Context) (map[string]Record[T], error)
	SaveBinding(ctx context.Context, name string, rec Record[T]) error
}

// EngineConfig holds per-kind engine settings.
type EngineConfig struct {
	Policy PrefetchPolicy
	DryRun bool
}

// Outcome is the result of reconciling one declared resource.
type Outcome struct {
	Name   string
	Key    string
	Action Action
	Staged []string
	DryRun bool
	Err    error
}

// KindResult is the result of one reconcile pass over a kind.
type KindResult struct {
	Kind       device.Kind
	Discovered int
	Outcomes   []Outcome
}

// Failed returns the number of outcomes with an error.
func (r *KindResult) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// Changed returns the number of outcomes that committed a device change.
func (r *KindResult) Changed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil && !o.DryRun && o.Action != ActionNone {
			n++
		}
	}
	return n
}

// Engine runs discover, match, stage and commit for one kind.
// Bindings are kept between calls to Reconcile.
type Engine[T any] struct {
	adapter    Adapter[T]
	discoverer *Discoverer[T]
	matcher    *Matcher[T]
	committer  *Committer[T]
	store      BindingStore[T]
	dryRun     bool

	mu       sync.Mutex
	loaded   bool
	bindings map[string]*Record[T]
}

// NewEngine creates an engine. store may be nil.
func NewEngine[T any](adapter Adapter[T], gw device.Gateway, cfg EngineConfig, store BindingStore[T]) *Engine[T] {
	return &Engine[T]{
		adapter:    adapter,
		discoverer: NewDiscoverer(adapter, gw),
		matcher:    NewMatcher(adapter.Identity, cfg.Policy),
		committer:  NewCommitter(adapter, gw),
		store:      store,
		dryRun:     cfg.DryRun,
		bindings:   make(map[string]*Record[T]),
	}
}

// Kind returns the kind this engine reconciles.
func (e *Engine[T]) Kind() device.Kind {
	return e.adapter.Kind()
}

// Binding returns a copy of the current binding for name.
func (e *Engine[T]) Binding(name string) (Record[T], bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.bindings[name]
	if !ok || rec == nil {
		return Record[T]{}, false
	}
	return *rec, true
}

// Reconcile brings every declared resource of the kind to its declared state.
// A discovery failure aborts the pass. A failure for one resource is recorded
// in its Outcome and the remaining resources are still reconciled.
func (e *Engine[T]) Reconcile(ctx context.Context, desired []Desired[T]) (*KindResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	kind := e.adapter.Kind()

	if err := e.loadBindings(ctx); err != nil {
		return nil, err
	}

	records, err := e.discoverer.Discover(ctx)
	if err != nil {
		return nil, err
	}

	matched := e.matcher.Match(records, desired, e.bindings)
	e.persistMatched(ctx, matched)
	e.bindings = matched

	ordered := make([]Desired[T], len(desired))
	copy(ordered, desired)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	result := &KindResult{Kind: kind, Discovered: len(records)}
	for _, d := range ordered {
		result.Outcomes = append(result.Outcomes, e.reconcileOne(ctx, d))
	}

	log.Debug().
		Str("kind", string(kind)).
		Int("resources", len(result.Outcomes)).
		Int("changed", result.Changed()).
		Int("failed", result.Failed()).
		Msg("Kind reconciled")

	return result, nil
}

func (e *Engine[T]) reconcileOne(ctx context.Context, d Desired[T]) Outcome {
	binding := e.bindings[d.Name]

	var current *T
	if binding.Present() {
		current = &binding.Props
	}

	var cs *ChangeSet
	if d.Ensure == EnsurePresent {
		cs = StageDiff(e.adapter.Fields(), d.Props, current)
	} else {
		cs = NewChangeSet()
	}

	out := Outcome{
		Name:   d.Name,
		Key:    e.adapter.Identity(d),
		Staged: cs.Properties(),
		DryRun: e.dryRun,
	}

	if e.dryRun {
		out.Action = DetermineAction(binding.Present(), d.Ensure, cs.Len())
		if out.Action != ActionNone {
			log.Info().
				Str("kind", string(e.adapter.Kind())).
				Str("name", d.Name).
				Str("action", out.Action.String()).
				Strs("staged", out.Staged).
				Msg("Dry run, skipping commit")
		}
		return out
	}

	rec, action, err := e.committer.Commit(ctx, d.Name, binding, cs, d)
	out.Action = action
	if err != nil {
		out.Err = err
		log.Error().Err(err).
			Str("kind", string(e.adapter.Kind())).
			Str("name", d.Name).
			Str("action", action.String()).
			Msg("Commit failed")
		return out
	}

	if action == ActionNone {
		return out
	}

	e.bindings[d.Name] = rec
	out.Key = rec.Name
	if e.store != nil {
		if err := e.store.SaveBinding(ctx, d.Name, *rec); err != nil {
			log.Warn().Err(err).
				Str("kind", string(e.adapter.Kind())).
				Str("name", d.Name).
				Msg("Failed to persist binding")
		}
	}
	return out
}

// persistMatched saves bindings that changed since the previous cycle.
func (e *Engine[T]) persistMatched(ctx context.Context, matched map[string]*Record[T]) {
	if e.store == nil || e.dryRun {
		return
	}
	for name, rec := range matched {
		if rec == nil || cmp.Equal(e.bindings[name], rec) {
			continue
		}
		if err := e.store.SaveBinding(ctx, name, *rec); err != nil {
			log.Warn().Err(err).
				Str("kind", string(e.adapter.Kind())).
				Str("name", name).
				Msg("Failed to persist binding")
		}
	}
}

func (e *Engine[T]) loadBindings(ctx context.Context) error {
	if e.loaded || e.store == nil {
		e.loaded = true
		return nil
	}

	stored, err := e.store.LoadBindings(ctx)
	if err != nil {
		return fmt.Errorf("load %s bindings: %w", e.adapter.Kind(), err)
	}
	for name, rec := range stored {
		rec := rec
		e.bindings[name] = &rec
	}
	e.loaded = true

	log.Debug().Str("kind", string(e.adapter.Kind())).Int("count", len(stored)).Msg("Restored bindings")
	return nil
}

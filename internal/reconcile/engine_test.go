package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/netdevd/internal/device"
)

const kindWidget device.Kind = "widget"

// widgetAdapter keeps widgets as entities whose id is the widget name.
type widgetAdapter struct{}

func (widgetAdapter) Kind() device.Kind { return kindWidget }

func (widgetAdapter) Fields() []Field[widget] { return widgetFields }

func (widgetAdapter) Identity(d Desired[widget]) string { return d.Name }

func (widgetAdapter) List(ctx context.Context, gw device.Gateway) ([]Record[widget], error) {
	entities, err := gw.List(ctx, kindWidget)
	if err != nil {
		return nil, err
	}
	out := make([]Record[widget], 0, len(entities))
	for _, e := range entities {
		var w widget
		if c := e.Attrs.String("color"); c != "" {
			w.Color = &c
		}
		if s, ok := e.Attrs.Int("size"); ok {
			w.Size = &s
		}
		out = append(out, Record[widget]{Name: e.ID, Ensure: EnsurePresent, Props: w})
	}
	return out, nil
}

func (widgetAdapter) Validate(name string, current *Record[widget], cs *ChangeSet) error {
	if v, ok := Staged[int](cs, "size"); ok && v < 0 {
		return &ValidationError{Property: "size", Value: v}
	}
	return nil
}

func bundle(w widget) device.Attributes {
	attrs := device.Attributes{}
	if w.Color != nil {
		attrs["color"] = *w.Color
	}
	if w.Size != nil {
		attrs["size"] = *w.Size
	}
	return attrs
}

func mergeWidget(w widget, cs *ChangeSet) widget {
	if v, ok := Staged[string](cs, "color"); ok {
		w.Color = &v
	}
	if v, ok := Staged[int](cs, "size"); ok {
		w.Size = &v
	}
	return w
}

func (widgetAdapter) Create(ctx context.Context, gw device.Gateway, d Desired[widget], cs *ChangeSet) (Record[widget], error) {
	w := mergeWidget(widget{}, cs)
	if err := gw.Create(ctx, kindWidget, d.Name, bundle(w)); err != nil {
		return Record[widget]{}, err
	}
	return Record[widget]{Name: d.Name, Props: w}, nil
}

func (widgetAdapter) Destroy(ctx context.Context, gw device.Gateway, current Record[widget]) error {
	return gw.Delete(ctx, kindWidget, current.Name, nil)
}

func (widgetAdapter) Update(ctx context.Context, gw device.Gateway, current Record[widget], cs *ChangeSet) (Record[widget], error) {
	w := mergeWidget(current.Props, cs)
	if err := gw.Apply(ctx, kindWidget, current.Name, bundle(w)); err != nil {
		return current, err
	}
	return Record[widget]{Name: current.Name, Props: w}, nil
}

type memoryStore struct {
	mu       sync.Mutex
	bindings map[string]Record[widget]
	saves    int
	loadErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{bindings: make(map[string]Record[widget])}
}

func (s *memoryStore) LoadBindings(ctx context.Context) (map[string]Record[widget], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make(map[string]Record[widget], len(s.bindings))
	for k, v := range s.bindings {
		out[k] = v
	}
	return out, nil
}

func (s *memoryStore) SaveBinding(ctx context.Context, name string, rec Record[widget]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[name] = rec
	s.saves++
	return nil
}

func seedWidget(gw *device.MemoryGateway, name, color string, size int) {
	gw.Seed(kindWidget, device.Entity{ID: name, Attrs: device.Attributes{"color": color, "size": size}})
}

func TestEngineCreateUpdateDestroy(t *testing.T) {
	ctx := context.Background()
	gw := device.NewMemoryGateway()
	seedWidget(gw, "existing", "red", 1)
	seedWidget(gw, "doomed", "blue", 2)

	engine := NewEngine[widget](widgetAdapter{}, gw, EngineConfig{}, nil)
	result, err := engine.Reconcile(ctx, []Desired[widget]{
		{Name: "new", Props: widget{Color: strPtr("green")}},
		{Name: "existing", Props: widget{Size: intPtr(5)}},
		{Name: "doomed", Ensure: EnsureAbsent},
		{Name: "never", Ensure: EnsureAbsent},
	})
	require.NoError(t, err)
	assert.Equal(t, kindWidget, result.Kind)
	assert.Equal(t, 2, result.Discovered)

	actions := make(map[string]Action)
	for _, out := range result.Outcomes {
		require.NoError(t, out.Err, out.Name)
		actions[out.Name] = out.Action
	}
	assert.Equal(t, map[string]Action{
		"doomed":   ActionDestroy,
		"existing": ActionUpdate,
		"never":    ActionNone,
		"new":      ActionCreate,
	}, actions)
	assert.Equal(t, 3, result.Changed())
	assert.Zero(t, result.Failed())

	// Outcomes follow declared-name order.
	assert.Equal(t, "doomed", result.Outcomes[0].Name)
	assert.Equal(t, "new", result.Outcomes[3].Name)

	rec, ok := engine.Binding("existing")
	require.True(t, ok)
	assert.Equal(t, 5, *rec.Props.Size)
	assert.Equal(t, "red", *rec.Props.Color, "undeclared properties keep the device value")

	rec, ok = engine.Binding("doomed")
	require.True(t, ok)
	assert.Equal(t, EnsureAbsent, rec.Ensure)

	_, ok = engine.Binding("never")
	assert.False(t, ok)

	// Second pass converges.
	gw.ResetCalls()
	result, err = engine.Reconcile(ctx, []Desired[widget]{
		{Name: "new", Props: widget{Color: strPtr("green")}},
		{Name: "existing", Props: widget{Size: intPtr(5)}},
		{Name: "doomed", Ensure: EnsureAbsent},
	})
	require.NoError(t, err)
	assert.Zero(t, result.Changed())
	assert.Empty(t, gw.Writes())
}

func TestEngineDryRunMakesNoCalls(t *testing.T) {
	gw := device.NewMemoryGateway()
	seedWidget(gw, "a", "red", 1)
	store := newMemoryStore()

	engine := NewEngine[widget](widgetAdapter{}, gw, EngineConfig{DryRun: true}, store)
	result, err := engine.Reconcile(context.Background(), []Desired[widget]{
		{Name: "a", Props: widget{Color: strPtr("blue")}},
		{Name: "b", Props: widget{Size: intPtr(1)}},
	})
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, ActionUpdate, result.Outcomes[0].Action)
	assert.True(t, result.Outcomes[0].DryRun)
	assert.Equal(t, []string{"color"}, result.Outcomes[0].Staged)
	assert.Equal(t, ActionCreate, result.Outcomes[1].Action)
	assert.Zero(t, result.Changed())

	assert.Empty(t, gw.Writes())
	assert.Zero(t, store.saves)

	rec, ok := engine.Binding("a")
	require.True(t, ok)
	assert.Equal(t, "red", *rec.Props.Color)
}

func TestEngineIsolatesResourceFailures(t *testing.T) {
	gw := device.NewMemoryGateway()
	gw.FailOn(device.OpCreate, kindWidget, "b", device.ErrProtocol)

	engine := NewEngine[widget](widgetAdapter{}, gw, EngineConfig{}, nil)
	result, err := engine.Reconcile(context.Background(), []Desired[widget]{
		{Name: "a", Props: widget{Size: intPtr(1)}},
		{Name: "b", Props: widget{Size: intPtr(2)}},
		{Name: "c", Props: widget{Size: intPtr(-1)}},
		{Name: "d", Props: widget{Size: intPtr(4)}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Failed())
	assert.Equal(t, 2, result.Changed())

	var ce *CommitError
	require.ErrorAs(t, result.Outcomes[1].Err, &ce)
	assert.Equal(t, OpCreate, ce.Op)
	assert.ErrorIs(t, ce, device.ErrProtocol)

	var ve *ValidationError
	require.ErrorAs(t, result.Outcomes[2].Err, &ve)
	assert.Equal(t, kindWidget, ve.Kind)
	assert.Equal(t, "c", ve.Name)

	_, ok := engine.Binding("b")
	assert.False(t, ok, "failed create leaves the resource unbound")
	_, ok = engine.Binding("d")
	assert.True(t, ok)

	// The failed resource is retried on the next pass.
	gw.ClearFailures()
	gw.ResetCalls()
	result, err = engine.Reconcile(context.Background(), []Desired[widget]{
		{Name: "b", Props: widget{Size: intPtr(2)}},
	})
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, result.Outcomes[0].Action)
	assert.NoError(t, result.Outcomes[0].Err)
}

func TestEngineDiscoveryFailureAbortsKind(t *testing.T) {
	gw := device.NewMemoryGateway()
	gw.FailOn(device.OpList, kindWidget, "", device.ErrConnection)

	engine := NewEngine[widget](widgetAdapter{}, gw, EngineConfig{}, nil)
	result, err := engine.Reconcile(context.Background(), []Desired[widget]{{Name: "a"}})
	assert.Nil(t, result)

	var de *DiscoveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, kindWidget, de.Kind)
	assert.True(t, device.IsRetriable(err))
	assert.Empty(t, gw.Writes())
}

func TestEngineRestoresBindingsFromStore(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()

	gw := device.NewMemoryGateway()
	seedWidget(gw, "a", "red", 1)
	first := NewEngine[widget](widgetAdapter{}, gw, EngineConfig{}, store)
	_, err := first.Reconcile(ctx, []Desired[widget]{{Name: "a", Props: widget{Size: intPtr(3)}}})
	require.NoError(t, err)

	saved, ok := store.bindings["a"]
	require.True(t, ok)
	assert.Equal(t, 3, *saved.Props.Size)

	// A restarted engine sees an empty read but keeps the stored binding.
	empty := device.NewMemoryGateway()
	second := NewEngine[widget](widgetAdapter{}, empty, EngineConfig{}, store)
	result, err := second.Reconcile(ctx, []Desired[widget]{{Name: "a", Props: widget{Size: intPtr(3)}}})
	require.NoError(t, err)
	assert.Equal(t, ActionNone, result.Outcomes[0].Action)

	rec, ok := second.Binding("a")
	require.True(t, ok)
	assert.Equal(t, "red", *rec.Props.Color)
}

func TestEngineRebindPolicyUnbindsMissing(t *testing.T) {
	ctx := context.Background()
	gw := device.NewMemoryGateway()
	seedWidget(gw, "a", "red", 1)

	engine := NewEngine[widget](widgetAdapter{}, gw, EngineConfig{Policy: PrefetchRebind}, nil)
	_, err := engine.Reconcile(ctx, []Desired[widget]{{Name: "a", Props: widget{Color: strPtr("red")}}})
	require.NoError(t, err)

	// Removed behind our back: the next pass creates it again.
	require.NoError(t, gw.Delete(ctx, kindWidget, "a", nil))
	gw.ResetCalls()

	result, err := engine.Reconcile(ctx, []Desired[widget]{{Name: "a", Props: widget{Color: strPtr("red")}}})
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, result.Outcomes[0].Action)
	require.Len(t, gw.Writes(), 1)
	assert.Equal(t, device.OpCreate, gw.Writes()[0].Op)
}

func TestEngineStoreLoadFailure(t *testing.T) {
	store := newMemoryStore()
	store.loadErr = errors.New("disk gone")

	engine := NewEngine[widget](widgetAdapter{}, device.NewMemoryGateway(), EngineConfig{}, store)
	_, err := engine.Reconcile(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load widget bindings")
}

func TestDedupKeepsFirst(t *testing.T) {
	records := []Record[widget]{
		{Name: "a", Props: widget{Size: intPtr(1)}},
		{Name: "b"},
		{Name: "a", Props: widget{Size: intPtr(2)}},
	}
	out := Dedup(records)
	require.Len(t, out, 2)
	assert.Equal(t, 1, *out[0].Props.Size)
	assert.Equal(t, "b", out[1].Name)
}

func TestDiscoveryErrorIsNotWrappedTwice(t *testing.T) {
	inner := &DiscoveryError{Kind: kindWidget, Err: fmt.Errorf("bad entry")}
	d := NewDiscoverer[widget](failingList{err: inner}, device.NewMemoryGateway())
	_, err := d.Discover(context.Background())
	assert.Same(t, inner, err)
}

type failingList struct {
	widgetAdapter
	err error
}

func (f failingList) List(ctx context.Context, gw device.Gateway) ([]Record[widget], error) {
	return nil, f.err
}

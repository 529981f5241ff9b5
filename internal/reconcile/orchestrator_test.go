package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/netdevd/internal/device"
	"github.com/dokzlo13/netdevd/internal/eventbus"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(e eventbus.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) ofType(t eventbus.EventType) []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []eventbus.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type stubReconciler struct {
	kind  device.Kind
	calls *[]device.Kind
	err   error
}

func (s stubReconciler) Kind() device.Kind { return s.kind }

func (s stubReconciler) Reconcile(ctx context.Context) (*KindResult, error) {
	*s.calls = append(*s.calls, s.kind)
	if s.err != nil {
		return nil, s.err
	}
	return &KindResult{Kind: s.kind}, nil
}

func staticSource(desired ...Desired[widget]) Source[widget] {
	return func(ctx context.Context) ([]Desired[widget], error) {
		return desired, nil
	}
}

func TestRunOnceVisitsKindsInOrder(t *testing.T) {
	var calls []device.Kind
	o := NewOrchestrator(time.Minute, 0)
	o.Register(stubReconciler{kind: "b", calls: &calls})
	o.Register(stubReconciler{kind: "a", calls: &calls, err: &DiscoveryError{Kind: "a", Err: device.ErrConnection}})
	o.Register(stubReconciler{kind: "c", calls: &calls})

	pub := &recordingPublisher{}
	o.SetPublisher(pub)

	cycle, err := o.RunOnce(context.Background(), "test")
	require.NoError(t, err)

	assert.Equal(t, []device.Kind{"b", "a", "c"}, calls, "a failing kind does not stop later kinds")
	assert.Len(t, cycle.Kinds, 2)
	require.Contains(t, cycle.Errors, device.Kind("a"))
	assert.Equal(t, 1, cycle.Failed())
	assert.Equal(t, "test", cycle.Trigger)
	assert.NotEmpty(t, cycle.ID)
	assert.Same(t, cycle, o.Last())

	failed := pub.ofType(eventbus.EventDiscoveryFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "a", failed[0].String("kind"))
	assert.Equal(t, cycle.ID, failed[0].String("cycle_id"))

	require.Len(t, pub.ofType(eventbus.EventCycle), 1)
}

func TestRunOncePublishesCommits(t *testing.T) {
	gw := device.NewMemoryGateway()
	seedWidget(gw, "kept", "red", 1)
	gw.FailOn(device.OpCreate, kindWidget, "broken", device.ErrProtocol)

	engine := NewEngine[widget](widgetAdapter{}, gw, EngineConfig{}, nil)
	o := NewOrchestrator(time.Minute, 0)
	o.Register(Bind(engine, staticSource(
		Desired[widget]{Name: "kept", Props: widget{Color: strPtr("red")}},
		Desired[widget]{Name: "fresh", Props: widget{Color: strPtr("blue")}},
		Desired[widget]{Name: "broken", Props: widget{Color: strPtr("blue")}},
	)))
	pub := &recordingPublisher{}
	o.SetPublisher(pub)

	cycle, err := o.RunOnce(context.Background(), "manual")
	require.NoError(t, err)
	assert.Equal(t, 1, cycle.Changed())
	assert.Equal(t, 1, cycle.Failed())

	commits := pub.ofType(eventbus.EventCommit)
	require.Len(t, commits, 2, "unchanged resources publish nothing")

	assert.Equal(t, "broken", commits[0].String("name"))
	assert.Equal(t, "create", commits[0].String("action"))
	assert.NotEmpty(t, commits[0].String("error"))

	assert.Equal(t, "fresh", commits[1].String("name"))
	assert.Equal(t, "widget", commits[1].String("kind"))
	assert.Equal(t, []string{"color"}, commits[1].Data["staged"])
	assert.NotContains(t, commits[1].Data, "error")

	cycles := pub.ofType(eventbus.EventCycle)
	require.Len(t, cycles, 1)
	assert.Equal(t, 1, cycles[0].Data["changed"])
	assert.Equal(t, "manual", cycles[0].String("trigger"))
}

func TestRunOnceSourceError(t *testing.T) {
	engine := NewEngine[widget](widgetAdapter{}, device.NewMemoryGateway(), EngineConfig{}, nil)
	o := NewOrchestrator(time.Minute, 0)
	o.Register(Bind(engine, func(ctx context.Context) ([]Desired[widget], error) {
		return nil, errors.New("manifest unreadable")
	}))

	cycle, err := o.RunOnce(context.Background(), "test")
	require.NoError(t, err)
	require.Contains(t, cycle.Errors, kindWidget)
	assert.Contains(t, cycle.Errors[kindWidget].Error(), "manifest unreadable")
}

func TestRunOnceRefreshFailureSkipsCycle(t *testing.T) {
	var calls []device.Kind
	o := NewOrchestrator(time.Minute, 0)
	o.Register(stubReconciler{kind: "a", calls: &calls})
	o.OnCycleStart(func(ctx context.Context) error { return errors.New("bad manifest") })

	cycle, err := o.RunOnce(context.Background(), "test")
	require.Error(t, err)
	assert.Nil(t, cycle)
	assert.Empty(t, calls)
	assert.Nil(t, o.Last())
}

func TestRunTriggersCycles(t *testing.T) {
	var mu sync.Mutex
	cycles := 0

	o := NewOrchestrator(time.Hour, 10*time.Millisecond)
	o.OnCycleStart(func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		cycles++
		return nil
	})
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return cycles
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool { return count() == 1 }, time.Second, 5*time.Millisecond, "startup cycle")

	o.Trigger("a")
	o.Trigger("b")
	require.Eventually(t, func() bool { return o.Last() != nil && o.Last().Trigger != "startup" }, time.Second, 5*time.Millisecond)
	assert.Contains(t, []string{"a", "b"}, o.Last().Trigger)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("orchestrator did not stop")
	}
	assert.LessOrEqual(t, count(), 3)
}

func TestParsePrefetchPolicy(t *testing.T) {
	p, err := ParsePrefetchPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PrefetchPreserve, p)

	p, err = ParsePrefetchPolicy("Rebind")
	require.NoError(t, err)
	assert.Equal(t, PrefetchRebind, p)
	assert.Equal(t, "rebind", p.String())

	_, err = ParsePrefetchPolicy("sometimes")
	assert.Error(t, err)
}

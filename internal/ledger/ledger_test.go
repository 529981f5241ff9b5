package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/netdevd/internal/db"
	"github.com/dokzlo13/netdevd/internal/eventbus"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestFromEvent(t *testing.T) {
	tests := []struct {
		name  string
		event eventbus.Event
		want  EventType
	}{
		{
			name:  "successful commit",
			event: eventbus.Event{Type: eventbus.EventCommit, Data: map[string]any{"action": "update", "dry_run": false}},
			want:  EventCommitSucceeded,
		},
		{
			name:  "failed commit",
			event: eventbus.Event{Type: eventbus.EventCommit, Data: map[string]any{"error": "boom"}},
			want:  EventCommitFailed,
		},
		{
			name:  "dry run",
			event: eventbus.Event{Type: eventbus.EventCommit, Data: map[string]any{"dry_run": true}},
			want:  EventCommitPlanned,
		},
		{
			name:  "cycle",
			event: eventbus.Event{Type: eventbus.EventCycle},
			want:  EventCycleCompleted,
		},
		{
			name:  "discovery",
			event: eventbus.Event{Type: eventbus.EventDiscoveryFailed},
			want:  EventDiscoveryFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromEvent(tt.event).EventType)
		})
	}
}

func TestAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)

	require.NoError(t, l.Append(ctx, Entry{
		EventType: EventCommitSucceeded,
		CycleID:   "c1",
		Kind:      "network_interface",
		Name:      "Ethernet1",
		Payload:   map[string]any{"action": "update", "staged": []string{"mtu"}},
	}))
	require.NoError(t, l.Append(ctx, Entry{EventType: EventCommitFailed, Kind: "network_interface", Name: "Ethernet2"}))
	require.NoError(t, l.Append(ctx, Entry{EventType: EventCycleCompleted, CycleID: "c1"}))

	entries, err := l.GetByResource(ctx, "network_interface", "Ethernet1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, EventCommitSucceeded, entries[0].EventType)
	assert.Equal(t, "c1", entries[0].CycleID)
	assert.Equal(t, "update", entries[0].Payload["action"])
	assert.Equal(t, []any{"mtu"}, entries[0].Payload["staged"])

	entries, err = l.GetByType(ctx, EventCycleCompleted, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Payload)
	assert.Empty(t, entries[0].Name)
}

func TestDeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)

	require.NoError(t, l.Append(ctx, Entry{EventType: EventCycleCompleted, Timestamp: time.Now().Add(-48 * time.Hour)}))
	require.NoError(t, l.Append(ctx, Entry{EventType: EventCycleCompleted}))

	n, err := l.DeleteOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := l.GetByType(ctx, EventCycleCompleted, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSubscribeRecordsBusEvents(t *testing.T) {
	l := openLedger(t)
	bus := eventbus.NewWithConfig(1, 16)
	l.Subscribe(bus)

	bus.Publish(eventbus.Event{Type: eventbus.EventCommit, Data: map[string]any{
		"cycle_id": "c9", "kind": "radius_server", "name": "10.0.0.1", "action": "create", "dry_run": false,
	}})
	bus.Publish(eventbus.Event{Type: eventbus.EventCycle, Data: map[string]any{"cycle_id": "c9"}})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	bus.Close(ctx)

	entries, err := l.GetByResource(context.Background(), "radius_server", "10.0.0.1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, EventCommitSucceeded, entries[0].EventType)
	assert.Equal(t, "c9", entries[0].CycleID)

	cycles, err := l.GetByType(context.Background(), EventCycleCompleted, 10)
	require.NoError(t, err)
	assert.Len(t, cycles, 1)
}

func TestRunRetentionStops(t *testing.T) {
	l := openLedger(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.RunRetention(ctx, time.Hour, 5*time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("retention loop did not stop")
	}

	assert.NoError(t, l.RunRetention(context.Background(), 0, 0), "disabled retention returns immediately")
}

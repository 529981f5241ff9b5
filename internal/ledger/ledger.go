// Package ledger keeps an append-only history of commits and reconcile cycles
// for auditing.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/netdevd/internal/eventbus"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventCommitSucceeded EventType = "commit_succeeded"
	EventCommitFailed    EventType = "commit_failed"
	EventCommitPlanned   EventType = "commit_planned"
	EventCycleCompleted  EventType = "cycle_completed"
	EventDiscoveryFailed EventType = "discovery_failed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64
	EventType EventType
	Timestamp time.Time
	CycleID   string
	Kind      string
	Name      string
	Payload   map[string]any
}

// Ledger provides append-only event logging
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(ctx context.Context, entry Entry) error {
	var payloadJSON []byte
	var err error

	if entry.Payload != nil {
		payloadJSON, err = json.Marshal(entry.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO event_ledger (event_type, timestamp, cycle_id, kind, name, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(entry.EventType), ts.UTC().Unix(), entry.CycleID, entry.Kind, entry.Name, string(payloadJSON))

	return err
}

// Subscribe records bus events in the ledger.
func (l *Ledger) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventCommit, l.record)
	bus.Subscribe(eventbus.EventCycle, l.record)
	bus.Subscribe(eventbus.EventDiscoveryFailed, l.record)
}

func (l *Ledger) record(event eventbus.Event) {
	entry := FromEvent(event)
	if err := l.Append(context.Background(), entry); err != nil {
		log.Error().Err(err).Str("event_type", string(entry.EventType)).Msg("Failed to append ledger entry")
	}
}

// FromEvent converts a bus event into a ledger entry.
func FromEvent(event eventbus.Event) Entry {
	entry := Entry{
		CycleID: event.String("cycle_id"),
		Kind:    event.String("kind"),
		Name:    event.String("name"),
		Payload: event.Data,
	}

	switch event.Type {
	case eventbus.EventCommit:
		switch {
		case event.String("error") != "":
			entry.EventType = EventCommitFailed
		case event.Data["dry_run"] == true:
			entry.EventType = EventCommitPlanned
		default:
			entry.EventType = EventCommitSucceeded
		}
	case eventbus.EventCycle:
		entry.EventType = EventCycleCompleted
	default:
		entry.EventType = EventType(event.Type)
	}
	return entry
}

// GetByType returns entries filtered by event type, newest first
func (l *Ledger) GetByType(ctx context.Context, eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, event_type, timestamp, cycle_id, kind, name, payload
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByResource returns the history of one declared resource, newest first
func (l *Ledger) GetByResource(ctx context.Context, kind, name string, limit int) ([]*Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, event_type, timestamp, cycle_id, kind, name, payload
		FROM event_ledger
		WHERE kind = ? AND name = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, kind, name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := l.db.ExecContext(ctx, `
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RunRetention prunes old entries every interval until ctx is done.
func (l *Ledger) RunRetention(ctx context.Context, retention, interval time.Duration) error {
	if retention <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := l.DeleteOlderThan(ctx, retention)
			if err != nil {
				log.Warn().Err(err).Msg("Ledger retention cleanup failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Dur("retention", retention).Msg("Pruned ledger entries")
			}
		}
	}
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, cycleID, kind, name sql.NullString
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.EventType, &timestamp, &cycleID, &kind, &name, &payloadStr,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		entry.CycleID = cycleID.String
		entry.Kind = kind.String
		entry.Name = name.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

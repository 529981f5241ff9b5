package device

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Call is one recorded gateway invocation.
type Call struct {
	Op    string
	Kind  Kind
	ID    string
	Attr  string
	Value string
	Attrs Attributes
}

// Write operation names used in Call.Op and failure injection.
const (
	OpList   = "list"
	OpSet    = "set"
	OpCreate = "create"
	OpDelete = "delete"
	OpApply  = "apply"
)

// MemoryGateway is an in-memory switch model. Writes are reflected in later
// List calls using the same raw attribute shapes the eAPI gateway produces,
// so a reconcile cycle against it behaves like one against real hardware.
type MemoryGateway struct {
	mu       sync.Mutex
	entities map[Kind][]Entity
	calls    []Call
	failures map[failureKey]error
}

type failureKey struct {
	op   string
	kind Kind
	id   string
}

// NewMemoryGateway creates an empty simulated device.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		entities: make(map[Kind][]Entity),
		failures: make(map[failureKey]error),
	}
}

// Seed appends raw entities for a kind, preserving order (duplicates allowed).
func (m *MemoryGateway) Seed(kind Kind, entities ...Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entities {
		m.entities[kind] = append(m.entities[kind], Entity{ID: e.ID, Attrs: e.Attrs.Clone()})
	}
}

// FailOn makes every matching call return err. An empty id matches any id.
func (m *MemoryGateway) FailOn(op string, kind Kind, id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[failureKey{op: op, kind: kind, id: id}] = err
}

// ClearFailures removes all injected failures.
func (m *MemoryGateway) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[failureKey]error)
}

// Calls returns a copy of the recorded calls.
func (m *MemoryGateway) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Writes returns recorded calls excluding reads.
func (m *MemoryGateway) Writes() []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op != OpList {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls forgets recorded calls.
func (m *MemoryGateway) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Entities returns a copy of the raw entities stored for a kind.
func (m *MemoryGateway) Entities(kind Kind) []Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(kind)
}

func (m *MemoryGateway) snapshot(kind Kind) []Entity {
	out := make([]Entity, 0, len(m.entities[kind]))
	for _, e := range m.entities[kind] {
		out = append(out, Entity{ID: e.ID, Attrs: e.Attrs.Clone()})
	}
	return out
}

func (m *MemoryGateway) failure(op string, kind Kind, id string) error {
	if err, ok := m.failures[failureKey{op: op, kind: kind, id: id}]; ok {
		return &CallError{Kind: kind, Op: op, ID: id, Err: err}
	}
	if err, ok := m.failures[failureKey{op: op, kind: kind}]; ok {
		return &CallError{Kind: kind, Op: op, ID: id, Err: err}
	}
	return nil
}

func (m *MemoryGateway) index(kind Kind, id string) int {
	for i, e := range m.entities[kind] {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// List implements Gateway.
func (m *MemoryGateway) List(ctx context.Context, kind Kind) ([]Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: OpList, Kind: kind})
	if err := m.failure(OpList, kind, ""); err != nil {
		return nil, err
	}
	return m.snapshot(kind), nil
}

// Set implements Gateway.
func (m *MemoryGateway) Set(ctx context.Context, kind Kind, id, attr, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: OpSet, Kind: kind, ID: id, Attr: attr, Value: value})
	if err := m.failure(OpSet, kind, id); err != nil {
		return err
	}

	i := m.index(kind, id)
	if i < 0 {
		return &CallError{Kind: kind, Op: OpSet, ID: id, Err: ErrNotFound}
	}
	m.entities[kind][i].Attrs[attr] = value

	log.Debug().Str("kind", string(kind)).Str("id", id).Str(attr, value).Msg("Memory device attribute set")
	return nil
}

// Create implements Gateway. Creating an existing entity merges args into it.
func (m *MemoryGateway) Create(ctx context.Context, kind Kind, id string, args Attributes) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: OpCreate, Kind: kind, ID: id, Attrs: args.Clone()})
	if err := m.failure(OpCreate, kind, id); err != nil {
		return err
	}

	if i := m.index(kind, id); i >= 0 {
		for k, v := range args {
			m.entities[kind][i].Attrs[k] = v
		}
		return nil
	}
	m.entities[kind] = append(m.entities[kind], Entity{ID: id, Attrs: args.Clone()})
	return nil
}

// Delete implements Gateway. Every entity with the id is removed; deleting a
// missing entity succeeds, like "no ..." on the CLI.
func (m *MemoryGateway) Delete(ctx context.Context, kind Kind, id string, args Attributes) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: OpDelete, Kind: kind, ID: id, Attrs: args.Clone()})
	if err := m.failure(OpDelete, kind, id); err != nil {
		return err
	}

	kept := m.entities[kind][:0]
	for _, e := range m.entities[kind] {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	m.entities[kind] = kept
	return nil
}

// Apply implements Gateway. The bundle is merged into the entity, creating it if needed.
func (m *MemoryGateway) Apply(ctx context.Context, kind Kind, id string, attrs Attributes) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: OpApply, Kind: kind, ID: id, Attrs: attrs.Clone()})
	if err := m.failure(OpApply, kind, id); err != nil {
		return err
	}

	if i := m.index(kind, id); i >= 0 {
		for k, v := range attrs {
			m.entities[kind][i].Attrs[k] = v
		}
		return nil
	}
	m.entities[kind] = append(m.entities[kind], Entity{ID: id, Attrs: attrs.Clone()})
	return nil
}

// Ping always succeeds.
func (m *MemoryGateway) Ping(ctx context.Context) error {
	return ctx.Err()
}

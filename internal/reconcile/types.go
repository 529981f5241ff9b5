// Package reconcile provides the reconciliation framework for making
// actual device state match declared state.
//
// Every resource kind goes through the same phases: discovery (list and
// normalize device entries), matching (bind declared resources to discovered
// records), staging (record property changes without touching the device) and
// commit (translate staged changes into device calls). Kind-specific behavior
// lives in an Adapter.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/netdevd/internal/device"
)

// Ensure is the declared lifecycle intent of a resource.
type Ensure int

const (
	EnsurePresent Ensure = iota
	EnsureAbsent
)

// String returns the manifest spelling of the value.
func (e Ensure) String() string {
	switch e {
	case EnsurePresent:
		return "present"
	case EnsureAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// ParseEnsure parses "present" or "absent". An empty string means present.
func ParseEnsure(s string) (Ensure, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "present":
		return EnsurePresent, nil
	case "absent":
		return EnsureAbsent, nil
	default:
		return EnsurePresent, fmt.Errorf("unknown ensure value %q, expected present or absent", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (e Ensure) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Ensure) UnmarshalText(text []byte) error {
	parsed, err := ParseEnsure(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *Ensure) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return e.UnmarshalText([]byte(s))
}

// Record is the normalized, device-reported truth for one entity.
// Records are never patched in place; a commit produces a new one.
type Record[T any] struct {
	Name   string `json:"name"`
	Ensure Ensure `json:"ensure"`
	Props  T      `json:"props"`
}

// Present reports whether the record describes an existing entity.
func (r *Record[T]) Present() bool {
	return r != nil && r.Ensure == EnsurePresent
}

// Desired is the declared target state for one named resource.
// Optional fields of T are pointers; nil means "not declared".
type Desired[T any] struct {
	Name   string
	Ensure Ensure
	Props  T
}

// Field describes one stageable property of T.
// Get returns the property value and whether it is set.
type Field[T any] struct {
	Name string
	Get  func(T) (any, bool)
}

// Adapter holds everything that differs between resource kinds.
type Adapter[T any] interface {
	// Kind returns the device kind handled by this adapter.
	Kind() device.Kind

	// Fields lists the stageable properties in commit order.
	Fields() []Field[T]

	// List reads and normalizes all entries of the kind, in device order.
	// Entries that do not belong to the kind are filtered out. Duplicates are kept.
	List(ctx context.Context, gw device.Gateway) ([]Record[T], error)

	// Identity returns the record key a declared resource should bind to.
	Identity(d Desired[T]) string

	// Validate checks staged values before any device call is made.
	Validate(name string, current *Record[T], cs *ChangeSet) error

	// Create makes the entity exist, applying staged changes as part of the same operation.
	Create(ctx context.Context, gw device.Gateway, d Desired[T], cs *ChangeSet) (Record[T], error)

	// Destroy removes the entity.
	Destroy(ctx context.Context, gw device.Gateway, current Record[T]) error

	// Update sends the staged changes for an existing entity.
	Update(ctx context.Context, gw device.Gateway, current Record[T], cs *ChangeSet) (Record[T], error)
}

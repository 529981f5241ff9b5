package reconcile

import (
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// ChangeSet accumulates property changes for one resource before commit.
// Staging the same property twice keeps the last value.
type ChangeSet struct {
	values map[string]any
}

// NewChangeSet returns an empty change set.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{values: make(map[string]any)}
}

// Stage records a requested value for a property.
func (c *ChangeSet) Stage(prop string, value any) {
	c.values[prop] = value
}

// Get returns the staged value. ok is false when no change was requested,
// which is distinct from a staged zero value.
func (c *ChangeSet) Get(prop string) (value any, ok bool) {
	if c == nil {
		return nil, false
	}
	value, ok = c.values[prop]
	return value, ok
}

// Has reports whether prop was staged.
func (c *ChangeSet) Has(prop string) bool {
	_, ok := c.Get(prop)
	return ok
}

// Len returns the number of staged properties.
func (c *ChangeSet) Len() int {
	if c == nil {
		return 0
	}
	return len(c.values)
}

// Properties returns the staged property names, sorted.
func (c *ChangeSet) Properties() []string {
	if c == nil {
		return nil
	}
	props := make([]string, 0, len(c.values))
	for p := range c.values {
		props = append(props, p)
	}
	sort.Strings(props)
	return props
}

// Staged returns the staged value of prop converted to V.
// ok is false when prop was not staged or holds a different type.
func Staged[V any](c *ChangeSet, prop string) (V, bool) {
	var zero V
	raw, ok := c.Get(prop)
	if !ok {
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		return zero, false
	}
	return v, true
}

// equalOpts treats nil and empty slices as equal so that an explicitly empty
// server list matches a group the device reports without members.
var equalOpts = []cmp.Option{cmpopts.EquateEmpty()}

// StageDiff stages every declared field of desired that differs from current.
// When current is nil every declared field is staged.
func StageDiff[T any](fields []Field[T], desired T, current *T) *ChangeSet {
	cs := NewChangeSet()
	for _, f := range fields {
		want, declared := f.Get(desired)
		if !declared {
			continue
		}
		if current != nil {
			if have, ok := f.Get(*current); ok && cmp.Equal(want, have, equalOpts...) {
				continue
			}
		}
		cs.Stage(f.Name, want)
	}
	return cs
}

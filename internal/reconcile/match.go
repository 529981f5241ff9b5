package reconcile

import (
	"fmt"
	"strings"
)

// PrefetchPolicy decides what happens to a prior binding when discovery finds
// no record for it.
type PrefetchPolicy int

const (
	// PrefetchPreserve keeps the prior binding. A momentarily empty read does
	// not unbind anything.
	PrefetchPreserve PrefetchPolicy = iota
	// PrefetchRebind replaces every binding with the fresh match, unbinding
	// resources that were not found.
	PrefetchRebind
)

func (p PrefetchPolicy) String() string {
	switch p {
	case PrefetchPreserve:
		return "preserve"
	case PrefetchRebind:
		return "rebind"
	default:
		return "unknown"
	}
}

// ParsePrefetchPolicy parses "preserve" or "rebind". Empty means preserve.
func ParsePrefetchPolicy(s string) (PrefetchPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "preserve":
		return PrefetchPreserve, nil
	case "rebind":
		return PrefetchRebind, nil
	default:
		return PrefetchPreserve, fmt.Errorf("unknown prefetch policy %q", s)
	}
}

// Matcher binds declared resources to discovered records.
type Matcher[T any] struct {
	identity func(Desired[T]) string
	policy   PrefetchPolicy
}

// NewMatcher creates a matcher using identity to compute lookup keys.
func NewMatcher[T any](identity func(Desired[T]) string, policy PrefetchPolicy) *Matcher[T] {
	return &Matcher[T]{identity: identity, policy: policy}
}

// Match returns the binding for every declared name. A nil binding means unbound.
// prior holds the bindings from the previous cycle and is not modified.
func (m *Matcher[T]) Match(records []Record[T], desired []Desired[T], prior map[string]*Record[T]) map[string]*Record[T] {
	byKey := make(map[string]*Record[T], len(records))
	for i := range records {
		byKey[records[i].Name] = &records[i]
	}

	bindings := make(map[string]*Record[T], len(desired))
	for _, d := range desired {
		if rec, ok := byKey[m.identity(d)]; ok {
			bound := *rec
			bindings[d.Name] = &bound
			continue
		}
		if m.policy == PrefetchPreserve {
			if prev, ok := prior[d.Name]; ok && prev != nil {
				bindings[d.Name] = prev
				continue
			}
		}
		bindings[d.Name] = nil
	}
	return bindings
}

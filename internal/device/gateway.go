// Package device defines the contract between the reconciliation engine and a
// managed switch. Implementations translate these verb-style calls into whatever
// the device speaks (eAPI for EOS, or an in-memory model for tests).
package device

import (
	"context"
	"fmt"
	"strconv"
)

// Kind identifies a class of device entity.
type Kind string

// Entity kinds managed by netdevd.
const (
	KindInterface         Kind = "network_interface"
	KindRadiusServer      Kind = "radius_server"
	KindRadiusServerGroup Kind = "radius_server_group"
	KindSNMPReceiver      Kind = "snmp_notification_receiver"
)

// Kinds lists every kind in reconciliation order.
var Kinds = []Kind{
	KindInterface,
	KindRadiusServer,
	KindRadiusServerGroup,
	KindSNMPReceiver,
}

// Attributes is a raw, device-reported or device-bound attribute set.
// Values are strings, ints, bools, []string or []Attributes as decoded from the device.
type Attributes map[string]any

// Entity is one raw entry returned by List.
type Entity struct {
	ID    string
	Attrs Attributes
}

// Gateway is the device API consumed by the engine.
//
// List returns entries in device order so that callers can apply a
// first-one-wins policy deterministically.
type Gateway interface {
	List(ctx context.Context, kind Kind) ([]Entity, error)
	Set(ctx context.Context, kind Kind, id, attr, value string) error
	Create(ctx context.Context, kind Kind, id string, args Attributes) error
	Delete(ctx context.Context, kind Kind, id string, args Attributes) error
	Apply(ctx context.Context, kind Kind, id string, attrs Attributes) error
}

// String returns the attribute as a string, or "" if missing.
func (a Attributes) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the attribute as an int. ok is false if the attribute is missing
// or cannot be interpreted as a number.
func (a Attributes) Int(key string) (int, bool) {
	switch v := a[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Bool returns the attribute as a bool.
func (a Attributes) Bool(key string) (bool, bool) {
	switch v := a[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

// Strings returns a list-valued attribute.
func (a Attributes) Strings(key string) []string {
	switch v := a[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return nil
	}
}

// List returns a nested list of attribute sets.
func (a Attributes) List(key string) []Attributes {
	switch v := a[key].(type) {
	case []Attributes:
		return v
	case []map[string]any:
		out := make([]Attributes, 0, len(v))
		for _, item := range v {
			out = append(out, Attributes(item))
		}
		return out
	case []any:
		out := make([]Attributes, 0, len(v))
		for _, item := range v {
			switch m := item.(type) {
			case map[string]any:
				out = append(out, Attributes(m))
			case Attributes:
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// Clone returns a shallow copy.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

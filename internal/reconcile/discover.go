package reconcile

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/netdevd/internal/device"
)

// Discoverer lists every entity of one kind and collapses duplicates.
type Discoverer[T any] struct {
	adapter Adapter[T]
	gw      device.Gateway
}

// NewDiscoverer creates a discoverer for the adapter's kind.
func NewDiscoverer[T any](adapter Adapter[T], gw device.Gateway) *Discoverer[T] {
	return &Discoverer[T]{adapter: adapter, gw: gw}
}

// Discover returns one record per distinct key in device order.
// When two entries share a key the first one is kept.
func (d *Discoverer[T]) Discover(ctx context.Context) ([]Record[T], error) {
	kind := d.adapter.Kind()

	raw, err := d.adapter.List(ctx, d.gw)
	if err != nil {
		var de *DiscoveryError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, &DiscoveryError{Kind: kind, Err: err}
	}

	records := Dedup(raw)
	if dropped := len(raw) - len(records); dropped > 0 {
		log.Debug().
			Str("kind", string(kind)).
			Int("raw", len(raw)).
			Int("dropped", dropped).
			Msg("Dropped duplicate device entries")
	}

	log.Debug().Str("kind", string(kind)).Int("count", len(records)).Msg("Discovered records")
	return records, nil
}

// Dedup keeps the first record for every name and preserves order.
func Dedup[T any](records []Record[T]) []Record[T] {
	seen := make(map[string]struct{}, len(records))
	out := make([]Record[T], 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.Name]; ok {
			continue
		}
		seen[r.Name] = struct{}{}
		out = append(out, r)
	}
	return out
}

package state

import (
	"context"

	"github.com/dokzlo13/netdevd/internal/device"
	"github.com/dokzlo13/netdevd/internal/reconcile"
)

// Bindings stores the engine bindings of one kind, keyed by declared name.
type Bindings[T any] struct {
	typed *TypedStore[reconcile.Record[T]]
}

// NewBindings returns the binding store for kind.
func NewBindings[T any](store *Store, kind device.Kind) *Bindings[T] {
	return &Bindings[T]{typed: NewTypedStore[reconcile.Record[T]](store, "binding:"+string(kind))}
}

// LoadBindings implements reconcile.BindingStore.
func (b *Bindings[T]) LoadBindings(ctx context.Context) (map[string]reconcile.Record[T], error) {
	values, _, err := b.typed.GetAll(ctx)
	return values, err
}

// SaveBinding implements reconcile.BindingStore.
func (b *Bindings[T]) SaveBinding(ctx context.Context, name string, rec reconcile.Record[T]) error {
	return b.typed.Set(ctx, name, rec)
}

// Reset removes every binding of the kind.
func (b *Bindings[T]) Reset(ctx context.Context) error {
	return b.typed.Clear(ctx)
}

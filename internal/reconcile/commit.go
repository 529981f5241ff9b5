package reconcile

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/netdevd/internal/device"
)

// Committer turns staged changes into device calls for one kind.
type Committer[T any] struct {
	adapter Adapter[T]
	gw      device.Gateway
}

// NewCommitter creates a committer for the adapter's kind.
func NewCommitter[T any](adapter Adapter[T], gw device.Gateway) *Committer[T] {
	return &Committer[T]{adapter: adapter, gw: gw}
}

// Commit applies the staged changes for one resource and returns the record
// that replaces its binding. On failure the returned record is nil and the
// caller keeps the previous binding.
//
// For ActionNone the binding is returned unchanged (possibly nil).
func (c *Committer[T]) Commit(ctx context.Context, name string, binding *Record[T], cs *ChangeSet, desired Desired[T]) (*Record[T], Action, error) {
	kind := c.adapter.Kind()
	action := DetermineAction(binding.Present(), desired.Ensure, cs.Len())

	switch action {
	case ActionNone:
		return binding, action, nil

	case ActionCreate:
		if err := c.validate(name, nil, cs); err != nil {
			return nil, action, err
		}
		rec, err := c.adapter.Create(ctx, c.gw, desired, cs)
		if err != nil {
			return nil, action, commitError(kind, name, OpCreate, err)
		}
		rec.Ensure = EnsurePresent
		log.Info().
			Str("kind", string(kind)).
			Str("name", name).
			Str("key", rec.Name).
			Strs("staged", cs.Properties()).
			Msg("Created resource")
		return &rec, action, nil

	case ActionDestroy:
		if err := c.adapter.Destroy(ctx, c.gw, *binding); err != nil {
			return nil, action, commitError(kind, name, OpDestroy, err)
		}
		rec := *binding
		rec.Ensure = EnsureAbsent
		log.Info().
			Str("kind", string(kind)).
			Str("name", name).
			Str("key", rec.Name).
			Msg("Destroyed resource")
		return &rec, action, nil

	case ActionUpdate:
		if err := c.validate(name, binding, cs); err != nil {
			return nil, action, err
		}
		rec, err := c.adapter.Update(ctx, c.gw, *binding, cs)
		if err != nil {
			return nil, action, commitError(kind, name, OpUpdate, err)
		}
		rec.Ensure = EnsurePresent
		log.Info().
			Str("kind", string(kind)).
			Str("name", name).
			Str("key", rec.Name).
			Strs("staged", cs.Properties()).
			Msg("Updated resource")
		return &rec, action, nil
	}

	return binding, ActionNone, nil
}

func (c *Committer[T]) validate(name string, current *Record[T], cs *ChangeSet) error {
	err := c.adapter.Validate(name, current, cs)
	if err == nil {
		return nil
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		if ve.Kind == "" {
			ve.Kind = c.adapter.Kind()
		}
		if ve.Name == "" {
			ve.Name = name
		}
	}
	return err
}

func commitError(kind device.Kind, name string, op Op, err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		if ve.Kind == "" {
			ve.Kind = kind
		}
		if ve.Name == "" {
			ve.Name = name
		}
		return err
	}
	return &CommitError{Kind: kind, Name: name, Op: op, Err: err}
}

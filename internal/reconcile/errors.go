package reconcile

import (
	"errors"
	"fmt"

	"github.com/dokzlo13/netdevd/internal/device"
)

var (
	// ErrNotFound is returned when a resource has no binding to act on.
	ErrNotFound = errors.New("resource not found")

	// ErrUnsupported is returned for lifecycle operations a kind cannot perform,
	// such as creating a physical interface.
	ErrUnsupported = errors.New("operation not supported")
)

// DiscoveryError means the device read failed or returned data that could not be parsed.
// No partial record set accompanies it.
type DiscoveryError struct {
	Kind device.Kind
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover %s: %v", e.Kind, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// ValidationError means a staged value is outside the accepted set.
// It is raised before any device call.
type ValidationError struct {
	Kind     device.Kind
	Name     string
	Property string
	Value    any
	Reason   string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s %q: invalid %s value=%v", e.Kind, e.Name, e.Property, e.Value)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Op names a commit operation.
type Op string

const (
	OpCreate  Op = "create"
	OpDestroy Op = "destroy"
	OpUpdate  Op = "update"
)

// CommitError means a device write failed while committing one resource.
type CommitError struct {
	Kind device.Kind
	Name string
	Op   Op
	Err  error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("%s %s %q: %v", e.Op, e.Kind, e.Name, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

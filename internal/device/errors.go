package device

import (
	"errors"
	"fmt"
)

// Failure classes reported by gateways.
var (
	ErrConnection  = errors.New("device connection failed")
	ErrAuth        = errors.New("device authentication failed")
	ErrProtocol    = errors.New("device protocol error")
	ErrUnsupported = errors.New("operation not supported for kind")
	ErrNotFound    = errors.New("entity not found")
)

// CallError describes a failed gateway call.
type CallError struct {
	Kind Kind
	Op   string
	ID   string
	Err  error
}

func (e *CallError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s %q: %v", e.Op, e.Kind, e.ID, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// IsRetriable reports whether a failure is transient from the device's point of view.
// Callers decide whether to act on it; gateways never retry on their own.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrConnection)
}

// Package errors defines the error taxonomy shared by the instance and
// keyed mutexes, plus a small locale-aware catalog of user-facing
// messages for them.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is against these, never string matching.
var (
	// ErrEscalation is returned when a holder of a shared (reader) lock
	// on an owner attempts to acquire an exclusive (writer) lock on the
	// same owner from within the same call chain.
	ErrEscalation = errors.New("rwmux: escalation from shared to exclusive")

	// ErrUnsupportedInstrumentation is returned by the method-wrapping
	// helpers when the supplied owner value cannot be used as a lock
	// registry key (for example, because it is not comparable).
	ErrUnsupportedInstrumentation = errors.New("rwmux: owner does not support lock instrumentation")

	// ErrUnreachableInvariant names a violated §3 queue invariant. No
	// code path in this module returns it: queue.Arrive panics on an
	// invalid Kind instead.
	ErrUnreachableInvariant = errors.New("rwmux: queue invariant violated")
)

// Canceled wraps a context cancellation cause so the caller's reason
// propagates verbatim through errors.Is/errors.As.
type Canceled struct {
	Cause error
}

func (c *Canceled) Error() string {
	if c.Cause == nil {
		return "rwmux: acquire canceled"
	}
	return fmt.Sprintf("rwmux: acquire canceled: %v", c.Cause)
}

func (c *Canceled) Unwrap() error { return c.Cause }

// NewCanceled wraps cause (typically ctx.Err()) as a Canceled error.
func NewCanceled(cause error) error {
	return &Canceled{Cause: cause}
}

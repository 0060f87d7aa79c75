package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a RunError per the engine's error taxonomy.
type ErrorKind string

const (
	KindInvalidInput            ErrorKind = "invalid_input"
	KindInconsistentEvent       ErrorKind = "inconsistent_event"
	KindPropensityError         ErrorKind = "propensity_error"
	KindStoichiometryViolation  ErrorKind = "stoichiometry_violation"
	KindCancelled               ErrorKind = "cancelled"
	KindInternal                ErrorKind = "internal"
)

// RunError wraps a failure encountered while a Driver is running,
// tagging it with a Kind, and the node/tick it happened at when known.
type RunError struct {
	Kind ErrorKind
	Node int
	Tick int
	Err  error
}

func (e *RunError) Error() string {
	if e.Node >= 0 {
		return fmt.Sprintf("%s: node %d at tick %d: %v", e.Kind, e.Node, e.Tick, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *RunError) Unwrap() error { return e.Err }

// NewRunError constructs a RunError. Pass node = -1 when the failure
// isn't attributable to a single node.
func NewRunError(kind ErrorKind, node, tick int, err error) *RunError {
	return &RunError{Kind: kind, Node: node, Tick: tick, Err: err}
}

// IsKind reports whether err is a *RunError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}

func errBadRate(i int, rate float64) error {
	return fmt.Errorf("propensity %d evaluated to invalid rate %g", i, rate)
}

func errBadRateSum(sum float64) error {
	return fmt.Errorf("rate_sum is invalid: %g", sum)
}

func errNegativeCompartment(c int, val int64) error {
	return fmt.Errorf("compartment %d would go negative: %d", c, val)
}

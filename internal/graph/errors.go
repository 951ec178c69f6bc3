package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors for configuration failures. All of them are wrapped in a
// *ConfigError by the graph API so callers can classify with errors.Is or
// errors.As.
var (
	ErrDuplicateNode     = errors.New("duplicate driver id")
	ErrUnknownNode       = errors.New("unknown driver id")
	ErrDerivedAssignment = errors.New("cannot assign values to a derived driver")
	ErrFormulaExists     = errors.New("driver already has a formula")
	ErrUnresolvedToken   = errors.New("unresolved formula token")
	ErrAmbiguousToken    = errors.New("ambiguous formula token")
	ErrCycle             = errors.New("dependency cycle detected")
	ErrSeriesLength      = errors.New("series length does not match graph period axis")
)

// ConfigError reports an invalid graph configuration. These surface at build
// time, before any computation, and are never worth retrying.
type ConfigError struct {
	Op     string // the graph operation that failed
	Driver string // offending driver id, if known
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Driver == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: driver %q: %s", e.Op, e.Driver, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// EvalError reports a failure while evaluating a formula. It is fatal to the
// compute call that produced it but leaves the graph structure intact.
type EvalError struct {
	Driver string
	Period int
	Err    error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluate driver %q at period %d: %s", e.Driver, e.Period, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err originated from graph configuration.
// The job layer treats these as non-retryable.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func configErr(op, driver string, err error) *ConfigError {
	return &ConfigError{Op: op, Driver: driver, Err: err}
}

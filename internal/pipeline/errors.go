package pipeline

import (
	"errors"
	"fmt"
)

// Pipeline errors.
var (
	// ErrUnresolvedForeach is returned when a foreach expression names a key
	// that is not present in any scope.
	ErrUnresolvedForeach = errors.New("unresolved foreach expression")

	// ErrUnknownTransform is returned when a native step names no registered transform.
	ErrUnknownTransform = errors.New("unknown transform")

	// ErrTransformAlreadyRegistered is returned when registering a duplicate transform.
	ErrTransformAlreadyRegistered = errors.New("transform already registered")

	// ErrCodeNotSupported is returned for native steps that carry inline code.
	ErrCodeNotSupported = errors.New("free-form code is not supported, register a named transform")
)

// ConfigError marks a fatal setup problem: a missing or empty pipeline file,
// a missing required input, a missing database. It aborts the run before any
// step executes.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(op, format string, args ...any) error {
	return &ConfigError{Op: op, Err: fmt.Errorf(format, args...)}
}

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Package errs defines the error kinds shared by every package in this
// module. All errors are raised synchronously at the call that detects
// them and are never retried internally; callers discriminate kinds
// with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

// ErrConfiguration indicates invalid or conflicting construction
// arguments, e.g. supplying both or neither of a mutual parameter pair,
// or composing flows with incompatible event ranks.
var ErrConfiguration = errors.New("invalid configuration")

// ErrValidation indicates a non-finite (NaN or infinity) value detected
// in a parameter or sample while validation is enabled.
var ErrValidation = errors.New("validation failed")

// ErrDuplicateName indicates adding a variable name already present in
// a BayesianNet.
var ErrDuplicateName = errors.New("duplicate variable name")

// ErrShapeMismatch indicates an event-rank or shape incompatibility
// between a flow and the distribution it wraps, or between adjacent
// flows in a sequence.
var ErrShapeMismatch = errors.New("shape mismatch")

// Configurationf returns a new ErrConfiguration with a formatted
// message.
func Configurationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrConfiguration},
		args...)...)
}

// Validationf returns a new ErrValidation with a formatted message.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation},
		args...)...)
}

// DuplicateNamef returns a new ErrDuplicateName with a formatted
// message.
func DuplicateNamef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrDuplicateName},
		args...)...)
}

// ShapeMismatchf returns a new ErrShapeMismatch with a formatted
// message.
func ShapeMismatchf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrShapeMismatch},
		args...)...)
}

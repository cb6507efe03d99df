package payment

import (
	"errors"
	"fmt"
)

var (
	ErrValidation  = errors.New("payment: invalid request")
	ErrProvider    = errors.New("payment: provider request failed")
	ErrConflict    = errors.New("payment: conflicting provider state")
	ErrNotFound    = errors.New("payment: resource not found")
	ErrUnsupported = errors.New("payment: operation not supported by provider")
)

// OperationError carries the provider and operation that failed. Kind is
// one of the package sentinels; errors.Is matches both Kind and Err.
type OperationError struct {
	Provider     string
	Operation    string
	Kind         error
	StatusDetail string
	HTTPStatus   int
	Err          error
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Provider, e.Operation, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OperationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(provider, op string, kind, err error) *OperationError {
	return &OperationError{Provider: provider, Operation: op, Kind: kind, Err: err}
}

// AsOperationError extracts the OperationError from err.
func AsOperationError(err error) (*OperationError, bool) {
	var oe *OperationError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }

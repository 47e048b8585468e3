package types

import (
	"errors"
	"fmt"
)

var (
	// ErrServiceFailure matches any ServiceError.
	ErrServiceFailure = errors.New("service failure")
	// ErrParseMismatch means the completion did not decompose into FieldCount values.
	ErrParseMismatch = errors.New("parse mismatch")
	// ErrWorkerFatal marks an item whose processing panicked.
	ErrWorkerFatal = errors.New("worker fatal")
)

// ServiceError is returned when a completion or embedding call fails.
type ServiceError struct {
	Service string // "completion" or "embedding"
	Op      string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s service: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("%s service %s: %v", e.Service, e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func (e *ServiceError) Is(target error) bool { return target == ErrServiceFailure }

// NewServiceError wraps err unless it already is a ServiceError.
func NewServiceError(service, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return err
	}
	return &ServiceError{Service: service, Op: op, Err: err}
}

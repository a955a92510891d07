package fundamentals

import (
	"errors"
	"fmt"

	"valuesweep/internal/coordinator"
)

// FailureKind classifies why an instrument failed.
type FailureKind string

const (
	FailureTransport   FailureKind = "transport"
	FailureExtraction  FailureKind = "extraction"
	FailurePersistence FailureKind = "persistence"
	FailurePanic       FailureKind = "panic"
)

// Failure records one failed instrument.
type Failure struct {
	Code string
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s: %v", f.Code, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// asFailure converts a task error into a Failure value.
func asFailure(code string, err error) Failure {
	var f *Failure
	if errors.As(err, &f) {
		return *f
	}
	if errors.Is(err, coordinator.ErrPanic) {
		return Failure{Code: code, Kind: FailurePanic, Err: err}
	}
	return Failure{Code: code, Kind: FailureTransport, Err: err}
}

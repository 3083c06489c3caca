package bundlevalidator

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedDocument is returned when the raw input cannot be parsed
	// into a bundle. No entry is dispatched for such a request.
	ErrMalformedDocument = errors.New("malformed document")

	// ErrEngineUnavailable is returned when a request cannot be completed as
	// a whole: no engine, a closed pool, or a failure while aggregating or
	// assembling the outcome. No partial outcome accompanies it.
	ErrEngineUnavailable = errors.New("validation engine unavailable")

	// ErrOverloaded is returned when load shedding is enabled and the worker
	// queue has no room for the request's entries.
	ErrOverloaded = errors.New("validator overloaded")

	// ErrAggregateSealed is returned by Aggregate.Append after Seal.
	ErrAggregateSealed = errors.New("aggregate is sealed")
)

// Stage names the step of an entry job that failed.
type Stage string

const (
	StageSerialize Stage = "serialize"
	StageEngine    Stage = "engine"
	StageTimeout   Stage = "timeout"
	StagePanic     Stage = "panic"
)

// EntryError describes a failure confined to one entry. It is logged and
// never returned from a bundle validation.
type EntryError struct {
	Ref   EntryRef
	Stage Stage
	Err   error
}

// Error formats the error the way it is reported in the logs.
func (e *EntryError) Error() string {
	return fmt.Sprintf("Validation error in resource %s with ID %s: %v", e.Ref.ResourceType, e.Ref.ResourceID, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// MalformedDocumentError wraps err so that errors.Is(err, ErrMalformedDocument) holds.
func MalformedDocumentError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedDocument, fmt.Sprintf(format, args...))
}

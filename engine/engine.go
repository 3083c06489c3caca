// Package engine defines the conformance engine used to check individual
// resources and provides a StructureDefinition + FHIRPath implementation.
package engine

import (
	"context"

	bv "github.com/gofhir/bundlevalidator"
)

// Level is the severity an engine attaches to a message.
type Level string

// Engine message levels.
const (
	LevelFatal       Level = "fatal"
	LevelError       Level = "error"
	LevelWarning     Level = "warning"
	LevelInformation Level = "information"
)

// Severity maps l to an issue severity. Unknown levels map to error.
func (l Level) Severity() bv.Severity {
	switch l {
	case LevelFatal:
		return bv.SeverityFatal
	case LevelWarning:
		return bv.SeverityWarning
	case LevelInformation:
		return bv.SeverityInformation
	default:
		return bv.SeverityError
	}
}

// Message is one finding produced by an engine for a single resource.
type Message struct {
	Level    Level
	Code     bv.IssueType
	Location string
	Text     string

	// Line and Column are 1-based positions in the checked document, 0 if unknown
	Line   int
	Column int
}

// Result holds the messages of a default validation.
type Result struct {
	Messages []Message
}

// HasErrors reports whether any message is error or fatal.
func (r *Result) HasErrors() bool {
	if r == nil {
		return false
	}
	for _, m := range r.Messages {
		if m.Level == LevelError || m.Level == LevelFatal {
			return true
		}
	}
	return false
}

// Engine checks one serialized resource.
//
// Implementations must be safe for concurrent calls when the bundle
// validator runs with more than one worker.
type Engine interface {
	// ValidateWithProfiles checks data against each of the given profile URLs.
	ValidateWithProfiles(ctx context.Context, data []byte, profiles []string) ([]Message, error)

	// Validate checks data against the base definition of its resource type.
	Validate(ctx context.Context, data []byte) (*Result, error)
}

// Func adapts a function to the Engine interface. The function is called
// with nil profiles for default validation.
type Func func(ctx context.Context, data []byte, profiles []string) ([]Message, error)

// ValidateWithProfiles calls f(ctx, data, profiles).
func (f Func) ValidateWithProfiles(ctx context.Context, data []byte, profiles []string) ([]Message, error) {
	return f(ctx, data, profiles)
}

// Validate calls f(ctx, data, nil).
func (f Func) Validate(ctx context.Context, data []byte) (*Result, error) {
	msgs, err := f(ctx, data, nil)
	if err != nil {
		return nil, err
	}
	return &Result{Messages: msgs}, nil
}

package bundlevalidator

import "time"

// Summary messages of an outcome.
const (
	MessageSuccess = "Validation completed successfully."
	MessageFailure = "Validation failed with errors."
)

// Outcome is the terminal result of one bundle validation request.
// It is produced once by an Assembler and not modified afterwards.
type Outcome struct {
	// Success is true iff Issues is empty
	Success bool `json:"success"`

	// Message is the human-readable summary
	Message string `json:"message"`

	// Issues are the aggregated findings; order is unspecified
	Issues []Issue `json:"issues"`

	// RequestID correlates the outcome with log lines
	RequestID string `json:"requestId,omitempty"`

	// Entries is the number of entries that were dispatched
	Entries int `json:"entries"`

	// Duration is the wall time spent validating the bundle
	Duration time.Duration `json:"-"`
}

// ErrorCount returns the number of error and fatal issues.
func (o *Outcome) ErrorCount() int {
	count := 0
	for _, iss := range o.Issues {
		if iss.IsError() {
			count++
		}
	}
	return count
}

// Assembler turns the sealed issue collection into an Outcome.
type Assembler interface {
	Assemble(issues []Issue) *Outcome
}

// AssemblerFunc adapts a function to the Assembler interface.
type AssemblerFunc func(issues []Issue) *Outcome

// Assemble calls f(issues).
func (f AssemblerFunc) Assemble(issues []Issue) *Outcome {
	return f(issues)
}

// DefaultAssembler builds the success/failure outcome.
var DefaultAssembler Assembler = AssemblerFunc(AssembleOutcome)

// AssembleOutcome returns a success outcome with no issues for empty input,
// and a failure outcome carrying issues otherwise.
func AssembleOutcome(issues []Issue) *Outcome {
	if len(issues) == 0 {
		return &Outcome{
			Success: true,
			Message: MessageSuccess,
			Issues:  []Issue{},
		}
	}
	return &Outcome{
		Success: false,
		Message: MessageFailure,
		Issues:  issues,
	}
}

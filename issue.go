package bundlevalidator

import (
	"strconv"
	"strings"
)

// Severity represents the severity of a validation issue.
// Maps to OperationOutcome.issue.severity in FHIR.
type Severity string

const (
	// SeverityFatal indicates the engine could not continue checking the resource.
	SeverityFatal Severity = "fatal"

	// SeverityError indicates a violation that makes the resource invalid.
	SeverityError Severity = "error"

	// SeverityWarning indicates a potential problem that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityInformation indicates informational feedback.
	SeverityInformation Severity = "information"
)

// IsErrorEquivalent reports whether s counts as an error (error or fatal).
func (s Severity) IsErrorEquivalent() bool {
	return s == SeverityError || s == SeverityFatal
}

// IssueType represents the type of validation issue.
// Maps to OperationOutcome.issue.code in FHIR.
type IssueType string

const (
	IssueTypeInvalid       IssueType = "invalid"
	IssueTypeStructure     IssueType = "structure"
	IssueTypeRequired      IssueType = "required"
	IssueTypeValue         IssueType = "value"
	IssueTypeInvariant     IssueType = "invariant"
	IssueTypeProcessing    IssueType = "processing"
	IssueTypeNotFound      IssueType = "not-found"
	IssueTypeException     IssueType = "exception"
	IssueTypeTimeout       IssueType = "timeout"
	IssueTypeInformational IssueType = "informational"
)

// EntryRef identifies the bundle entry that owns an issue.
type EntryRef struct {
	ResourceType string `json:"resourceType"`
	ResourceID   string `json:"resourceId,omitempty"`
	FullURL      string `json:"fullUrl,omitempty"`
}

// String returns "Type/id", falling back to the full URL when the id is empty.
func (r EntryRef) String() string {
	if r.ResourceID == "" {
		if r.FullURL != "" {
			return r.ResourceType + " (" + r.FullURL + ")"
		}
		return r.ResourceType
	}
	return r.ResourceType + "/" + r.ResourceID
}

// Issue is a single validation finding attributable to one bundle entry.
// Issues are values: once built they are only copied, never modified.
type Issue struct {
	// Severity of the issue
	Severity Severity `json:"severity"`

	// Code identifying the type of issue
	Code IssueType `json:"code"`

	// Location is the path into the entry resource where the issue was found
	Location string `json:"location,omitempty"`

	// Message is the engine's own text for the finding
	Message string `json:"message"`

	// Diagnostics is the message enriched with position and owner identity
	Diagnostics string `json:"diagnostics"`

	// Line and Column locate the finding in the serialized resource, when known
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`

	// Owner is the entry the issue belongs to
	Owner EntryRef `json:"owner"`
}

// IsError returns true if this is an error or fatal issue.
func (i Issue) IsError() bool {
	return i.Severity.IsErrorEquivalent()
}

// String returns a human-readable representation of the issue.
func (i Issue) String() string {
	loc := ""
	if i.Location != "" {
		loc = " at " + i.Location
	}
	return string(i.Severity) + ": " + i.Message + loc + " [" + i.Owner.String() + "]"
}

// FormatDiagnostics renders the diagnostics line attached to every issue:
//
//	line=3, col=5, resource=Patient, resourceId=p1, entry=urn:uuid:1, location=Patient.name:- , message=...
func FormatDiagnostics(line, column int, owner EntryRef, location, message string) string {
	var b strings.Builder
	b.Grow(96 + len(location) + len(message))
	b.WriteString("line=")
	b.WriteString(strconv.Itoa(line))
	b.WriteString(", col=")
	b.WriteString(strconv.Itoa(column))
	b.WriteString(", resource=")
	b.WriteString(owner.ResourceType)
	b.WriteString(", resourceId=")
	b.WriteString(owner.ResourceID)
	b.WriteString(", entry=")
	b.WriteString(owner.FullURL)
	b.WriteString(", location=")
	b.WriteString(location)
	b.WriteString(":- , message=")
	b.WriteString(message)
	return b.String()
}

// IssueBuilder provides a fluent API for building issues.
type IssueBuilder struct {
	issue Issue
}

// NewIssue creates a new IssueBuilder for an issue owned by owner.
func NewIssue(severity Severity, code IssueType, owner EntryRef) *IssueBuilder {
	return &IssueBuilder{
		issue: Issue{
			Severity: severity,
			Code:     code,
			Owner:    owner,
		},
	}
}

// Message sets the engine message.
func (b *IssueBuilder) Message(msg string) *IssueBuilder {
	b.issue.Message = msg
	return b
}

// At sets the location path.
func (b *IssueBuilder) At(location string) *IssueBuilder {
	b.issue.Location = location
	return b
}

// Position sets the source position.
func (b *IssueBuilder) Position(line, column int) *IssueBuilder {
	b.issue.Line = line
	b.issue.Column = column
	return b
}

// Build returns the constructed issue with its diagnostics line filled in.
func (b *IssueBuilder) Build() Issue {
	iss := b.issue
	iss.Diagnostics = FormatDiagnostics(iss.Line, iss.Column, iss.Owner, iss.Location, iss.Message)
	return iss
}

package bundlevalidator

import (
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Format selects how an Outcome is rendered for callers.
type Format string

// Output formats.
const (
	// FormatJSON renders {success, message, issues}.
	FormatJSON Format = "json"

	// FormatText renders {success, message, validationOutput} with one text
	// line per issue.
	FormatText Format = "text"

	// FormatOperationOutcome renders a FHIR OperationOutcome resource.
	FormatOperationOutcome Format = "operationoutcome"
)

// ParseFormat maps a user supplied name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "operationoutcome", "operation-outcome", "fhir":
		return FormatOperationOutcome, nil
	case "json":
		return FormatJSON, nil
	case "text", "txt":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// Render renders o in the requested format.
func Render(o *Outcome, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return RenderJSON(o)
	case FormatText:
		return RenderText(o)
	case FormatOperationOutcome, "":
		return RenderOperationOutcome(o, time.Now())
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// RenderJSON renders the outcome wire shape.
func RenderJSON(o *Outcome) ([]byte, error) {
	return sonic.ConfigStd.Marshal(o)
}

// textOutcome is the text-log variant of the outcome.
type textOutcome struct {
	Success          bool     `json:"success"`
	Message          string   `json:"message"`
	ValidationOutput []string `json:"validationOutput,omitempty"`
}

// TextLines returns one "ValidationMessage[...]" line per issue.
func TextLines(o *Outcome) []string {
	if len(o.Issues) == 0 {
		return nil
	}
	lines := make([]string, 0, len(o.Issues))
	for _, iss := range o.Issues {
		lines = append(lines, "ValidationMessage["+iss.Diagnostics+"]")
	}
	return lines
}

// RenderText renders the text-log variant of the outcome.
func RenderText(o *Outcome) ([]byte, error) {
	return sonic.ConfigStd.Marshal(textOutcome{
		Success:          o.Success,
		Message:          o.Message,
		ValidationOutput: TextLines(o),
	})
}

type operationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Meta         operationOutcomeMeta    `json:"meta"`
	Issue        []operationOutcomeIssue `json:"issue"`
}

type operationOutcomeMeta struct {
	LastUpdated string `json:"lastUpdated"`
}

type operationOutcomeIssue struct {
	Severity    string                   `json:"severity"`
	Code        string                   `json:"code"`
	Details     *operationOutcomeDetails `json:"details,omitempty"`
	Diagnostics string                   `json:"diagnostics,omitempty"`
	Location    []string                 `json:"location,omitempty"`
	Expression  []string                 `json:"expression,omitempty"`
}

type operationOutcomeDetails struct {
	Text string `json:"text"`
}

// RenderOperationOutcome renders o as a FHIR R4 OperationOutcome.
// A successful outcome becomes a single informational issue.
func RenderOperationOutcome(o *Outcome, lastUpdated time.Time) ([]byte, error) {
	oo := operationOutcome{
		ResourceType: "OperationOutcome",
		Meta:         operationOutcomeMeta{LastUpdated: lastUpdated.UTC().Format(time.RFC3339Nano)},
	}

	if len(o.Issues) == 0 {
		oo.Issue = []operationOutcomeIssue{{
			Severity: string(SeverityInformation),
			Code:     string(IssueTypeInformational),
			Details:  &operationOutcomeDetails{Text: o.Message},
		}}
		return sonic.ConfigStd.Marshal(oo)
	}

	oo.Issue = make([]operationOutcomeIssue, 0, len(o.Issues))
	for _, iss := range o.Issues {
		ooi := operationOutcomeIssue{
			Severity:    string(iss.Severity),
			Code:        string(iss.Code),
			Details:     &operationOutcomeDetails{Text: iss.Message},
			Diagnostics: iss.Diagnostics,
		}
		if iss.Location != "" {
			ooi.Location = []string{iss.Location}
			ooi.Expression = []string{iss.Location}
		}
		oo.Issue = append(oo.Issue, ooi)
	}
	return sonic.ConfigStd.Marshal(oo)
}

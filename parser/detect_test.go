package parser

import (
	"errors"
	"testing"

	bv "github.com/gofhir/bundlevalidator"
)

func TestIsXML(t *testing.T) {
	tests := []struct {
		name string
		data string
		want bool
	}{
		{"xml prolog", `<?xml version="1.0"?><Bundle/>`, true},
		{"bare element", `<Bundle xmlns="http://hl7.org/fhir"/>`, true},
		{"leading whitespace", "\n\t  <Bundle/>", true},
		{"byte order mark", "\xEF\xBB\xBF<Bundle/>", true},
		{"json", `{"resourceType":"Bundle"}`, false},
		{"json with whitespace", "  \n{}", false},
		{"empty", "", false},
		{"blank", "   ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsXML([]byte(tt.data)); got != tt.want {
				t.Errorf("IsXML(%q) = %v; want %v", tt.data, got, tt.want)
			}
		})
	}
}

type countingParser struct {
	calls int
}

func (p *countingParser) Parse([]byte) (*bv.Bundle, error) {
	p.calls++
	return &bv.Bundle{}, nil
}

func TestDetect_Routes(t *testing.T) {
	jp, xp := &countingParser{}, &countingParser{}
	d := &Detect{JSON: jp, XML: xp}

	_, _ = d.Parse([]byte(`{"resourceType":"Bundle"}`))
	_, _ = d.Parse([]byte(` <Bundle xmlns="http://hl7.org/fhir"/>`))
	_, _ = d.Parse([]byte(`<Bundle xmlns="http://hl7.org/fhir"/>`))

	if jp.calls != 1 || xp.calls != 2 {
		t.Errorf("JSON/XML calls = %d/%d; want 1/2", jp.calls, xp.calls)
	}
}

func TestNewDetect_ParsesBothFormats(t *testing.T) {
	d := NewDetect()

	fromJSON, err := d.Parse([]byte(sampleBundle))
	if err != nil {
		t.Fatalf("Parse(json) error = %v", err)
	}
	fromXML, err := d.Parse([]byte(sampleXMLBundle))
	if err != nil {
		t.Fatalf("Parse(xml) error = %v", err)
	}
	if fromJSON.Entries[0].Ref != fromXML.Entries[0].Ref {
		t.Errorf("first entry ref json=%+v xml=%+v; want equal", fromJSON.Entries[0].Ref, fromXML.Entries[0].Ref)
	}

	if _, err := d.Parse([]byte("<Bundle")); !errors.Is(err, bv.ErrMalformedDocument) {
		t.Errorf("Parse(broken xml) error = %v; want ErrMalformedDocument", err)
	}
}

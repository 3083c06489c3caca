package parser

import (
	"bytes"

	bv "github.com/gofhir/bundlevalidator"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Detect parses XML documents with XML and everything else with JSON,
// deciding on the first non-blank byte.
type Detect struct {
	JSON Parser
	XML  Parser
}

// NewDetect returns a parser accepting both FHIR JSON and FHIR XML.
func NewDetect() *Detect {
	return &Detect{JSON: NewJSON(), XML: NewXML()}
}

// Parse implements Parser.
func (p *Detect) Parse(data []byte) (*bv.Bundle, error) {
	if IsXML(data) {
		return p.XML.Parse(data)
	}
	return p.JSON.Parse(data)
}

// IsXML reports whether data looks like an XML document.
func IsXML(data []byte) bool {
	data = bytes.TrimPrefix(data, utf8BOM)
	data = bytes.TrimLeft(data, " \t\r\n")
	return len(data) > 0 && data[0] == '<'
}

var _ Parser = (*Detect)(nil)

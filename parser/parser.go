// Package parser turns raw FHIR JSON or XML documents into bundles and
// serializes bundle entries to JSON for the conformance engine.
package parser

import (
	"bytes"
	"fmt"

	"github.com/bytedance/sonic"

	bv "github.com/gofhir/bundlevalidator"
)

var codec = sonic.ConfigStd

// Parser decodes a raw document into a bundle.
type Parser interface {
	Parse(data []byte) (*bv.Bundle, error)
}

// Serializer encodes one entry resource for the engine.
type Serializer interface {
	Serialize(entry bv.Entry) ([]byte, error)
}

// JSON parses and serializes FHIR JSON. The zero value is ready to use.
type JSON struct {
	// Indent pretty-prints serialized resources so that engine positions
	// point at distinct lines. Empty means compact output.
	Indent string
}

// NewJSON returns a JSON codec that indents serialized resources with two spaces.
func NewJSON() *JSON {
	return &JSON{Indent: "  "}
}

// Parse decodes data into a Bundle. The error wraps bv.ErrMalformedDocument
// when data is not a JSON object with resourceType "Bundle" and an array
// valued entry element.
//
// Entries without a resource object are kept with a nil Resource.
func (p *JSON) Parse(data []byte) (*bv.Bundle, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, bv.MalformedDocumentError("empty document")
	}
	var doc any
	if err := codec.Unmarshal(data, &doc); err != nil {
		return nil, bv.MalformedDocumentError("invalid JSON: %v", err)
	}
	root, ok := doc.(map[string]any)
	if !ok {
		return nil, bv.MalformedDocumentError("document is not a JSON object")
	}
	return bundleFrom(root)
}

// bundleFrom builds a Bundle from a decoded FHIR JSON object.
func bundleFrom(root map[string]any) (*bv.Bundle, error) {
	if rt, _ := root["resourceType"].(string); rt != "Bundle" {
		return nil, bv.MalformedDocumentError("resourceType is %q, expected \"Bundle\"", rt)
	}

	b := &bv.Bundle{}
	b.ID, _ = root["id"].(string)
	b.Type, _ = root["type"].(string)

	rawEntries, present := root["entry"]
	if !present || rawEntries == nil {
		return b, nil
	}
	entries, ok := rawEntries.([]any)
	if !ok {
		return nil, bv.MalformedDocumentError("Bundle.entry is not an array")
	}

	b.Entries = make([]bv.Entry, 0, len(entries))
	for i, raw := range entries {
		b.Entries = append(b.Entries, entryFrom(i, raw))
	}
	return b, nil
}

func entryFrom(index int, raw any) bv.Entry {
	entry := bv.Entry{Index: index}
	obj, ok := raw.(map[string]any)
	if !ok {
		return entry
	}
	entry.Ref.FullURL, _ = obj["fullUrl"].(string)

	resource, ok := obj["resource"].(map[string]any)
	if !ok {
		return entry
	}
	entry.Resource = resource
	entry.Ref.ResourceType, _ = resource["resourceType"].(string)
	entry.Ref.ResourceID, _ = resource["id"].(string)
	entry.Profiles = profilesOf(resource)
	return entry
}

// profilesOf returns resource.meta.profile in declaration order.
func profilesOf(resource map[string]any) []string {
	meta, ok := resource["meta"].(map[string]any)
	if !ok {
		return nil
	}
	list, ok := meta["profile"].([]any)
	if !ok {
		return nil
	}
	profiles := make([]string, 0, len(list))
	for _, p := range list {
		if s, ok := p.(string); ok && s != "" {
			profiles = append(profiles, s)
		}
	}
	if len(profiles) == 0 {
		return nil
	}
	return profiles
}

// Serialize encodes entry.Resource. It fails for entries without a resource.
func (p *JSON) Serialize(entry bv.Entry) ([]byte, error) {
	if entry.Resource == nil {
		return nil, fmt.Errorf("entry %d has no resource", entry.Index)
	}
	if p.Indent == "" {
		return codec.Marshal(entry.Resource)
	}
	return codec.MarshalIndent(entry.Resource, "", p.Indent)
}

var (
	_ Parser     = (*JSON)(nil)
	_ Serializer = (*JSON)(nil)
)

package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/gofhir/fhir/r4"

	bv "github.com/gofhir/bundlevalidator"
)

const (
	fhirNamespace  = "http://hl7.org/fhir"
	xhtmlNamespace = "http://www.w3.org/1999/xhtml"
)

// XML parses FHIR XML Bundles into the same entry model as JSON. Whether an
// element repeats and whether it is a primitive is taken from the r4 model
// types, so a single <name> of a Patient still becomes a JSON array.
type XML struct{}

// NewXML returns an XML parser.
func NewXML() *XML {
	return &XML{}
}

// Parse decodes data into a Bundle. The error wraps bv.ErrMalformedDocument
// when data is not well-formed XML or its root is not a FHIR Bundle element.
func (p *XML) Parse(data []byte) (*bv.Bundle, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, bv.MalformedDocumentError("empty document")
	}
	root, err := decodeTree(data)
	if err != nil {
		return nil, bv.MalformedDocumentError("invalid XML: %v", err)
	}
	if root.name.Space != fhirNamespace {
		return nil, bv.MalformedDocumentError("root element <%s> is not in the %s namespace", root.name.Local, fhirNamespace)
	}
	if root.name.Local != "Bundle" {
		return nil, bv.MalformedDocumentError("resourceType is %q, expected \"Bundle\"", root.name.Local)
	}
	return bundleFrom(resourceObject(root))
}

// node is one XML element. raw holds the verbatim markup of xhtml elements.
type node struct {
	name     xml.Name
	attrs    []xml.Attr
	children []*node
	raw      []byte
}

func (n *node) attr(local string) (string, bool) {
	for _, a := range n.attrs {
		if a.Name.Space == "" && a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

func decodeTree(data []byte) (*node, error) {
	d := xml.NewDecoder(bytes.NewReader(data))

	var root *node
	var stack []*node
	for {
		offset := d.InputOffset()
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name, attrs: t.Attr}
			if t.Name.Space == xhtmlNamespace {
				if err := d.Skip(); err != nil {
					return nil, err
				}
				n.raw = data[offset:d.InputOffset()]
			}
			switch {
			case len(stack) > 0:
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			case root == nil:
				root = n
			default:
				return nil, errors.New("more than one root element")
			}
			if n.raw == nil {
				stack = append(stack, n)
			}
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 && len(bytes.TrimSpace(t)) > 0 {
				return nil, fmt.Errorf("unexpected text in <%s>", stack[len(stack)-1].name.Local)
			}
		}
	}
	if root == nil {
		return nil, errors.New("no root element")
	}
	return root, nil
}

// resourceObject converts a resource element, e.g. <Patient>, to its JSON form.
func resourceObject(n *node) map[string]any {
	var t reflect.Type
	if res, err := r4.NewResource(n.name.Local); err == nil {
		t = reflect.TypeOf(res).Elem()
	}
	obj := object(n, t)
	obj["resourceType"] = n.name.Local
	return obj
}

var (
	resourceType = reflect.TypeOf((*r4.Resource)(nil)).Elem()
	elementType  = reflect.TypeOf(r4.Element{})
)

// object converts a complex element. t is its r4 struct type, nil when unknown.
func object(n *node, t reflect.Type) map[string]any {
	obj := make(map[string]any, len(n.children)+len(n.attrs))
	for _, a := range n.attrs {
		if a.Name.Space == "" && a.Name.Local != "xmlns" && a.Name.Local != "value" {
			obj[a.Name.Local] = a.Value
		}
	}

	var order []string
	groups := make(map[string][]*node)
	for _, c := range n.children {
		if _, seen := groups[c.name.Local]; !seen {
			order = append(order, c.name.Local)
		}
		groups[c.name.Local] = append(groups[c.name.Local], c)
	}

	for _, name := range order {
		nodes := groups[name]
		ft := fieldType(t, name)
		elem := baseType(ft)

		if (ft == nil || ft.Kind() != reflect.Slice) && len(nodes) == 1 {
			v, ext := value(nodes[0], elem)
			if v != nil {
				obj[name] = v
			}
			if ext != nil {
				obj["_"+name] = ext
			}
			continue
		}

		values := make([]any, len(nodes))
		exts := make([]any, len(nodes))
		hasExt := false
		for i, c := range nodes {
			values[i], exts[i] = value(c, elem)
			if exts[i] != nil {
				hasExt = true
			}
		}
		obj[name] = values
		if hasExt {
			obj["_"+name] = exts
		}
	}
	return obj
}

// value converts one element. Primitives return their value and, when the
// element carries an id or extensions, the JSON "_name" companion object.
func value(n *node, t reflect.Type) (v any, ext any) {
	switch {
	case t == resourceType:
		if len(n.children) == 0 {
			return nil, nil
		}
		return resourceObject(n.children[0]), nil
	case n.raw != nil:
		return string(n.raw), nil
	case t != nil && t.Kind() == reflect.Struct:
		return object(n, t), nil
	}

	raw, hasValue := n.attr("value")
	if t == nil && !hasValue {
		return object(n, nil), nil
	}
	if hasValue {
		v = primitive(raw, t)
	}
	if _, hasID := n.attr("id"); hasID || len(n.children) > 0 {
		ext = object(n, elementType)
	}
	return v, ext
}

func primitive(raw string, t reflect.Type) any {
	if t == nil {
		return raw
	}
	switch t.Kind() {
	case reflect.Bool:
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	case reflect.Int, reflect.Int32, reflect.Int64, reflect.Uint32, reflect.Uint64:
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i
		}
	case reflect.Float32, reflect.Float64:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	return raw
}

// baseType strips pointers and one slice level.
func baseType(t reflect.Type) reflect.Type {
	if t == nil {
		return nil
	}
	for t.Kind() == reflect.Pointer || t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	return t
}

var fieldCache sync.Map // map[reflect.Type]map[string]reflect.Type

// fieldType returns the type of the field of struct t whose JSON name is name.
func fieldType(t reflect.Type, name string) reflect.Type {
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	if cached, ok := fieldCache.Load(t); ok {
		return cached.(map[string]reflect.Type)[name]
	}

	fields := make(map[string]reflect.Type, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if tag == "" || tag == "-" {
			continue
		}
		fields[tag] = f.Type
	}
	fieldCache.Store(t, fields)
	return fields[name]
}

var _ Parser = (*XML)(nil)

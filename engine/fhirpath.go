package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/gofhir/fhir/r4"
	"github.com/gofhir/fhirpath"
	"github.com/gofhir/fhirpath/funcs"

	bv "github.com/gofhir/bundlevalidator"
)

const baseDefinitionPrefix = "http://hl7.org/fhir/StructureDefinition/"

// idPattern is the FHIR R4 id datatype.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9\-.]{1,64}$`)

func init() {
	// trace() output would otherwise go to stdout from every worker.
	funcs.SetTraceLogger(funcs.NullTraceLogger{})
}

// FHIRPathEngine checks resources against loaded R4 StructureDefinitions.
//
// It verifies the resource type, the id format, the cardinality of top-level
// elements and the FHIRPath invariants declared on the root element.
// Definitions may be loaded at any time; validation only takes a read lock.
type FHIRPathEngine struct {
	mu     sync.RWMutex
	byURL  map[string]*definition
	byType map[string]*definition

	exprMu sync.RWMutex
	exprs  map[string]*fhirpath.Expression
}

// definition is the compiled, read-only form of a StructureDefinition.
type definition struct {
	url        string
	name       string
	typ        string
	elements   []elementRule
	invariants []invariant
}

type elementRule struct {
	path   string
	name   string
	choice bool
	min    int
	max    string
}

type invariant struct {
	key   string
	human string
	level Level
	expr  *fhirpath.Expression
	err   error
}

// NewFHIRPathEngine creates an engine with an empty definition registry.
func NewFHIRPathEngine() *FHIRPathEngine {
	return &FHIRPathEngine{
		byURL:  make(map[string]*definition),
		byType: make(map[string]*definition),
		exprs:  make(map[string]*fhirpath.Expression),
	}
}

// LoadStructureDefinition loads a StructureDefinition, or a Bundle of them,
// from JSON.
func (e *FHIRPathEngine) LoadStructureDefinition(data []byte) error {
	_, err := e.load(data)
	return err
}

// LoadDir loads every *.json file in dir and returns the number of
// definitions registered. Files that are neither a StructureDefinition nor a
// Bundle are ignored.
func (e *FHIRPathEngine) LoadDir(dir string) (int, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, err
	}
	total := 0
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return total, err
		}
		n, err := e.load(data)
		if err != nil {
			return total, fmt.Errorf("%s: %w", filepath.Base(f), err)
		}
		total += n
	}
	return total, nil
}

func (e *FHIRPathEngine) load(data []byte) (int, error) {
	var doc struct {
		ResourceType string `json:"resourceType"`
		Entry        []struct {
			Resource json.RawMessage `json:"resource"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, err
	}

	switch doc.ResourceType {
	case "StructureDefinition":
		var sd r4.StructureDefinition
		if err := json.Unmarshal(data, &sd); err != nil {
			return 0, err
		}
		if err := e.AddStructureDefinition(&sd); err != nil {
			return 0, err
		}
		return 1, nil

	case "Bundle":
		n := 0
		for _, entry := range doc.Entry {
			if len(entry.Resource) == 0 {
				continue
			}
			added, err := e.load(entry.Resource)
			if err != nil {
				return n, err
			}
			n += added
		}
		return n, nil
	}
	return 0, nil
}

// AddStructureDefinition registers sd. Invariants are compiled once here.
func (e *FHIRPathEngine) AddStructureDefinition(sd *r4.StructureDefinition) error {
	if sd == nil {
		return errors.New("nil StructureDefinition")
	}
	def := &definition{
		url:  deref(sd.Url),
		name: deref(sd.Name),
		typ:  deref(sd.Type),
	}
	if def.url == "" || def.typ == "" {
		return fmt.Errorf("StructureDefinition %q: url and type are required", def.name)
	}

	var elements []r4.ElementDefinition
	switch {
	case sd.Snapshot != nil:
		elements = sd.Snapshot.Element
	case sd.Differential != nil:
		elements = sd.Differential.Element
	}
	for i := range elements {
		e.compileElement(def, &elements[i])
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.byURL[def.url] = def
	isResource := sd.Kind != nil && *sd.Kind == r4.StructureDefinitionKindResource
	if isResource && (def.url == baseDefinitionPrefix+def.typ || (e.byType[def.typ] == nil && sd.BaseDefinition == nil)) {
		e.byType[def.typ] = def
	}
	return nil
}

func (e *FHIRPathEngine) compileElement(def *definition, ed *r4.ElementDefinition) {
	path := deref(ed.Path)
	if path == def.typ {
		for _, c := range ed.Constraint {
			expr := deref(c.Expression)
			if expr == "" {
				continue
			}
			inv := invariant{key: deref(c.Key), human: deref(c.Human), level: LevelError}
			if c.Severity != nil && string(*c.Severity) == "warning" {
				inv.level = LevelWarning
			}
			inv.expr, inv.err = e.compile(expr)
			def.invariants = append(def.invariants, inv)
		}
		return
	}

	name, ok := strings.CutPrefix(path, def.typ+".")
	if !ok || strings.Contains(name, ".") || strings.Contains(deref(ed.Id), ":") {
		return
	}
	rule := elementRule{path: path, name: name, max: deref(ed.Max)}
	if ed.Min != nil {
		rule.min = int(*ed.Min)
	}
	if base, isChoice := strings.CutSuffix(name, "[x]"); isChoice {
		rule.name, rule.choice = base, true
	}
	if rule.min > 0 || (rule.max != "" && rule.max != "*") {
		def.elements = append(def.elements, rule)
	}
}

func (e *FHIRPathEngine) compile(expr string) (*fhirpath.Expression, error) {
	e.exprMu.RLock()
	compiled, ok := e.exprs[expr]
	e.exprMu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := fhirpath.Compile(expr)
	if err != nil {
		return nil, err
	}

	e.exprMu.Lock()
	e.exprs[expr] = compiled
	e.exprMu.Unlock()
	return compiled, nil
}

// Definitions returns the number of registered definitions.
func (e *FHIRPathEngine) Definitions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.byURL)
}

// ValidateWithProfiles implements Engine. An unknown profile yields a
// warning and is otherwise skipped.
func (e *FHIRPathEngine) ValidateWithProfiles(ctx context.Context, data []byte, profiles []string) ([]Message, error) {
	return e.check(ctx, data, profiles, false)
}

// Validate implements Engine using the base definition of the resource type,
// when one is loaded.
func (e *FHIRPathEngine) Validate(ctx context.Context, data []byte) (*Result, error) {
	msgs, err := e.check(ctx, data, nil, true)
	if err != nil {
		return nil, err
	}
	return &Result{Messages: msgs}, nil
}

func (e *FHIRPathEngine) check(ctx context.Context, data []byte, profiles []string, useBase bool) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var resource map[string]any
	if err := json.Unmarshal(data, &resource); err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	if resource == nil {
		return nil, errors.New("decode resource: not a JSON object")
	}

	rt, _ := resource["resourceType"].(string)
	if rt == "" {
		return locate(data, []Message{{
			Level: LevelError,
			Code:  bv.IssueTypeRequired,
			Text:  "Resource has no resourceType",
		}}), nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.knownTypeLocked(rt) {
		return locate(data, []Message{{
			Level:    LevelError,
			Code:     bv.IssueTypeNotFound,
			Location: rt,
			Text:     fmt.Sprintf("Unknown resource type '%s'", rt),
		}}), nil
	}

	msgs := checkID(rt, resource, nil)
	if useBase {
		if def := e.byType[rt]; def != nil {
			msgs = def.apply(rt, resource, data, msgs)
		}
	}
	for _, url := range profiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		def := e.byURL[canonical(url)]
		if def == nil {
			msgs = append(msgs, Message{
				Level:    LevelWarning,
				Code:     bv.IssueTypeNotFound,
				Location: rt,
				Text:     fmt.Sprintf("Profile reference '%s' has not been checked because it is unknown", url),
			})
			continue
		}
		if def.typ != rt {
			msgs = append(msgs, Message{
				Level:    LevelError,
				Code:     bv.IssueTypeInvalid,
				Location: rt,
				Text:     fmt.Sprintf("Profile '%s' constrains %s, not %s", url, def.typ, rt),
			})
			continue
		}
		msgs = def.apply(rt, resource, data, msgs)
	}
	return locate(data, msgs), nil
}

// knownTypeLocked must be called with e.mu held.
func (e *FHIRPathEngine) knownTypeLocked(rt string) bool {
	if _, ok := r4ResourceTypes[rt]; ok {
		return true
	}
	return e.byType[rt] != nil
}

func checkID(rt string, resource map[string]any, msgs []Message) []Message {
	raw, ok := resource["id"]
	if !ok {
		return msgs
	}
	id, isString := raw.(string)
	if !isString || !idPattern.MatchString(id) {
		msgs = append(msgs, Message{
			Level:    LevelError,
			Code:     bv.IssueTypeValue,
			Location: rt + ".id",
			Text:     fmt.Sprintf("Invalid Resource id '%v'", raw),
		})
	}
	return msgs
}

func (d *definition) apply(rt string, resource map[string]any, data []byte, msgs []Message) []Message {
	for _, rule := range d.elements {
		n := rule.count(resource)
		switch {
		case n < rule.min:
			msgs = append(msgs, Message{
				Level:    LevelError,
				Code:     bv.IssueTypeRequired,
				Location: rule.path,
				Text:     fmt.Sprintf("%s: minimum required = %d, but only found %d (from %s)", rule.path, rule.min, n, d.url),
			})
		case rule.max == "0" && n > 0:
			msgs = append(msgs, Message{
				Level:    LevelError,
				Code:     bv.IssueTypeStructure,
				Location: rule.path,
				Text:     fmt.Sprintf("%s: element is not allowed (from %s)", rule.path, d.url),
			})
		case rule.max != "*" && rule.max != "":
			if limit, err := strconv.Atoi(rule.max); err == nil && n > limit {
				msgs = append(msgs, Message{
					Level:    LevelError,
					Code:     bv.IssueTypeStructure,
					Location: rule.path,
					Text:     fmt.Sprintf("%s: max allowed = %d, but found %d (from %s)", rule.path, limit, n, d.url),
				})
			}
		}
	}

	for _, inv := range d.invariants {
		if inv.err != nil {
			msgs = append(msgs, Message{
				Level:    LevelWarning,
				Code:     bv.IssueTypeProcessing,
				Location: rt,
				Text:     fmt.Sprintf("Constraint %s could not be compiled: %v", inv.key, inv.err),
			})
			continue
		}
		result, err := inv.expr.Evaluate(data)
		if err != nil {
			msgs = append(msgs, Message{
				Level:    LevelWarning,
				Code:     bv.IssueTypeProcessing,
				Location: rt,
				Text:     fmt.Sprintf("Constraint %s could not be evaluated: %v", inv.key, err),
			})
			continue
		}
		if !passed(result) {
			msgs = append(msgs, Message{
				Level:    inv.level,
				Code:     bv.IssueTypeInvariant,
				Location: rt,
				Text:     fmt.Sprintf("Constraint failed: %s: '%s'", inv.key, inv.human),
			})
		}
	}
	return msgs
}

// count returns the number of occurrences of the element in resource.
func (r elementRule) count(resource map[string]any) int {
	if !r.choice {
		return occurrences(resource[r.name])
	}
	n := 0
	for key, v := range resource {
		suffix, ok := strings.CutPrefix(key, r.name)
		if ok && suffix != "" && suffix[0] >= 'A' && suffix[0] <= 'Z' {
			n += occurrences(v)
		}
	}
	return n
}

func occurrences(v any) int {
	switch tv := v.(type) {
	case nil:
		return 0
	case []any:
		return len(tv)
	default:
		return 1
	}
}

// passed treats an empty or non-boolean result as satisfied.
func passed(result fhirpath.Collection) bool {
	if result.Empty() {
		return true
	}
	b, err := result.ToBoolean()
	if err != nil {
		return true
	}
	return b
}

func locate(data []byte, msgs []Message) []Message {
	for i := range msgs {
		if msgs[i].Line != 0 {
			continue
		}
		if line, col, ok := Locate(data, msgs[i].Location); ok {
			msgs[i].Line, msgs[i].Column = line, col
		}
	}
	return msgs
}

// canonical strips a "|version" suffix from a canonical URL.
func canonical(url string) string {
	if i := strings.IndexByte(url, '|'); i >= 0 {
		return url[:i]
	}
	return url
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ Engine = (*FHIRPathEngine)(nil)

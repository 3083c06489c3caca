package bundle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	bv "github.com/gofhir/bundlevalidator"
	"github.com/gofhir/bundlevalidator/engine"
	"github.com/gofhir/bundlevalidator/parser"
	"github.com/gofhir/bundlevalidator/pkg/logger"
)

// mockEngine records calls and answers through fn.
type mockEngine struct {
	profileCalls atomic.Int32
	defaultCalls atomic.Int32
	current      atomic.Int32
	peak         atomic.Int32

	fn func(ctx context.Context, id string, profiles []string) ([]engine.Message, error)
}

func (m *mockEngine) enter() func() {
	n := m.current.Add(1)
	for {
		old := m.peak.Load()
		if n <= old || m.peak.CompareAndSwap(old, n) {
			break
		}
	}
	return func() { m.current.Add(-1) }
}

func (m *mockEngine) answer(ctx context.Context, data []byte, profiles []string) ([]engine.Message, error) {
	defer m.enter()()
	var res struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	if m.fn == nil {
		return nil, nil
	}
	return m.fn(ctx, res.ID, profiles)
}

func (m *mockEngine) ValidateWithProfiles(ctx context.Context, data []byte, profiles []string) ([]engine.Message, error) {
	m.profileCalls.Add(1)
	return m.answer(ctx, data, profiles)
}

func (m *mockEngine) Validate(ctx context.Context, data []byte) (*engine.Result, error) {
	m.defaultCalls.Add(1)
	msgs, err := m.answer(ctx, data, nil)
	if err != nil {
		return nil, err
	}
	return &engine.Result{Messages: msgs}, nil
}

func (m *mockEngine) calls() int {
	return int(m.profileCalls.Load() + m.defaultCalls.Load())
}

// failingSerializer fails for the listed resource ids.
type failingSerializer struct {
	ids   map[string]bool
	inner parser.Serializer
}

func (s *failingSerializer) Serialize(entry bv.Entry) ([]byte, error) {
	if s.ids[entry.Ref.ResourceID] {
		return nil, errors.New("cannot encode resource")
	}
	return s.inner.Serialize(entry)
}

func observedLogger() (*logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logger.FromZap(zap.New(core)), logs
}

func newTestValidator(t *testing.T, cfg Config, opts ...bv.Option) *Validator {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger, _ = observedLogger()
	}
	v, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(v.Close)
	return v
}

func patientEntry(index int, id string, profiles ...string) bv.Entry {
	resource := map[string]any{"resourceType": "Patient", "id": id}
	if len(profiles) > 0 {
		list := make([]any, len(profiles))
		for i, p := range profiles {
			list[i] = p
		}
		resource["meta"] = map[string]any{"profile": list}
	}
	return bv.Entry{
		Index:    index,
		Ref:      bv.EntryRef{ResourceType: "Patient", ResourceID: id, FullURL: "urn:uuid:" + id},
		Resource: resource,
		Profiles: profiles,
	}
}

func patientBundle(n int) *bv.Bundle {
	b := &bv.Bundle{Type: "collection"}
	for i := 0; i < n; i++ {
		b.Entries = append(b.Entries, patientEntry(i, fmt.Sprintf("p%d", i)))
	}
	return b
}

func errorMessage(text, location string) engine.Message {
	return engine.Message{Level: engine.LevelError, Code: bv.IssueTypeInvalid, Location: location, Text: text}
}

// issueKeys returns a sorted multiset representation of issues.
func issueKeys(issues []bv.Issue) []string {
	keys := make([]string, 0, len(issues))
	for _, iss := range issues {
		keys = append(keys, fmt.Sprintf("%s|%s|%s|%s", iss.Owner, iss.Severity, iss.Location, iss.Message))
	}
	sort.Strings(keys)
	return keys
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	bv "github.com/gofhir/bundlevalidator"
)

const sample = `
profiles: ./profiles
validator:
  workers: 4
  queue_size: 64
  entry_timeout: 2s
  severities: [fatal, error, warning]
  all_profiles: false
  entry_failure_issues: true
  shed_load: true
server:
  addr: ":9090"
  extensions: [".json", ".fhir"]
  max_upload_bytes: 1024
  format: json
log:
  level: debug
  format: json
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if f.Profiles != "./profiles" || f.Server.Addr != ":9090" || f.Server.MaxUploadBytes != 1024 {
		t.Errorf("unexpected file: %+v", f)
	}
	if f.Format() != bv.FormatJSON {
		t.Errorf("Format() = %q; want json", f.Format())
	}

	o := bv.DefaultOptions().Apply(f.Options()...)
	if o.WorkerCount != 4 || o.QueueSize != 64 {
		t.Errorf("pool options = %d/%d; want 4/64", o.WorkerCount, o.QueueSize)
	}
	if o.EntryTimeout != 2*time.Second {
		t.Errorf("EntryTimeout = %s; want 2s", o.EntryTimeout)
	}
	if !o.Keeps(bv.SeverityWarning) || o.Keeps(bv.SeverityInformation) {
		t.Errorf("Severities = %v", o.Severities)
	}
	if o.AllProfiles {
		t.Error("AllProfiles = true; want false")
	}
	if !o.EntryFailureIssues {
		t.Error("EntryFailureIssues = false; want true")
	}
	if !o.ShedLoad {
		t.Error("ShedLoad = false; want true")
	}
}

func TestParse_DefaultsSurvive(t *testing.T) {
	f, err := Parse([]byte("log:\n  level: warn\n"))
	if err != nil {
		t.Fatal(err)
	}
	if f.Server.Addr != ":8080" {
		t.Errorf("Addr = %q; want default :8080", f.Server.Addr)
	}
	if f.Format() != bv.FormatOperationOutcome {
		t.Errorf("Format() = %q; want operationoutcome", f.Format())
	}

	o := bv.DefaultOptions().Apply(f.Options()...)
	d := bv.DefaultOptions()
	if o.WorkerCount != d.WorkerCount || o.QueueSize != d.QueueSize || o.EntryTimeout != 0 || !o.AllProfiles || o.ShedLoad {
		t.Errorf("options changed by an empty validator section: %+v", o)
	}
	if o.Keeps(bv.SeverityWarning) {
		t.Error("warnings kept by default")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want []string
	}{
		{"bad yaml", "validator: [", []string{"parse yaml"}},
		{"bad timeout", "validator:\n  entry_timeout: soon\n", []string{"entry_timeout"}},
		{"negative timeout", "validator:\n  entry_timeout: -1s\n", []string{"must not be negative"}},
		{"bad severity", "validator:\n  severities: [loud]\n", []string{`unknown severity "loud"`}},
		{"bad format", "server:\n  format: pdf\n", []string{"server.format"}},
		{"bad log format", "log:\n  format: xml\n", []string{"log.format"}},
		{
			"several at once",
			"validator:\n  workers: -1\n  queue_size: -2\n",
			[]string{"validator.workers", "validator.queue_size"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("Parse() error = nil")
			}
			for _, want := range tt.want {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %q", err, want)
				}
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle-validator.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if f.Validator.Workers != 4 {
		t.Errorf("Workers = %d; want 4", f.Validator.Workers)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file succeeded")
	}
}

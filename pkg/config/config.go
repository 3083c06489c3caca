// Package config loads validator and server settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	bv "github.com/gofhir/bundlevalidator"
	"github.com/gofhir/bundlevalidator/pkg/logger"
)

// File models bundle-validator.yaml.
type File struct {
	Validator ValidatorSection `yaml:"validator"`
	Server    ServerSection    `yaml:"server"`
	Log       LogSection       `yaml:"log"`

	// Profiles is a directory of StructureDefinition JSON files.
	Profiles string `yaml:"profiles,omitempty"`
}

// ValidatorSection configures bundle validation.
type ValidatorSection struct {
	Workers            int      `yaml:"workers,omitempty"`
	QueueSize          int      `yaml:"queue_size,omitempty"`
	EntryTimeout       string   `yaml:"entry_timeout,omitempty"`
	Severities         []string `yaml:"severities,omitempty"`
	Strict             bool     `yaml:"strict,omitempty"`
	AllProfiles        *bool    `yaml:"all_profiles,omitempty"`
	EntryFailureIssues bool     `yaml:"entry_failure_issues,omitempty"`
	ShedLoad           bool     `yaml:"shed_load,omitempty"`
}

// ServerSection configures the HTTP transport.
type ServerSection struct {
	Addr           string   `yaml:"addr,omitempty"`
	Extensions     []string `yaml:"extensions,omitempty"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes,omitempty"`
	Format         string   `yaml:"format,omitempty"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *File {
	return &File{
		Server: ServerSection{Addr: ":8080"},
		Log:    LogSection{Level: "info", Format: "console"},
	}
}

// Load reads and parses the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes data on top of Default and validates the result.
func Parse(data []byte) (*File, error) {
	f := Default()
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate reports every invalid setting at once.
func (f *File) Validate() error {
	var errs []error
	if f.Validator.Workers < 0 {
		errs = append(errs, fmt.Errorf("validator.workers must not be negative, got %d", f.Validator.Workers))
	}
	if f.Validator.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("validator.queue_size must not be negative, got %d", f.Validator.QueueSize))
	}
	if _, err := f.EntryTimeout(); err != nil {
		errs = append(errs, err)
	}
	if _, err := f.Severities(); err != nil {
		errs = append(errs, err)
	}
	if f.Server.Format != "" {
		if _, err := bv.ParseFormat(f.Server.Format); err != nil {
			errs = append(errs, fmt.Errorf("server.format: %w", err))
		}
	}
	switch f.Log.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", f.Log.Format))
	}
	return errors.Join(errs...)
}

// EntryTimeout parses validator.entry_timeout. Empty means no timeout.
func (f *File) EntryTimeout() (time.Duration, error) {
	if f.Validator.EntryTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(f.Validator.EntryTimeout)
	if err != nil {
		return 0, fmt.Errorf("validator.entry_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("validator.entry_timeout must not be negative, got %s", d)
	}
	return d, nil
}

// Severities parses validator.severities.
func (f *File) Severities() ([]bv.Severity, error) {
	out := make([]bv.Severity, 0, len(f.Validator.Severities))
	for _, s := range f.Validator.Severities {
		sev := bv.Severity(strings.ToLower(strings.TrimSpace(s)))
		switch sev {
		case bv.SeverityFatal, bv.SeverityError, bv.SeverityWarning, bv.SeverityInformation:
			out = append(out, sev)
		default:
			return nil, fmt.Errorf("validator.severities: unknown severity %q", s)
		}
	}
	return out, nil
}

// Options converts the validator section into functional options. Unset
// values leave the library defaults in place. Call Validate first.
func (f *File) Options() []bv.Option {
	opts := []bv.Option{
		bv.WithWorkerCount(f.Validator.Workers),
		bv.WithQueueSize(f.Validator.QueueSize),
		bv.WithStrictMode(f.Validator.Strict),
		bv.WithEntryFailureIssues(f.Validator.EntryFailureIssues),
		bv.WithLoadShedding(f.Validator.ShedLoad),
	}
	if d, err := f.EntryTimeout(); err == nil {
		opts = append(opts, bv.WithEntryTimeout(d))
	}
	if sevs, err := f.Severities(); err == nil && len(sevs) > 0 {
		opts = append(opts, bv.WithSeverities(sevs...))
	}
	if f.Validator.AllProfiles != nil {
		opts = append(opts, bv.WithAllProfiles(*f.Validator.AllProfiles))
	}
	return opts
}

// Format returns the configured default output format.
func (f *File) Format() bv.Format {
	format, err := bv.ParseFormat(f.Server.Format)
	if err != nil {
		return bv.FormatOperationOutcome
	}
	return format
}

// Logger builds a logger from the log section.
func (f *File) Logger() *logger.Logger {
	level := logger.ParseLevel(f.Log.Level)
	if f.Log.Format == "json" {
		return logger.NewJSON(os.Stderr, level)
	}
	return logger.New(os.Stderr, level)
}

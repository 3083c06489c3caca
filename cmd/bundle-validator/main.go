// Package main implements the bundle-validator CLI tool. It validates FHIR
// Bundle documents from files or stdin, or serves the validation API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/errgroup"

	bv "github.com/gofhir/bundlevalidator"
	"github.com/gofhir/bundlevalidator/bundle"
	"github.com/gofhir/bundlevalidator/engine"
	"github.com/gofhir/bundlevalidator/pkg/config"
	"github.com/gofhir/bundlevalidator/pkg/logger"
	"github.com/gofhir/bundlevalidator/server"
)

const (
	version = "0.1.0"
	usage   = `bundle-validator - FHIR Bundle Validator

Usage:
  bundle-validator [options] <file>...
  bundle-validator [options] -            (read from stdin)
  bundle-validator [options] -serve :8080 (serve POST /api/fhir/validator)

Examples:
  bundle-validator bundle.json
  bundle-validator -profiles ./profiles -format json bundles/*.json
  bundle-validator -config bundle-validator.yaml -serve :8080
  cat bundle.json | bundle-validator -

Options:
`
)

// Config holds CLI configuration.
type Config struct {
	ConfigFile  string
	Profiles    string
	Workers     int
	Timeout     time.Duration
	Format      string
	Strict      bool
	LogLevel    string
	Serve       string
	ShowVersion bool
	Help        bool
	Files       []string

	// set records the flags given on the command line; they override the
	// config file.
	set map[string]bool
}

// FileOutput is the JSON output for one validated document.
type FileOutput struct {
	Resource string      `json:"resource"`
	Outcome  *bv.Outcome `json:"outcome,omitempty"`
	Error    string      `json:"error,omitempty"`
	Duration string      `json:"duration"`
}

func main() {
	cfg := parseFlags()

	if cfg.ShowVersion {
		fmt.Printf("bundle-validator v%s\n", version)
		os.Exit(0)
	}
	if cfg.Help || (len(cfg.Files) == 0 && cfg.Serve == "") {
		flag.Usage()
		os.Exit(0)
	}

	os.Exit(run(cfg))
}

func parseFlags() *Config {
	cfg := &Config{set: map[string]bool{}}

	flag.StringVar(&cfg.ConfigFile, "config", "", "YAML configuration file")
	flag.StringVar(&cfg.Profiles, "profiles", "", "Directory of StructureDefinition JSON files")
	flag.IntVar(&cfg.Workers, "workers", 0, "Worker pool size (default 32)")
	flag.DurationVar(&cfg.Timeout, "timeout", 0, "Per-entry timeout, e.g. 10s (default none)")
	flag.StringVar(&cfg.Format, "format", "text", "Output format: text, json, operationoutcome")
	flag.BoolVar(&cfg.Strict, "strict", false, "Report warnings as well as errors")
	flag.StringVar(&cfg.LogLevel, "log-level", "", "Log level: debug, info, warn, error, none")
	flag.StringVar(&cfg.Serve, "serve", "", "Serve the HTTP API on this address instead of validating files")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version")
	flag.BoolVar(&cfg.Help, "help", false, "Show help")

	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}

	flag.Parse()
	flag.Visit(func(f *flag.Flag) { cfg.set[f.Name] = true })
	cfg.Files = flag.Args()
	return cfg
}

// settings merges the config file with the command line flags.
func settings(cfg *Config) (*config.File, error) {
	file := config.Default()
	if cfg.ConfigFile != "" {
		loaded, err := config.Load(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		file = loaded
	}

	if cfg.set["profiles"] {
		file.Profiles = cfg.Profiles
	}
	if cfg.set["workers"] {
		file.Validator.Workers = cfg.Workers
	}
	if cfg.set["timeout"] {
		file.Validator.EntryTimeout = cfg.Timeout.String()
	}
	if cfg.set["strict"] {
		file.Validator.Strict = cfg.Strict
	}
	if cfg.set["log-level"] {
		file.Log.Level = cfg.LogLevel
	}
	if cfg.set["serve"] {
		file.Server.Addr = cfg.Serve
	}
	return file, file.Validate()
}

func run(cfg *Config) int {
	file, err := settings(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log := file.Logger()
	logger.SetDefault(log)
	defer log.Sync()

	eng := engine.NewFHIRPathEngine()
	if file.Profiles != "" {
		n, err := eng.LoadDir(file.Profiles)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Failed to load profiles: %v\n", err)
			return 1
		}
		log.Info("profiles loaded", "dir", file.Profiles, "definitions", n)
	}

	metrics := bv.NewMetrics()
	v, err := bundle.New(bundle.Config{Engine: eng, Logger: log, Metrics: metrics}, file.Options()...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to initialize validator: %v\n", err)
		return 1
	}
	defer v.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Serve != "" {
		srv := server.New(file.Server.Addr, server.Config{
			Validator:      v,
			Logger:         log,
			Metrics:        metrics,
			Extensions:     file.Server.Extensions,
			MaxUploadBytes: file.Server.MaxUploadBytes,
			DefaultFormat:  file.Format(),
		})
		if err := srv.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	format, err := bv.ParseFormat(cfg.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	paths, err := expand(cfg.Files)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	outputs := validateAll(ctx, v, paths)

	failed := false
	for _, out := range outputs {
		if out.Error != "" || !out.Outcome.Success {
			failed = true
		}
	}
	if err := write(os.Stdout, outputs, format); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if failed {
		return 1
	}
	return 0
}

// expand resolves glob patterns. "-" stands for stdin and is kept as is.
func expand(patterns []string) ([]string, error) {
	var paths []string
	for _, p := range patterns {
		if p == "-" {
			paths = append(paths, p)
			continue
		}
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match pattern: %s", p)
		}
		paths = append(paths, matches...)
	}
	return paths, nil
}

// validateAll validates every document concurrently. Each document fans its
// entries out to the validator's shared pool; the limit here bounds how many
// documents are read and parsed at once.
func validateAll(ctx context.Context, v *bundle.Validator, paths []string) []FileOutput {
	outputs := make([]FileOutput, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, path := range paths {
		g.Go(func() error {
			outputs[i] = validateFile(ctx, v, path)
			return nil
		})
	}
	_ = g.Wait()
	return outputs
}

func validateFile(ctx context.Context, v *bundle.Validator, path string) FileOutput {
	start := time.Now()
	out := FileOutput{Resource: path}

	var data []byte
	var err error
	if path == "-" {
		out.Resource = "stdin"
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		out.Error = fmt.Sprintf("failed to read file: %v", err)
		out.Duration = time.Since(start).String()
		return out
	}

	outcome, err := v.ValidateDocument(ctx, data)
	out.Duration = time.Since(start).Round(time.Microsecond).String()
	if err != nil {
		out.Error = err.Error()
		if errors.Is(err, bv.ErrMalformedDocument) {
			out.Error = "malformed document: " + err.Error()
		}
		return out
	}
	out.Outcome = outcome
	return out
}

func write(w io.Writer, outputs []FileOutput, format bv.Format) error {
	switch format {
	case bv.FormatJSON:
		data, err := sonic.ConfigStd.MarshalIndent(outputs, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case bv.FormatOperationOutcome:
		for _, out := range outputs {
			if out.Outcome == nil {
				fmt.Fprintf(w, "== %s ==\nError: %s\n\n", out.Resource, out.Error)
				continue
			}
			data, err := bv.RenderOperationOutcome(out.Outcome, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "== %s ==\n%s\n\n", out.Resource, data)
		}
		return nil
	default:
		for _, out := range outputs {
			printText(w, out)
		}
		return nil
	}
}

func printText(w io.Writer, out FileOutput) {
	fmt.Fprintf(w, "== %s ==\n", out.Resource)
	if out.Outcome == nil {
		fmt.Fprintf(w, "Status: ERROR\n%s\n\n", out.Error)
		return
	}

	status := "VALID"
	if !out.Outcome.Success {
		status = "INVALID"
	}
	fmt.Fprintf(w, "Status: %s\n", status)
	fmt.Fprintf(w, "Entries: %d, Issues: %d, Duration: %s\n", out.Outcome.Entries, len(out.Outcome.Issues), out.Duration)
	fmt.Fprintf(w, "%s\n", out.Outcome.Message)

	if len(out.Outcome.Issues) > 0 {
		fmt.Fprintln(w, "\nIssues:")
		for _, iss := range out.Outcome.Issues {
			fmt.Fprintf(w, "  %s [%s] %s\n", severityLabel(iss.Severity), iss.Code, iss.Diagnostics)
		}
	}
	fmt.Fprintln(w)
}

func severityLabel(severity bv.Severity) string {
	switch severity {
	case bv.SeverityFatal:
		return "FATAL"
	case bv.SeverityError:
		return "ERROR"
	case bv.SeverityWarning:
		return "WARN "
	case bv.SeverityInformation:
		return "INFO "
	default:
		return "     "
	}
}

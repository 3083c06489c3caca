package bundlevalidator

import (
	"time"
)

// DefaultWorkerCount is the width of the shared worker pool. It bounds the
// number of concurrent conformance engine invocations.
const DefaultWorkerCount = 32

// DefaultQueueSize is the number of entry jobs that may wait for a worker
// before submitters block.
const DefaultQueueSize = 4096

// Option configures bundle validation.
type Option func(*Options)

// Options holds all configuration for bundle validation.
type Options struct {
	// Pool
	WorkerCount int
	QueueSize   int

	// EntryTimeout bounds a single entry job. Zero means no timeout.
	EntryTimeout time.Duration

	// Severities lists the engine severities kept in the outcome.
	Severities []Severity

	// StrictMode keeps warnings as well, as if they were errors.
	StrictMode bool

	// AllProfiles validates an entry against every declared profile.
	// When false only the first declared profile is used.
	AllProfiles bool

	// EntryFailureIssues also reports isolated entry failures as
	// exception issues instead of only logging them.
	EntryFailureIssues bool

	// ShedLoad rejects a request with ErrOverloaded when the pool queue is
	// full instead of waiting for free slots.
	ShedLoad bool
}

// DefaultOptions returns the default configuration.
func DefaultOptions() *Options {
	return &Options{
		WorkerCount:        DefaultWorkerCount,
		QueueSize:          DefaultQueueSize,
		EntryTimeout:       0, // no timeout
		Severities:         []Severity{SeverityFatal, SeverityError},
		StrictMode:         false,
		AllProfiles:        true,
		EntryFailureIssues: false,
		ShedLoad:           false,
	}
}

// Keeps reports whether an engine message of severity s is kept in the outcome.
func (o *Options) Keeps(s Severity) bool {
	if o.StrictMode && s == SeverityWarning {
		return true
	}
	for _, keep := range o.Severities {
		if keep == s {
			return true
		}
	}
	return false
}

// Apply applies opts in order and returns o.
func (o *Options) Apply(opts ...Option) *Options {
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// --- Pool Options ---

// WithWorkerCount sets the number of pool workers.
// Use 1 when the conformance engine is not safe for concurrent calls.
func WithWorkerCount(count int) Option {
	return func(o *Options) {
		if count > 0 {
			o.WorkerCount = count
		}
	}
}

// WithQueueSize sets how many jobs may wait for a worker before
// submission blocks.
func WithQueueSize(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.QueueSize = size
		}
	}
}

// WithEntryTimeout bounds each entry job. A job that exceeds it contributes
// no issues; sibling jobs are not affected.
func WithEntryTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		if timeout >= 0 {
			o.EntryTimeout = timeout
		}
	}
}

// --- Filtering Options ---

// WithSeverities replaces the set of engine severities kept in the outcome.
func WithSeverities(severities ...Severity) Option {
	return func(o *Options) {
		if len(severities) > 0 {
			o.Severities = append([]Severity(nil), severities...)
		}
	}
}

// WithStrictMode treats warnings as errors.
func WithStrictMode(enable bool) Option {
	return func(o *Options) {
		o.StrictMode = enable
	}
}

// WithAllProfiles chooses between validating against every declared
// profile (true) or only the first one (false).
func WithAllProfiles(enable bool) Option {
	return func(o *Options) {
		o.AllProfiles = enable
	}
}

// WithEntryFailureIssues reports isolated entry failures as exception issues.
func WithEntryFailureIssues(enable bool) Option {
	return func(o *Options) {
		o.EntryFailureIssues = enable
	}
}

// WithLoadShedding fails requests with ErrOverloaded when the worker queue
// is full. Entries already queued still run and are awaited.
func WithLoadShedding(enable bool) Option {
	return func(o *Options) {
		o.ShedLoad = enable
	}
}

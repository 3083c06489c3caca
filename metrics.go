package bundlevalidator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks bundle validation counters using lock-free atomic operations.
// All methods are safe for concurrent use. Metrics also implements
// prometheus.Collector so it can be registered directly.
type Metrics struct {
	// Request counts
	requestsTotal    atomic.Uint64
	requestsSuccess  atomic.Uint64
	requestsRejected atomic.Uint64
	requestsFailed   atomic.Uint64

	// Timing (stored as nanoseconds)
	requestTimeTotal atomic.Uint64
	requestTimeMin   atomic.Uint64
	requestTimeMax   atomic.Uint64

	// Entry counts
	entriesTotal  atomic.Uint64
	entriesFailed atomic.Uint64

	// Issue counts by severity
	errorsTotal   atomic.Uint64
	warningsTotal atomic.Uint64
	infosTotal    atomic.Uint64

	// Isolated entry failures per stage
	stageFailures sync.Map // map[Stage]*atomic.Uint64
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	// Initialize min to max uint64 so first value becomes the minimum
	m.requestTimeMin.Store(^uint64(0))
	return m
}

// --- Recording Methods ---

// RecordRequest records a bundle validation that produced an outcome.
func (m *Metrics) RecordRequest(duration time.Duration, entries int, success bool) {
	m.requestsTotal.Add(1)
	if success {
		m.requestsSuccess.Add(1)
	}
	m.entriesTotal.Add(uint64(entries)) //nolint:gosec // entry counts are never negative

	ns := uint64(duration.Nanoseconds()) //nolint:gosec // Safe: nanoseconds are always positive for valid durations
	m.requestTimeTotal.Add(ns)

	for {
		old := m.requestTimeMin.Load()
		if ns >= old || m.requestTimeMin.CompareAndSwap(old, ns) {
			break
		}
	}
	for {
		old := m.requestTimeMax.Load()
		if ns <= old || m.requestTimeMax.CompareAndSwap(old, ns) {
			break
		}
	}
}

// RecordRejected records a request refused because its document was malformed.
func (m *Metrics) RecordRejected() {
	m.requestsTotal.Add(1)
	m.requestsRejected.Add(1)
}

// RecordFailed records a request that ended with a whole-request error.
func (m *Metrics) RecordFailed() {
	m.requestsTotal.Add(1)
	m.requestsFailed.Add(1)
}

// RecordEntryFailure records an isolated entry failure.
func (m *Metrics) RecordEntryFailure(stage Stage) {
	m.entriesFailed.Add(1)
	c, ok := m.stageFailures.Load(stage)
	if !ok {
		c, _ = m.stageFailures.LoadOrStore(stage, &atomic.Uint64{})
	}
	c.(*atomic.Uint64).Add(1)
}

// RecordIssue records an issue based on severity.
func (m *Metrics) RecordIssue(severity Severity) {
	switch severity {
	case SeverityError, SeverityFatal:
		m.errorsTotal.Add(1)
	case SeverityWarning:
		m.warningsTotal.Add(1)
	case SeverityInformation:
		m.infosTotal.Add(1)
	}
}

// --- Query Methods ---

// RequestsTotal returns the number of requests seen, including rejected ones.
func (m *Metrics) RequestsTotal() uint64 { return m.requestsTotal.Load() }

// RequestsRejected returns the number of malformed-document rejections.
func (m *Metrics) RequestsRejected() uint64 { return m.requestsRejected.Load() }

// RequestsFailed returns the number of whole-request failures.
func (m *Metrics) RequestsFailed() uint64 { return m.requestsFailed.Load() }

// EntriesTotal returns the number of entries dispatched.
func (m *Metrics) EntriesTotal() uint64 { return m.entriesTotal.Load() }

// EntriesFailed returns the number of isolated entry failures.
func (m *Metrics) EntriesFailed() uint64 { return m.entriesFailed.Load() }

// ErrorsTotal returns the total error issues found.
func (m *Metrics) ErrorsTotal() uint64 { return m.errorsTotal.Load() }

// WarningsTotal returns the total warning issues found.
func (m *Metrics) WarningsTotal() uint64 { return m.warningsTotal.Load() }

// StageFailures returns the isolated failure count for one stage.
func (m *Metrics) StageFailures(stage Stage) uint64 {
	c, ok := m.stageFailures.Load(stage)
	if !ok {
		return 0
	}
	return c.(*atomic.Uint64).Load()
}

// AverageRequestTime returns the average duration of completed requests.
func (m *Metrics) AverageRequestTime() time.Duration {
	completed := m.requestsTotal.Load() - m.requestsRejected.Load() - m.requestsFailed.Load()
	if completed == 0 {
		return 0
	}
	return time.Duration(m.requestTimeTotal.Load() / completed) //nolint:gosec // nanoseconds within int64 range
}

// MinRequestTime returns the fastest completed request.
func (m *Metrics) MinRequestTime() time.Duration {
	minVal := m.requestTimeMin.Load()
	if minVal == ^uint64(0) {
		return 0
	}
	return time.Duration(minVal) //nolint:gosec // nanoseconds within int64 range
}

// MaxRequestTime returns the slowest completed request.
func (m *Metrics) MaxRequestTime() time.Duration {
	return time.Duration(m.requestTimeMax.Load()) //nolint:gosec // nanoseconds within int64 range
}

// Snapshot represents a point-in-time snapshot of all metrics.
type Snapshot struct {
	Timestamp        time.Time        `json:"timestamp"`
	RequestsTotal    uint64           `json:"requests_total"`
	RequestsSuccess  uint64           `json:"requests_success"`
	RequestsRejected uint64           `json:"requests_rejected"`
	RequestsFailed   uint64           `json:"requests_failed"`
	EntriesTotal     uint64           `json:"entries_total"`
	EntriesFailed    uint64           `json:"entries_failed"`
	ErrorsTotal      uint64           `json:"errors_total"`
	WarningsTotal    uint64           `json:"warnings_total"`
	InfosTotal       uint64           `json:"infos_total"`
	AvgRequestTimeNs uint64           `json:"avg_request_time_ns"`
	StageFailures    map[Stage]uint64 `json:"stage_failures,omitempty"`
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Timestamp:        time.Now(),
		RequestsTotal:    m.requestsTotal.Load(),
		RequestsSuccess:  m.requestsSuccess.Load(),
		RequestsRejected: m.requestsRejected.Load(),
		RequestsFailed:   m.requestsFailed.Load(),
		EntriesTotal:     m.entriesTotal.Load(),
		EntriesFailed:    m.entriesFailed.Load(),
		ErrorsTotal:      m.errorsTotal.Load(),
		WarningsTotal:    m.warningsTotal.Load(),
		InfosTotal:       m.infosTotal.Load(),
		AvgRequestTimeNs: uint64(m.AverageRequestTime().Nanoseconds()), //nolint:gosec // never negative
		StageFailures:    make(map[Stage]uint64),
	}
	m.stageFailures.Range(func(key, value any) bool {
		s.StageFailures[key.(Stage)] = value.(*atomic.Uint64).Load()
		return true
	})
	return s
}

// --- Prometheus ---

var (
	descRequests = prometheus.NewDesc(
		"bundlevalidator_requests_total",
		"Bundle validation requests by result.",
		[]string{"result"}, nil,
	)
	descEntries = prometheus.NewDesc(
		"bundlevalidator_entries_total",
		"Bundle entries dispatched to the worker pool.",
		nil, nil,
	)
	descEntryFailures = prometheus.NewDesc(
		"bundlevalidator_entry_failures_total",
		"Entries whose validation failed and was isolated, by stage.",
		[]string{"stage"}, nil,
	)
	descIssues = prometheus.NewDesc(
		"bundlevalidator_issues_total",
		"Issues reported by the conformance engine, by severity.",
		[]string{"severity"}, nil,
	)
	descRequestSeconds = prometheus.NewDesc(
		"bundlevalidator_request_duration_seconds_avg",
		"Average wall time of completed bundle validations.",
		nil, nil,
	)
)

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- descRequests
	ch <- descEntries
	ch <- descEntryFailures
	ch <- descIssues
	ch <- descRequestSeconds
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	s := m.Snapshot()
	failures := s.RequestsTotal - s.RequestsSuccess - s.RequestsRejected - s.RequestsFailed

	ch <- prometheus.MustNewConstMetric(descRequests, prometheus.CounterValue, float64(s.RequestsSuccess), "success")
	ch <- prometheus.MustNewConstMetric(descRequests, prometheus.CounterValue, float64(failures), "invalid")
	ch <- prometheus.MustNewConstMetric(descRequests, prometheus.CounterValue, float64(s.RequestsRejected), "rejected")
	ch <- prometheus.MustNewConstMetric(descRequests, prometheus.CounterValue, float64(s.RequestsFailed), "error")
	ch <- prometheus.MustNewConstMetric(descEntries, prometheus.CounterValue, float64(s.EntriesTotal))
	for stage, n := range s.StageFailures {
		ch <- prometheus.MustNewConstMetric(descEntryFailures, prometheus.CounterValue, float64(n), string(stage))
	}
	ch <- prometheus.MustNewConstMetric(descIssues, prometheus.CounterValue, float64(s.ErrorsTotal), string(SeverityError))
	ch <- prometheus.MustNewConstMetric(descIssues, prometheus.CounterValue, float64(s.WarningsTotal), string(SeverityWarning))
	ch <- prometheus.MustNewConstMetric(descIssues, prometheus.CounterValue, float64(s.InfosTotal), string(SeverityInformation))
	ch <- prometheus.MustNewConstMetric(descRequestSeconds, prometheus.GaugeValue, m.AverageRequestTime().Seconds())
}

var _ prometheus.Collector = (*Metrics)(nil)

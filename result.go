package bundlevalidator

import (
	"sync"
)

// Aggregate collects the issues produced by every entry job of one request.
// Writers append whole batches under a single lock; once Seal is called the
// collection becomes read-only.
//
// The order of issues reflects job completion order and is not guaranteed
// to match entry order.
type Aggregate struct {
	mu      sync.Mutex
	issues  []Issue
	entries int
	sealed  bool
}

// NewAggregate creates an empty aggregate sized for an expected issue count.
func NewAggregate(capacity int) *Aggregate {
	if capacity < 0 {
		capacity = 0
	}
	return &Aggregate{
		issues: make([]Issue, 0, capacity),
	}
}

// Append adds the issues of one finished entry job.
// It is safe for concurrent use and takes the lock exactly once.
// An empty batch still counts as a contribution.
func (a *Aggregate) Append(issues []Issue) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sealed {
		return ErrAggregateSealed
	}
	a.issues = append(a.issues, issues...)
	a.entries++
	return nil
}

// Seal marks the aggregate read-only. Sealing twice is a no-op.
func (a *Aggregate) Seal() {
	a.mu.Lock()
	a.sealed = true
	a.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (a *Aggregate) Sealed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sealed
}

// Issues returns a copy of the collected issues.
func (a *Aggregate) Issues() []Issue {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Issue, len(a.issues))
	copy(out, a.issues)
	return out
}

// Len returns the number of collected issues.
func (a *Aggregate) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.issues)
}

// Contributions returns how many entry jobs appended, including empty batches.
func (a *Aggregate) Contributions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entries
}

// ErrorCount returns the number of error and fatal issues.
func (a *Aggregate) ErrorCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	count := 0
	for _, iss := range a.issues {
		if iss.IsError() {
			count++
		}
	}
	return count
}

// Package health reports whether the market feed is healthy and whether the
// process is still pulsing.
package health

import (
	"sync"
	"time"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"

	DefaultWindow = 5
)

// Tracker keeps the outcome of the last N fetch attempts.
type Tracker struct {
	mu      sync.Mutex
	results []bool
	next    int
	filled  bool
	lastErr error
	lastAt  time.Time
	now     func() time.Time
}

func NewTracker(n int) *Tracker {
	if n <= 0 {
		n = DefaultWindow
	}
	return &Tracker{results: make([]bool, n), now: time.Now}
}

// Record stores one attempt. A nil err is a success.
func (t *Tracker) Record(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.results[t.next] = err == nil
	t.next = (t.next + 1) % len(t.results)
	if t.next == 0 {
		t.filled = true
	}
	t.lastAt = t.now()
	if err != nil {
		t.lastErr = err
	}
}

// ObserveFetch lets a Tracker observe a feed source.
func (t *Tracker) ObserveFetch(_ time.Duration, err error) { t.Record(err) }

func (t *Tracker) count() int {
	if t.filled {
		return len(t.results)
	}
	return t.next
}

// Status is "ok" when every recorded attempt in the window succeeded, or when
// nothing has been recorded yet.
func (t *Tracker) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := 0; i < t.count(); i++ {
		if !t.results[i] {
			return StatusDegraded
		}
	}
	return StatusOK
}

type Report struct {
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	Failures  int       `json:"failures"`
	LastCheck time.Time `json:"last_check,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

func (t *Tracker) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := Report{Status: StatusOK, Attempts: t.count(), LastCheck: t.lastAt}
	for i := 0; i < r.Attempts; i++ {
		if !t.results[i] {
			r.Failures++
		}
	}
	if r.Failures > 0 {
		r.Status = StatusDegraded
	}
	if t.lastErr != nil {
		r.LastError = t.lastErr.Error()
	}
	return r
}

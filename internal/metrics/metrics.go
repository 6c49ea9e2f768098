// Package metrics is the backend-agnostic metrics facade used by the scoring
// pipeline. Core code records through the package functions; cmd/ decides
// which Backend (if any) receives the data.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions, e.g. {"step": "align", "status": "ok"}.
type Labels map[string]string

// Backend receives metric observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names.
const (
	StepTotal         = "claims_step_total"
	StepDuration      = "claims_step_duration_seconds"
	RecordsTotal      = "claims_records_total"
	UnknownCategories = "claims_unknown_categories_total"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to a counter on the current backend.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records value on the current backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the current backend.
func Flush() error { return current().Flush() }

// RecordStep counts one pipeline step and its duration.
func RecordStep(step string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDuration, time.Since(start).Seconds(), l)
}

// RecordRecords counts records of a kind (uploaded, predicted, fraud).
func RecordRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

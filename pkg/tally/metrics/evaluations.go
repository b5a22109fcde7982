package metrics

import (
	"sync/atomic"
	"time"
)

// EvalMetrics counts evaluations by outcome. Outcome names are free-form so the
// package does not depend on the evaluator's error taxonomy.
type EvalMetrics struct {
	total     int64
	succeeded int64
	totalTime int64 // nanoseconds

	// failures is fixed at construction; only the counters it points to change.
	failures map[string]*int64
}

// NewEvalMetrics creates counters for the given failure outcomes.
func NewEvalMetrics(outcomes ...string) *EvalMetrics {
	counters := make(map[string]*int64, len(outcomes))
	for _, o := range outcomes {
		counters[o] = new(int64)
	}
	return &EvalMetrics{failures: counters}
}

// EvalStats is a snapshot of EvalMetrics.
type EvalStats struct {
	Total       int64            `json:"total"`
	Succeeded   int64            `json:"succeeded"`
	Failed      int64            `json:"failed"`
	Failures    map[string]int64 `json:"failures"`
	AvgDuration int64            `json:"avg_duration_ns"`
}

// ObserveSuccess records a successful evaluation.
func (m *EvalMetrics) ObserveSuccess(d time.Duration) {
	atomic.AddInt64(&m.total, 1)
	atomic.AddInt64(&m.succeeded, 1)
	atomic.AddInt64(&m.totalTime, d.Nanoseconds())
}

// ObserveFailure records a failed evaluation under outcome. Outcomes not
// registered at construction are counted as failures without a bucket.
func (m *EvalMetrics) ObserveFailure(outcome string, d time.Duration) {
	atomic.AddInt64(&m.total, 1)
	atomic.AddInt64(&m.totalTime, d.Nanoseconds())
	if c, ok := m.failures[outcome]; ok {
		atomic.AddInt64(c, 1)
	}
}

// GetStats returns a snapshot of the counters.
func (m *EvalMetrics) GetStats() EvalStats {
	total := atomic.LoadInt64(&m.total)
	succeeded := atomic.LoadInt64(&m.succeeded)

	stats := EvalStats{
		Total:     total,
		Succeeded: succeeded,
		Failed:    total - succeeded,
		Failures:  make(map[string]int64, len(m.failures)),
	}
	for name, c := range m.failures {
		stats.Failures[name] = atomic.LoadInt64(c)
	}
	if total > 0 {
		stats.AvgDuration = atomic.LoadInt64(&m.totalTime) / total
	}
	return stats
}

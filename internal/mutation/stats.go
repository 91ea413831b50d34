package mutation

import (
	"sync"
	"time"
)

// Operation names a mutation in results, metrics and health output.
type Operation string

const (
	OpRetry       Operation = "retryException"
	OpAcknowledge Operation = "acknowledgeException"
	OpResolve     Operation = "resolveException"
	OpCancelRetry Operation = "cancelRetry"
	OpBulkRetry   Operation = "bulkRetry"
)

func Operations() []Operation {
	return []Operation{OpRetry, OpAcknowledge, OpResolve, OpCancelRetry, OpBulkRetry}
}

const DefaultStatsWindow = 15 * time.Minute

type OperationStats struct {
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"successRate"`
}

type outcome struct {
	at      time.Time
	success bool
}

// Stats keeps the outcomes of recent mutations per operation over a sliding
// window.
type Stats struct {
	mu       sync.Mutex
	window   time.Duration
	outcomes map[Operation][]outcome
	now      func() time.Time
}

func NewStats(window time.Duration) *Stats {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	return &Stats{
		window:   window,
		outcomes: make(map[Operation][]outcome),
		now:      time.Now,
	}
}

func (s *Stats) Record(op Operation, success bool) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.outcomes[op] = append(s.prune(op, now), outcome{at: now, success: success})
}

// Snapshot returns the stats of every operation. An operation with no
// recent outcome reports a success rate of 1.
func (s *Stats) Snapshot() map[Operation]OperationStats {
	out := make(map[Operation]OperationStats, len(Operations()))
	if s == nil {
		return out
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, op := range Operations() {
		recent := s.prune(op, now)
		s.outcomes[op] = recent

		st := OperationStats{Total: len(recent), SuccessRate: 1}
		for _, o := range recent {
			if o.success {
				st.Succeeded++
			}
		}
		st.Failed = st.Total - st.Succeeded
		if st.Total > 0 {
			st.SuccessRate = float64(st.Succeeded) / float64(st.Total)
		}
		out[op] = st
	}
	return out
}

// prune drops outcomes older than the window. Outcomes are appended in time
// order so the first kept one ends the scan.
func (s *Stats) prune(op Operation, now time.Time) []outcome {
	list := s.outcomes[op]
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(list) && list[i].at.Before(cutoff) {
		i++
	}
	return list[i:]
}

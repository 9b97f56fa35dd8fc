// Package observability tracks per-process ingest statistics for the
// stats endpoint and CLI summaries.
package observability

import (
	"sync"
	"time"
)

// RunStats accumulates counters across ingest runs. All methods are
// safe for concurrent use; Snapshot returns a deep copy so callers
// never alias live state.
type RunStats struct {
	mu sync.RWMutex

	runsStarted   int64
	runsSucceeded int64
	runsFailed    int64

	rowsRead      int64
	storesWritten int64
	bytesWritten  int64

	filterFlags     map[string]*FilterFlagCounts
	defaultedParams map[string]int64

	lastRunAt       time.Time
	lastRunDuration time.Duration
	lastRunTarget   string
}

// FilterFlagCounts tallies quality outcomes for one filter.
type FilterFlagCounts struct {
	Stars     int64 `json:"stars"`
	GoodStars int64 `json:"good_stars"`
	Failures  int64 `json:"failures"`
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	RunsStarted   int64 `json:"runs_started"`
	RunsSucceeded int64 `json:"runs_succeeded"`
	RunsFailed    int64 `json:"runs_failed"`

	RowsRead      int64 `json:"rows_read"`
	StoresWritten int64 `json:"stores_written"`
	BytesWritten  int64 `json:"bytes_written"`

	FilterFlags     map[string]FilterFlagCounts `json:"filter_flags"`
	DefaultedParams map[string]int64            `json:"defaulted_params"`

	LastRunAt         time.Time     `json:"last_run_at"`
	LastRunDuration   time.Duration `json:"last_run_duration"`
	LastRunDurationMS int64         `json:"last_run_duration_ms"`
	LastRunTarget     string        `json:"last_run_target"`
}

// NewRunStats creates an empty tracker.
func NewRunStats() *RunStats {
	return &RunStats{
		filterFlags:     make(map[string]*FilterFlagCounts),
		defaultedParams: make(map[string]int64),
	}
}

// RunStarted counts a run entering the pipeline.
func (s *RunStats) RunStarted() {
	s.mu.Lock()
	s.runsStarted++
	s.mu.Unlock()
}

// RunSucceeded records a finished run and its headline numbers.
func (s *RunStats) RunSucceeded(target string, rows, bytes int64, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runsSucceeded++
	s.rowsRead += rows
	s.storesWritten++
	s.bytesWritten += bytes
	s.lastRunAt = time.Now()
	s.lastRunDuration = duration
	s.lastRunTarget = target
}

// RunFailed records a run that errored out.
func (s *RunStats) RunFailed(target string, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runsFailed++
	s.lastRunAt = time.Now()
	s.lastRunDuration = duration
	s.lastRunTarget = target
}

// RecordFilterFlags adds one filter's quality tallies.
func (s *RunStats) RecordFilterFlags(filter string, stars, goodStars int64, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts, ok := s.filterFlags[filter]
	if !ok {
		counts = &FilterFlagCounts{}
		s.filterFlags[filter] = counts
	}
	counts.Stars += stars
	counts.GoodStars += goodStars
	if failed {
		counts.Failures++
	}
}

// RecordDefaultedParam counts a quality parameter that fell back to
// its built-in default.
func (s *RunStats) RecordDefaultedParam(key string) {
	s.mu.Lock()
	s.defaultedParams[key]++
	s.mu.Unlock()
}

// Snapshot returns a deep copy of the current counters.
func (s *RunStats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		RunsStarted:       s.runsStarted,
		RunsSucceeded:     s.runsSucceeded,
		RunsFailed:        s.runsFailed,
		RowsRead:          s.rowsRead,
		StoresWritten:     s.storesWritten,
		BytesWritten:      s.bytesWritten,
		FilterFlags:       make(map[string]FilterFlagCounts, len(s.filterFlags)),
		DefaultedParams:   make(map[string]int64, len(s.defaultedParams)),
		LastRunAt:         s.lastRunAt,
		LastRunDuration:   s.lastRunDuration,
		LastRunDurationMS: s.lastRunDuration.Milliseconds(),
		LastRunTarget:     s.lastRunTarget,
	}
	for filter, counts := range s.filterFlags {
		snap.FilterFlags[filter] = *counts
	}
	for key, count := range s.defaultedParams {
		snap.DefaultedParams[key] = count
	}
	return snap
}

// Reset clears all counters. Test support.
func (s *RunStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runsStarted = 0
	s.runsSucceeded = 0
	s.runsFailed = 0
	s.rowsRead = 0
	s.storesWritten = 0
	s.bytesWritten = 0
	s.filterFlags = make(map[string]*FilterFlagCounts)
	s.defaultedParams = make(map[string]int64)
	s.lastRunAt = time.Time{}
	s.lastRunDuration = 0
	s.lastRunTarget = ""
}

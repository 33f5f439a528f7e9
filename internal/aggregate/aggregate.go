// Package aggregate folds per-worker summaries into job results and job
// results into a timed trial series.
//
// Combining is commutative: elapsed time takes the maximum (the slowest
// participant sets the wall-clock cost), iterations add up, and matches merge
// with keyspace.Merge. Arrival order never changes the result.
package aggregate

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dreamware/keysweep/internal/keyspace"
	"github.com/dreamware/keysweep/internal/search"
)

// JobResult is the outcome of one dynamic run or one static trial.
type JobResult struct {
	Match           keyspace.Match `json:"match"`
	ParallelElapsed time.Duration  `json:"parallel_elapsed"`
	TotalIterations uint64         `json:"total_iterations"`
}

// FromSummary lifts one worker summary into a result.
func FromSummary(s search.Summary) JobResult {
	return JobResult{Match: s.Match, ParallelElapsed: s.Elapsed, TotalIterations: s.Iterations}
}

// Merge combines two results.
func Merge(a, b JobResult) JobResult {
	m, conflict := keyspace.Merge(a.Match, b.Match)
	if conflict {
		log.WithFields(log.Fields{
			"component": "aggregate",
			"keys":      []uint64{a.Match.Key, b.Match.Key},
		}).Warn("participants reported different keys, keeping the larger")
	}
	return JobResult{
		Match:           m,
		ParallelElapsed: max(a.ParallelElapsed, b.ParallelElapsed),
		TotalIterations: a.TotalIterations + b.TotalIterations,
	}
}

// Combine folds every summary into one result.
func Combine(summaries []search.Summary) JobResult {
	var r JobResult
	for _, s := range summaries {
		r = Merge(r, FromSummary(s))
	}
	return r
}

// Series collects the results of repeated trials.
type Series struct {
	results    []JobResult
	match      keyspace.Match
	foundTrial int
}

// Add appends the next trial's result. The first found key sticks.
func (s *Series) Add(r JobResult) {
	s.results = append(s.results, r)
	if !s.match.Found && r.Match.Found {
		s.match = r.Match
		s.foundTrial = len(s.results)
	}
}

// Len returns the number of recorded trials.
func (s *Series) Len() int { return len(s.results) }

// Results returns a copy of the recorded results in trial order.
func (s *Series) Results() []JobResult {
	return append([]JobResult(nil), s.results...)
}

// Mean returns the arithmetic mean parallel elapsed time, zero when empty.
func (s *Series) Mean() time.Duration {
	if len(s.results) == 0 {
		return 0
	}
	var total time.Duration
	for _, r := range s.results {
		total += r.ParallelElapsed
	}
	return total / time.Duration(len(s.results))
}

// Found returns the key from the first trial that found one, and that
// trial's 1-based index (0 when nothing was found).
func (s *Series) Found() (keyspace.Match, int) { return s.match, s.foundTrial }

// Iterations returns the iterations summed over every trial.
func (s *Series) Iterations() uint64 {
	var n uint64
	for _, r := range s.results {
		n += r.TotalIterations
	}
	return n
}

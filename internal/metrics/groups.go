package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SearchMetrics tracks worker hot loops.
type SearchMetrics struct {
	CandidatesTested *prometheus.CounterVec
	ScanDuration     *prometheus.HistogramVec
	Matches          *prometheus.CounterVec
}

func newSearchMetrics(r *Registry) *SearchMetrics {
	return &SearchMetrics{
		CandidatesTested: r.newCounterVec(prometheus.CounterOpts{
			Subsystem: "search",
			Name:      "candidates_tested_total",
			Help:      "Candidate keys passed to the oracle",
		}, []string{"mode"}),
		ScanDuration: r.newHistogramVec(prometheus.HistogramOpts{
			Subsystem: "search",
			Name:      "scan_duration_seconds",
			Help:      "Wall time of one worker run",
		}, []string{"mode"}),
		Matches: r.newCounterVec(prometheus.CounterOpts{
			Subsystem: "search",
			Name:      "matches_total",
			Help:      "Worker runs that ended with a key, by where the key came from",
		}, []string{"source"}),
	}
}

// RecordScan records one finished worker run.
func (m *SearchMetrics) RecordScan(mode string, iterations uint64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CandidatesTested.WithLabelValues(mode).Add(float64(iterations))
	m.ScanDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// RecordMatch counts a run that ended holding a key. source is "self" when
// the worker's own oracle matched and "relay" when it adopted a peer's key.
func (m *SearchMetrics) RecordMatch(source string) {
	if m == nil {
		return
	}
	m.Matches.WithLabelValues(source).Inc()
}

// DispatchMetrics tracks the dynamic coordinator.
type DispatchMetrics struct {
	ChunksDispatched   prometheus.Counter
	KeysDispatched     prometheus.Counter
	FoundNotices       prometheus.Counter
	SummariesCollected prometheus.Counter
	LostWorkers        prometheus.Counter
	ChunksRequeued     prometheus.Counter
	Anomalies          *prometheus.CounterVec
	Remaining          prometheus.Gauge
}

func newDispatchMetrics(r *Registry) *DispatchMetrics {
	return &DispatchMetrics{
		ChunksDispatched: r.newCounter(prometheus.CounterOpts{
			Subsystem: "dispatch",
			Name:      "chunks_dispatched_total",
			Help:      "Non-empty tasks handed to workers",
		}),
		KeysDispatched: r.newCounter(prometheus.CounterOpts{
			Subsystem: "dispatch",
			Name:      "keys_dispatched_total",
			Help:      "Candidate keys covered by dispatched tasks",
		}),
		FoundNotices: r.newCounter(prometheus.CounterOpts{
			Subsystem: "dispatch",
			Name:      "found_notices_total",
			Help:      "Found notifications received, including ignored repeats",
		}),
		SummariesCollected: r.newCounter(prometheus.CounterOpts{
			Subsystem: "dispatch",
			Name:      "summaries_collected_total",
			Help:      "Worker summaries accepted",
		}),
		LostWorkers: r.newCounter(prometheus.CounterOpts{
			Subsystem: "dispatch",
			Name:      "lost_workers_total",
			Help:      "Workers written off after failing health checks",
		}),
		ChunksRequeued: r.newCounter(prometheus.CounterOpts{
			Subsystem: "dispatch",
			Name:      "chunks_requeued_total",
			Help:      "Tasks returned by lost or failed workers and queued again",
		}),
		Anomalies: r.newCounterVec(prometheus.CounterOpts{
			Subsystem: "dispatch",
			Name:      "anomalies_total",
			Help:      "Unexpected messages dropped by the coordinator",
		}, []string{"kind"}),
		Remaining: r.newGauge(prometheus.GaugeOpts{
			Subsystem: "dispatch",
			Name:      "keys_remaining",
			Help:      "Keys not yet dispatched, requeued tasks included",
		}),
	}
}

// RecordChunk counts a dispatched task and the keys still unassigned.
func (m *DispatchMetrics) RecordChunk(count, remaining uint64) {
	if m == nil {
		return
	}
	m.ChunksDispatched.Inc()
	m.KeysDispatched.Add(float64(count))
	m.Remaining.Set(float64(remaining))
}

// RecordFound counts a found notification.
func (m *DispatchMetrics) RecordFound() {
	if m == nil {
		return
	}
	m.FoundNotices.Inc()
}

// RecordSummary counts an accepted summary; lost marks a written-off worker.
func (m *DispatchMetrics) RecordSummary(lost bool) {
	if m == nil {
		return
	}
	m.SummariesCollected.Inc()
	if lost {
		m.LostWorkers.Inc()
	}
}

// RecordRequeue counts a task queued again for another worker.
func (m *DispatchMetrics) RecordRequeue() {
	if m == nil {
		return
	}
	m.ChunksRequeued.Inc()
}

// RecordAnomaly counts a dropped message.
func (m *DispatchMetrics) RecordAnomaly(kind string) {
	if m == nil {
		return
	}
	m.Anomalies.WithLabelValues(kind).Inc()
}

// TrialMetrics tracks job-level timing.
type TrialMetrics struct {
	Duration  *prometheus.HistogramVec
	Completed *prometheus.CounterVec
}

func newTrialMetrics(r *Registry) *TrialMetrics {
	return &TrialMetrics{
		Duration: r.newHistogramVec(prometheus.HistogramOpts{
			Subsystem: "trial",
			Name:      "duration_seconds",
			Help:      "Parallel wall time of a trial (slowest participant)",
		}, []string{"strategy"}),
		Completed: r.newCounterVec(prometheus.CounterOpts{
			Subsystem: "trial",
			Name:      "completed_total",
			Help:      "Finished trials by outcome",
		}, []string{"strategy", "outcome"}),
	}
}

// RecordTrial records one finished trial.
func (m *TrialMetrics) RecordTrial(strategy string, elapsed time.Duration, found bool) {
	if m == nil {
		return
	}
	outcome := "exhausted"
	if found {
		outcome = "found"
	}
	m.Duration.WithLabelValues(strategy).Observe(elapsed.Seconds())
	m.Completed.WithLabelValues(strategy, outcome).Inc()
}

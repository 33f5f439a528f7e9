// Package search runs the hot loop: testing candidate keys against an oracle
// while watching for a key found elsewhere.
//
// A worker runs in one of two modes. In static mode it owns a fixed block of
// the keyspace and talks directly to its peers. In dynamic mode it pulls
// chunks from a coordinator until the coordinator replies with an empty task.
// A static worker polls its peers for a found key after every candidate; a
// dynamic worker finishes each chunk and checks for a relayed key before
// asking for the next. Neither check blocks.
package search

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dreamware/keysweep/internal/keyspace"
	"github.com/dreamware/keysweep/internal/metrics"
	"github.com/dreamware/keysweep/internal/oracle"
)

// Mode labels for logs and metrics.
const (
	ModeStatic     = "static"
	ModeDynamic    = "dynamic"
	ModeSequential = "sequential"
)

// Summary is one worker's account of one run.
type Summary struct {
	Worker     string         `json:"worker"`
	Elapsed    time.Duration  `json:"elapsed"`
	Iterations uint64         `json:"iterations"`
	Match      keyspace.Match `json:"match"`
}

// Peers is a static participant's view of the other participants.
type Peers interface {
	// Announce tells every other participant about key without waiting
	// for delivery.
	Announce(key uint64)
	// Heard returns a key announced by another participant, if any.
	Heard() (uint64, bool)
}

// Dispatcher is a dynamic worker's link to the coordinator.
type Dispatcher interface {
	// RequestChunk blocks until the coordinator assigns a task. An empty
	// task means stop.
	RequestChunk(ctx context.Context) (keyspace.Task, error)
	// ReportFound sends the worker's own match to the coordinator.
	ReportFound(ctx context.Context, key uint64) error
	// ReportSummary delivers the worker's summary once its loop ends.
	ReportSummary(ctx context.Context, s Summary) error
	// Heard returns a key relayed by the coordinator, if any.
	Heard() (uint64, bool)
}

type outcome int

const (
	exhausted outcome = iota
	matched
	relayed
	cancelled
)

// Worker tests candidates against an oracle.
type Worker struct {
	ID      string
	oracle  oracle.Oracle
	metrics *metrics.SearchMetrics
	logger  *log.Entry
}

// NewWorker returns a worker that probes o. A panicking probe counts as no
// match. m may be nil.
func NewWorker(id string, o oracle.Oracle, m *metrics.SearchMetrics) *Worker {
	return &Worker{
		ID:      id,
		oracle:  oracle.Safe(o),
		metrics: m,
		logger:  log.WithFields(log.Fields{"component": "worker", "worker": id}),
	}
}

// scan tests the keys of t in ascending order. It stops at the worker's own
// match, at a key reported by heard, when ctx is done, or at the end of t.
// n counts the candidates actually tested.
func (w *Worker) scan(ctx context.Context, t keyspace.Task, heard func() (uint64, bool)) (n uint64, key uint64, how outcome) {
	if t.Empty() {
		return 0, 0, exhausted
	}
	done := ctx.Done()
	last := t.Last()
	for k := t.Start; ; k++ {
		n++
		if w.oracle.Try(k) {
			return n, k, matched
		}
		if heard != nil {
			if key, ok := heard(); ok {
				return n, key, relayed
			}
		}
		select {
		case <-done:
			return n, 0, cancelled
		default:
		}
		if k == last {
			return n, 0, exhausted
		}
	}
}

// RunStatic scans the worker's block. A match is announced to every peer
// before returning; a key announced by a peer is adopted and ends the scan.
func (w *Worker) RunStatic(ctx context.Context, t keyspace.Task, peers Peers) Summary {
	start := time.Now()
	n, key, how := w.scan(ctx, t, peers.Heard)

	s := Summary{Worker: w.ID, Iterations: n}
	switch how {
	case matched:
		peers.Announce(key)
		s.Match = keyspace.Hit(key)
		w.metrics.RecordMatch("self")
		w.logger.WithFields(log.Fields{"key": key, "block": t.String()}).Info("key found")
	case relayed:
		s.Match = keyspace.Hit(key)
		w.metrics.RecordMatch("relay")
	}
	s.Elapsed = time.Since(start)
	w.metrics.RecordScan(ModeStatic, s.Iterations, s.Elapsed)
	w.logger.WithFields(log.Fields{
		"block":      t.String(),
		"iterations": s.Iterations,
		"elapsed":    s.Elapsed,
		"match":      s.Match.String(),
	}).Debug("static scan finished")
	return s
}

// RunDynamic pulls and scans chunks until the coordinator runs dry, the
// worker matches, or a relayed key arrives. Each chunk is scanned to the end;
// relays are checked only between chunks. The summary is returned even when
// an error ends the loop early.
func (w *Worker) RunDynamic(ctx context.Context, d Dispatcher) (Summary, error) {
	start := time.Now()
	s := Summary{Worker: w.ID}
	finish := func(err error) (Summary, error) {
		s.Elapsed = time.Since(start)
		w.metrics.RecordScan(ModeDynamic, s.Iterations, s.Elapsed)
		w.logger.WithFields(log.Fields{
			"iterations": s.Iterations,
			"elapsed":    s.Elapsed,
			"match":      s.Match.String(),
		}).Debug("dynamic run finished")
		return s, err
	}

	for {
		if key, ok := d.Heard(); ok {
			s.Match = keyspace.Hit(key)
			w.metrics.RecordMatch("relay")
			return finish(nil)
		}

		task, err := d.RequestChunk(ctx)
		if err != nil {
			return finish(err)
		}
		if task.Empty() {
			return finish(nil)
		}

		n, key, how := w.scan(ctx, task, nil)
		s.Iterations += n
		switch how {
		case matched:
			s.Match = keyspace.Hit(key)
			w.metrics.RecordMatch("self")
			w.logger.WithFields(log.Fields{"key": key, "chunk": task.String()}).Info("key found")
			return finish(d.ReportFound(ctx, key))
		case cancelled:
			return finish(ctx.Err())
		}
	}
}

// ServeDynamic runs RunDynamic and always reports the summary, so the
// coordinator can finish even after a failed round trip.
func (w *Worker) ServeDynamic(ctx context.Context, d Dispatcher) (Summary, error) {
	s, runErr := w.RunDynamic(ctx, d)
	reportCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		reportCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	if err := d.ReportSummary(reportCtx, s); err != nil && runErr == nil {
		runErr = err
	}
	return s, runErr
}

// Sequential scans the whole keyspace with a single worker, the fallback for
// a job with one participant.
func Sequential(ctx context.Context, ks keyspace.Keyspace, o oracle.Oracle, m *metrics.SearchMetrics) Summary {
	w := NewWorker("sequential", o, m)
	start := time.Now()
	n, key, how := w.scan(ctx, keyspace.Task{Start: ks.Start, Count: ks.Size()}, nil)

	s := Summary{Worker: w.ID, Iterations: n}
	if how == matched {
		s.Match = keyspace.Hit(key)
		m.RecordMatch("self")
	}
	s.Elapsed = time.Since(start)
	m.RecordScan(ModeSequential, s.Iterations, s.Elapsed)
	return s
}

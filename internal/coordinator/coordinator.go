// Package coordinator implements the dynamic-dispatch side of keysweep.
// See doc.go for complete package documentation.
package coordinator

import (
	"cmp"
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/dreamware/keysweep/internal/aggregate"
	"github.com/dreamware/keysweep/internal/keyspace"
	"github.com/dreamware/keysweep/internal/metrics"
	"github.com/dreamware/keysweep/internal/search"
)

// ErrClosed is returned to callers once the coordinator has stopped.
var ErrClosed = errors.New("coordinator closed")

// State is the coordinator's lifecycle stage.
type State int

const (
	// Dispatching hands out chunks and waits for a match.
	Dispatching State = iota
	// Draining has a key; every request gets the empty task while the
	// remaining summaries arrive.
	Draining
	// Done has every summary and has published its result.
	Done
)

func (s State) String() string {
	switch s {
	case Dispatching:
		return "dispatching"
	case Draining:
		return "draining"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON status replies.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Broadcaster relays the first found key to every worker except the sender.
// Broadcast must not block; slow transports deliver in the background.
type Broadcaster interface {
	Broadcast(key uint64, from string)
}

// BroadcastFunc adapts a function to Broadcaster.
type BroadcastFunc func(key uint64, from string)

// Broadcast calls f(key, from).
func (f BroadcastFunc) Broadcast(key uint64, from string) { f(key, from) }

// Config describes one dynamic run.
type Config struct {
	Keyspace  keyspace.Keyspace
	ChunkSize uint64
	// Workers is the number of summaries the coordinator waits for.
	Workers int
	// Known, when set, rejects messages from workers it returns false for.
	Known func(worker string) bool
	// KeepLedger records every dispatched task in Outcome.Ledger, requeued
	// tasks again each time they go out.
	KeepLedger bool
}

func (c Config) validate() error {
	if err := c.Keyspace.Validate(); err != nil {
		return err
	}
	if c.ChunkSize == 0 {
		return fmt.Errorf("%w: chunk size must be positive", keyspace.ErrInvalid)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: coordinator needs at least one worker, got %d", keyspace.ErrInvalid, c.Workers)
	}
	return nil
}

// FoundReport is one found notification as received.
type FoundReport struct {
	Worker string `json:"worker"`
	Key    uint64 `json:"key"`
}

// Outcome is everything the coordinator learned in one run.
type Outcome struct {
	Result    aggregate.JobResult
	Summaries []search.Summary
	Reports   []FoundReport
	Ledger    []keyspace.Task
	Lost      []string
	// Unsearched lists the tasks nobody finished: chunks held by lost
	// workers with no one left to take them, and any undispatched tail.
	// It is always empty when a key was found.
	Unsearched []keyspace.Task
}

// UnsearchedKeys sums the sizes of o.Unsearched.
func (o Outcome) UnsearchedKeys() uint64 {
	var n uint64
	for _, t := range o.Unsearched {
		n += t.Count
	}
	return n
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	State     State          `json:"state"`
	Next      uint64         `json:"next"`
	Exhausted bool           `json:"exhausted"`
	Match     keyspace.Match `json:"match"`
	Chunks    uint64         `json:"chunks"`
	Summaries int            `json:"summaries"`
	Expected  int            `json:"expected"`
	Requeued  int            `json:"requeued"`
}

type kind int

const (
	kindRequest kind = iota + 1
	kindFound
	kindSummary
	kindLost
	kindRelease
	kindStatus
)

type message struct {
	kind    kind
	worker  string
	key     uint64
	summary search.Summary
	chunk   keyspace.Task
	task    chan keyspace.Task
	status  chan Status
}

// Coordinator owns the keyspace cursor and serves workers from a single
// goroutine (Run). The cursor, the found key and the collected summaries are
// touched only by that goroutine; everything else talks to it through the
// inbox.
type Coordinator struct {
	cfg     Config
	relay   Broadcaster
	metrics *metrics.DispatchMetrics
	logger  *log.Entry

	inbox chan message
	done  chan struct{}

	// Owned by Run.
	state     State
	next      uint64
	exhausted bool
	chunks    uint64
	found     keyspace.Match
	reports   []FoundReport
	summaries map[string]search.Summary
	order     []string
	lost      []string
	ledger    []keyspace.Task
	// held is the last task handed to each worker; it is cleared when the
	// worker asks again. requeue is ordered by Start.
	held    map[string]keyspace.Task
	requeue []keyspace.Task
}

// New validates cfg and returns a coordinator ready to Run. relay and m may
// be nil.
func New(cfg Config, relay Broadcaster, m *metrics.DispatchMetrics) (*Coordinator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if relay == nil {
		relay = BroadcastFunc(func(uint64, string) {})
	}
	return &Coordinator{
		cfg:       cfg,
		relay:     relay,
		metrics:   m,
		logger:    log.WithField("component", "coordinator"),
		inbox:     make(chan message),
		done:      make(chan struct{}),
		next:      cfg.Keyspace.Start,
		summaries: make(map[string]search.Summary, cfg.Workers),
		held:      make(map[string]keyspace.Task, cfg.Workers),
	}, nil
}

// Run serves messages until every worker has reported or ctx ends.
func (c *Coordinator) Run(ctx context.Context) (Outcome, error) {
	defer close(c.done)
	c.logger.WithFields(log.Fields{
		"keyspace": c.cfg.Keyspace.String(),
		"chunk":    c.cfg.ChunkSize,
		"workers":  c.cfg.Workers,
	}).Info("dispatch started")

	for c.state != Done {
		select {
		case <-ctx.Done():
			c.logger.WithError(ctx.Err()).Warn("dispatch aborted")
			return c.outcome(), ctx.Err()
		case msg := <-c.inbox:
			c.handle(msg)
		}
	}

	out := c.outcome()
	c.logger.WithFields(log.Fields{
		"match":      out.Result.Match.String(),
		"iterations": out.Result.TotalIterations,
		"elapsed":    out.Result.ParallelElapsed,
		"chunks":     c.chunks,
	}).Info("dispatch finished")
	return out, nil
}

// Done is closed when Run returns.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

func (c *Coordinator) handle(msg message) {
	if msg.kind == kindStatus {
		msg.status <- c.status()
		return
	}
	if c.cfg.Known != nil && msg.kind != kindLost && !c.cfg.Known(msg.worker) {
		c.anomaly("unknown_worker", msg)
		if msg.task != nil {
			msg.task <- keyspace.Task{}
		}
		return
	}

	switch msg.kind {
	case kindRequest:
		msg.task <- c.onRequest(msg.worker)
	case kindFound:
		c.onFound(msg.worker, msg.key)
	case kindSummary:
		c.onSummary(msg.worker, msg.summary, false)
	case kindLost:
		c.onSummary(msg.worker, search.Summary{Worker: msg.worker}, true)
	case kindRelease:
		if c.held[msg.worker] == msg.chunk {
			c.release(msg.worker, "request abandoned")
		}
	default:
		c.anomaly("unknown_kind", msg)
	}
}

// onRequest treats a new request as proof the worker finished its previous
// task. A worker that has already reported, or was written off, gets no more
// work.
func (c *Coordinator) onRequest(worker string) keyspace.Task {
	delete(c.held, worker)
	if _, done := c.summaries[worker]; done {
		c.anomaly("request_after_summary", message{kind: kindRequest, worker: worker})
		return keyspace.Task{}
	}
	t := c.assign()
	if !t.Empty() {
		c.held[worker] = t
	}
	return t
}

// assign hands out a requeued task if there is one, then the next chunk, or
// the empty task once a key is known or the keyspace has run out.
func (c *Coordinator) assign() keyspace.Task {
	if c.found.Found {
		return keyspace.Task{}
	}
	var t keyspace.Task
	switch {
	case len(c.requeue) > 0:
		t = c.requeue[0]
		c.requeue = slices.Delete(c.requeue, 0, 1)
	case c.exhausted:
		return keyspace.Task{}
	default:
		remaining := c.cfg.Keyspace.End - c.next + 1
		t = keyspace.Task{Start: c.next, Count: min(remaining, c.cfg.ChunkSize)}
		if t.Count == remaining {
			c.exhausted = true
		} else {
			c.next += t.Count
		}
	}
	c.chunks++
	if c.cfg.KeepLedger {
		c.ledger = append(c.ledger, t)
	}
	c.metrics.RecordChunk(t.Count, c.remaining())
	return t
}

// release puts the task worker holds back in the queue, unless a key is
// already known and nobody needs it.
func (c *Coordinator) release(worker, why string) {
	t, ok := c.held[worker]
	if !ok {
		return
	}
	delete(c.held, worker)
	if c.found.Found {
		return
	}
	c.requeue = append(c.requeue, t)
	slices.SortFunc(c.requeue, byStart)
	c.metrics.RecordRequeue()
	c.logger.WithFields(log.Fields{"worker": worker, "chunk": t.String(), "reason": why}).
		Warn("chunk requeued")
}

func byStart(a, b keyspace.Task) int { return cmp.Compare(a.Start, b.Start) }

// remaining counts keys not yet handed out, requeued tasks included.
func (c *Coordinator) remaining() uint64 {
	var n uint64
	if !c.exhausted {
		n = c.cfg.Keyspace.End - c.next + 1
	}
	for _, t := range c.requeue {
		n += t.Count
	}
	return n
}

func (c *Coordinator) onFound(worker string, key uint64) {
	c.reports = append(c.reports, FoundReport{Worker: worker, Key: key})
	c.metrics.RecordFound()
	if c.found.Found {
		c.logger.WithFields(log.Fields{"worker": worker, "key": key, "first": c.found.Key}).
			Info("later found notice recorded")
		return
	}
	c.found = keyspace.Hit(key)
	c.state = Draining
	c.logger.WithFields(log.Fields{"worker": worker, "key": key}).Info("key found, relaying to workers")
	c.relay.Broadcast(key, worker)
}

func (c *Coordinator) onSummary(worker string, s search.Summary, lost bool) {
	if _, dup := c.summaries[worker]; dup {
		if !lost {
			c.anomaly("duplicate_summary", message{kind: kindSummary, worker: worker})
		}
		return
	}
	s.Worker = worker
	c.summaries[worker] = s
	c.order = append(c.order, worker)
	if lost {
		c.lost = append(c.lost, worker)
		c.logger.WithField("worker", worker).Warn("worker lost, counting an empty summary")
		c.release(worker, "worker lost")
	} else {
		// A worker that stops while holding a task without a match did not
		// finish it.
		c.release(worker, "worker stopped early")
	}
	c.metrics.RecordSummary(lost)
	if len(c.summaries) >= c.cfg.Workers {
		c.state = Done
	}
}

func (c *Coordinator) anomaly(kind string, msg message) {
	c.metrics.RecordAnomaly(kind)
	c.logger.WithFields(log.Fields{"anomaly": kind, "worker": msg.worker, "kind": int(msg.kind)}).
		Warn("dropping unexpected message")
}

func (c *Coordinator) status() Status {
	return Status{
		State:     c.state,
		Next:      c.next,
		Exhausted: c.exhausted,
		Match:     c.found,
		Chunks:    c.chunks,
		Summaries: len(c.summaries),
		Expected:  c.cfg.Workers,
		Requeued:  len(c.requeue),
	}
}

func (c *Coordinator) outcome() Outcome {
	summaries := make([]search.Summary, 0, len(c.order))
	for _, id := range c.order {
		summaries = append(summaries, c.summaries[id])
	}
	res := aggregate.Combine(summaries)
	if c.found.Found {
		res.Match = c.found
	}
	out := Outcome{
		Result:    res,
		Summaries: summaries,
		Reports:   append([]FoundReport(nil), c.reports...),
		Ledger:    append([]keyspace.Task(nil), c.ledger...),
		Lost:      append([]string(nil), c.lost...),
	}
	if !c.found.Found {
		out.Unsearched = append(out.Unsearched, c.requeue...)
		for _, t := range c.held {
			out.Unsearched = append(out.Unsearched, t)
		}
		if !c.exhausted {
			out.Unsearched = append(out.Unsearched, keyspace.Task{Start: c.next, Count: c.cfg.Keyspace.End - c.next + 1})
		}
		slices.SortFunc(out.Unsearched, byStart)
	}
	return out
}

func (c *Coordinator) send(ctx context.Context, msg message) error {
	select {
	case c.inbox <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestChunk asks for the next task on behalf of worker. Once the
// coordinator has stopped it returns the empty task. If ctx ends after the
// request went in, the task is handed back so another worker can take it.
func (c *Coordinator) RequestChunk(ctx context.Context, worker string) (keyspace.Task, error) {
	reply := make(chan keyspace.Task, 1)
	if err := c.send(ctx, message{kind: kindRequest, worker: worker, task: reply}); err != nil {
		if errors.Is(err, ErrClosed) {
			return keyspace.Task{}, nil
		}
		return keyspace.Task{}, err
	}
	select {
	case t := <-reply:
		if err := ctx.Err(); err != nil {
			c.abandon(worker, t)
			return keyspace.Task{}, err
		}
		return t, nil
	case <-ctx.Done():
		// The actor answers every request it accepted.
		c.abandon(worker, <-reply)
		return keyspace.Task{}, ctx.Err()
	}
}

func (c *Coordinator) abandon(worker string, t keyspace.Task) {
	if t.Empty() {
		return
	}
	_ = c.send(context.Background(), message{kind: kindRelease, worker: worker, chunk: t})
}

// ReportFound delivers worker's match.
func (c *Coordinator) ReportFound(ctx context.Context, worker string, key uint64) error {
	return c.send(ctx, message{kind: kindFound, worker: worker, key: key})
}

// ReportSummary delivers worker's final summary.
func (c *Coordinator) ReportSummary(ctx context.Context, worker string, s search.Summary) error {
	return c.send(ctx, message{kind: kindSummary, worker: worker, summary: s})
}

// MarkLost writes worker off: it counts as having reported an empty summary
// and any task it holds is requeued. A worker that already reported is
// unaffected. worker need not pass Config.Known, so a slot nobody registered
// for can be written off under any unused name.
func (c *Coordinator) MarkLost(ctx context.Context, worker string) error {
	return c.send(ctx, message{kind: kindLost, worker: worker})
}

// Status queries the running coordinator.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if err := c.send(ctx, message{kind: kindStatus, status: reply}); err != nil {
		return Status{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

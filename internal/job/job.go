// Package job runs one complete search: it validates the configuration,
// starts the participants for the chosen strategy, times the trials and
// publishes exactly one final report.
package job

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/keysweep/internal/aggregate"
	"github.com/dreamware/keysweep/internal/config"
	"github.com/dreamware/keysweep/internal/coordinator"
	"github.com/dreamware/keysweep/internal/keyspace"
	"github.com/dreamware/keysweep/internal/mesh"
	"github.com/dreamware/keysweep/internal/metrics"
	"github.com/dreamware/keysweep/internal/oracle"
	"github.com/dreamware/keysweep/internal/search"
)

// Options carries the optional collaborators of a run.
type Options struct {
	// Sink receives trial and final reports. Nil discards them.
	Sink aggregate.Sink
	// Metrics may be nil.
	Metrics *metrics.Registry
	// Decrypter and Payload render the plaintext once a key is found.
	Decrypter oracle.Decrypter
	Payload   []byte
	// KeepLedger records the dynamic chunk ledger in Outcome.Ledger.
	KeepLedger bool
}

// Outcome is the result of a finished job.
type Outcome struct {
	ID        string
	Strategy  config.Strategy
	Results   []aggregate.JobResult
	Average   time.Duration
	Match     keyspace.Match
	Plaintext []byte
	Truncated bool
	Ledger    []keyspace.Task
}

type runner struct {
	id   string
	cfg  config.JobConfig
	o    oracle.Oracle
	opts Options
	log  *log.Entry
}

// Run executes cfg against o. A configuration error is returned before any
// participant starts.
func Run(ctx context.Context, cfg config.JobConfig, o oracle.Oracle, opts Options) (Outcome, error) {
	if err := cfg.Validate(); err != nil {
		return Outcome{}, err
	}
	if o == nil {
		return Outcome{}, fmt.Errorf("%w: no oracle", config.ErrConfiguration)
	}
	if opts.Sink == nil {
		opts.Sink = aggregate.Discard{}
	}

	r := &runner{id: uuid.NewString(), cfg: cfg, o: o, opts: opts}
	r.log = log.WithFields(log.Fields{
		"component":    "job",
		"job":          r.id,
		"strategy":     cfg.Strategy,
		"participants": cfg.Participants,
		"keyspace":     cfg.Keyspace().String(),
	})
	r.log.Info("job started")

	var (
		series aggregate.Series
		ledger []keyspace.Task
		err    error
	)
	switch cfg.Strategy {
	case config.Dynamic:
		ledger, err = r.dynamic(ctx, &series)
	default:
		err = r.static(ctx, &series)
	}
	if err != nil {
		r.log.WithError(err).Error("job failed")
		return Outcome{}, err
	}

	out := Outcome{
		ID:       r.id,
		Strategy: cfg.Strategy,
		Results:  series.Results(),
		Average:  series.Mean(),
		Ledger:   ledger,
	}
	out.Match, _ = series.Found()
	r.render(&out)

	r.opts.Sink.Final(aggregate.FinalReport{
		Strategy:     string(cfg.Strategy),
		Participants: cfg.Participants,
		ChunkSize:    cfg.ChunkSize,
		Trials:       series.Len(),
		Average:      out.Average,
		Iterations:   series.Iterations(),
		Match:        out.Match,
		Plaintext:    out.Plaintext,
		Truncated:    out.Truncated,
	})
	r.log.WithFields(log.Fields{"match": out.Match.String(), "average": out.Average}).Info("job finished")
	return out, nil
}

// static runs every trial on an in-process group. Participant 0 records
// the trials; the others only contribute.
func (r *runner) static(ctx context.Context, series *aggregate.Series) error {
	n := r.cfg.Participants
	blocks, err := keyspace.PartitionAll(r.cfg.Keyspace(), n)
	if err != nil {
		return err
	}
	group, err := mesh.NewGroup(n)
	if err != nil {
		return err
	}
	defer group.Close()

	eg, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		peer, block := group.Peer(i), blocks[i]
		w := search.NewWorker(fmt.Sprintf("participant-%d", i), r.o, r.opts.Metrics.SearchMetrics())
		eg.Go(func() error {
			return r.participate(gctx, w, peer, block, series)
		})
	}
	return eg.Wait()
}

func (r *runner) participate(ctx context.Context, w *search.Worker, peer *mesh.Peer, block keyspace.Task, series *aggregate.Series) error {
	for trial := 1; trial <= r.cfg.Repetitions; trial++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := peer.Barrier(ctx); err != nil {
			return err
		}
		s := w.RunStatic(ctx, block, peer)
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := peer.AllReduce(ctx, aggregate.FromSummary(s))
		if err != nil {
			return err
		}
		if err := peer.Barrier(ctx); err != nil {
			return err
		}
		peer.EndTrial()

		if peer.Index() == 0 {
			series.Add(res)
			r.opts.Metrics.TrialMetrics().RecordTrial(string(config.Static), res.ParallelElapsed, res.Match.Found)
			r.opts.Sink.Trial(aggregate.TrialReport{
				Trial:      trial,
				Elapsed:    res.ParallelElapsed,
				Iterations: res.TotalIterations,
				Match:      res.Match,
			})
			r.log.WithFields(log.Fields{"trial": trial, "match": res.Match.String(), "elapsed": res.ParallelElapsed}).
				Debug("trial finished")
		}
	}
	return nil
}

// dynamic runs one pass: a local coordinator and Participants-1 workers, or
// a sequential scan when there is only one participant.
func (r *runner) dynamic(ctx context.Context, series *aggregate.Series) ([]keyspace.Task, error) {
	if r.cfg.Repetitions > 1 {
		r.log.WithField("repetitions", r.cfg.Repetitions).Debug("dynamic strategy runs a single pass")
	}
	var (
		res    aggregate.JobResult
		ledger []keyspace.Task
	)
	if r.cfg.Participants == 1 {
		s := search.Sequential(ctx, r.cfg.Keyspace(), r.o, r.opts.Metrics.SearchMetrics())
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res = aggregate.FromSummary(s)
	} else {
		ids := make([]string, r.cfg.Participants-1)
		for i := range ids {
			ids[i] = fmt.Sprintf("worker-%d", i+1)
		}
		c, links, err := coordinator.NewLocal(coordinator.Config{
			Keyspace:   r.cfg.Keyspace(),
			ChunkSize:  r.cfg.ChunkSize,
			KeepLedger: r.opts.KeepLedger,
		}, ids, r.opts.Metrics.DispatchMetrics())
		if err != nil {
			return nil, err
		}

		eg, gctx := errgroup.WithContext(ctx)
		var out coordinator.Outcome
		eg.Go(func() error {
			var err error
			out, err = c.Run(gctx)
			return err
		})
		for _, l := range links {
			l := l
			w := search.NewWorker(l.ID(), r.o, r.opts.Metrics.SearchMetrics())
			eg.Go(func() error {
				_, err := w.ServeDynamic(gctx, l)
				return err
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
		res, ledger = out.Result, out.Ledger
	}

	series.Add(res)
	r.opts.Metrics.TrialMetrics().RecordTrial(string(config.Dynamic), res.ParallelElapsed, res.Match.Found)
	return ledger, nil
}

func (r *runner) render(out *Outcome) {
	if !out.Match.Found {
		return
	}
	out.Plaintext, out.Truncated = Render(r.opts.Decrypter, r.opts.Payload, out.Match.Key)
}

// Render decrypts payload under key for display: the plaintext ends at its
// first NUL byte. Payloads larger than oracle.MaxPayload are not decrypted
// and report truncated. A nil decrypter or payload renders nothing.
func Render(d oracle.Decrypter, payload []byte, key uint64) (plaintext []byte, truncated bool) {
	if d == nil || payload == nil {
		return nil, false
	}
	if len(payload) > oracle.MaxPayload {
		return nil, true
	}
	pt := d.Decrypt(key, payload)
	if i := bytes.IndexByte(pt, 0); i >= 0 {
		pt = pt[:i]
	}
	return pt, false
}

package coordinator

import (
	"context"
	"fmt"

	"github.com/dreamware/keysweep/internal/keyspace"
	"github.com/dreamware/keysweep/internal/metrics"
	"github.com/dreamware/keysweep/internal/search"
)

// Link is an in-process worker's handle on a Coordinator. It implements
// search.Dispatcher.
type Link struct {
	id     string
	coord  *Coordinator
	signal *search.Signal
}

var _ search.Dispatcher = (*Link)(nil)

// ID returns the worker this link speaks for.
func (l *Link) ID() string { return l.id }

// RequestChunk implements search.Dispatcher.
func (l *Link) RequestChunk(ctx context.Context) (keyspace.Task, error) {
	return l.coord.RequestChunk(ctx, l.id)
}

// ReportFound implements search.Dispatcher.
func (l *Link) ReportFound(ctx context.Context, key uint64) error {
	return l.coord.ReportFound(ctx, l.id, key)
}

// ReportSummary implements search.Dispatcher.
func (l *Link) ReportSummary(ctx context.Context, s search.Summary) error {
	return l.coord.ReportSummary(ctx, l.id, s)
}

// Heard implements search.Dispatcher.
func (l *Link) Heard() (uint64, bool) { return l.signal.Poll() }

// signals fires the per-worker signal of everyone but the sender.
type signals map[string]*search.Signal

func (s signals) Broadcast(key uint64, from string) {
	for id, sig := range s {
		if id != from {
			sig.Fire(key)
		}
	}
}

// NewLocal builds a coordinator serving the in-process workers ids, and one
// Link per worker in the same order. cfg.Workers and cfg.Known are derived
// from ids.
func NewLocal(cfg Config, ids []string, m *metrics.DispatchMetrics) (*Coordinator, []*Link, error) {
	sigs := make(signals, len(ids))
	for _, id := range ids {
		if _, dup := sigs[id]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate worker id %q", keyspace.ErrInvalid, id)
		}
		sigs[id] = search.NewSignal()
	}
	cfg.Workers = len(ids)
	cfg.Known = func(id string) bool { _, ok := sigs[id]; return ok }

	c, err := New(cfg, sigs, m)
	if err != nil {
		return nil, nil, err
	}
	links := make([]*Link, len(ids))
	for i, id := range ids {
		links[i] = &Link{id: id, coord: c, signal: sigs[id]}
	}
	return c, links, nil
}

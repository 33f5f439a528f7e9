// Package mesh connects the participants of a static run. Each participant
// holds a Peer and uses it to announce a found key to the others and to meet
// them at barriers and all-reduce points between trials.
//
// Announcements are fire-and-forget. They go into each receiver's buffered
// inbox, tagged with the sender's trial number; a full inbox drops the
// notice, which is safe because the same key also travels through the trial's
// all-reduce. Heard discards notices from earlier trials, so a key found late
// in trial k never cuts trial k+1 short.
//
// Barriers and all-reduces are rendezvous points served by one collective
// goroutine per group. Every participant must arrive before any leaves.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dreamware/keysweep/internal/aggregate"
	"github.com/dreamware/keysweep/internal/keyspace"
	"github.com/dreamware/keysweep/internal/search"
)

var (
	// ErrGroupClosed is returned to participants blocked in, or arriving at,
	// a collective after Close.
	ErrGroupClosed = errors.New("mesh: group closed")
	// ErrMismatch is returned when participants meet at different kinds of
	// collective in the same round.
	ErrMismatch = errors.New("mesh: participants disagree on collective")
)

// Contribution is what each participant brings to an all-reduce. Matches
// merge with keyspace.Merge, elapsed takes the max, iterations add up.
type Contribution = aggregate.JobResult

type op int

const (
	opBarrier op = iota + 1
	opReduce
)

type notice struct {
	trial uint64
	key   uint64
	from  int
}

type arrival struct {
	peer  int
	op    op
	value Contribution
	reply chan result
}

type result struct {
	value Contribution
	err   error
}

// Group is a fixed set of n participants.
type Group struct {
	n       int
	inboxes []chan notice
	arrive  chan arrival
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	peers   []*Peer
	logger  *log.Entry
}

// NewGroup starts a group of n participants. Close it when the run ends.
func NewGroup(n int) (*Group, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: group needs at least one participant, got %d", keyspace.ErrInvalid, n)
	}
	g := &Group{
		n:       n,
		inboxes: make([]chan notice, n),
		arrive:  make(chan arrival),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		peers:   make([]*Peer, n),
		logger:  log.WithFields(log.Fields{"component": "mesh", "participants": n}),
	}
	for i := range g.inboxes {
		g.inboxes[i] = make(chan notice, n)
		g.peers[i] = &Peer{group: g, index: i}
	}
	go g.collect()
	return g, nil
}

// Size returns the number of participants.
func (g *Group) Size() int { return g.n }

// Peer returns participant i's endpoint. A Peer belongs to one goroutine.
func (g *Group) Peer(i int) *Peer { return g.peers[i] }

// Close stops the collective goroutine. It is safe to call more than once.
func (g *Group) Close() {
	g.once.Do(func() { close(g.quit) })
	<-g.done
}

// collect serves one round at a time: it gathers an arrival from every
// participant, combines the contributions and answers them all.
func (g *Group) collect() {
	defer close(g.done)
	pending := make([]arrival, 0, g.n)
	for {
		select {
		case <-g.quit:
			for _, a := range pending {
				a.reply <- result{err: ErrGroupClosed}
			}
			return
		case a := <-g.arrive:
			pending = append(pending, a)
			if len(pending) < g.n {
				continue
			}
			res := g.combine(pending)
			for _, a := range pending {
				a.reply <- res
			}
			pending = pending[:0]
		}
	}
}

func (g *Group) combine(round []arrival) result {
	var acc Contribution
	for _, a := range round {
		if a.op != round[0].op {
			g.logger.WithFields(log.Fields{"peer": a.peer, "op": int(a.op), "expected": int(round[0].op)}).
				Error("collective mismatch")
			return result{err: ErrMismatch}
		}
		acc = aggregate.Merge(acc, a.value)
	}
	return result{value: acc}
}

// Peer is one participant's endpoint. It implements search.Peers.
type Peer struct {
	group *Group
	index int
	trial uint64
	held  *notice
}

var _ search.Peers = (*Peer)(nil)

// Index returns the participant's position in the group.
func (p *Peer) Index() int { return p.index }

// Trial returns the current trial tag.
func (p *Peer) Trial() uint64 { return p.trial }

// Announce sends key to every other participant without blocking.
func (p *Peer) Announce(key uint64) {
	n := notice{trial: p.trial, key: key, from: p.index}
	for i, inbox := range p.group.inboxes {
		if i == p.index {
			continue
		}
		select {
		case inbox <- n:
		default:
			p.group.logger.WithFields(log.Fields{"from": p.index, "to": i}).Debug("inbox full, notice dropped")
		}
	}
}

// Heard returns a key announced by another participant during the current
// trial, if one has arrived. It never blocks.
func (p *Peer) Heard() (uint64, bool) {
	if p.held != nil && p.held.trial == p.trial {
		return p.held.key, true
	}
	inbox := p.group.inboxes[p.index]
	for {
		select {
		case n := <-inbox:
			switch {
			case n.trial == p.trial:
				p.held = &n
				return n.key, true
			case n.trial > p.trial:
				p.held = &n
			}
		default:
			return 0, false
		}
	}
}

// EndTrial discards every pending notice of the current trial and advances
// the trial tag. Call it after the trial's final barrier.
func (p *Peer) EndTrial() {
	inbox := p.group.inboxes[p.index]
	for drained := false; !drained; {
		select {
		case n := <-inbox:
			if n.trial > p.trial {
				p.held = &n
			}
		default:
			drained = true
		}
	}
	if p.held != nil && p.held.trial <= p.trial {
		p.held = nil
	}
	p.trial++
}

// Barrier blocks until every participant has arrived.
func (p *Peer) Barrier(ctx context.Context) error {
	_, err := p.meet(ctx, opBarrier, Contribution{})
	return err
}

// AllReduce contributes c and returns the combination of every participant's
// contribution. Every participant receives the same value.
func (p *Peer) AllReduce(ctx context.Context, c Contribution) (Contribution, error) {
	return p.meet(ctx, opReduce, c)
}

func (p *Peer) meet(ctx context.Context, o op, c Contribution) (Contribution, error) {
	g := p.group
	reply := make(chan result, 1)
	select {
	case g.arrive <- arrival{peer: p.index, op: o, value: c, reply: reply}:
	case <-g.done:
		return Contribution{}, ErrGroupClosed
	case <-ctx.Done():
		return Contribution{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.value, r.err
	case <-g.done:
		// collect answers pending arrivals before closing done.
		select {
		case r := <-reply:
			return r.value, r.err
		default:
			return Contribution{}, ErrGroupClosed
		}
	case <-ctx.Done():
		return Contribution{}, ctx.Err()
	}
}

package search

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/keysweep/internal/keyspace"
	"github.com/dreamware/keysweep/internal/oracle"
)

// fakePeers records announcements and replays a key once heardAfter polls
// have happened.
type fakePeers struct {
	announced  []uint64
	heardKey   uint64
	heardAfter int
	polls      int
}

func (p *fakePeers) Announce(key uint64) { p.announced = append(p.announced, key) }

func (p *fakePeers) Heard() (uint64, bool) {
	p.polls++
	if p.heardAfter > 0 && p.polls >= p.heardAfter {
		return p.heardKey, true
	}
	return 0, false
}

// scriptedDispatcher hands out a fixed list of tasks, then empty tasks.
type scriptedDispatcher struct {
	mu        sync.Mutex
	tasks     []keyspace.Task
	requests  int
	found     []uint64
	summaries []Summary
	signal    *Signal
	failAt    int
}

func (d *scriptedDispatcher) RequestChunk(context.Context) (keyspace.Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests++
	if d.failAt > 0 && d.requests == d.failAt {
		return keyspace.Task{}, errors.New("coordinator unreachable")
	}
	if len(d.tasks) == 0 {
		return keyspace.Task{}, nil
	}
	t := d.tasks[0]
	d.tasks = d.tasks[1:]
	return t, nil
}

func (d *scriptedDispatcher) ReportFound(_ context.Context, key uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.found = append(d.found, key)
	return nil
}

func (d *scriptedDispatcher) ReportSummary(_ context.Context, s Summary) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.summaries = append(d.summaries, s)
	return nil
}

func (d *scriptedDispatcher) Heard() (uint64, bool) {
	if d.signal == nil {
		return 0, false
	}
	return d.signal.Poll()
}

func TestRunStaticFindsKey(t *testing.T) {
	w := NewWorker("w2", oracle.Equals(9), nil)
	peers := &fakePeers{}

	s := w.RunStatic(context.Background(), keyspace.Task{Start: 8, Count: 4}, peers)

	assert.Equal(t, keyspace.Hit(9), s.Match)
	assert.Equal(t, uint64(2), s.Iterations, "8 and 9 tested")
	assert.Equal(t, []uint64{9}, peers.announced)
	assert.Equal(t, "w2", s.Worker)
}

func TestRunStaticAdoptsPeerKey(t *testing.T) {
	w := NewWorker("w0", oracle.Never(), nil)
	peers := &fakePeers{heardKey: 9, heardAfter: 3}

	s := w.RunStatic(context.Background(), keyspace.Task{Start: 0, Count: 4}, peers)

	assert.Equal(t, keyspace.Hit(9), s.Match)
	assert.Equal(t, uint64(3), s.Iterations)
	assert.Empty(t, peers.announced, "adopted keys are not re-announced")
}

func TestRunStaticExhausted(t *testing.T) {
	w := NewWorker("w1", oracle.Never(), nil)
	s := w.RunStatic(context.Background(), keyspace.Task{Start: 4, Count: 4}, &fakePeers{})
	assert.False(t, s.Match.Found)
	assert.Equal(t, uint64(4), s.Iterations)
}

func TestRunStaticEmptyBlockNeverProbes(t *testing.T) {
	probes := 0
	w := NewWorker("w9", oracle.OracleFunc(func(uint64) bool { probes++; return true }), nil)
	s := w.RunStatic(context.Background(), keyspace.Task{Start: 3}, &fakePeers{})
	assert.Zero(t, probes)
	assert.Zero(t, s.Iterations)
	assert.False(t, s.Match.Found)
}

func TestRunStaticTopOfRange(t *testing.T) {
	w := NewWorker("w0", oracle.Never(), nil)
	s := w.RunStatic(context.Background(), keyspace.Task{Start: math.MaxUint64 - 2, Count: 3}, &fakePeers{})
	assert.Equal(t, uint64(3), s.Iterations, "loop must stop at 2^64-1 without wrapping")
}

func TestRunStaticHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := NewWorker("w0", oracle.Never(), nil)
	s := w.RunStatic(ctx, keyspace.Task{Start: 0, Count: 1_000_000}, &fakePeers{})
	assert.Equal(t, uint64(1), s.Iterations)
}

func TestRunStaticSurvivesPanickingOracle(t *testing.T) {
	w := NewWorker("w0", oracle.OracleFunc(func(key uint64) bool {
		if key%2 == 0 {
			panic("bad block")
		}
		return key == 5
	}), nil)
	s := w.RunStatic(context.Background(), keyspace.Task{Start: 0, Count: 10}, &fakePeers{})
	assert.Equal(t, keyspace.Hit(5), s.Match)
}

func TestRunDynamicScansChunks(t *testing.T) {
	d := &scriptedDispatcher{tasks: []keyspace.Task{{Start: 0, Count: 10}, {Start: 10, Count: 10}}}
	w := NewWorker("w1", oracle.Equals(14), nil)

	s, err := w.ServeDynamic(context.Background(), d)
	require.NoError(t, err)

	assert.Equal(t, keyspace.Hit(14), s.Match)
	assert.Equal(t, uint64(15), s.Iterations)
	assert.Equal(t, []uint64{14}, d.found)
	require.Len(t, d.summaries, 1)
	assert.Equal(t, s, d.summaries[0])
}

func TestRunDynamicStopsOnEmptyTask(t *testing.T) {
	d := &scriptedDispatcher{tasks: []keyspace.Task{{Start: 0, Count: 5}}}
	w := NewWorker("w1", oracle.Never(), nil)

	s, err := w.RunDynamic(context.Background(), d)
	require.NoError(t, err)
	assert.False(t, s.Match.Found)
	assert.Equal(t, uint64(5), s.Iterations)
	assert.Equal(t, 2, d.requests)
	assert.Empty(t, d.found)
}

func TestRunDynamicRelayedKey(t *testing.T) {
	sig := NewSignal()
	probes := 0
	o := oracle.OracleFunc(func(key uint64) bool {
		probes++
		if key == 3 {
			sig.Fire(777)
		}
		return false
	})
	d := &scriptedDispatcher{tasks: []keyspace.Task{{Start: 0, Count: 100}, {Start: 100, Count: 100}}, signal: sig}
	w := NewWorker("w1", o, nil)

	s, err := w.RunDynamic(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, keyspace.Hit(777), s.Match)
	assert.Equal(t, uint64(100), s.Iterations, "the current chunk is finished before the relay is seen")
	assert.Equal(t, 100, probes)
	assert.Equal(t, 1, d.requests, "no chunk is requested after the relay")
	assert.Empty(t, d.found)
}

// TestRelayDeliveredTwice shows a duplicate relay leaves the summary as it
// would be after a single delivery.
func TestRelayDeliveredTwice(t *testing.T) {
	run := func(deliveries int) Summary {
		sig := NewSignal()
		o := oracle.OracleFunc(func(key uint64) bool {
			if key == 2 {
				for i := 0; i < deliveries; i++ {
					sig.Fire(42)
				}
			}
			return false
		})
		d := &scriptedDispatcher{tasks: []keyspace.Task{{Start: 0, Count: 10}}, signal: sig}
		s, err := NewWorker("w", o, nil).RunDynamic(context.Background(), d)
		require.NoError(t, err)
		return s
	}

	once, twice := run(1), run(2)
	assert.Equal(t, once.Match, twice.Match)
	assert.Equal(t, once.Iterations, twice.Iterations)
}

func TestRunDynamicRequestError(t *testing.T) {
	d := &scriptedDispatcher{tasks: []keyspace.Task{{Start: 0, Count: 3}}, failAt: 2}
	w := NewWorker("w1", oracle.Never(), nil)

	s, err := w.ServeDynamic(context.Background(), d)
	assert.Error(t, err)
	assert.Equal(t, uint64(3), s.Iterations)
	assert.Len(t, d.summaries, 1, "summary still delivered")
}

func TestRunDynamicContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o := oracle.OracleFunc(func(key uint64) bool {
		if key == 5 {
			cancel()
		}
		return false
	})
	d := &scriptedDispatcher{tasks: []keyspace.Task{{Start: 0, Count: 100}}}

	s, err := NewWorker("w", o, nil).ServeDynamic(ctx, d)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(6), s.Iterations)
	assert.Len(t, d.summaries, 1)
}

func TestSequential(t *testing.T) {
	s := Sequential(context.Background(), keyspace.Keyspace{Start: 0, End: 999}, oracle.Equals(427), nil)
	assert.Equal(t, keyspace.Hit(427), s.Match)
	assert.Equal(t, uint64(428), s.Iterations)

	s = Sequential(context.Background(), keyspace.Keyspace{Start: 0, End: 999}, oracle.Never(), nil)
	assert.False(t, s.Match.Found)
	assert.Equal(t, uint64(1000), s.Iterations)

	s = Sequential(context.Background(), keyspace.Keyspace{Start: 0, End: 10}, oracle.Equals(0), nil)
	assert.Equal(t, keyspace.Hit(0), s.Match, "key 0 is reported as found")
}

func TestSignal(t *testing.T) {
	s := NewSignal()
	_, ok := s.Poll()
	assert.False(t, ok)

	assert.True(t, s.Fire(5))
	assert.False(t, s.Fire(6), "second fire is ignored")

	key, ok := s.Poll()
	assert.True(t, ok)
	assert.Equal(t, uint64(5), key)

	select {
	case <-s.Done():
	default:
		t.Fatal("Done must be closed after Fire")
	}
}

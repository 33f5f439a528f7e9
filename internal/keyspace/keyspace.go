package keyspace

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalid is returned (wrapped) for bounds or partition arguments that
// cannot describe a search.
var ErrInvalid = errors.New("invalid keyspace")

// MaxKey56 is the largest 56-bit key, the default upper bound for DES searches.
const MaxKey56 = uint64(1)<<56 - 1

// Keyspace is an inclusive range of candidate keys.
type Keyspace struct {
	Start uint64 `json:"start" yaml:"start"`
	End   uint64 `json:"end" yaml:"end"`
}

// Validate reports whether the keyspace holds at least one key and no more
// than math.MaxUint64 keys.
func (k Keyspace) Validate() error {
	if k.End < k.Start {
		return fmt.Errorf("%w: end %d < start %d", ErrInvalid, k.End, k.Start)
	}
	if k.Start == 0 && k.End == math.MaxUint64 {
		return fmt.Errorf("%w: [0, 2^64-1] is not countable in 64 bits", ErrInvalid)
	}
	return nil
}

// Size returns the number of keys in the keyspace, or 0 when End < Start.
func (k Keyspace) Size() uint64 {
	if k.End < k.Start {
		return 0
	}
	return k.End - k.Start + 1
}

// Contains reports whether key lies inside the keyspace.
func (k Keyspace) Contains(key uint64) bool {
	return key >= k.Start && key <= k.End
}

func (k Keyspace) String() string {
	return fmt.Sprintf("[%d, %d]", k.Start, k.End)
}

// Task is a contiguous run of Count keys beginning at Start.
// A zero Count means there is nothing to do.
type Task struct {
	Start uint64 `json:"start"`
	Count uint64 `json:"count"`
}

// Empty reports whether the task carries no keys.
func (t Task) Empty() bool { return t.Count == 0 }

// Last returns the final key of a non-empty task.
func (t Task) Last() uint64 { return t.Start + t.Count - 1 }

func (t Task) String() string {
	if t.Empty() {
		return "[]"
	}
	return fmt.Sprintf("[%d, %d]", t.Start, t.Last())
}

// Match is the optional result of a search.
type Match struct {
	Key   uint64 `json:"key"`
	Found bool   `json:"found"`
}

// Hit returns a found Match for key.
func Hit(key uint64) Match { return Match{Key: key, Found: true} }

// Merge combines two matches commutatively. A found match beats an absent
// one; of two found matches the larger key is kept and conflict is true,
// since disjoint partitions can only ever produce one.
func Merge(a, b Match) (m Match, conflict bool) {
	switch {
	case !a.Found:
		return b, false
	case !b.Found:
		return a, false
	case a.Key == b.Key:
		return a, false
	case a.Key > b.Key:
		return a, true
	default:
		return b, true
	}
}

func (m Match) String() string {
	if !m.Found {
		return "none"
	}
	return fmt.Sprintf("%d", m.Key)
}

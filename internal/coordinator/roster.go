package coordinator

import (
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/keysweep/internal/cluster"
)

// Roster tracks the nodes registered for a cluster job, in registration
// order.
//
// Registration is idempotent: a node re-registering with the same ID keeps
// its position and only its address is updated. Once the roster holds
// capacity nodes, new IDs are refused; the coordinator waits for exactly
// that many summaries.
//
// Thread Safety:
// All methods are safe for concurrent use. List returns a copy.
type Roster struct {
	mu       sync.RWMutex
	nodes    []cluster.NodeInfo
	capacity int
	sealed   bool
}

// NewRoster returns an empty roster accepting up to capacity nodes.
// A capacity of zero or less means unlimited.
func NewRoster(capacity int) *Roster {
	return &Roster{capacity: capacity}
}

// Register adds or updates node. It reports whether the node was admitted;
// a new ID is refused once the roster is full.
//
// Parameters:
//   - node: ID and base address of the registering node
//
// Returns:
//   - added: true when the ID was not known before
//   - ok: false when the roster is full and the ID is new
func (r *Roster) Register(node cluster.NodeInfo) (added, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := slices.IndexFunc(r.nodes, func(n cluster.NodeInfo) bool { return n.ID == node.ID })
	if idx >= 0 {
		r.nodes[idx] = node
		return false, true
	}
	if r.sealed || (r.capacity > 0 && len(r.nodes) >= r.capacity) {
		return false, false
	}
	r.nodes = append(r.nodes, node)
	return true, true
}

// Seal refuses every new ID from now on and returns how many of the
// capacity slots were never filled. Known nodes may still re-register.
func (r *Roster) Seal() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
	if r.capacity <= 0 {
		return 0
	}
	return max(r.capacity-len(r.nodes), 0)
}

// Known reports whether id has registered.
func (r *Roster) Known(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.ContainsFunc(r.nodes, func(n cluster.NodeInfo) bool { return n.ID == id })
}

// Get returns the node registered as id.
func (r *Roster) Get(id string) (cluster.NodeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := slices.IndexFunc(r.nodes, func(n cluster.NodeInfo) bool { return n.ID == id })
	if idx < 0 {
		return cluster.NodeInfo{}, false
	}
	return r.nodes[idx], true
}

// List returns every registered node in registration order.
func (r *Roster) List() []cluster.NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.nodes)
}

// Len returns the number of registered nodes.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Full reports whether the roster has reached its capacity.
func (r *Roster) Full() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed || (r.capacity > 0 && len(r.nodes) >= r.capacity)
}

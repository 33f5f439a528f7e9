package coordinator

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/keysweep/internal/cluster"
)

func TestRosterRegister(t *testing.T) {
	r := NewRoster(2)

	added, ok := r.Register(cluster.NodeInfo{ID: "node-1", Addr: "http://a"})
	assert.True(t, added)
	assert.True(t, ok)

	added, ok = r.Register(cluster.NodeInfo{ID: "node-2", Addr: "http://b"})
	assert.True(t, added)
	assert.True(t, ok)
	assert.True(t, r.Full())

	// Re-registration keeps the slot and updates the address.
	added, ok = r.Register(cluster.NodeInfo{ID: "node-1", Addr: "http://a2"})
	assert.False(t, added)
	assert.True(t, ok)

	_, ok = r.Register(cluster.NodeInfo{ID: "node-3", Addr: "http://c"})
	assert.False(t, ok, "full roster refuses new ids")

	assert.Equal(t, []cluster.NodeInfo{{ID: "node-1", Addr: "http://a2"}, {ID: "node-2", Addr: "http://b"}}, r.List())
	assert.True(t, r.Known("node-2"))
	assert.False(t, r.Known("node-3"))

	n, ok := r.Get("node-1")
	require.True(t, ok)
	assert.Equal(t, "http://a2", n.Addr)
	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRosterListIsACopy(t *testing.T) {
	r := NewRoster(0)
	r.Register(cluster.NodeInfo{ID: "node-1", Addr: "http://a"})

	list := r.List()
	list[0].Addr = "changed"
	n, _ := r.Get("node-1")
	assert.Equal(t, "http://a", n.Addr)
	assert.False(t, r.Full(), "zero capacity is unlimited")
}

func TestRosterConcurrentRegister(t *testing.T) {
	r := NewRoster(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("node-%d", i%10)
			r.Register(cluster.NodeInfo{ID: id, Addr: "http://" + id})
			r.Known(id)
			r.List()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, r.Len())
}

func TestRosterSeal(t *testing.T) {
	r := NewRoster(3)
	r.Register(cluster.NodeInfo{ID: "node-1", Addr: "http://a"})

	assert.Equal(t, 2, r.Seal())
	assert.True(t, r.Full())

	_, ok := r.Register(cluster.NodeInfo{ID: "node-2", Addr: "http://b"})
	assert.False(t, ok, "sealed roster refuses new ids")
	_, ok = r.Register(cluster.NodeInfo{ID: "node-1", Addr: "http://a2"})
	assert.True(t, ok, "known ids may still re-register")

	assert.Zero(t, NewRoster(0).Seal(), "unlimited roster has no empty slots")
}

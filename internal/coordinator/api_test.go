package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/keysweep/internal/cluster"
	"github.com/dreamware/keysweep/internal/keyspace"
	"github.com/dreamware/keysweep/internal/metrics"
	"github.com/dreamware/keysweep/internal/oracle"
	"github.com/dreamware/keysweep/internal/search"
)

type testCluster struct {
	coord  *Coordinator
	roster *Roster
	server *httptest.Server
	done   <-chan runResult
}

func newTestCluster(t *testing.T, ks keyspace.Keyspace, chunk uint64, workers int, reg *metrics.Registry) *testCluster {
	t.Helper()
	roster := NewRoster(workers)
	coord, err := New(Config{
		Keyspace:   ks,
		ChunkSize:  chunk,
		Workers:    workers,
		Known:      roster.Known,
		KeepLedger: true,
	}, HTTPBroadcaster{Roster: roster, Timeout: time.Second}, reg.DispatchMetrics())
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer("job-test", coord, roster, reg).Handler())
	t.Cleanup(srv.Close)
	return &testCluster{coord: coord, roster: roster, server: srv, done: start(t, coord)}
}

// node is a remote worker: a client for the coordinator plus its own
// /found endpoint.
func newNode(t *testing.T, coordURL, id string) (*cluster.Client, *httptest.Server) {
	t.Helper()
	c := cluster.NewClient(coordURL, id)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/found":
			var n cluster.FoundNotice
			if err := json.NewDecoder(r.Body).Decode(&n); err == nil {
				c.Signal.Fire(n.Key)
			}
			w.WriteHeader(http.StatusNoContent)
		case "/health":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return c, srv
}

func TestHTTPClusterEndToEnd(t *testing.T) {
	reg := metrics.NewRegistry(metrics.Config{Namespace: "test"})
	ks := keyspace.Keyspace{Start: 0, End: 999}
	tc := newTestCluster(t, ks, 50, 3, reg)
	ctx := context.Background()

	clients := make([]*cluster.Client, 3)
	for i := range clients {
		id := fmt.Sprintf("node-%d", i+1)
		c, srv := newNode(t, tc.server.URL, id)
		reply, err := c.Register(ctx, cluster.NodeInfo{ID: id, Addr: srv.URL}, 3, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, "job-test", reply.JobID)
		assert.Equal(t, 3, reply.Expected)
		clients[i] = c
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *cluster.Client) {
			defer wg.Done()
			w := search.NewWorker(c.Worker, oracle.Equals(613), nil)
			_, err := w.ServeDynamic(ctx, c)
			assert.NoError(t, err)
		}(c)
	}
	wg.Wait()

	out := wait(t, tc.done)
	assert.Equal(t, keyspace.Hit(613), out.Result.Match)
	assert.LessOrEqual(t, out.Result.TotalIterations, uint64(1000))
	assertCover(t, ks, out.Ledger)
	assert.Len(t, out.Summaries, 3)

	// Metrics are served next to the API.
	resp, err := http.Get(tc.server.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "test_dispatch_summaries_collected_total 3")

	// The actor has stopped; the API says so.
	resp, err = http.Get(tc.server.URL + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestHTTPRegisterValidation(t *testing.T) {
	tc := newTestCluster(t, keyspace.Keyspace{End: 99}, 10, 1, nil)
	url := tc.server.URL + "/register"

	resp, err := http.Post(url, "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	err = cluster.PostJSON(context.Background(), url, cluster.RegisterRequest{Node: cluster.NodeInfo{ID: "n"}}, nil)
	assert.Error(t, err, "missing addr")

	ok := cluster.RegisterRequest{Node: cluster.NodeInfo{ID: "node-1", Addr: "http://127.0.0.1:1"}}
	require.NoError(t, cluster.PostJSON(context.Background(), url, ok, nil))
	require.NoError(t, cluster.PostJSON(context.Background(), url, ok, nil), "re-registration is idempotent")

	full := cluster.RegisterRequest{Node: cluster.NodeInfo{ID: "node-2", Addr: "http://127.0.0.1:2"}}
	err = cluster.PostJSON(context.Background(), url, full, nil)
	var se *cluster.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.Code)

	tc.coord.MarkLost(context.Background(), "node-1")
	wait(t, tc.done)
}

func TestHTTPStatusAndUnknownWorker(t *testing.T) {
	tc := newTestCluster(t, keyspace.Keyspace{End: 99}, 10, 1, nil)
	ctx := context.Background()

	c, srv := newNode(t, tc.server.URL, "node-1")
	_, err := c.Register(ctx, cluster.NodeInfo{ID: "node-1", Addr: srv.URL}, 1, time.Millisecond)
	require.NoError(t, err)

	ghost := cluster.NewClient(tc.server.URL, "ghost")
	task, err := ghost.RequestChunk(ctx)
	require.NoError(t, err)
	assert.True(t, task.Empty())

	task, err = c.RequestChunk(ctx)
	require.NoError(t, err)
	assert.Equal(t, keyspace.Task{Start: 0, Count: 10}, task)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dispatching", st.State)
	assert.Equal(t, uint64(10), st.Next)
	assert.Equal(t, 1, st.Expected)
	assert.Equal(t, []cluster.NodeInfo{{ID: "node-1", Addr: srv.URL}}, st.Nodes)

	require.NoError(t, c.ReportSummary(ctx, search.Summary{Iterations: 10}))
	out := wait(t, tc.done)
	assert.Equal(t, uint64(10), out.Result.TotalIterations)
}

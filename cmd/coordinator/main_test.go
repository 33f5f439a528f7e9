package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/keysweep/internal/cluster"
	"github.com/dreamware/keysweep/internal/config"
	"github.com/dreamware/keysweep/internal/keyspace"
	"github.com/dreamware/keysweep/internal/oracle"
	"github.com/dreamware/keysweep/internal/search"
)

func TestGetenv(t *testing.T) {
	t.Setenv("COORD_TEST_VAR", "value")
	assert.Equal(t, "value", getenv("COORD_TEST_VAR", "default"))
	assert.Equal(t, "default", getenv("COORD_TEST_UNSET", "default"))
}

func TestLoadSettingsDefaults(t *testing.T) {
	t.Setenv(config.EnvParticipants, "5")
	t.Setenv(config.EnvKeyspaceEnd, "999")

	set, err := loadSettings()
	require.NoError(t, err)
	assert.Equal(t, ":8080", set.addr)
	assert.Equal(t, 4, set.workers, "participants minus the coordinator")
	assert.Equal(t, 2*time.Second, set.healthInterval)
	assert.Equal(t, 30*time.Second, set.registerTimeout)
	assert.Equal(t, config.Dynamic, set.job.Strategy)
	assert.Equal(t, keyspace.Keyspace{End: 999}, set.job.Keyspace())
	assert.Nil(t, set.payload)
}

func TestLoadSettingsOverrides(t *testing.T) {
	t.Setenv("COORDINATOR_ADDR", ":9090")
	t.Setenv("COORDINATOR_WORKERS", "7")
	t.Setenv("HEALTH_INTERVAL", "250ms")
	t.Setenv("REGISTER_TIMEOUT", "1m")

	set, err := loadSettings()
	require.NoError(t, err)
	assert.Equal(t, ":9090", set.addr)
	assert.Equal(t, 7, set.workers)
	assert.Equal(t, 8, set.job.Participants)
	assert.Equal(t, 250*time.Millisecond, set.healthInterval)
	assert.Equal(t, time.Minute, set.registerTimeout)
}

func TestLoadSettingsErrors(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"workers not a number", "COORDINATOR_WORKERS", "lots"},
		{"zero workers", "COORDINATOR_WORKERS", "0"},
		{"bad interval", "HEALTH_INTERVAL", "soon"},
		{"negative register timeout", "REGISTER_TIMEOUT", "-1s"},
		{"zero chunk", config.EnvChunkSize, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := loadSettings()
			assert.ErrorIs(t, err, config.ErrConfiguration)
		})
	}
}

func TestLoadSettingsPayload(t *testing.T) {
	dir := t.TempDir()
	cipher := filepath.Join(dir, "cipher.bin")
	keyword := filepath.Join(dir, "keyword.txt")
	empty := filepath.Join(dir, "empty.txt")
	ct, err := oracle.Encrypt(7, []byte("attack at dawn"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cipher, ct, 0o600))
	require.NoError(t, os.WriteFile(keyword, []byte("dawn\n"), 0o600))
	require.NoError(t, os.WriteFile(empty, []byte("\r\n"), 0o600))

	t.Run("both files", func(t *testing.T) {
		t.Setenv(config.EnvCiphertext, cipher)
		t.Setenv(config.EnvKeyword, keyword)
		set, err := loadSettings()
		require.NoError(t, err)
		assert.Equal(t, ct, set.payload)
	})

	t.Run("empty keyword", func(t *testing.T) {
		t.Setenv(config.EnvCiphertext, cipher)
		t.Setenv(config.EnvKeyword, empty)
		_, err := loadSettings()
		assert.ErrorIs(t, err, oracle.ErrPayload)
	})

	t.Run("missing keyword file", func(t *testing.T) {
		t.Setenv(config.EnvCiphertext, cipher)
		t.Setenv(config.EnvKeyword, filepath.Join(dir, "nope.txt"))
		_, err := loadSettings()
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("ciphertext only", func(t *testing.T) {
		t.Setenv(config.EnvCiphertext, cipher)
		_, err := loadSettings()
		assert.ErrorIs(t, err, config.ErrConfiguration)
	})
}

type runResult struct {
	out string
	err error
}

func startRun(t *testing.T, ctx context.Context, set settings) (string, <-chan runResult) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan runResult, 1)
	go func() {
		var buf bytes.Buffer
		err := run(ctx, set, ln, &buf)
		done <- runResult{out: buf.String(), err: err}
	}()
	return "http://" + ln.Addr().String(), done
}

func waitRun(t *testing.T, done <-chan runResult) runResult {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(10 * time.Second):
		t.Fatal("coordinator did not finish")
		return runResult{}
	}
}

// startNode registers a worker that serves /found and /health like cmd/node.
func startNode(t *testing.T, coordURL, id string) *cluster.Client {
	t.Helper()
	c := cluster.NewClient(coordURL, id)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/found":
			var n cluster.FoundNotice
			if json.NewDecoder(r.Body).Decode(&n) == nil {
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

	_, err := c.Register(context.Background(), cluster.NodeInfo{ID: id, Addr: srv.URL}, 20, 20*time.Millisecond)
	require.NoError(t, err)
	return c
}

func jobSettings(end, chunk uint64, workers int) settings {
	cfg := config.Defaults()
	cfg.KeyspaceEnd = end
	cfg.ChunkSize = chunk
	cfg.Strategy = config.Dynamic
	cfg.Participants = workers + 1
	return settings{workers: workers, healthInterval: time.Hour, job: cfg}
}

func TestRunEndToEnd(t *testing.T) {
	const key = 321
	ct, err := oracle.Encrypt(key, []byte("meet at the fountain"))
	require.NoError(t, err)

	set := jobSettings(499, 50, 2)
	set.payload = ct
	url, done := startRun(t, context.Background(), set)

	var wg sync.WaitGroup
	for i := 1; i <= 2; i++ {
		c := startNode(t, url, fmt.Sprintf("node-%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := search.NewWorker(c.Worker, oracle.Equals(key), nil)
			_, err := w.ServeDynamic(context.Background(), c)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	res := waitRun(t, done)
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "DYNAMIC result: N=3, chunk=50,")
	assert.Contains(t, res.out, "FOUND: 321 -> meet at the fountain\n")
}

func TestRunCountsLostWorkers(t *testing.T) {
	set := jobSettings(199, 20, 2)
	set.healthInterval = 20 * time.Millisecond
	url, done := startRun(t, context.Background(), set)

	// A node that registers and then disappears.
	dead := httptest.NewServer(http.NotFoundHandler())
	ghost := cluster.NewClient(url, "ghost")
	_, err := ghost.Register(context.Background(), cluster.NodeInfo{ID: "ghost", Addr: dead.URL}, 20, 20*time.Millisecond)
	require.NoError(t, err)
	dead.Close()

	c := startNode(t, url, "node-1")
	w := search.NewWorker(c.Worker, oracle.Never(), nil)
	_, err = w.ServeDynamic(context.Background(), c)
	require.NoError(t, err)

	res := waitRun(t, done)
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "iterations=200")
	assert.Contains(t, res.out, "No key found in the given range.")
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, done := startRun(t, ctx, jobSettings(99, 10, 1))
	cancel()

	res := waitRun(t, done)
	assert.ErrorIs(t, res.err, context.Canceled)
	assert.Empty(t, res.out)
}

func TestRunFailsWhenNobodyRegisters(t *testing.T) {
	set := jobSettings(99, 10, 2)
	set.registerTimeout = 50 * time.Millisecond
	_, done := startRun(t, context.Background(), set)

	res := waitRun(t, done)
	assert.ErrorIs(t, res.err, errRegistration)
	assert.Empty(t, res.out)
}

func TestRunWritesOffUnregisteredWorkers(t *testing.T) {
	set := jobSettings(199, 20, 2)
	set.registerTimeout = 300 * time.Millisecond
	url, done := startRun(t, context.Background(), set)

	c := startNode(t, url, "node-1")
	w := search.NewWorker(c.Worker, oracle.Never(), nil)
	_, err := w.ServeDynamic(context.Background(), c)
	require.NoError(t, err)

	res := waitRun(t, done)
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "iterations=200")
	assert.Contains(t, res.out, "No key found in the given range.")
}

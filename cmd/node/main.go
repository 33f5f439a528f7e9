// Package main implements the keysweep worker node, which pulls chunks from
// a coordinator and searches them with the DES keyword oracle.
//
// The node is a worker in the dynamic strategy, responsible for:
//   - Registering with the coordinator
//   - Requesting chunks until the coordinator runs dry
//   - Reporting its own match and accepting relayed ones
//   - Posting one summary before it exits
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│                Node                     │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /health       - Health check         │
//	│    /found        - Relayed match        │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    Worker        - chunk scanner        │
//	│    cluster.Client - coordinator link    │
//	│    Signal        - relayed key latch    │
//	└─────────────────────────────────────────┘
//
// Configuration:
//   - NODE_ID: unique node identifier (default: "node-" + random UUID)
//   - NODE_LISTEN: listen address (default: ":8081")
//   - NODE_ADDR: public address for the coordinator (default: "http://127.0.0.1:8081")
//   - COORDINATOR_ADDR: coordinator URL (required)
//   - KEYSWEEP_CIPHERTEXT, KEYSWEEP_KEYWORD: payload files (required)
//   - KEYSWEEP_LOG_LEVEL: log level (default: "info")
//
// Example usage:
//
//	NODE_ID=node-1 \
//	NODE_LISTEN=:8081 \
//	NODE_ADDR=http://localhost:8081 \
//	COORDINATOR_ADDR=http://localhost:8080 \
//	KEYSWEEP_CIPHERTEXT=secret.bin KEYSWEEP_KEYWORD=keyword.txt \
//	./node
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dreamware/keysweep/internal/cluster"
	"github.com/dreamware/keysweep/internal/config"
	"github.com/dreamware/keysweep/internal/oracle"
	"github.com/dreamware/keysweep/internal/search"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

// Registration retry policy.
var (
	registerAttempts = 10
	registerBackoff  = 400 * time.Millisecond
)

// Node is one remote worker. It owns the coordinator client, whose signal
// is fired by relayed matches arriving on /found.
type Node struct {
	ID     string
	client *cluster.Client
	worker *search.Worker
	logger *log.Entry
}

// NewNode creates a node that searches with o on behalf of the coordinator
// at coordURL.
func NewNode(id, coordURL string, o oracle.Oracle) *Node {
	return &Node{
		ID:     id,
		client: cluster.NewClient(coordURL, id),
		worker: search.NewWorker(id, o, nil),
		logger: log.WithFields(log.Fields{"component": "node", "node": id}),
	}
}

// Handler serves the node's HTTP API.
func (n *Node) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/found", n.handleFound)
	return r
}

// handleFound latches a relayed key. Only the first notice counts; later
// ones are acknowledged and ignored.
//
// Response:
//   - 204 No Content: notice accepted
//   - 400 Bad Request: body is not a FoundNotice
func (n *Node) handleFound(w http.ResponseWriter, r *http.Request) {
	var notice cluster.FoundNotice
	if err := json.NewDecoder(r.Body).Decode(&notice); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if n.client.Signal.Fire(notice.Key) {
		n.logger.WithFields(log.Fields{"key": notice.Key, "from": notice.Worker}).Info("relayed key received")
	}
	w.WriteHeader(http.StatusNoContent)
}

// Register announces the node at addr, retrying while the coordinator
// starts up. A node that cannot register cannot do any work, so the final
// failure is fatal.
func (n *Node) Register(ctx context.Context, addr string) bool {
	reply, err := n.client.Register(ctx, cluster.NodeInfo{ID: n.ID, Addr: addr}, registerAttempts, registerBackoff)
	if err != nil {
		logFatal("failed to register with coordinator: %v", err)
		return false
	}
	n.logger.WithFields(log.Fields{"job": reply.JobID, "expected": reply.Expected}).Info("registered with coordinator")
	return true
}

// Run serves chunks until the coordinator runs dry, then posts the summary.
func (n *Node) Run(ctx context.Context) (search.Summary, error) {
	s, err := n.worker.ServeDynamic(ctx, n.client)
	if err != nil {
		return s, err
	}
	n.logger.WithFields(log.Fields{
		"iterations": s.Iterations,
		"elapsed":    s.Elapsed,
		"match":      s.Match.String(),
	}).Info("search finished")
	return s, nil
}

func main() {
	if lvl, err := log.ParseLevel(getenv("KEYSWEEP_LOG_LEVEL", "info")); err == nil {
		log.SetLevel(lvl)
	}

	nodeID := getenv("NODE_ID", "node-"+uuid.NewString())
	listen := getenv("NODE_LISTEN", ":8081")
	public := getenv("NODE_ADDR", "http://127.0.0.1:8081")
	coord := mustGetenv("COORDINATOR_ADDR")

	cfg, err := config.Load(os.Getenv("KEYSWEEP_CONFIG"))
	if err != nil {
		logFatal("configuration: %v", err)
	}
	kw, err := oracle.LoadKeywordOracle(cfg.Ciphertext, cfg.Keyword)
	if err != nil {
		logFatal("payload: %v", err)
	}

	node := NewNode(nodeID, coord, oracle.Safe(kw))
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		logFatal("listen: %v", err)
	}
	s := &http.Server{
		Handler:           node.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infof("node[%s] listening on %s (public %s)", nodeID, listen, public)
		if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logFatal("listen: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if node.Register(ctx, public) {
		if _, err := node.Run(ctx); err != nil {
			log.WithError(err).Error("search aborted")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	log.Info("node stopped")
}

// getenv retrieves an environment variable with a default fallback value.
//
// Example:
//
//	listen := getenv("NODE_LISTEN", ":8081")
//	// Returns $NODE_LISTEN if set, otherwise ":8081"
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// mustGetenv retrieves a required environment variable, calling logFatal
// when it is unset or empty.
func mustGetenv(k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	logFatal("missing env %s", k)
	return ""
}

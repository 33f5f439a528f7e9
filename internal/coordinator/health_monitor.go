package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dreamware/keysweep/internal/cluster"
)

// Health states reported by the monitor.
const (
	StatusUnknown = "unknown"
	StatusHealthy = "healthy"
	StatusLost    = "lost"
)

// NodeHealth tracks the health of a single node.
type NodeHealth struct {
	LastCheck        time.Time `json:"last_check"`
	LastHealthy      time.Time `json:"last_healthy"`
	NodeID           string    `json:"node_id"`
	Status           string    `json:"status"`
	ConsecutiveFails int       `json:"consecutive_fails"`
}

// HealthMonitor probes every registered node's /health endpoint and writes
// off nodes that stop answering.
//
// A node is lost after maxFailures consecutive failed probes. Lost is final
// for the lifetime of a job: the coordinator has already counted the node's
// empty summary, so the monitor stops probing it and never reports it again.
//
// Thread Safety: all methods are safe for concurrent access.
type HealthMonitor struct {
	nodes       map[string]*NodeHealth
	httpClient  *http.Client
	checkFunc   func(ctx context.Context, addr string) error
	onLost      func(nodeID string)
	logger      *log.Entry
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	timeout     time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
}

// NewHealthMonitor creates a monitor that probes every interval and declares
// a node lost after maxFailures consecutive failures (3 when maxFailures <= 0).
//
// Example:
//
//	monitor := NewHealthMonitor(2*time.Second, 3)
//	monitor.SetOnLost(func(id string) { coord.MarkLost(ctx, id) })
//	go monitor.Start(ctx, roster.List)
func NewHealthMonitor(interval time.Duration, maxFailures int) *HealthMonitor {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: maxFailures,
		nodes:       make(map[string]*NodeHealth),
		httpClient:  &http.Client{Timeout: 2 * time.Second},
		logger:      log.WithField("component", "health"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetOnLost sets the callback invoked, once per node, when a node is lost.
// It runs on its own goroutine.
func (h *HealthMonitor) SetOnLost(callback func(nodeID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onLost = callback
}

// SetCheckFunction overrides the HTTP probe, mainly for tests.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(ctx context.Context, addr string) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkFunc = checkFunc
}

// Start probes the nodes returned by nodeProvider every interval until ctx
// is canceled or Stop is called. It blocks.
func (h *HealthMonitor) Start(ctx context.Context, nodeProvider func() []cluster.NodeInfo) {
	h.wg.Add(1)
	defer h.wg.Done()

	h.mu.Lock()
	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}
	h.mu.Unlock()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.WithField("interval", h.interval).Info("health monitor started")
	h.checkAllNodes(ctx, nodeProvider())

	for {
		select {
		case <-ticker.C:
			h.checkAllNodes(ctx, nodeProvider())
		case <-ctx.Done():
			h.logger.Debug("health monitor stopping: context done")
			return
		case <-h.ctx.Done():
			h.logger.Debug("health monitor stopping: stopped")
			return
		}
	}
}

// Stop cancels the monitor and waits for Start to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

func (h *HealthMonitor) checkAllNodes(ctx context.Context, nodes []cluster.NodeInfo) {
	for _, node := range nodes {
		h.checkNode(ctx, node)
	}
}

func (h *HealthMonitor) checkNode(ctx context.Context, node cluster.NodeInfo) {
	h.mu.Lock()
	health, exists := h.nodes[node.ID]
	if !exists {
		now := time.Now()
		health = &NodeHealth{NodeID: node.ID, Status: StatusUnknown, LastCheck: now, LastHealthy: now}
		h.nodes[node.ID] = health
	}
	check := h.checkFunc
	lost := health.Status == StatusLost
	h.mu.Unlock()
	if lost {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
	err := check(probeCtx, node.Addr)
	cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	health.LastCheck = time.Now()
	fields := log.Fields{"node": node.ID, "addr": node.Addr}

	if err == nil {
		health.Status = StatusHealthy
		health.ConsecutiveFails = 0
		health.LastHealthy = health.LastCheck
		return
	}

	health.ConsecutiveFails++
	h.logger.WithFields(fields).WithError(err).
		Warnf("health check failed (%d/%d)", health.ConsecutiveFails, h.maxFailures)
	if health.ConsecutiveFails < h.maxFailures {
		return
	}
	health.Status = StatusLost
	h.logger.WithFields(fields).Warn("node lost")
	if h.onLost != nil {
		go h.onLost(node.ID)
	}
}

func (h *HealthMonitor) defaultHealthCheck(ctx context.Context, addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = "http://" + addr
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// GetNodeHealth returns a copy of one node's health, or nil if it has never
// been probed.
func (h *HealthMonitor) GetNodeHealth(nodeID string) *NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, ok := h.nodes[nodeID]
	if !ok {
		return nil
	}
	cp := *health
	return &cp
}

// GetAllNodeHealth returns a copy of every tracked node's health.
func (h *HealthMonitor) GetAllNodeHealth() map[string]*NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]*NodeHealth, len(h.nodes))
	for id, health := range h.nodes {
		cp := *health
		out[id] = &cp
	}
	return out
}

// IsHealthy reports whether the node's last probe succeeded.
func (h *HealthMonitor) IsHealthy(nodeID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, ok := h.nodes[nodeID]
	return ok && health.Status == StatusHealthy
}

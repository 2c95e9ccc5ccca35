package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/clustercomm/internal/cluster"
	"github.com/dreamware/clustercomm/internal/logger"
	"github.com/dreamware/clustercomm/internal/network"
)

// HealthStatus is the monitor's view of a node.
type HealthStatus string

const (
	StatusUnknown   HealthStatus = "unknown"
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// NodeHealth tracks the health status of a single node in the cluster.
type NodeHealth struct {
	LastCheck        time.Time    `json:"last_check"`
	LastHealthy      time.Time    `json:"last_healthy"`
	NodeID           string       `json:"node_id"`
	Status           HealthStatus `json:"status"`
	ConsecutiveFails int          `json:"consecutive_fails"`
}

// CheckFunc probes a node endpoint and returns nil when it is healthy.
type CheckFunc func(ctx context.Context, endpoint string) error

// HealthMonitor performs periodic health checks on all registered nodes and
// calls the unhealthy callback once per healthy-to-unhealthy transition.
// The coordinator uses that callback to fail the node over in the plan.
//
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	nodes       map[string]*NodeHealth
	httpClient  *http.Client
	checkFunc   CheckFunc
	onUnhealthy func(nodeID string)
	log         *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	timeout     time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
}

// NewHealthMonitor creates a monitor that checks every node's /health
// endpoint each interval. Nodes are marked unhealthy after 3 consecutive
// failures.
//
// Example:
//
//	monitor := NewHealthMonitor(5*time.Second, log)
//	monitor.SetOnUnhealthy(func(id string) { registry.FailoverServer(id) })
//	go monitor.Start(ctx, nodes.GetAll)
func NewHealthMonitor(interval time.Duration, log *zap.Logger) *HealthMonitor {
	if log == nil {
		log = logger.Named("health")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		nodes:       make(map[string]*NodeHealth),
		httpClient:  &http.Client{Timeout: 2 * time.Second},
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetOnUnhealthy sets the callback invoked when a node becomes unhealthy.
// It runs on its own goroutine.
func (h *HealthMonitor) SetOnUnhealthy(callback func(nodeID string)) {
	h.onUnhealthy = callback
}

// SetCheckFunction overrides the HTTP health check.
func (h *HealthMonitor) SetCheckFunction(checkFunc CheckFunc) {
	h.checkFunc = checkFunc
}

// Start checks all nodes returned by nodeProvider immediately and then on
// every tick. It blocks until ctx is canceled or Stop is called.
func (h *HealthMonitor) Start(ctx context.Context, nodeProvider func() []cluster.NodeInfo) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}
	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.log.Info("health monitor started", zap.Duration("interval", h.interval))
	h.checkAllNodes(ctx, nodeProvider())

	for {
		select {
		case <-ticker.C:
			h.checkAllNodes(ctx, nodeProvider())
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// Stop cancels the monitoring loop and waits for it to exit.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
	h.log.Info("health monitor stopped")
}

func (h *HealthMonitor) checkAllNodes(ctx context.Context, nodes []cluster.NodeInfo) {
	current := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		current[node.ID] = true
		h.checkNode(ctx, node)
	}

	h.mu.Lock()
	for id := range h.nodes {
		if !current[id] {
			delete(h.nodes, id)
			h.log.Info("node removed from health monitoring", logger.NodeID(id))
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) checkNode(ctx context.Context, node cluster.NodeInfo) {
	h.mu.Lock()
	health, exists := h.nodes[node.ID]
	if !exists {
		now := time.Now()
		health = &NodeHealth{
			NodeID:      node.ID,
			Status:      StatusUnknown,
			LastCheck:   now,
			LastHealthy: now,
		}
		h.nodes[node.ID] = health
	}
	h.mu.Unlock()

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	err := h.checkFunc(checkCtx, node.Addr)
	cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()
	if err == nil {
		if health.Status == StatusUnhealthy {
			h.log.Info("node recovered", logger.NodeID(node.ID))
		}
		health.Status = StatusHealthy
		health.ConsecutiveFails = 0
		health.LastHealthy = health.LastCheck
		return
	}

	health.ConsecutiveFails++
	h.log.Warn("health check failed",
		logger.NodeID(node.ID),
		zap.Int("attempt", health.ConsecutiveFails),
		zap.Int("max", h.maxFailures),
		zap.Error(err))

	if health.ConsecutiveFails < h.maxFailures || health.Status == StatusUnhealthy {
		return
	}
	health.Status = StatusUnhealthy
	h.log.Error("node marked unhealthy", logger.NodeID(node.ID), zap.Int("failures", health.ConsecutiveFails))
	if h.onUnhealthy != nil {
		go h.onUnhealthy(node.ID)
	}
}

// defaultHealthCheck GETs <endpoint>/health. Bare host:port addresses are
// treated as tcp:// endpoints.
func (h *HealthMonitor) defaultHealthCheck(ctx context.Context, endpoint string) error {
	if !strings.Contains(endpoint, "://") {
		endpoint = "tcp://" + endpoint
	}
	target, err := network.EndpointURL(endpoint, "/health")
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
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

// GetNodeHealth returns a copy of a node's health, or nil if unmonitored.
func (h *HealthMonitor) GetNodeHealth(nodeID string) *NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, ok := h.nodes[nodeID]
	if !ok {
		return nil
	}
	c := *health
	return &c
}

// GetAllNodeHealth returns copies of every monitored node's health.
func (h *HealthMonitor) GetAllNodeHealth() map[string]*NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]*NodeHealth, len(h.nodes))
	for id, health := range h.nodes {
		c := *health
		out[id] = &c
	}
	return out
}

// IsHealthy reports false for unmonitored nodes.
func (h *HealthMonitor) IsHealthy(nodeID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, ok := h.nodes[nodeID]
	return ok && health.Status == StatusHealthy
}

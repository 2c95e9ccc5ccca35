package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/clustercomm/internal/cluster"
	"github.com/dreamware/clustercomm/internal/config"
	"github.com/dreamware/clustercomm/internal/coordinator"
	"github.com/dreamware/clustercomm/internal/errcode"
	"github.com/dreamware/clustercomm/internal/logger"
	"github.com/dreamware/clustercomm/internal/network"
)

type server struct {
	mu       sync.RWMutex
	nodes    []cluster.NodeInfo
	registry *coordinator.ShardRegistry
	monitor  *coordinator.HealthMonitor
	client   *network.Client
	log      *zap.Logger
}

func newServer(cfg *config.Config, log *zap.Logger) *server {
	s := &server{
		registry: coordinator.NewShardRegistry(cfg.Coordinator.NumShards, cfg.Coordinator.ReplicationFactor),
		monitor:  coordinator.NewHealthMonitor(cfg.Coordinator.HealthInterval, log.Named("health")),
		client: network.NewClient(network.ClientOptions{
			Timeout:     cfg.Coordinator.RequestTimeout,
			MaxInflight: cfg.Coordinator.MaxInflight,
			Logger:      log.Named("network"),
		}),
		log: log,
	}
	s.monitor.SetOnUnhealthy(s.failover)
	return s
}

func (s *server) close() {
	s.monitor.Stop()
	s.client.Close()
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/register", s.handleRegister)
	r.Get("/nodes", s.handleListNodes)
	r.Post("/broadcast", s.handleBroadcast)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/plan", s.handlePlan)
	r.Get("/shards", s.handleShards)
	r.Post("/shards/assign", s.handleShardAssign)
	r.Get("/resolve", s.handleResolve)
	r.Get("/data/{key}", s.handleData)
	r.Put("/data/{key}", s.handleData)
	r.Delete("/data/{key}", s.handleData)
	r.Post("/documents", s.handleDocuments)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *server) nodeList() []cluster.NodeInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]cluster.NodeInfo(nil), s.nodes...)
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Node.ID == "" || req.Node.Addr == "" {
		http.Error(w, "missing id/addr", http.StatusBadRequest)
		return
	}
	if _, err := network.EndpointURL(req.Node.Addr, ""); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.registry.RegisterServer(req.Node.ID, req.Node.Addr); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.IndexFunc(s.nodes, func(n cluster.NodeInfo) bool { return n.ID == req.Node.ID })
	if idx >= 0 {
		s.nodes[idx] = req.Node
	} else {
		s.nodes = append(s.nodes, req.Node)
		s.log.Info("node registered", logger.NodeID(req.Node.ID), logger.Endpoint(req.Node.Addr))
	}
	s.autoAssignShards()
	w.WriteHeader(http.StatusNoContent)
}

// autoAssignShards rebalances when some shard has fewer servers than the
// cluster can give it. Callers hold s.mu.
func (s *server) autoAssignShards() {
	if len(s.nodes) == 0 {
		return
	}
	want := min(s.registry.ReplicationFactor(), len(s.nodes))
	assignments := s.registry.GetAllAssignments()
	underReplicated := len(assignments) < s.registry.NumShards()
	for _, a := range assignments {
		if len(a.Servers) < want {
			underReplicated = true
			break
		}
	}
	if !underReplicated {
		return
	}

	ids := make([]string, 0, len(s.nodes))
	for _, n := range s.nodes {
		ids = append(ids, n.ID)
	}
	if err := s.registry.RebalanceShards(ids); err != nil {
		s.log.Error("rebalance failed", zap.Error(err))
		return
	}
	s.log.Info("shards rebalanced", zap.Strings("servers", ids), logger.PlanVersion(s.registry.Version()))
}

// failover drops an unhealthy node from the plan and the node list.
func (s *server) failover(nodeID string) {
	affected := s.registry.FailoverServer(nodeID)
	s.log.Warn("node failed over",
		logger.NodeID(nodeID),
		zap.Ints("shards", affected),
		logger.PlanVersion(s.registry.Version()))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = slices.DeleteFunc(s.nodes, func(n cluster.NodeInfo) bool { return n.ID == nodeID })
	s.autoAssignShards()
}

func (s *server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Nodes  []cluster.NodeInfo                 `json:"nodes"`
		Health map[string]*coordinator.NodeHealth `json:"health"`
	}{Nodes: s.nodeList(), Health: s.monitor.GetAllNodeHealth()})
}

func (s *server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req cluster.BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Path == "" || req.Path[0] != '/' {
		http.Error(w, "path must start with '/'", http.StatusBadRequest)
		return
	}

	targets := s.nodeList()
	snap := s.registry.Snapshot()

	type result struct {
		NodeID string `json:"node_id"`
		Err    string `json:"err,omitempty"`
	}
	out := make([]result, len(targets))

	g, ctx := errgroup.WithContext(r.Context())
	for i, n := range targets {
		i, n := i, n
		g.Go(func() error {
			out[i] = result{NodeID: n.ID}
			resp, err := s.client.Send(ctx, "server:"+n.ID, snap, network.Request{
				Method: http.MethodPost,
				Path:   req.Path,
				Body:   req.Payload,
			})
			switch {
			case err != nil:
				out[i].Err = err.Error()
			case resp.Err() != nil:
				out[i].Err = resp.Err().Error()
			case resp.StatusCode >= 300:
				out[i].Err = fmt.Sprintf("status %d", resp.StatusCode)
			}
			return nil
		})
	}
	_ = g.Wait()

	writeJSON(w, http.StatusOK, struct {
		SentTo  int      `json:"sent_to"`
		Results []result `json:"results"`
	}{SentTo: len(targets), Results: out})
}

func (s *server) handlePlan(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Snapshot())
}

func (s *server) handleShards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Shards            []*coordinator.ShardAssignment `json:"shards"`
		NumShards         int                            `json:"num_shards"`
		ReplicationFactor int                            `json:"replication_factor"`
		Version           uint64                         `json:"version"`
	}{
		Shards:            s.registry.GetAllAssignments(),
		NumShards:         s.registry.NumShards(),
		ReplicationFactor: s.registry.ReplicationFactor(),
		Version:           s.registry.Version(),
	})
}

// handleShardAssign replaces a shard's server list (admin operation).
func (s *server) handleShardAssign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ShardID int      `json:"shard_id"`
		Servers []string `json:"servers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := s.registry.AssignShard(req.ShardID, req.Servers); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleResolve(w http.ResponseWriter, r *http.Request) {
	dest := r.URL.Query().Get("destination")
	target, err := s.client.Resolver().Resolve(dest, s.registry.Snapshot())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Endpoint string `json:"endpoint"`
		ServerID string `json:"server_id,omitempty"`
	}{Endpoint: target.Endpoint, ServerID: target.ServerID})
}

// handleData forwards single-key operations to the leader of the key's shard.
func (s *server) handleData(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		http.Error(w, "key required", http.StatusBadRequest)
		return
	}

	var body []byte
	if r.Method == http.MethodPut {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		body = b
	}

	shardID := strconv.Itoa(s.registry.GetShardForKey(key))
	resp, err := s.client.Send(r.Context(), "shard:"+shardID, s.registry.Snapshot(), network.Request{
		Method: r.Method,
		Path:   "/shard/" + shardID + "/store/" + key,
		Body:   body,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if err := resp.Err(); err != nil {
		writeError(w, err)
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

type shardInsertResult struct {
	ShardID     string               `json:"shard_id"`
	Created     int64                `json:"created"`
	WaitForSync bool                 `json:"waitForSync"`
	Code        errcode.Code         `json:"errorNum,omitempty"`
	Message     string               `json:"errorMessage,omitempty"`
	ErrorCounts network.ErrorCounter `json:"errorCounts,omitempty"`
}

// handleDocuments splits a batch insert by shard, sends each part to the
// shard leader and merges the per-shard results.
func (s *server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	batch := gjson.ParseBytes(raw)
	if !gjson.ValidBytes(raw) || !batch.IsArray() {
		writeError(w, errcode.New(errcode.BadParameter, "expected a JSON array of documents"))
		return
	}

	opts := network.OperationOptions{
		WaitForSync: queryBool(r, "waitForSync"),
		Overwrite:   queryBool(r, "overwrite"),
	}

	parts := make(map[string][]json.RawMessage)
	for _, doc := range batch.Array() {
		shardID := strconv.Itoa(s.registry.GetShardForKey(doc.Get("_key").String()))
		parts[shardID] = append(parts[shardID], json.RawMessage(doc.Raw))
	}
	shardIDs := make([]string, 0, len(parts))
	for id := range parts {
		shardIDs = append(shardIDs, id)
	}
	sort.Strings(shardIDs)

	snap := s.registry.Snapshot()
	results := make([]shardInsertResult, len(shardIDs))
	g, ctx := errgroup.WithContext(r.Context())
	for i, id := range shardIDs {
		i, id := i, id
		g.Go(func() error {
			results[i] = s.insertShard(ctx, snap, id, parts[id], opts)
			return nil
		})
	}
	_ = g.Wait()

	total := network.ErrorCounter{}
	synced := true
	answered := 0
	var created int64
	var failed *shardInsertResult
	for i := range results {
		res := &results[i]
		if res.Code != errcode.NoError {
			if failed == nil {
				failed = res
			}
			continue
		}
		answered++
		created += res.Created
		synced = synced && res.WaitForSync
		total.Add(res.ErrorCounts)
	}
	// an empty batch reached no shard, so nothing was synced
	synced = synced && answered > 0

	if header := network.EncodeErrorCounts(total); header != "" {
		w.Header().Set(network.HeaderErrorCodes, header)
	}
	status := http.StatusAccepted
	if synced {
		status = http.StatusCreated
	}
	if failed != nil {
		status = httpStatus(failed.Code)
	}
	writeJSON(w, status, struct {
		Created     int64                `json:"created"`
		WaitForSync bool                 `json:"waitForSync"`
		ErrorCounts network.ErrorCounter `json:"errorCounts,omitempty"`
		Shards      []shardInsertResult  `json:"shards"`
	}{Created: created, WaitForSync: synced && failed == nil, ErrorCounts: total, Shards: results})
}

func (s *server) insertShard(ctx context.Context, snap *cluster.PlanSnapshot, shardID string, docs []json.RawMessage, opts network.OperationOptions) shardInsertResult {
	out := shardInsertResult{ShardID: shardID}
	body, err := json.Marshal(docs)
	if err != nil {
		out.Code, out.Message = errcode.Internal, err.Error()
		return out
	}

	path := fmt.Sprintf("/shard/%s/documents?waitForSync=%t&overwrite=%t", shardID, opts.WaitForSync, opts.Overwrite)
	resp, err := s.client.Send(ctx, "shard:"+shardID, snap, network.Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   body,
		Header: http.Header{"Content-Type": []string{"application/json"}},
	})
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		out.Code, out.Message = errcode.CodeOf(err), err.Error()
		return out
	}

	res := network.BuildInsertResult(resp.StatusCode, resp.Body, opts, network.ExtractErrorCounts(resp.Header, false))
	if !res.OK() {
		out.Code, out.Message = res.Code, res.Message
		return out
	}
	out.Created = gjson.GetBytes(res.Body, "created").Int()
	out.WaitForSync = res.Options.WaitForSync
	out.ErrorCounts = res.ErrorCounter
	return out
}

func queryBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

func httpStatus(code errcode.Code) int {
	switch code {
	case errcode.NoError:
		return http.StatusOK
	case errcode.BadParameter, errcode.DocumentKeyBad:
		return http.StatusBadRequest
	case errcode.DocumentNotFound, errcode.DataSourceNotFound:
		return http.StatusNotFound
	case errcode.Conflict:
		return http.StatusPreconditionFailed
	case errcode.UniqueConstraintViolated:
		return http.StatusConflict
	case errcode.BackendUnavailable, errcode.ShuttingDown:
		return http.StatusServiceUnavailable
	case errcode.ClusterTimeout:
		return http.StatusGatewayTimeout
	case errcode.ConnectionLost:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err in the errorNum/errorMessage shape nodes use.
func writeError(w http.ResponseWriter, err error) {
	code := errcode.CodeOf(err)
	writeJSON(w, httpStatus(code), struct {
		Error        bool         `json:"error"`
		ErrorNum     errcode.Code `json:"errorNum"`
		ErrorMessage string       `json:"errorMessage"`
	}{Error: true, ErrorNum: code, ErrorMessage: strings.TrimSpace(err.Error())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

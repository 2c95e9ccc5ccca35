package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/dreamware/clustercomm/internal/errcode"
	"github.com/dreamware/clustercomm/internal/logger"
	"github.com/dreamware/clustercomm/internal/network"
	"github.com/dreamware/clustercomm/internal/shard"
	"github.com/dreamware/clustercomm/internal/storage"
)

func (n *node) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/ready", n.handleReady)
	r.Get("/info", n.handleInfo)
	r.Post("/control", n.handleControl)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/shard/{shardID}", func(r chi.Router) {
		r.Get("/stats", n.withShard(handleShardStats))
		r.Get("/store", n.withShard(handleListKeys))
		r.Get("/store/*", n.withShard(handleGet))
		r.Put("/store/*", n.withShard(handlePut))
		r.Delete("/store/*", n.withShard(handleDelete))
		r.Post("/documents", n.withShard(n.handleDocuments))
	})
	return r
}

func (n *node) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !n.heartbeat.IsReady() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (n *node) handleInfo(w http.ResponseWriter, _ *http.Request) {
	db := n.registry.Active()
	if db == nil {
		writeError(w, errcode.New(errcode.ShuttingDown, "node is shutting down"))
		return
	}
	shards := db.Shards()
	infos := make([]shard.ShardInfo, 0, len(shards))
	for _, s := range shards {
		infos = append(infos, s.Info())
	}
	writeJSON(w, http.StatusOK, struct {
		NodeID      string            `json:"node_id"`
		Database    string            `json:"database"`
		PlanVersion uint64            `json:"plan_version"`
		Heartbeat   any               `json:"heartbeat"`
		ShardCount  int               `json:"shard_count"`
		Shards      []shard.ShardInfo `json:"shards"`
	}{
		NodeID:      n.id,
		Database:    db.Name(),
		PlanVersion: n.appliedPlan.Load(),
		Heartbeat:   n.heartbeat.Status(),
		ShardCount:  len(infos),
		Shards:      infos,
	})
}

// handleControl accepts coordinator broadcasts. Any control message makes
// the heartbeat check the plan right away.
func (n *node) handleControl(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	n.log.Debug("control payload", zap.ByteString("payload", raw))
	n.heartbeat.Notify()
	w.WriteHeader(http.StatusNoContent)
}

type shardHandler func(s *shard.Shard, w http.ResponseWriter, r *http.Request)

// withShard resolves {shardID} to a shard of the active database. Shards
// the plan did not assign here answer 404 with DataSourceNotFound, and a
// closed registry answers ShuttingDown.
func (n *node) withShard(h shardHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		db := n.registry.Active()
		if db == nil || n.shuttingDown.Load() {
			writeError(w, errcode.New(errcode.ShuttingDown, "node is shutting down"))
			return
		}
		id := chi.URLParam(r, "shardID")
		s, ok := db.GetShard(id)
		if !ok {
			writeError(w, errcode.New(errcode.DataSourceNotFound, "shard '%s' is not hosted on this node", id))
			return
		}
		h(s, w, r)
	}
}

func handleGet(s *shard.Shard, w http.ResponseWriter, r *http.Request) {
	value, err := s.Get(chi.URLParam(r, "*"))
	if errors.Is(err, storage.ErrKeyNotFound) {
		http.Error(w, "key not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(value)
}

func handlePut(s *shard.Shard, w http.ResponseWriter, r *http.Request) {
	value, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if err := s.Put(chi.URLParam(r, "*"), value); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleDelete(s *shard.Shard, w http.ResponseWriter, r *http.Request) {
	if err := s.Delete(chi.URLParam(r, "*")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleListKeys(s *shard.Shard, w http.ResponseWriter, _ *http.Request) {
	keys := s.ListKeys()
	writeJSON(w, http.StatusOK, struct {
		Keys  []string `json:"keys"`
		Count int      `json:"count"`
	}{Keys: keys, Count: len(keys)})
}

func handleShardStats(s *shard.Shard, w http.ResponseWriter, _ *http.Request) {
	stats := s.GetStats()
	writeJSON(w, http.StatusOK, struct {
		ShardID string               `json:"shard_id"`
		Ops     shard.OperationStats `json:"operations"`
		Storage storage.StoreStats   `json:"storage"`
	}{ShardID: s.ID, Ops: stats.Ops, Storage: stats.Storage})
}

// handleDocuments inserts a JSON array of documents. Documents that fail
// are counted per error code in the error-codes header; the batch itself
// answers 201 when the write was synced and 202 otherwise. A leader with
// waitForSync set copies the batch to its followers before answering.
func (n *node) handleDocuments(s *shard.Shard, w http.ResponseWriter, r *http.Request) {
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

	q := r.URL.Query()
	waitForSync, _ := strconv.ParseBool(q.Get("waitForSync"))
	overwrite, _ := strconv.ParseBool(q.Get("overwrite"))

	items := batch.Array()
	docs := make([]shard.Document, 0, len(items))
	for _, item := range items {
		docs = append(docs, shard.Document{Key: item.Get("_key").String(), Body: []byte(item.Raw)})
	}
	created, counter := s.InsertMany(docs, overwrite)

	if waitForSync && s.Leader() {
		n.replicate(r.Context(), s.ID, raw, overwrite)
	}

	if header := network.EncodeErrorCounts(counter); header != "" {
		w.Header().Set(network.HeaderErrorCodes, header)
	}
	status := http.StatusAccepted
	if waitForSync {
		status = http.StatusCreated
	}
	writeJSON(w, status, struct {
		Created int `json:"created"`
	}{Created: created})
}

// replicate sends the batch to every follower of the shard. Follower
// failures are logged and do not fail the leader's write.
func (n *node) replicate(ctx context.Context, shardID string, batch []byte, overwrite bool) {
	snap, err := n.topology.Snapshot(ctx)
	if err != nil {
		n.log.Warn("cannot replicate without topology", logger.ShardID(shardID), zap.Error(err))
		return
	}
	servers := snap.ResponsibleServers(shardID)
	for _, follower := range servers {
		if follower == n.id {
			continue
		}
		resp, err := n.client.Send(ctx, "server:"+follower, snap, network.Request{
			Method: http.MethodPost,
			Path:   "/shard/" + shardID + "/documents?overwrite=" + strconv.FormatBool(overwrite),
			Body:   batch,
			Header: http.Header{"Content-Type": []string{"application/json"}},
		})
		if err == nil {
			err = resp.Err()
		}
		if err == nil && resp.StatusCode >= 300 {
			err = network.ResultFromBody(resp.Body, errcode.Internal).Err()
		}
		if err != nil {
			n.log.Warn("replication to follower failed",
				logger.ShardID(shardID), logger.ServerID(follower), zap.Error(err))
		}
	}
}

func httpStatus(code errcode.Code) int {
	switch code {
	case errcode.BadParameter:
		return http.StatusBadRequest
	case errcode.DataSourceNotFound, errcode.DocumentNotFound:
		return http.StatusNotFound
	case errcode.ShuttingDown, errcode.BackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := errcode.CodeOf(err)
	writeJSON(w, httpStatus(code), struct {
		Error        bool         `json:"error"`
		ErrorNum     errcode.Code `json:"errorNum"`
		ErrorMessage string       `json:"errorMessage"`
	}{Error: true, ErrorNum: code, ErrorMessage: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

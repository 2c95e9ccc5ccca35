package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/clustercomm/internal/cluster"
	"github.com/dreamware/clustercomm/internal/config"
	"github.com/dreamware/clustercomm/internal/errcode"
	"github.com/dreamware/clustercomm/internal/network"
)

func newTestServer(t *testing.T, numShards int) (*server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Coordinator.NumShards = numShards
	s := newServer(cfg, zap.NewNop())
	ts := httptest.NewServer(s.routes())
	t.Cleanup(func() {
		ts.Close()
		s.close()
	})
	return s, ts
}

func tcpEndpoint(srv *httptest.Server) string {
	return "tcp://" + strings.TrimPrefix(srv.URL, "http://")
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func register(t *testing.T, ts *httptest.Server, id, addr string) {
	t.Helper()
	resp := postJSON(t, ts.URL+"/register", cluster.RegisterRequest{Node: cluster.NodeInfo{ID: id, Addr: addr}})
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHandleRegister(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "bad json", body: "{", status: http.StatusBadRequest},
		{name: "missing id", body: `{"node":{"addr":"tcp://h:1"}}`, status: http.StatusBadRequest},
		{name: "unsupported scheme", body: `{"node":{"id":"n1","addr":"ftp://h:1"}}`, status: http.StatusBadRequest},
		{name: "comma in id", body: `{"node":{"id":"a,b","addr":"tcp://h:1"}}`, status: http.StatusBadRequest},
		{name: "ok", body: `{"node":{"id":"n1","addr":"tcp://h:1"}}`, status: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts := newTestServer(t, 4)
			resp, err := http.Post(ts.URL+"/register", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestRegisterAssignsShards(t *testing.T) {
	s, ts := newTestServer(t, 4)

	register(t, ts, "n1", "tcp://h1:1")
	assert.Len(t, s.registry.GetAllAssignments(), 4)
	assert.Equal(t, []int{0, 1, 2, 3}, s.registry.GetServerShards("n1"))

	// re-registering keeps a single entry
	register(t, ts, "n1", "tcp://h1:2")
	assert.Len(t, s.nodeList(), 1)

	var plan cluster.PlanSnapshot
	resp, err := http.Get(ts.URL + "/plan")
	require.NoError(t, err)
	decode(t, resp, &plan)
	assert.Equal(t, "tcp://h1:2", plan.ServerEndpoint("n1"))
	assert.Equal(t, []string{"n1"}, plan.ResponsibleServers("2"))
	assert.Equal(t, s.registry.Version(), plan.Version)
}

func TestFailoverDropsNode(t *testing.T) {
	s, ts := newTestServer(t, 2)
	register(t, ts, "n1", "tcp://h1:1")
	register(t, ts, "n2", "tcp://h2:1")

	s.failover("n1")

	assert.Len(t, s.nodeList(), 1)
	for _, a := range s.registry.GetAllAssignments() {
		assert.Equal(t, "n2", a.Leader())
	}
	_, ok := s.registry.Endpoint("n1")
	assert.False(t, ok)
}

func TestHandleShardsAndAssign(t *testing.T) {
	s, ts := newTestServer(t, 2)

	resp := postJSON(t, ts.URL+"/shards/assign", map[string]any{"shard_id": 1, "servers": []string{"a", "b"}})
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/shards/assign", map[string]any{"shard_id": 9, "servers": []string{"a"}})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out struct {
		NumShards int    `json:"num_shards"`
		Version   uint64 `json:"version"`
		Shards    []struct {
			ShardID int      `json:"shard_id"`
			Servers []string `json:"servers"`
		} `json:"shards"`
	}
	resp, err := http.Get(ts.URL + "/shards")
	require.NoError(t, err)
	decode(t, resp, &out)
	assert.Equal(t, 2, out.NumShards)
	assert.Equal(t, s.registry.Version(), out.Version)
	require.Len(t, out.Shards, 1)
	assert.Equal(t, []string{"a", "b"}, out.Shards[0].Servers)
}

func TestHandleResolve(t *testing.T) {
	_, ts := newTestServer(t, 2)
	register(t, ts, "n1", "tcp://h1:1")

	tests := []struct {
		name     string
		dest     string
		status   int
		endpoint string
		code     errcode.Code
	}{
		{name: "shard", dest: "shard:0", status: http.StatusOK, endpoint: "tcp://h1:1"},
		{name: "server", dest: "server:n1", status: http.StatusOK, endpoint: "tcp://h1:1"},
		{name: "raw", dest: "ssl://x:9", status: http.StatusOK, endpoint: "ssl://x:9"},
		{name: "unknown shard", dest: "shard:77", status: http.StatusServiceUnavailable, code: errcode.BackendUnavailable},
		{name: "parse error", dest: "bogus:1", status: http.StatusBadRequest, code: errcode.BadParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(ts.URL + "/resolve?destination=" + tt.dest)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			var out struct {
				Endpoint string       `json:"endpoint"`
				ErrorNum errcode.Code `json:"errorNum"`
			}
			decode(t, resp, &out)
			assert.Equal(t, tt.endpoint, out.Endpoint)
			assert.Equal(t, tt.code, out.ErrorNum)
		})
	}
}

// fakeNode is a minimal node answering store and batch insert requests.
type fakeNode struct {
	mu        sync.Mutex
	data      map[string][]byte
	header    string
	lastQuery string
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch {
	case strings.Contains(r.URL.Path, "/store/"):
		key := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		switch r.Method {
		case http.MethodPut:
			n.data[key], _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			v, ok := n.data[key]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(v)
		}
	case strings.HasSuffix(r.URL.Path, "/documents"):
		n.lastQuery = r.URL.RawQuery
		var docs []json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&docs)
		if n.header != "" {
			w.Header().Set(network.HeaderErrorCodes, n.header)
		}
		status := http.StatusAccepted
		if r.URL.Query().Get("waitForSync") == "true" {
			status = http.StatusCreated
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]int{"created": len(docs)})
	}
}

func TestHandleDataForwardsToLeader(t *testing.T) {
	node := &fakeNode{data: map[string][]byte{}}
	nodeSrv := httptest.NewServer(node)
	defer nodeSrv.Close()

	_, ts := newTestServer(t, 4)
	register(t, ts, "n1", tcpEndpoint(nodeSrv))

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/data/user-1", strings.NewReader("hello"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/data/user-1")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", string(body))

	resp, err = http.Get(ts.URL + "/data/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleDataWithoutNodes(t *testing.T) {
	_, ts := newTestServer(t, 4)

	resp, err := http.Get(ts.URL + "/data/k")
	require.NoError(t, err)
	var out struct {
		ErrorNum errcode.Code `json:"errorNum"`
	}
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	decode(t, resp, &out)
	assert.Equal(t, errcode.BackendUnavailable, out.ErrorNum)
}

func TestHandleDocuments(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		header      string
		wantStatus  int
		wantSync    bool
		wantCounter string
	}{
		{name: "synced insert", query: "?waitForSync=true", wantStatus: http.StatusCreated, wantSync: true},
		{name: "async insert", query: "", wantStatus: http.StatusAccepted},
		{name: "per-document failures", query: "?waitForSync=true", header: `{"1210":1}`, wantStatus: http.StatusCreated, wantSync: true, wantCounter: `{"1210":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := &fakeNode{data: map[string][]byte{}, header: tt.header}
			nodeSrv := httptest.NewServer(node)
			defer nodeSrv.Close()

			// one shard keeps the batch in one request
			_, ts := newTestServer(t, 1)
			register(t, ts, "n1", tcpEndpoint(nodeSrv))

			resp, err := http.Post(ts.URL+"/documents"+tt.query, "application/json",
				strings.NewReader(`[{"_key":"a"},{"_key":"b"},{"_key":"c"}]`))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCounter, resp.Header.Get(network.HeaderErrorCodes))

			var out struct {
				Created     int  `json:"created"`
				WaitForSync bool `json:"waitForSync"`
			}
			decode(t, resp, &out)
			assert.Equal(t, 3, out.Created)
			assert.Equal(t, tt.wantSync, out.WaitForSync)
		})
	}
}

func TestHandleDocumentsEmptyBatch(t *testing.T) {
	_, ts := newTestServer(t, 1)

	resp, err := http.Post(ts.URL+"/documents", "application/json", strings.NewReader(`[]`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out struct {
		Created     int  `json:"created"`
		WaitForSync bool `json:"waitForSync"`
	}
	decode(t, resp, &out)
	assert.Zero(t, out.Created)
	assert.False(t, out.WaitForSync)
}

func TestHandleDocumentsRejectsNonArray(t *testing.T) {
	_, ts := newTestServer(t, 1)

	resp, err := http.Post(ts.URL+"/documents", "application/json", strings.NewReader(`{"_key":"a"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleDocumentsUnreachableLeader(t *testing.T) {
	_, ts := newTestServer(t, 1)
	register(t, ts, "n1", "tcp://127.0.0.1:1")

	resp, err := http.Post(ts.URL+"/documents", "application/json", strings.NewReader(`[{"_key":"a"}]`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleBroadcast(t *testing.T) {
	var hits sync.Map
	nodeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Store(r.URL.Path, true)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer nodeSrv.Close()

	_, ts := newTestServer(t, 1)
	register(t, ts, "n1", tcpEndpoint(nodeSrv))
	register(t, ts, "n2", "tcp://127.0.0.1:1")

	resp := postJSON(t, ts.URL+"/broadcast", cluster.BroadcastRequest{Path: "/control/ping", Payload: json.RawMessage(`{}`)})
	var out struct {
		SentTo  int `json:"sent_to"`
		Results []struct {
			NodeID string `json:"node_id"`
			Err    string `json:"err"`
		} `json:"results"`
	}
	decode(t, resp, &out)

	assert.Equal(t, 2, out.SentTo)
	require.Len(t, out.Results, 2)
	assert.Empty(t, out.Results[0].Err)
	assert.NotEmpty(t, out.Results[1].Err)
	_, ok := hits.Load("/control/ping")
	assert.True(t, ok)

	resp = postJSON(t, ts.URL+"/broadcast", cluster.BroadcastRequest{Path: "nope"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := map[errcode.Code]int{
		errcode.NoError:                  http.StatusOK,
		errcode.BadParameter:             http.StatusBadRequest,
		errcode.DataSourceNotFound:       http.StatusNotFound,
		errcode.Conflict:                 http.StatusPreconditionFailed,
		errcode.UniqueConstraintViolated: http.StatusConflict,
		errcode.BackendUnavailable:       http.StatusServiceUnavailable,
		errcode.ClusterTimeout:           http.StatusGatewayTimeout,
		errcode.ConnectionLost:           http.StatusBadGateway,
		errcode.Internal:                 http.StatusInternalServerError,
	}
	for code, status := range tests {
		assert.Equal(t, status, httpStatus(code), code.String())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	_, ts := newTestServer(t, 1)

	for _, path := range []string{"/health", "/metrics", "/nodes"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

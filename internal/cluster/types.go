// Package cluster holds the wire types exchanged between the coordinator and
// the nodes, the plan snapshot that doubles as the per-call topology view,
// and the node-side cache of that snapshot.
package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// NodeInfo identifies a node and the endpoint it serves on
// (tcp://host:port or ssl://host:port).
type NodeInfo struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// RegisterRequest is the body a node posts to the coordinator's /register.
type RegisterRequest struct {
	Node NodeInfo `json:"node"`
}

// BroadcastRequest asks the coordinator to POST Payload to Path on every node.
type BroadcastRequest struct {
	Path    string          `json:"path"`
	Payload json.RawMessage `json:"payload"`
}

// PlanSnapshot is the desired cluster state at one plan version: which
// servers hold each shard (leader first) and where each server listens.
// A snapshot is never mutated after it is published.
type PlanSnapshot struct {
	Version uint64              `json:"version"`
	Shards  map[string][]string `json:"shards"`
	Servers map[string]string   `json:"servers"`
}

// ResponsibleServers returns the servers of a shard, leader first.
func (p *PlanSnapshot) ResponsibleServers(shardID string) []string {
	return p.Shards[shardID]
}

// ServerEndpoint returns the endpoint of a server or "".
func (p *PlanSnapshot) ServerEndpoint(serverID string) string {
	return p.Servers[serverID]
}

// ShardsOf returns the shards listing serverID and whether it leads each.
func (p *PlanSnapshot) ShardsOf(serverID string) map[string]bool {
	out := make(map[string]bool)
	for shardID, servers := range p.Shards {
		for i, s := range servers {
			if s == serverID {
				out[shardID] = i == 0
				break
			}
		}
	}
	return out
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// PostJSON posts body as JSON and decodes the answer into out unless out is nil.
// Statuses of 300 and above are errors.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(req, out)
}

// GetJSON fetches url and decodes the JSON answer into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return do(req, out)
}

func do(req *http.Request, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", req.URL, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

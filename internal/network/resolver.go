// Package network routes cluster requests and interprets their results: it
// resolves logical destinations against a topology snapshot, sends requests
// over HTTP, and collapses transport outcomes and response payloads onto the
// errcode vocabulary.
package network

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dreamware/clustercomm/internal/errcode"
	"github.com/dreamware/clustercomm/internal/logger"
	"github.com/dreamware/clustercomm/internal/metrics"
)

// Topology is the read-only view of the cluster used for one resolution.
// A nil Topology means the topology service is unavailable.
type Topology interface {
	// ResponsibleServers returns the servers holding a shard, leader first.
	ResponsibleServers(shardID string) []string
	// ServerEndpoint returns the endpoint of a server, or "" when unknown.
	ServerEndpoint(serverID string) string
}

// ResolvedEndpoint is where a request should be sent. ServerID is empty for
// raw endpoints.
type ResolvedEndpoint struct {
	Endpoint string
	ServerID string
}

// Resolver turns destination strings into endpoints. It holds no state
// besides its logger and is safe for concurrent use.
type Resolver struct {
	log *zap.Logger
}

// NewResolver returns a Resolver logging to log, or to the "network" logger
// when log is nil.
func NewResolver(log *zap.Logger) *Resolver {
	if log == nil {
		log = logger.Named("network")
	}
	return &Resolver{log: log}
}

// Resolve parses dest and looks it up in topo.
//
// Raw tcp:// and ssl:// endpoints are returned as given without touching
// topo. Shard targets resolve to their leader. Unknown shards, unknown
// servers and a nil topo fail with errcode.BackendUnavailable; unparsable
// input fails with ErrParse (errcode.BadParameter).
func (r *Resolver) Resolve(dest string, topo Topology) (ResolvedEndpoint, error) {
	d, err := ParseDestination(dest)
	if err != nil {
		r.log.Error("did not understand destination", logger.Destination(dest))
		metrics.ResolveFailures.WithLabelValues("parse").Inc()
		return ResolvedEndpoint{}, &parseError{err: err}
	}

	if d.Kind == RawEndpoint {
		return ResolvedEndpoint{Endpoint: d.Endpoint}, nil
	}

	if topo == nil {
		metrics.ResolveFailures.WithLabelValues("topology_unavailable").Inc()
		return ResolvedEndpoint{}, errcode.New(errcode.BackendUnavailable,
			"topology unavailable while resolving '%s'", dest)
	}

	serverID := d.ID
	if d.Kind == ShardTarget {
		servers := topo.ResponsibleServers(d.ID)
		if len(servers) == 0 {
			r.log.Error("cannot find responsible server for shard", logger.ShardID(d.ID))
			metrics.ResolveFailures.WithLabelValues("no_responsible_server").Inc()
			return ResolvedEndpoint{}, errcode.New(errcode.BackendUnavailable,
				"cannot find responsible server for shard '%s'", d.ID)
		}
		serverID = servers[0]
		r.log.Debug("responsible server", logger.ShardID(d.ID), logger.ServerID(serverID))
	}

	if strings.Contains(serverID, ",") {
		panic(fmt.Sprintf("network: composite server id %q while resolving %q", serverID, dest))
	}

	endpoint := topo.ServerEndpoint(serverID)
	if endpoint == "" {
		r.log.Error("did not find endpoint of server", logger.ServerID(serverID))
		metrics.ResolveFailures.WithLabelValues("no_endpoint").Inc()
		return ResolvedEndpoint{}, errcode.New(errcode.BackendUnavailable,
			"did not find endpoint of server '%s'", serverID)
	}
	return ResolvedEndpoint{Endpoint: endpoint, ServerID: serverID}, nil
}

// parseError carries both ErrParse and errcode.BadParameter.
type parseError struct {
	err error
}

func (e *parseError) Error() string { return e.err.Error() }

func (e *parseError) Unwrap() []error {
	return []error{e.err, &errcode.Error{Code: errcode.BadParameter, Message: e.err.Error()}}
}

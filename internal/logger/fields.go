package logger

import (
	"go.uber.org/zap"
)

// ShardID tags an entry with a shard identifier.
func ShardID(v string) zap.Field { return zap.String("shard_id", v) }

// ServerID tags an entry with a server identifier.
func ServerID(v string) zap.Field { return zap.String("server_id", v) }

// Destination tags an entry with a raw destination string.
func Destination(v string) zap.Field { return zap.String("destination", v) }

// Endpoint tags an entry with a network endpoint.
func Endpoint(v string) zap.Field { return zap.String("endpoint", v) }

// JobID tags an entry with a dispatcher job id.
func JobID(v string) zap.Field { return zap.String("job_id", v) }

// NodeID tags an entry with a cluster node id.
func NodeID(v string) zap.Field { return zap.String("node_id", v) }

// PlanVersion tags an entry with a plan version.
func PlanVersion(v uint64) zap.Field { return zap.Uint64("plan_version", v) }

// Outcome tags an entry with a transport outcome name.
func Outcome(v string) zap.Field { return zap.String("outcome", v) }

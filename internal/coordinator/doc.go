// Package coordinator holds the cluster's authoritative plan and watches
// node health.
//
// # Plan
//
// ShardRegistry maps every shard to a leader-first list of responsible
// servers and every server to its endpoint. Each change bumps the plan
// version. Nodes poll the version and run a local plan change when it moves;
// request routers read Snapshot, which implements the topology the network
// resolver consumes:
//
//	shard:3   -> ResponsibleServers("3") -> ["node-2", "node-1"] -> leader node-2
//	server:node-2 -> ServerEndpoint("node-2") -> "tcp://10.0.0.2:8081"
//
// # Health
//
// HealthMonitor polls each node's /health endpoint. After three consecutive
// failures the node is declared unhealthy once and the configured callback
// runs; the coordinator binary wires that callback to FailoverServer, which
// promotes the first follower of every shard the node led.
//
// # Concurrency
//
// Both types are safe for concurrent use. Neither holds its lock while
// doing network I/O or running callbacks.
package coordinator

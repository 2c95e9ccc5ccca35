// Package planchange applies cluster plan changes on a node.
//
// A plan change runs as a background Job created by the Coordinator. Jobs
// from the same Coordinator share one mutex, so at most one plan change
// executes on the node at a time regardless of how many workers the
// dispatcher runs. Every job that gets past the shutdown check reports its
// outcome to the liveness monitor exactly once.
//
// Inside the critical section a job borrows the active database and a
// scripting context, hands them to the ChangeApplier, flushes the cached
// topology and gives both resources back on every path, including a panic
// in the applier.
package planchange

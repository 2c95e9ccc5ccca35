// Package metrics holds the Prometheus collectors shared by the routing,
// translation and plan-change layers. They live in their own package so that
// network, cluster and planchange can record without importing each other.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ResolveFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clustercomm_resolve_failures_total",
		Help: "Destination resolutions that failed, by reason",
	}, []string{"reason"})

	TransportOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clustercomm_transport_outcomes_total",
		Help: "Transport-layer outcomes observed by the client",
	}, []string{"outcome"})

	TopologyFlushes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clustercomm_topology_flushes_total",
		Help: "Invalidations of the cached topology snapshot",
	})

	TopologyLoads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clustercomm_topology_loads_total",
		Help: "Topology snapshot loads, by result",
	}, []string{"result"})

	PlanChangeJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clustercomm_planchange_jobs_total",
		Help: "Plan change jobs run, by result",
	}, []string{"result"})

	PlanChangeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "clustercomm_planchange_duration_seconds",
		Help:    "Time spent inside the plan change critical section",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
)

func all() []prometheus.Collector {
	return []prometheus.Collector{
		ResolveFailures,
		TransportOutcomes,
		TopologyFlushes,
		TopologyLoads,
		PlanChangeJobs,
		PlanChangeDuration,
	}
}

// Register registers every collector on reg (default registerer if nil).
// Collectors that are already registered are skipped.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range all() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

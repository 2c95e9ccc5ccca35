package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))

	PlanChangeJobs.WithLabelValues("success").Inc()
	ResolveFailures.WithLabelValues("parse").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["clustercomm_planchange_jobs_total"])
	assert.True(t, names["clustercomm_resolve_failures_total"])
}

func TestCountersAccumulate(t *testing.T) {
	before := testutil.ToFloat64(TopologyFlushes)
	TopologyFlushes.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(TopologyFlushes))
}

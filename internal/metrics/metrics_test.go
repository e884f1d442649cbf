package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Verification("marked")
	m.Verification("marked")
	m.Verification("no_match")
	m.Liveness()
	m.ObserveEngine("verify", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Verifications.WithLabelValues("marked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LivenessRejections))

	n, err := testutil.GatherAndCount(reg, "faceattend_engine_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilRegistryIsNoop(t *testing.T) {
	var m *Registry
	m.Verification("marked")
	m.Enrollment("ok")
	m.Login("ok")
	m.Liveness()
	m.ObserveEngine("analyze", time.Now())
}

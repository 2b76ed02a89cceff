package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestHooksWithoutRegistry(t *testing.T) {
	global.Store(nil)

	require.NotPanics(t, func() {
		IncQuotaExceeded()
		AddReservedBytes(10)
		AddFreedBytes(10)
		AddClonedNodes(3)
		IncCloneRollback()
		IncInvariantViolation()
		IncObjectStoreError("put")
		ObserveRequest("GET", "/api/v1/nodes", 200, time.Millisecond)
	})
}

func TestRegisterAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	t.Cleanup(func() { global.Store(nil) })

	IncQuotaExceeded()
	IncQuotaExceeded()
	AddReservedBytes(400)
	AddReservedBytes(-5)
	AddClonedNodes(3)
	IncObjectStoreError("put")
	ObserveRequest("GET", "", 404, time.Millisecond)

	c := global.Load()
	require.Equal(t, float64(2), testutil.ToFloat64(c.quotaExceeded))
	require.Equal(t, float64(400), testutil.ToFloat64(c.quotaReservedBytes))
	require.Equal(t, float64(3), testutil.ToFloat64(c.cloneNodes))
	require.Equal(t, float64(1), testutil.ToFloat64(c.objectStoreErrors.WithLabelValues("put")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "unmatched", "404")))
}

func TestRegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	t.Cleanup(func() { global.Store(nil) })

	require.Error(t, Register(reg))
}

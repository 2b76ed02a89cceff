// Package metrics exposes Prometheus collectors for the HTTP layer and the
// storage core. The hook functions are no-ops until Register is called, so
// packages can record metrics unconditionally.
package metrics

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "netdisk"

type collectors struct {
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	quotaExceeded       prometheus.Counter
	quotaReservedBytes  prometheus.Counter
	quotaFreedBytes     prometheus.Counter
	cloneNodes          prometheus.Counter
	cloneRollbacks      prometheus.Counter
	invariantViolations prometheus.Counter
	objectStoreErrors   *prometheus.CounterVec
}

var global atomic.Pointer[collectors]

// Register creates the collectors, registers them with reg and activates the hooks.
func Register(reg prometheus.Registerer) error {
	c := &collectors{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		quotaExceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_exceeded_total",
			Help:      "Reservations rejected because the quota was exhausted.",
		}),
		quotaReservedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_reserved_bytes_total",
			Help:      "Bytes reserved against owner quotas.",
		}),
		quotaFreedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_freed_bytes_total",
			Help:      "Bytes returned to owner quotas by deletes and releases.",
		}),
		cloneNodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clone_nodes_total",
			Help:      "Nodes created by subtree clones.",
		}),
		cloneRollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clone_rollbacks_total",
			Help:      "Subtree clones that were compensated after a failure.",
		}),
		invariantViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Detected tree or quota invariant violations.",
		}),
		objectStoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "object_store_errors_total",
			Help:      "Object store failures by operation.",
		}, []string{"op"}),
	}

	for _, col := range []prometheus.Collector{
		c.httpRequests, c.httpDuration, c.quotaExceeded, c.quotaReservedBytes, c.quotaFreedBytes,
		c.cloneNodes, c.cloneRollbacks, c.invariantViolations, c.objectStoreErrors,
	} {
		if err := reg.Register(col); err != nil {
			return err
		}
	}

	global.Store(c)
	return nil
}

func ObserveRequest(method, route string, status int, dur time.Duration) {
	c := global.Load()
	if c == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(dur.Seconds())
}

func IncQuotaExceeded() {
	if c := global.Load(); c != nil {
		c.quotaExceeded.Inc()
	}
}

func AddReservedBytes(n int64) {
	if c := global.Load(); c != nil && n > 0 {
		c.quotaReservedBytes.Add(float64(n))
	}
}

func AddFreedBytes(n int64) {
	if c := global.Load(); c != nil && n > 0 {
		c.quotaFreedBytes.Add(float64(n))
	}
}

func AddClonedNodes(n int) {
	if c := global.Load(); c != nil && n > 0 {
		c.cloneNodes.Add(float64(n))
	}
}

func IncCloneRollback() {
	if c := global.Load(); c != nil {
		c.cloneRollbacks.Inc()
	}
}

func IncInvariantViolation() {
	if c := global.Load(); c != nil {
		c.invariantViolations.Inc()
	}
}

func IncObjectStoreError(op string) {
	if c := global.Load(); c != nil {
		c.objectStoreErrors.WithLabelValues(op).Inc()
	}
}

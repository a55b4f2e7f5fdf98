package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector holds all Prometheus metrics for the application.
// A nil *Collector is valid and records nothing.
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Tree metrics
	Mutations    *prometheus.CounterVec
	NodesCreated prometheus.Counter
	NodesDeleted prometheus.Counter
	LockWait     prometheus.Histogram

	// Circuit breaker state per breaker: 0 closed, 1 half-open, 2 open
	BreakerState *prometheus.GaugeVec
}

// NewCollector creates a new metrics collector with its own registry
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	mutations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_mutations_total",
			Help:      "Total number of node mutations by operation and outcome",
		},
		[]string{"operation", "status"},
	)

	nodesCreated := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_created_total",
			Help:      "Total number of nodes created",
		},
	)

	nodesDeleted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_deleted_total",
			Help:      "Total number of nodes deleted, descendants included",
		},
	)

	lockWait := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "group_lock_wait_seconds",
			Help:      "Time spent waiting for sibling group locks",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	registry.MustRegister(
		httpRequests,
		httpDuration,
		mutations,
		nodesCreated,
		nodesDeleted,
		lockWait,
		breakerState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Collector{
		registry:     registry,
		HTTPRequests: httpRequests,
		HTTPDuration: httpDuration,
		Mutations:    mutations,
		NodesCreated: nodesCreated,
		NodesDeleted: nodesDeleted,
		LockWait:     lockWait,
		BreakerState: breakerState,
	}
}

// RecordMutation counts a finished node mutation
func (c *Collector) RecordMutation(operation string, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.Mutations.WithLabelValues(operation, status).Inc()
}

// AddNodesCreated adds to the created-node counter
func (c *Collector) AddNodesCreated(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.NodesCreated.Add(float64(n))
}

// AddNodesDeleted adds to the deleted-node counter
func (c *Collector) AddNodesDeleted(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.NodesDeleted.Add(float64(n))
}

// ObserveLockWait records how long a lock acquisition took
func (c *Collector) ObserveLockWait(d time.Duration) {
	if c == nil {
		return
	}
	c.LockWait.Observe(d.Seconds())
}

// RecordHTTP records a served request
func (c *Collector) RecordHTTP(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// SetBreakerState publishes a circuit breaker state
func (c *Collector) SetBreakerState(name string, state int) {
	if c == nil {
		return
	}
	c.BreakerState.WithLabelValues(name).Set(float64(state))
}

// GetRegistry returns the Prometheus registry for this collector
func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}

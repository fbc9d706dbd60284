package mpv

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/agiangrant/mpvclient/internal/ffi"
)

// MetricsConfig configures the Prometheus collectors of a client.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "mpv").
	Namespace string

	// Subsystem is the metrics subsystem (default: "client").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures NewMetrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "mpv",
		Subsystem: "client",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics counts native calls and delivered events. One Metrics may be shared
// by several clients; pass it with WithMetrics.
type Metrics struct {
	calls  *prometheus.CounterVec
	events *prometheus.CounterVec

	allocMu sync.Mutex
	allocs  []*ffi.CountingAllocator
}

// NewMetrics registers the collectors.
//
// Metrics collected:
//   - mpv_client_calls_total: native calls by operation and result code
//   - mpv_client_events_total: events returned by WaitEvent, by name
//   - mpv_client_native_allocations: blocks staged in native memory and not yet freed
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	m := &Metrics{}
	m.calls = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   config.Namespace,
		Subsystem:   config.Subsystem,
		Name:        "calls_total",
		Help:        "Total number of libmpv calls by operation and result",
		ConstLabels: config.ConstLabels,
	}, []string{"op", "result"})

	m.events = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   config.Namespace,
		Subsystem:   config.Subsystem,
		Name:        "events_total",
		Help:        "Total number of events received from libmpv",
		ConstLabels: config.ConstLabels,
	}, []string{"event"})

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   config.Namespace,
		Subsystem:   config.Subsystem,
		Name:        "native_allocations",
		Help:        "Native blocks allocated for staging values and not yet freed",
		ConstLabels: config.ConstLabels,
	}, m.liveAllocations)
	return m
}

// wrap counts allocations made through a. Clients created from the same
// parent share the wrapped allocator.
func (m *Metrics) wrap(a ffi.Allocator) ffi.Allocator {
	if m == nil {
		return a
	}
	c := ffi.Counted(a)
	m.allocMu.Lock()
	m.allocs = append(m.allocs, c)
	m.allocMu.Unlock()
	return c
}

// liveAllocations sums the live blocks of every wrapped allocator.
func (m *Metrics) liveAllocations() float64 {
	m.allocMu.Lock()
	defer m.allocMu.Unlock()
	var live int64
	for _, c := range m.allocs {
		live += c.Live()
	}
	return float64(live)
}

func (m *Metrics) observeCall(op string, code int32) {
	if m == nil {
		return
	}
	result := "ok"
	if code < 0 {
		result = ErrorCode(code).String()
	}
	m.calls.WithLabelValues(op, result).Inc()
}

func (m *Metrics) observeEvent(id EventID) {
	if m == nil || id == EventNone {
		return
	}
	m.events.WithLabelValues(id.String()).Inc()
}

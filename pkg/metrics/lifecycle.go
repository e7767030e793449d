package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "materialflow"

// LifecycleMetrics records component line activity.
type LifecycleMetrics struct {
	transitions *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	spawns      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewLifecycleMetrics registers the lifecycle metrics on the provided registerer.
func NewLifecycleMetrics(reg prometheus.Registerer) *LifecycleMetrics {
	if reg == nil {
		return &LifecycleMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "line_transitions_total",
		Help:      "Committed component line status transitions.",
	}, []string{"from", "to"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operation_rejections_total",
		Help:      "Lifecycle operations rejected, by error code.",
	}, []string{"operation", "code"})
	spawns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "line_spawns_total",
		Help:      "Child lines spawned, by lineage kind.",
	}, []string{"kind"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Duration of lifecycle operations in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	reg.MustRegister(transitions, rejections, spawns, duration)
	return &LifecycleMetrics{
		transitions: transitions,
		rejections:  rejections,
		spawns:      spawns,
		duration:    duration,
	}
}

// IncTransition counts one committed status change.
func (m *LifecycleMetrics) IncTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

// IncRejection counts an operation that returned a typed error.
func (m *LifecycleMetrics) IncRejection(operation, code string) {
	if m == nil || m.rejections == nil {
		return
	}
	m.rejections.WithLabelValues(normalizeLabel(operation), normalizeLabel(code)).Inc()
}

// IncSpawn counts a newly created child line.
func (m *LifecycleMetrics) IncSpawn(kind string) {
	if m == nil || m.spawns == nil {
		return
	}
	m.spawns.WithLabelValues(normalizeLabel(kind)).Inc()
}

// ObserveDuration records the duration for the named operation.
func (m *LifecycleMetrics) ObserveDuration(operation string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

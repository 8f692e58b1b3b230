package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the runner's Prometheus collectors on a private registry.
type Metrics struct {
	FramesProcessed  *prometheus.CounterVec
	FramesDropped    *prometheus.CounterVec
	DetectorErrors   *prometheus.CounterVec
	AlertFrames      *prometheus.CounterVec
	ViolationCounter *prometheus.GaugeVec

	Notifications    prometheus.Counter
	Suppressed       prometheus.Counter
	AuditWrites      prometheus.Counter
	RoutineScans     prometheus.Counter
	DispatchDropped  prometheus.Counter
	DispatchFailures *prometheus.CounterVec

	registry *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		FramesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safety_frames_processed_total",
			Help: "Frames run through the decision pipeline",
		}, []string{"session"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safety_frames_dropped_total",
			Help: "Frames overwritten in the latest-frame slot before being processed",
		}, []string{"session"}),
		DetectorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safety_detector_errors_total",
			Help: "Detector calls that failed and were treated as empty",
		}, []string{"detector"}),
		AlertFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safety_alert_frames_total",
			Help: "Frames on which the alert state was active",
		}, []string{"session"}),
		ViolationCounter: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "safety_violation_counter",
			Help: "Current hysteresis counter value",
		}, []string{"session"}),
		Notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safety_notifications_total",
			Help: "Snapshot notifications scheduled",
		}),
		Suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safety_notifications_suppressed_total",
			Help: "Snapshot notifications dropped by the cooldown",
		}),
		AuditWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safety_audit_writes_total",
			Help: "Audit records scheduled",
		}),
		RoutineScans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safety_routine_scans_total",
			Help: "Routine scene scans scheduled",
		}),
		DispatchDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safety_dispatch_dropped_total",
			Help: "Dispatch tasks dropped because the worker queue was full",
		}),
		DispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safety_dispatch_failures_total",
			Help: "Dispatch tasks that returned an error",
		}, []string{"task"}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.FramesProcessed,
		m.FramesDropped,
		m.DetectorErrors,
		m.AlertFrames,
		m.ViolationCounter,
		m.Notifications,
		m.Suppressed,
		m.AuditWrites,
		m.RoutineScans,
		m.DispatchDropped,
		m.DispatchFailures,
	)
	return m
}

// Forget removes per-session series once a session ends.
func (m *Metrics) Forget(session string) {
	m.FramesProcessed.DeleteLabelValues(session)
	m.FramesDropped.DeleteLabelValues(session)
	m.AlertFrames.DeleteLabelValues(session)
	m.ViolationCounter.DeleteLabelValues(session)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

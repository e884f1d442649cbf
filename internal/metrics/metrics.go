// Package metrics holds the Prometheus collectors for the attendance flows.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry groups the service's collectors.
type Registry struct {
	Enrollments        *prometheus.CounterVec
	Verifications      *prometheus.CounterVec
	LivenessRejections prometheus.Counter
	Logins             *prometheus.CounterVec
	EngineDuration     *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg uses a private registry,
// which keeps tests independent of the global default.
func New(reg prometheus.Registerer) *Registry {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Registry{
		Enrollments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "faceattend_enrollments_total",
			Help: "Face enrollment attempts by result.",
		}, []string{"result"}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "faceattend_verifications_total",
			Help: "Attendance verification attempts by result.",
		}, []string{"result"}),
		LivenessRejections: f.NewCounter(prometheus.CounterOpts{
			Name: "faceattend_liveness_rejections_total",
			Help: "Frame bursts rejected by the replay check.",
		}),
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "faceattend_logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		EngineDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "faceattend_engine_duration_seconds",
			Help:    "Latency of face engine calls.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"op"}),
	}
}

// ObserveEngine records the duration of an engine call started at start.
func (r *Registry) ObserveEngine(op string, start time.Time) {
	if r == nil {
		return
	}
	r.EngineDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Enrollment counts an enrollment outcome.
func (r *Registry) Enrollment(result string) {
	if r == nil {
		return
	}
	r.Enrollments.WithLabelValues(result).Inc()
}

// Verification counts a verification outcome.
func (r *Registry) Verification(result string) {
	if r == nil {
		return
	}
	r.Verifications.WithLabelValues(result).Inc()
}

// Liveness counts a rejected burst.
func (r *Registry) Liveness() {
	if r == nil {
		return
	}
	r.LivenessRejections.Inc()
}

// Login counts a login outcome.
func (r *Registry) Login(result string) {
	if r == nil {
		return
	}
	r.Logins.WithLabelValues(result).Inc()
}

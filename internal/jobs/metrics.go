package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is shared by every queue of a process; series are labelled by queue.
type Metrics struct {
	submitted *prometheus.CounterVec
	completed *prometheus.CounterVec
	coalesced *prometheus.CounterVec
	inFlight  *prometheus.GaugeVec
	duration  *prometheus.HistogramVec
}

// NewMetrics registers collectors on reg; a nil reg keeps them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		submitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "railwars",
			Subsystem: "jobs",
			Name:      "submitted_total",
			Help:      "Jobs accepted by a queue.",
		}, []string{"queue"}),
		completed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "railwars",
			Subsystem: "jobs",
			Name:      "completed_total",
			Help:      "Jobs finished, by outcome (ack, drop, dead, interrupted).",
		}, []string{"queue", "outcome"}),
		coalesced: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "railwars",
			Subsystem: "jobs",
			Name:      "coalesced_total",
			Help:      "Duplicate jobs replaced while their key was active.",
		}, []string{"queue"}),
		inFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "railwars",
			Subsystem: "jobs",
			Name:      "in_flight",
			Help:      "Jobs dispatched or waiting behind an active key.",
		}, []string{"queue"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "railwars",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Wall time from dispatch to completion, retries included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
	}
}

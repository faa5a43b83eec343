package prom

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PassCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capacity_scheduler_pass_counter",
			Help: "Counter for evaluation passes",
		},
		[]string{"trigger", "status"},
	)

	PassHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "capacity_scheduler_pass_duration_seconds",
			Help:    "Duration of evaluation passes",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"trigger"},
	)

	EventFiredCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capacity_scheduler_event_fired_counter",
			Help: "Counter for schedule events that fell inside the firing window",
		},
		[]string{"cluster", "event_type", "kind"},
	)

	ActionCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capacity_scheduler_action_counter",
			Help: "Counter for scale and terminate calls",
		},
		[]string{"cluster", "action", "error"},
	)

	ResetCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capacity_scheduler_reset_counter",
			Help: "Counter for custom schedule resets",
		},
		[]string{"cluster", "result"},
	)

	ActiveRecordsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "capacity_scheduler_active_records",
			Help: "Number of enabled schedule records seen by the last pass",
		},
	)
)

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Send pipeline metrics
	SendsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convsync_sends_total",
			Help: "Total send attempts accepted by the pipeline",
		},
	)

	SendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convsync_send_failures_total",
			Help: "Total durable creates that failed and were rolled back",
		},
	)

	// Change stream metrics
	ChangeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convsync_change_events_total",
			Help: "Change-stream events consumed, by transition",
		},
		[]string{"transition"}, // "appear" or "update"
	)

	FetchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convsync_fetch_failures_total",
			Help: "Events dropped because the full document could not be fetched",
		},
	)

	RefreshRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convsync_refresh_runs_total",
			Help: "Full reconciliation passes executed",
		},
	)

	// Store backend metrics
	DroppedFanoutEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convsync_dropped_fanout_events_total",
			Help: "Change events dropped because a subscriber buffer was full",
		},
	)

	StreamReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convsync_stream_reconnects_total",
			Help: "Gateway change-stream reconnection attempts",
		},
	)

	// Unread metrics
	TotalUnread = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convsync_total_unread",
			Help: "Sum of per-conversation unread counts for the session viewer",
		},
	)
)

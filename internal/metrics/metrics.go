// Package metrics defines the Prometheus collectors of the harness.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveFlows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tcpdatagen_active_flows",
			Help: "A gauge of flows currently being measured.",
		})
	FlowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcpdatagen_flows_total",
			Help: "Number of flows completed by this server, by terminal state.",
		},
		[]string{"state"})
	RowsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tcpdatagen_trace_rows_total",
			Help: "Number of trace rows written.",
		})
	TicksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tcpdatagen_ticks_skipped_total",
			Help: "Number of sampling ticks skipped because the kernel statistics query failed.",
		})
	BytesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tcpdatagen_sent_bytes_total",
			Help: "Number of payload bytes written to client connections.",
		})
)

// Package metrics holds the process-wide Prometheus collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "appbridge_build_info",
			Help: "Build information; value is always 1",
		},
		[]string{"version", "sha", "date"},
	)

	ToolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appbridge_tool_calls_total",
			Help: "Tool invocations by tool name and outcome",
		},
		[]string{"tool", "outcome"},
	)

	ToolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "appbridge_tool_call_duration_seconds",
			Help:    "Tool invocation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	ChatTurns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appbridge_chat_turns_total",
			Help: "Assistant chat turns by outcome",
		},
		[]string{"outcome"},
	)
)

// Register adds all collectors to r and records build info.
func Register(r prometheus.Registerer, version, sha, date string) {
	r.MustRegister(BuildInfo, ToolCalls, ToolDuration, ChatTurns)
	BuildInfo.WithLabelValues(version, sha, date).Set(1)
}

package bridge

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "appbridge_sessions_active",
			Help: "Number of live bridge sessions",
		},
	)

	handshakesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appbridge_handshakes_total",
			Help: "Completed handshakes by dialect (negotiated, announced, assumed)",
		},
		[]string{"dialect"},
	)

	messagesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appbridge_messages_dropped_total",
			Help: "Inbound or buffered messages discarded, by reason",
		},
		[]string{"reason"},
	)

	appToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appbridge_app_tool_calls_total",
			Help: "App-initiated tools/call requests serviced, by outcome",
		},
		[]string{"outcome"},
	)
)

// RegisterMetrics registers bridge collectors with r.
func RegisterMetrics(r prometheus.Registerer) {
	r.MustRegister(sessionsActive, handshakesTotal, messagesDroppedTotal, appToolCallsTotal)
}

func dropMessage(reason string) { messagesDroppedTotal.WithLabelValues(reason).Inc() }

// Package metrics holds the daemon's Prometheus collectors.
//
// Collectors are registered eagerly at init. The daemon exposes no scrape
// endpoint of its own and nothing in it reads the counters back; they are
// cheap and ready for any embedder that wires up promhttp.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wisp_http_requests_total",
		Help: "API requests served, by method and status code",
	}, []string{"method", "code"})

	EventsPushedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wisp_events_pushed_total",
		Help: "Events written to a connected push subscriber",
	})

	EventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wisp_events_dropped_total",
		Help: "Events discarded because no subscriber was connected or the write to it failed",
	})

	SubscriberSwapsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wisp_event_subscriber_swaps_total",
		Help: "Times a new push subscriber displaced an existing one",
	})

	TunnelSessionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wisp_tunnel_sessions_total",
		Help: "Tunnel sessions that reached bridge mode",
	})

	TunnelErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wisp_tunnel_errors_total",
		Help: "Tunnel commands rejected before bridge mode, by reason",
	}, []string{"reason"})

	BridgeBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wisp_bridge_bytes_total",
		Help: "Bytes copied through the stream bridge, both directions",
	})

	FilesReceivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wisp_files_received_total",
		Help: "Files streamed to disk via the receive endpoint",
	})
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		EventsPushedTotal,
		EventsDroppedTotal,
		SubscriberSwapsTotal,
		TunnelSessionsTotal,
		TunnelErrorsTotal,
		BridgeBytesTotal,
		FilesReceivedTotal,
	)
}

// ABOUTME: Prometheus metrics for the chatsync gateway
// ABOUTME: Counters and gauges for the realtime and REST surfaces

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Realtime metrics
	MessagesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_messages_published_total",
			Help: "Total chat messages accepted from clients",
		},
	)

	MessagesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_messages_delivered_total",
			Help: "Total chat messages delivered to topic subscribers",
		},
	)

	TopicSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_topic_subscribers",
			Help: "Currently registered conversation topic subscribers",
		},
	)

	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_ws_connections",
			Help: "Currently open websocket connections",
		},
	)

	// REST metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

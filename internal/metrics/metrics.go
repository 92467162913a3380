// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "delivery_active_sessions",
		Help: "Currently registered client sessions.",
	})

	SessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_sessions_opened_total",
		Help: "Sessions that completed the handshake and subscribed.",
	})

	GroupJoins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_group_joins_total",
		Help: "Broker group join operations.",
	})

	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_broadcasts_total",
		Help: "Broker broadcasts by frame type.",
	}, []string{"frame"})

	DroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_dropped_frames_total",
		Help: "Frames dropped because a session queue was closed or full.",
	})

	BusPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_bus_publish_failures_total",
		Help: "Broadcasts the bus backend failed to publish after retries.",
	})

	UnreadCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_unread_cache_hits_total",
		Help: "Unread-count lookups served from cache.",
	})

	UnreadCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_unread_cache_misses_total",
		Help: "Unread-count lookups recomputed from the store.",
	})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

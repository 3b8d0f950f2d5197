// Package metrics exposes server counters. Exposition is optional: with
// an empty address nothing listens and the counters are inert.
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinychat_connections_accepted_total",
		Help: "TCP connections accepted.",
	})
	ConnectionsEstablished = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tinychat_connections_established",
		Help: "Authenticated connections currently live.",
	})
	PacketsIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinychat_packets_in_total",
		Help: "Framed payloads received.",
	})
	MessagesRouted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinychat_messages_routed_total",
		Help: "Chat messages routed through channels.",
	})
	Channels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tinychat_channels",
		Help: "Channels currently active, global included.",
	})
)

// Serve starts the exposition endpoint when addr is non-empty.
func Serve(addr string, logger *slog.Logger) {
	if addr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics endpoint failed", slog.Any("error", err))
		}
	}()
}

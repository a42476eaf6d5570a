// Package metrics holds the prometheus collectors of the relay server and
// client.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "watchrelay"

var (
	ActiveWatchers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_watchers",
		Help:      "Upstream watches currently held by relay connections.",
	})
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_connections",
		Help:      "Open relay connections.",
	})
	Connections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_total",
		Help:      "Relay connections accepted.",
	})
	FlushedBatches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flushed_batches_total",
		Help:      "Watcher buffer flushes that wrote at least one record.",
	})
	FlushedRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flushed_records_total",
		Help:      "Records written to relay streams.",
	})
	StreamEnds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_ends_total",
		Help:      "Collection streams ended, by reason.",
	}, []string{"reason"})

	ClientReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "reconnects_total",
		Help:      "Relay connections opened by the client.",
	})
	DecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "decode_errors_total",
		Help:      "Relay stream lines that could not be decoded.",
	})
	DroppedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "dropped_events_total",
		Help:      "Events dropped because a consumer was not keeping up.",
	})
	TokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "token_refreshes_total",
		Help:      "Resource version refreshes by result.",
	}, []string{"result"})
)

// Register adds every collector to reg. Collectors that are already
// registered are ignored.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		ActiveWatchers, ActiveConnections, Connections, FlushedBatches, FlushedRecords, StreamEnds,
		ClientReconnects, DecodeErrors, DroppedEvents, TokenRefreshes,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the metrics gathered by reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

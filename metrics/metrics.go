// Package metrics exposes Prometheus instrumentation for the reactor and
// dissector. Registration follows the teacher's package-level-vars-plus-
// sync.Once pattern; the metrics server itself is an ordinary net/http
// server run on its own goroutine, entirely outside the reactor's
// single-threaded epoll loop (SPEC_FULL.md §4.4).
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal counts every accepted client connection.
	ConnectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgquerylog_connections_total",
			Help: "Total number of client connections accepted",
		},
	)

	// ConnectionsActive tracks currently live connections.
	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgquerylog_connections_active",
			Help: "Number of currently live client<->backend connections",
		},
	)

	// ConnectionErrorsTotal counts failed setup attempts by stage.
	ConnectionErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgquerylog_connection_errors_total",
			Help: "Connection setup failures by stage",
		},
		[]string{"stage"},
	)

	// BytesForwardedTotal counts bytes moved between client and backend,
	// by direction.
	BytesForwardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgquerylog_bytes_forwarded_total",
			Help: "Total bytes forwarded between client and backend",
		},
		[]string{"direction"},
	)

	// SQLEventsTotal counts SQL lines emitted by the dissector, by kind.
	SQLEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgquerylog_sql_events_total",
			Help: "Total SQL statements reconstructed and emitted",
		},
		[]string{"kind"},
	)

	// ParseResyncsTotal counts times the dissector had to clear its
	// buffer and resynchronize after a malformed message length.
	ParseResyncsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgquerylog_parse_resyncs_total",
			Help: "Total times the dissector resynchronized after a malformed frame",
		},
	)

	// SinkWriteErrorsTotal counts sink AppendLine failures, swallowed by
	// the interceptor.
	SinkWriteErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgquerylog_sink_write_errors_total",
			Help: "Total sink write failures, dropped without interrupting forwarding",
		},
	)

	once sync.Once
)

// Init registers all metrics with the default Prometheus registry. Safe
// to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(ConnectionsTotal)
		prometheus.MustRegister(ConnectionsActive)
		prometheus.MustRegister(ConnectionErrorsTotal)
		prometheus.MustRegister(BytesForwardedTotal)
		prometheus.MustRegister(SQLEventsTotal)
		prometheus.MustRegister(ParseResyncsTotal)
		prometheus.MustRegister(SinkWriteErrorsTotal)
	})
}

// Handler returns the Prometheus scrape handler for "/metrics".
func Handler() http.Handler {
	return promhttp.Handler()
}

// Command pgquerylog is a transparent TCP reverse proxy for one
// PostgreSQL backend that reconstructs and logs every client SQL
// statement, including extended-protocol prepared/bound queries
// (spec.md §1).
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/mevdschee/pgquerylog/config"
	"github.com/mevdschee/pgquerylog/connection"
	"github.com/mevdschee/pgquerylog/dissector"
	"github.com/mevdschee/pgquerylog/interceptor"
	"github.com/mevdschee/pgquerylog/metrics"
	"github.com/mevdschee/pgquerylog/reactor"
	"github.com/mevdschee/pgquerylog/sink"
)

func main() {
	configPath := flag.String("config", "", "Path to an optional INI configuration file")
	metricsAddr := flag.String("metrics", "", "Metrics endpoint address (overrides config file)")
	requireRoot := flag.Bool("require-root", false, "Refuse to start unless running as root (matches original_source/src/main.cpp)")
	flag.Parse()

	if *requireRoot && os.Getuid() != 0 {
		fmt.Fprintln(os.Stderr, "You have no power here, permission denied")
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) != 4 {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <listen_host> <listen_port> <db_host> <db_port>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	listenHost := args[0]
	listenPort, err := parsePort(args[1])
	if err != nil {
		log.Fatalf("invalid listen_port: %v", err)
	}
	dbHost := args[2]
	dbPort, err := parsePort(args[3])
	if err != nil {
		log.Fatalf("invalid db_port: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *metricsAddr != "" {
		cfg.Metrics.Listen = *metricsAddr
	}

	metrics.Init()
	go serveMetrics(cfg.Metrics.Listen)

	observer, closeObserver := buildObserver(cfg)
	if closeObserver != nil {
		defer closeObserver()
	}

	hooks := reactor.Hooks{
		OnConnectionAccepted: func() {
			metrics.ConnectionsTotal.Inc()
			metrics.ConnectionsActive.Inc()
		},
		OnConnectionClosed: func() {
			metrics.ConnectionsActive.Dec()
		},
		OnConnectionError: func(stage string) {
			metrics.ConnectionErrorsTotal.WithLabelValues(stage).Inc()
		},
		OnBytesForwarded: func(direction string, n int) {
			metrics.BytesForwardedTotal.WithLabelValues(direction).Add(float64(n))
		},
	}

	r := reactor.New(listenHost, listenPort, dbHost, dbPort, observer, hooks)
	if err := r.Init(); err != nil {
		log.Fatalf("failed to initialize reactor: %v", err)
	}
	if err := r.Run(); err != nil {
		log.Fatalf("reactor stopped: %v", err)
	}
}

// buildObserver wires either the SQL dissector (the production path) or
// the debug hex-dump interceptor, per cfg.Debug.HexDump
// (SPEC_FULL.md §4.2). It returns a cleanup func to close any file it
// opened, or nil.
func buildObserver(cfg *config.Config) (interceptor.DataObserver, func()) {
	if cfg.Debug.HexDump {
		f, err := os.OpenFile(cfg.Debug.HexDumpPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("failed to open hex dump file: %v", err)
		}
		return interceptor.NewHexDumpInterceptor(f), func() { f.Close() }
	}

	s, closeSink := buildSink(cfg)
	sqlInterceptor := interceptor.New(s)
	sqlInterceptor.OnSinkError = metrics.SinkWriteErrorsTotal.Inc

	d := dissector.New(func(conn *connection.Connection, sql string) {
		sqlInterceptor.OnQuery(conn, sql)
	})
	d.OnResync = metrics.ParseResyncsTotal.Inc
	d.OnEmit = func(kind string) {
		metrics.SQLEventsTotal.WithLabelValues(kind).Inc()
	}

	return interceptor.NewDissectorObserver(d), closeSink
}

func buildSink(cfg *config.Config) (sink.Sink, func()) {
	switch cfg.Sink.Type {
	case config.SinkStdout:
		return sink.NewStdoutSink(os.Stdout), nil
	default:
		fileSink, err := sink.NewRotatingFileSink(cfg.Sink.Dir, cfg.Sink.Name, cfg.Sink.MaxBytes, cfg.Sink.MaxFiles)
		if err != nil {
			log.Fatalf("failed to open sink: %v", err)
		}
		return fileSink, func() { fileSink.Close() }
	}
}

func serveMetrics(addr string) {
	http.Handle("/metrics", metrics.Handler())
	log.Printf("[metrics] listening on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Printf("[metrics] server error: %v", err)
	}
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}

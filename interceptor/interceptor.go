// Package interceptor adapts dissector SQL events into sink writes. It is
// the thin wiring spec.md §4.3 describes: one line in, one sink append
// out, with failures swallowed so that logging can never interrupt
// forwarding.
package interceptor

import (
	"log"

	"github.com/mevdschee/pgquerylog/connection"
	"github.com/mevdschee/pgquerylog/sink"
)

// SQLInterceptor composes "<client_addr> <sql_text>" and appends it to a
// sink for every dissector event.
type SQLInterceptor struct {
	sink sink.Sink

	// OnSinkError, if set, is called every time the sink returns an
	// error. Wired to a metrics counter; nil is a valid no-op.
	OnSinkError func()
}

// New returns an interceptor bound to s.
func New(s sink.Sink) *SQLInterceptor {
	return &SQLInterceptor{sink: s}
}

// OnQuery is a dissector.QueryFunc: call it as the callback passed to
// dissector.New.
func (i *SQLInterceptor) OnQuery(conn *connection.Connection, sql string) {
	line := conn.ClientAddr + " " + sql
	if err := i.sink.AppendLine(line); err != nil {
		log.Printf("[interceptor] sink write failed, dropping line: %v", err)
		if i.OnSinkError != nil {
			i.OnSinkError()
		}
	}
}

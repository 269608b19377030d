package interceptor

import (
	"github.com/mevdschee/pgquerylog/connection"
	"github.com/mevdschee/pgquerylog/dissector"
)

// DissectorObserver adapts a *dissector.Dissector to the DataObserver
// contract: client bytes are fed to the parser, server bytes are ignored,
// and Forget releases the parser's per-connection state. This is the
// production wiring — PgQueryInterceptor in the original source.
type DissectorObserver struct {
	d *dissector.Dissector
}

// NewDissectorObserver wraps d.
func NewDissectorObserver(d *dissector.Dissector) *DissectorObserver {
	return &DissectorObserver{d: d}
}

// OnClientData feeds data into the dissector.
func (o *DissectorObserver) OnClientData(conn *connection.Connection, data []byte) {
	o.d.Feed(conn, data)
}

// OnServerData is a no-op: the dissector is not protocol-aware in the
// server->client direction (spec.md §1).
func (o *DissectorObserver) OnServerData(conn *connection.Connection, data []byte) {}

// Forget releases the dissector's parser state for conn.
func (o *DissectorObserver) Forget(conn *connection.Connection) {
	o.d.Forget(conn)
}

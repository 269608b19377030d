package interceptor

import "github.com/mevdschee/pgquerylog/connection"

// DataObserver is the contract the reactor drives its data path through —
// a Go rendering of original_source/src/ProtocolInterceptor.h's
// IProtocolInterceptor: client data always gets observed, server data is
// an optional hook most observers leave as a no-op (the dissector never
// reads server responses, per spec.md §1). Forget releases whatever
// per-connection state the observer keeps, mirroring dissector.Forget.
type DataObserver interface {
	OnClientData(conn *connection.Connection, data []byte)
	OnServerData(conn *connection.Connection, data []byte)
	Forget(conn *connection.Connection)
}

// Package connection holds the value types shared by the reactor and the
// dissector: a Connection pairs a client socket with its dialed backend
// socket, and an FdContext tells the reactor which Connection (and which
// side of it) a ready file descriptor belongs to.
package connection

import "sync/atomic"

// Role identifies what a file descriptor is used for.
type Role int

const (
	// RoleListener is the single accept socket; it has no owning Connection.
	RoleListener Role = iota
	// RoleClient is the client-facing side of a Connection.
	RoleClient
	// RoleServer is the backend-facing side of a Connection.
	RoleServer
)

func (r Role) String() string {
	switch r {
	case RoleListener:
		return "listener"
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	default:
		return "unknown"
	}
}

var nextID int64

// NextID returns a fresh, process-wide monotonically increasing connection
// id. Safe for concurrent use, though the reactor itself is single-threaded.
func NextID() int64 {
	return atomic.AddInt64(&nextID, 1)
}

// Connection is the per-pair state the reactor owns for the lifetime of one
// client<->backend pairing. The dissector reads ClientAddr and ID but never
// mutates ClientOut/ServerOut or the fds — those belong exclusively to the
// reactor (spec.md §3, invariant ii).
type Connection struct {
	ID int64

	ClientAddr string
	ServerAddr string

	ClientFD int
	ServerFD int

	// ClientOut holds bytes read from the backend, pending write to the
	// client. ServerOut holds bytes read from the client, pending write to
	// the backend.
	ClientOut []byte
	ServerOut []byte

	Closed bool
}

// New allocates a Connection with a fresh id. The caller fills in addresses
// and file descriptors once both are known.
func New() *Connection {
	return &Connection{ID: NextID(), ClientFD: -1, ServerFD: -1}
}

// FdContext is a per-handle record: which Connection (nil for the listener)
// and which side of it this particular fd is. Its lifetime is strictly
// shorter than the Connection's — it is created on registration with the
// readiness multiplexer and destroyed on deregistration (spec.md §3).
type FdContext struct {
	Role Role
	Conn *Connection
}

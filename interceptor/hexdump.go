package interceptor

import (
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/mevdschee/pgquerylog/connection"
)

// HexDumpInterceptor records every chunk crossing the proxy, in both
// directions, as a hex-dumped line with connection metadata. Grounded in
// original_source/src/RawHexInterceptor.cpp — the original's own
// debugging tool, kept here as the mutually-exclusive alternative to
// SQLInterceptor described in SPEC_FULL.md §4.2. It holds no per-
// connection state, so Forget is a no-op.
type HexDumpInterceptor struct {
	mu sync.Mutex
	w  io.Writer
}

// NewHexDumpInterceptor wraps w (typically an append-mode *os.File).
func NewHexDumpInterceptor(w io.Writer) *HexDumpInterceptor {
	return &HexDumpInterceptor{w: w}
}

func (h *HexDumpInterceptor) dumpLine(direction string, conn *connection.Connection, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(h.w, "%-4s client=%-22s server=%-22s cfd=%3d sfd=%3d len=%5d hex=%s\n",
		direction, conn.ClientAddr, conn.ServerAddr, conn.ClientFD, conn.ServerFD, len(data),
		hex.EncodeToString(data))
}

// OnClientData dumps a "C->S" line.
func (h *HexDumpInterceptor) OnClientData(conn *connection.Connection, data []byte) {
	h.dumpLine("C->S", conn, data)
}

// OnServerData dumps a "S->C" line — unlike DissectorObserver, whose
// OnServerData is a no-op, the hex dump records both directions.
func (h *HexDumpInterceptor) OnServerData(conn *connection.Connection, data []byte) {
	h.dumpLine("S->C", conn, data)
}

// Forget is a no-op: HexDumpInterceptor keeps no per-connection state.
func (h *HexDumpInterceptor) Forget(conn *connection.Connection) {}

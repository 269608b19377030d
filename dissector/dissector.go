// Package dissector implements a streaming parser for the client-facing
// half of the PostgreSQL frontend/backend protocol (version 3). It never
// reads server responses: its only job is to watch client->server bytes as
// the reactor forwards them and reconstruct the SQL text the backend is
// about to execute, including parameter substitution for the extended
// query protocol (Parse/Bind/Execute).
package dissector

import (
	"encoding/binary"

	"github.com/mevdschee/pgquerylog/connection"
)

// Message type bytes the dissector actually interprets. Every other type
// is still framed (so the stream stays synchronized) but never inspected,
// per spec.md §4.2.
const (
	msgSimpleQuery byte = 'Q'
	msgParse       byte = 'P'
	msgBind        byte = 'B'
	msgExecute     byte = 'E'
	msgClose       byte = 'C'
)

const (
	closeTargetStatement byte = 'S'
	closeTargetPortal    byte = 'P'
)

// maxMessageLen bounds both the startup message and any regular message at
// 2^26 bytes (64 MiB), a defensive ceiling against a stream that never
// resembles well-formed PostgreSQL traffic.
const maxMessageLen = 1 << 26

// nullSentinel is the stored representation of a SQL NULL parameter: a
// Bind parameter with length -1. It is indistinguishable from a text
// parameter whose bytes happen to equal "NULL" — documented behavior,
// spec.md §4.2.1.
const nullSentinel = "NULL"

// Statement is a parsed prepared statement: its SQL template (with $N
// placeholders) and the parameter type oids the client declared. The oids
// are stored for completeness but never consulted when formatting, per
// spec.md §3.
type Statement struct {
	Template   string
	ParamTypes []uint32
}

// Portal is a statement bound to concrete parameter values and per-
// parameter format codes (0 = text, 1 = binary).
type Portal struct {
	StatementName string
	Values        []string
	Formats       []uint16
}

// connState is the PerConnectionParserState of spec.md §3: an input
// buffer of not-yet-consumed bytes, whether the startup phase has been
// skipped, and the statement/portal maps that survive across messages
// until explicitly closed or the connection ends.
type connState struct {
	buf            []byte
	startupSkipped bool
	statements     map[string]*Statement
	portals        map[string]*Portal
}

func newConnState() *connState {
	return &connState{
		statements: make(map[string]*Statement),
		portals:    make(map[string]*Portal),
	}
}

// QueryFunc is invoked synchronously, zero or more times per Feed call,
// once for each reconstructed SQL statement.
type QueryFunc func(conn *connection.Connection, sql string)

// Dissector is a per-proxy, multi-connection instance of the parser. All
// of its state is only ever touched from the reactor's single thread, so
// it needs no internal locking (spec.md §5).
type Dissector struct {
	states map[int64]*connState
	onQuery QueryFunc

	// OnResync, if set, is called every time a malformed message length
	// forces the buffer-clear resync path. Wired to a metrics counter by
	// the entry point; nil is a valid no-op.
	OnResync func()

	// OnEmit, if set, is called with "simple_query" or "execute" right
	// before onQuery fires for that event. Wired to a metrics counter.
	OnEmit func(kind string)
}

const (
	emitKindSimpleQuery = "simple_query"
	emitKindExecute     = "execute"
)

// New creates a Dissector that invokes onQuery for every reconstructed SQL
// statement. onQuery must not be nil.
func New(onQuery QueryFunc) *Dissector {
	return &Dissector{
		states:  make(map[int64]*connState),
		onQuery: onQuery,
	}
}

func (d *Dissector) stateFor(conn *connection.Connection) *connState {
	st, ok := d.states[conn.ID]
	if !ok {
		st = newConnState()
		d.states[conn.ID] = st
	}
	return st
}

// Feed hands the dissector the next chunk of client->server bytes for
// conn. It may synchronously emit any number of SQL events through the
// callback passed to New.
func (d *Dissector) Feed(conn *connection.Connection, data []byte) {
	if len(data) == 0 {
		return
	}
	st := d.stateFor(conn)
	st.buf = append(st.buf, data...)
	d.processBuffer(conn, st)
}

// Forget releases all per-connection parser state for conn. The reactor
// must call this exactly once, when the connection is torn down — there
// is no implicit cleanup (spec.md §9).
func (d *Dissector) Forget(conn *connection.Connection) {
	delete(d.states, conn.ID)
}

func (d *Dissector) resync() {
	if d.OnResync != nil {
		d.OnResync()
	}
}

// processBuffer drains as many complete messages as are buffered,
// skipping the startup phase first if it hasn't been skipped yet.
func (d *Dissector) processBuffer(conn *connection.Connection, st *connState) {
	if !st.startupSkipped {
		if len(st.buf) < 4 {
			return
		}
		l := binary.BigEndian.Uint32(st.buf[:4])
		if l < 4 || l > maxMessageLen {
			// Not a well-formed startup message (or SSLRequest/
			// GSSENCRequest, which are harmlessly misclassified this way
			// too — see spec.md §9 Open Questions). Consume nothing; fall
			// straight into regular-message framing on these same bytes.
			st.startupSkipped = true
		} else {
			if uint32(len(st.buf)) < l {
				return
			}
			st.buf = st.buf[l:]
			st.startupSkipped = true
		}
	}

	for {
		if len(st.buf) < 5 {
			return
		}

		msgType := st.buf[0]
		length := binary.BigEndian.Uint32(st.buf[1:5])
		totalLen := length + 1 // the type byte is not counted by length

		if length < 4 || totalLen > maxMessageLen {
			st.buf = nil
			d.resync()
			return
		}

		if uint32(len(st.buf)) < totalLen {
			return
		}

		msg := st.buf[:totalLen]
		switch msgType {
		case msgSimpleQuery:
			d.handleSimpleQuery(conn, msg)
		case msgParse:
			handleParse(st, msg)
		case msgBind:
			handleBind(st, msg)
		case msgExecute:
			d.handleExecute(conn, st, msg)
		case msgClose:
			handleClose(st, msg)
		}

		st.buf = st.buf[totalLen:]
	}
}

// readCString reads a NUL-terminated string starting at pos, returning the
// string (without the terminator) and the position just past it. ok is
// false if no terminator was found within buf.
func readCString(buf []byte, pos int) (s string, next int, ok bool) {
	if pos > len(buf) {
		return "", pos, false
	}
	rest := buf[pos:]
	for i, b := range rest {
		if b == 0 {
			return string(rest[:i]), pos + i + 1, true
		}
	}
	return "", pos, false
}

// handleSimpleQuery emits the query string verbatim, stripped of its
// trailing NUL if present. Body layout: just a C-string.
func (d *Dissector) handleSimpleQuery(conn *connection.Connection, msg []byte) {
	body := msg[5:]
	if n := len(body); n > 0 && body[n-1] == 0 {
		body = body[:n-1]
	}
	if d.OnEmit != nil {
		d.OnEmit(emitKindSimpleQuery)
	}
	d.onQuery(conn, string(body))
}

// handleParse stores {template, param oids} under the given statement
// name, overwriting any prior entry (spec.md §9: permissive, matches
// PostgreSQL's own unnamed-statement semantics).
//
// Body: stmt-name C-string, query C-string, int16 N, N*int32 oids.
func handleParse(st *connState, msg []byte) {
	pos := 5
	name, pos, ok := readCString(msg, pos)
	if !ok {
		return
	}
	template, pos, ok := readCString(msg, pos)
	if !ok {
		return
	}
	if pos+2 > len(msg) {
		return
	}
	n := int(binary.BigEndian.Uint16(msg[pos : pos+2]))
	pos += 2

	types := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		if pos+4 > len(msg) {
			return
		}
		types = append(types, binary.BigEndian.Uint32(msg[pos:pos+4]))
		pos += 4
	}

	st.statements[name] = &Statement{Template: template, ParamTypes: types}
}

// handleBind stores {statement name, values, per-param formats} under the
// given portal name.
//
// Body: portal-name C-string, stmt-name C-string, int16 M, M*int16 format
// codes, int16 N, N*(int32 len + bytes), int16 R, R*int16 (discarded).
func handleBind(st *connState, msg []byte) {
	pos := 5
	portalName, pos, ok := readCString(msg, pos)
	if !ok {
		return
	}
	stmtName, pos, ok := readCString(msg, pos)
	if !ok {
		return
	}

	if pos+2 > len(msg) {
		return
	}
	numFormats := int(binary.BigEndian.Uint16(msg[pos : pos+2]))
	pos += 2

	formatCodes := make([]uint16, 0, numFormats)
	for i := 0; i < numFormats; i++ {
		if pos+2 > len(msg) {
			return
		}
		formatCodes = append(formatCodes, binary.BigEndian.Uint16(msg[pos:pos+2]))
		pos += 2
	}

	if pos+2 > len(msg) {
		return
	}
	numParams := int(binary.BigEndian.Uint16(msg[pos : pos+2]))
	pos += 2

	formatForParam := func(idx int) uint16 {
		switch numFormats {
		case 0:
			return 0
		case 1:
			return formatCodes[0]
		default:
			if idx < len(formatCodes) {
				return formatCodes[idx]
			}
			return 0
		}
	}

	values := make([]string, 0, numParams)
	formats := make([]uint16, 0, numParams)
	for i := 0; i < numParams; i++ {
		if pos+4 > len(msg) {
			return
		}
		paramLen := int32(binary.BigEndian.Uint32(msg[pos : pos+4]))
		pos += 4

		formats = append(formats, formatForParam(i))

		if paramLen == -1 {
			values = append(values, nullSentinel)
			continue
		}
		if paramLen < 0 || pos+int(paramLen) > len(msg) {
			return
		}
		values = append(values, string(msg[pos:pos+int(paramLen)]))
		pos += int(paramLen)
	}

	// Result-format codes: read the count and skip over it, discarded.
	if pos+2 > len(msg) {
		return
	}
	numResultFormats := int(binary.BigEndian.Uint16(msg[pos : pos+2]))
	pos += 2 + 2*numResultFormats
	if pos > len(msg) {
		return
	}

	st.portals[portalName] = &Portal{
		StatementName: stmtName,
		Values:        values,
		Formats:       formats,
	}
}

// handleExecute looks up the named portal and its statement; if both
// resolve, it synthesizes the final SQL and emits it. A missing portal or
// statement is a silent no-op, per spec.md §4.2. An empty (unnamed)
// portal name is removed from the map after emission; named portals
// persist for re-Execute.
//
// Body: portal-name C-string, int32 max-rows (ignored).
func (d *Dissector) handleExecute(conn *connection.Connection, st *connState, msg []byte) {
	pos := 5
	portalName, pos, ok := readCString(msg, pos)
	if !ok {
		return
	}
	if pos+4 > len(msg) {
		return
	}

	portal, ok := st.portals[portalName]
	if !ok {
		return
	}
	statement, ok := st.statements[portal.StatementName]
	if !ok {
		return
	}

	sql := Synthesize(statement, portal)
	if d.OnEmit != nil {
		d.OnEmit(emitKindExecute)
	}
	d.onQuery(conn, sql)

	if portalName == "" {
		delete(st.portals, portalName)
	}
}

// handleClose erases the named statement or portal. Unknown target bytes
// are ignored.
//
// Body: 1-byte target ('S'/'P'), name C-string.
func handleClose(st *connState, msg []byte) {
	pos := 5
	if pos >= len(msg) {
		return
	}
	target := msg[pos]
	pos++

	name, _, ok := readCString(msg, pos)
	if !ok {
		return
	}

	switch target {
	case closeTargetStatement:
		delete(st.statements, name)
	case closeTargetPortal:
		delete(st.portals, name)
	}
}

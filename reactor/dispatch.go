package reactor

import (
	"golang.org/x/sys/unix"

	"github.com/mevdschee/pgquerylog/connection"
)

// handleSocketEvent processes one readiness event for either side of a
// Connection — spec.md §4.1 "Data path".
func (r *Reactor) handleSocketEvent(fd int, ctx *connection.FdContext, events uint32) {
	conn := ctx.Conn
	if conn == nil || conn.Closed {
		return
	}

	isClient := ctx.Role == connection.RoleClient
	ownFD := conn.ClientFD
	if !isClient {
		ownFD = conn.ServerFD
	}
	if ownFD == -1 {
		r.closeConnection(conn)
		return
	}
	if ownFD != fd {
		// Stale event for an fd already torn down and possibly reused.
		return
	}

	if events&(unix.EPOLLHUP|unix.EPOLLERR|unix.EPOLLRDHUP) != 0 {
		r.closeConnection(conn)
		return
	}

	if events&unix.EPOLLOUT != 0 {
		outBuf := &conn.ServerOut
		if isClient {
			outBuf = &conn.ClientOut
		}
		if len(*outBuf) > 0 {
			if !r.flush(fd, outBuf) {
				r.closeConnection(conn)
				return
			}
		}
	}

	if events&unix.EPOLLIN != 0 {
		if !r.drainReadable(conn, isClient, fd) {
			return
		}
	}

	r.rearm(conn)
}

// drainReadable repeatedly reads until EAGAIN, feeding every chunk to the
// observer and appending it to the opposite side's outbound buffer. It
// returns false if the connection was closed (EOF or a hard error) so the
// caller can skip the subsequent interest recomputation.
func (r *Reactor) drainReadable(conn *connection.Connection, isClient bool, fd int) bool {
	var buf [readBufSize]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)

			if isClient {
				r.observer.OnClientData(conn, chunk)
				conn.ServerOut = append(conn.ServerOut, chunk...)
				r.forwarded("client_to_server", n)
			} else {
				r.observer.OnServerData(conn, chunk)
				conn.ClientOut = append(conn.ClientOut, chunk...)
				r.forwarded("server_to_client", n)
			}
			continue
		}
		if n == 0 {
			r.closeConnection(conn)
			return false
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return true
		}
		r.closeConnection(conn)
		return false
	}
}

// flush drains outBuf to fd by repeated write until either it empties or
// a would-block result is returned. It reports false on a hard error.
func (r *Reactor) flush(fd int, outBuf *[]byte) bool {
	for len(*outBuf) > 0 {
		n, err := unix.Write(fd, *outBuf)
		if n > 0 {
			*outBuf = (*outBuf)[n:]
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return true
		}
		return false
	}
	return true
}

func (r *Reactor) forwarded(direction string, n int) {
	if r.hooks.OnBytesForwarded != nil {
		r.hooks.OnBytesForwarded(direction, n)
	}
}

// rearm recomputes each side's epoll interest: always read, write iff
// that side's outbound buffer is non-empty. This is the sole backpressure
// mechanism (spec.md §4.1 "Readiness re-arm").
func (r *Reactor) rearm(conn *connection.Connection) {
	if conn.Closed {
		return
	}
	clientEvents := unix.EPOLLIN | unix.EPOLLRDHUP
	if len(conn.ClientOut) > 0 {
		clientEvents |= unix.EPOLLOUT
	}
	r.modifyFD(conn.ClientFD, clientEvents)

	serverEvents := unix.EPOLLIN | unix.EPOLLRDHUP
	if len(conn.ServerOut) > 0 {
		serverEvents |= unix.EPOLLOUT
	}
	r.modifyFD(conn.ServerFD, serverEvents)
}

// closeConnection tears a Connection down: deregisters and closes both
// handles, erases both FdContexts, and releases dissector state. Safe to
// call more than once; only the first call does anything (spec.md §4.1
// "Teardown").
func (r *Reactor) closeConnection(conn *connection.Connection) {
	if conn.Closed {
		return
	}
	conn.Closed = true

	if conn.ClientFD != -1 {
		r.removeFD(conn.ClientFD)
		unix.Close(conn.ClientFD)
		delete(r.fdContext, conn.ClientFD)
		conn.ClientFD = -1
	}
	if conn.ServerFD != -1 {
		r.removeFD(conn.ServerFD)
		unix.Close(conn.ServerFD)
		delete(r.fdContext, conn.ServerFD)
		conn.ServerFD = -1
	}

	r.observer.Forget(conn)

	if r.hooks.OnConnectionClosed != nil {
		r.hooks.OnConnectionClosed()
	}
}

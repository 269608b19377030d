package reactor

import (
	"fmt"
	"log"

	"golang.org/x/sys/unix"

	"github.com/mevdschee/pgquerylog/connection"
)

// handleListenerEvent drains the accept queue, pairing every new client
// socket with a freshly dialed backend socket (spec.md §4.1 "Accept
// path"). A failed backend dial closes the accepted client socket and moves
// on to the next client; a failed accept ends this drain. Neither aborts
// the loop. A failure to register either socket with epoll is only logged.
func (r *Reactor) handleListenerEvent() {
	for {
		clientFD, sa, err := unix.Accept4(r.listenerFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			log.Printf("[reactor] accept: %v", err)
			r.onError("accept")
			return
		}

		serverFD, err := dialBackend(r.backendHost, r.backendPort)
		if err != nil {
			log.Printf("[reactor] dial backend: %v", err)
			unix.Close(clientFD)
			r.onError("dial")
			continue
		}

		conn := connection.New()
		conn.ClientFD = clientFD
		conn.ServerFD = serverFD
		conn.ClientAddr = peerAddrString(sa)
		conn.ServerAddr = fmt.Sprintf("%s:%d", r.backendHost, r.backendPort)

		clientCtx := &connection.FdContext{Role: connection.RoleClient, Conn: conn}
		serverCtx := &connection.FdContext{Role: connection.RoleServer, Conn: conn}
		r.fdContext[clientFD] = clientCtx
		r.fdContext[serverFD] = serverCtx

		if err := r.addFD(clientFD, unix.EPOLLIN|unix.EPOLLRDHUP); err != nil {
			log.Printf("[reactor] register client fd: %v", err)
		}
		// The server side additionally wants write-readiness so the loop
		// observes the non-blocking connect finishing.
		if err := r.addFD(serverFD, unix.EPOLLIN|unix.EPOLLOUT|unix.EPOLLRDHUP); err != nil {
			log.Printf("[reactor] register server fd: %v", err)
		}

		if r.hooks.OnConnectionAccepted != nil {
			r.hooks.OnConnectionAccepted()
		}
		log.Printf("[reactor] conn=%d accepted client=%s fd=%d backend fd=%d", conn.ID, conn.ClientAddr, clientFD, serverFD)
	}
}

func (r *Reactor) onError(stage string) {
	if r.hooks.OnConnectionError != nil {
		r.hooks.OnConnectionError(stage)
	}
}

// Package reactor implements the single-threaded, non-blocking forwarding
// fabric described in spec.md §4.1: a listener accepts client sockets,
// dials one fixed backend for each, and moves bytes between the pair
// until either side hangs up. It never blocks anywhere except inside
// EpollWait, so it is driven directly off golang.org/x/sys/unix rather
// than net.Listener/net.Conn — see SPEC_FULL.md §4.1 for why.
package reactor

import (
	"fmt"
	"log"

	"golang.org/x/sys/unix"

	"github.com/mevdschee/pgquerylog/connection"
	"github.com/mevdschee/pgquerylog/interceptor"
)

// readBufSize is the fixed-size stack buffer used for each recv, matching
// the 8192-byte buffer in original_source/src/Proxy.cpp.
const readBufSize = 8192

const maxEpollEvents = 64

// Hooks lets the caller observe reactor activity without the reactor
// depending on the metrics package directly. Every field is optional; a
// nil hook is simply not called.
type Hooks struct {
	OnConnectionAccepted func()
	OnConnectionClosed   func()
	OnConnectionError    func(stage string)
	OnBytesForwarded     func(direction string, n int)
}

// Reactor is the event loop itself: one epoll instance, one listener, and
// every live Connection plus its FdContexts.
type Reactor struct {
	listenHost string
	listenPort uint16
	backendHost string
	backendPort uint16

	observer interceptor.DataObserver
	hooks    Hooks

	epollFD    int
	listenerFD int

	fdContext map[int]*connection.FdContext
}

// New constructs a Reactor that will listen on listenHost:listenPort and
// forward to backendHost:backendPort, feeding every client->server chunk
// to observer.
func New(listenHost string, listenPort uint16, backendHost string, backendPort uint16, observer interceptor.DataObserver, hooks Hooks) *Reactor {
	return &Reactor{
		listenHost:  listenHost,
		listenPort:  listenPort,
		backendHost: backendHost,
		backendPort: backendPort,
		observer:    observer,
		hooks:       hooks,
		epollFD:     -1,
		listenerFD:  -1,
		fdContext:   make(map[int]*connection.FdContext),
	}
}

// Init creates the listening socket and the epoll instance, and registers
// the listener for read-readiness. Call Run afterward.
func (r *Reactor) Init() error {
	fd, err := setupListener(r.listenHost, r.listenPort)
	if err != nil {
		return fmt.Errorf("reactor: setup listener: %w", err)
	}
	r.listenerFD = fd

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(r.listenerFD)
		return fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	r.epollFD = epfd

	ctx := &connection.FdContext{Role: connection.RoleListener}
	r.fdContext[r.listenerFD] = ctx
	if err := r.addFD(r.listenerFD, unix.EPOLLIN); err != nil {
		unix.Close(r.listenerFD)
		unix.Close(r.epollFD)
		return fmt.Errorf("reactor: register listener: %w", err)
	}

	log.Printf("[reactor] listening on %s:%d, forwarding to %s:%d", r.listenHost, r.listenPort, r.backendHost, r.backendPort)
	return nil
}

// Run blocks forever, dispatching readiness events. It only returns on a
// fatal EpollWait error (anything other than EINTR, which is retried).
func (r *Reactor) Run() error {
	events := make([]unix.EpollEvent, maxEpollEvents)
	for {
		n, err := unix.EpollWait(r.epollFD, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("reactor: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			ctx, ok := r.fdContext[fd]
			if !ok {
				continue
			}
			if ctx.Role == connection.RoleListener {
				r.handleListenerEvent()
			} else {
				r.handleSocketEvent(fd, ctx, events[i].Events)
			}
		}
	}
}

// Stop closes the epoll instance and the listening socket. Run returns
// with an error at its next EpollWait call; an EpollWait already blocked
// in another goroutine is not woken by the close. Live client<->backend
// connections are left as-is; Stop is for orderly shutdown of the accept
// path, not a graceful drain.
func (r *Reactor) Stop() {
	if r.listenerFD != -1 {
		unix.Close(r.listenerFD)
		r.listenerFD = -1
	}
	if r.epollFD != -1 {
		unix.Close(r.epollFD)
		r.epollFD = -1
	}
}

// ListenPort returns the port the listening socket was actually bound to —
// useful when Init was called with port 0 to let the kernel choose one.
func (r *Reactor) ListenPort() (uint16, error) {
	sa, err := unix.Getsockname(r.listenerFD)
	if err != nil {
		return 0, err
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, fmt.Errorf("reactor: listener socket is not IPv4")
	}
	return uint16(sa4.Port), nil
}

func (r *Reactor) addFD(fd int, events uint32) error {
	return unix.EpollCtl(r.epollFD, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	})
}

func (r *Reactor) modifyFD(fd int, events uint32) {
	if fd == -1 {
		return
	}
	err := unix.EpollCtl(r.epollFD, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	})
	if err == unix.ENOENT {
		r.addFD(fd, events)
	}
}

func (r *Reactor) removeFD(fd int) {
	unix.EpollCtl(r.epollFD, unix.EPOLL_CTL_DEL, fd, nil)
}

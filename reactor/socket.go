package reactor

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// setupListener creates a non-blocking, address-reuse-enabled IPv4 TCP
// listening socket bound to host:port. Grounded in
// original_source/src/Proxy.cpp::setup_listener, translated to
// golang.org/x/sys/unix (no example repo in the retrieval pack implements
// a raw epoll reactor in Go; the raw-socket primitives themselves are
// grounded in other_examples' subtrace socket.go, which uses the same
// unix.Socket/SetsockoptInt/FcntlInt calls for non-blocking sockets).
func setupListener(host string, port uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	addr, err := inet4Addr(host, port)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}

	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s:%d: %w", host, port, err)
	}

	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}

	return fd, nil
}

// dialBackend opens a non-blocking TCP socket and initiates a connect to
// host:port. EINPROGRESS is not an error — the backend socket becomes
// writable once the handshake completes, observed by the reactor's
// EPOLLOUT interest on it (spec.md §4.1).
func dialBackend(host string, port uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	addr, err := inet4Addr(host, port)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}

	if err := unix.Connect(fd, addr); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, fmt.Errorf("connect %s:%d: %w", host, port, err)
	}

	return fd, nil
}

func inet4Addr(host string, port uint16) (*unix.SockaddrInet4, error) {
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	var v4 net.IP
	for _, ip := range ips {
		if v := ip.To4(); v != nil {
			v4 = v
			break
		}
	}
	if v4 == nil {
		return nil, fmt.Errorf("%s has no IPv4 address", host)
	}

	sa := &unix.SockaddrInet4{Port: int(port)}
	copy(sa.Addr[:], v4)
	return sa, nil
}

// peerAddrString renders the accepted peer's address as "ip:port", as
// used for both the client endpoint recorded on Connection and the sink
// line prefix (spec.md §6).
func peerAddrString(sa unix.Sockaddr) string {
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return "unknown:0"
	}
	ip := net.IPv4(sa4.Addr[0], sa4.Addr[1], sa4.Addr[2], sa4.Addr[3])
	return ip.String() + ":" + strconv.Itoa(sa4.Port)
}

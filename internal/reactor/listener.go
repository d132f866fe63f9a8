//go:build linux

package reactor

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// AcceptCallback is invoked once per accepted connection with the new
// fd and the peer's address. The callback decides whether to Open the
// fd into the reactor (spec.md §4.E).
type AcceptCallback func(fd int, addr net.Addr)

// Listener owns a bound+listening socket. Its handler fires PollOpen
// once (after bind/listen), then for each accept invokes the user
// callback (spec.md §4.E).
type Listener struct {
	reactor *Reactor
	socket  *Socket
	fd      int
	onAccept AcceptCallback
}

// Listen binds and listens on host:port and registers the listening
// socket with the reactor. PollOpen fires exactly once, synchronously,
// before Listen returns success, matching spec.md §4.E's "fires once
// after bind/listen".
func Listen(r *Reactor, host string, port int, onAccept AcceptCallback) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("reactor: socket: %w", err)
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)

	ip, err := resolveIPv4(host)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	sa := &unix.SockaddrInet4{Port: port, Addr: ip}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("reactor: bind %s:%d: %w", host, port, err)
	}
	if err := unix.Listen(fd, 1024); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("reactor: listen: %w", err)
	}

	l := &Listener{reactor: r, fd: fd, onAccept: onAccept}
	s, err := r.Open(fd, PollIn, l.handle, true)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	l.socket = s
	l.handle(s, PollOpen)
	return l, nil
}

func (l *Listener) handle(s *Socket, ev Events) bool {
	if ev&PollOpen != 0 {
		return true
	}
	if ev&PollIn == 0 {
		return ev&(PollErr|PollClose) == 0
	}
	for {
		nfd, sa, err := unix.Accept(l.fd)
		if err != nil {
			return isBlocking(err)
		}
		addr := sockaddrToNetAddr(sa)
		if l.onAccept != nil {
			l.onAccept(nfd, addr)
		}
	}
}

// Close stops the listener, closing its socket.
func (l *Listener) Close() {
	l.reactor.Close(l.socket, 0)
}

func resolveIPv4(host string) ([4]byte, error) {
	var out [4]byte
	if host == "" || host == "*" {
		return out, nil // 0.0.0.0
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return out, fmt.Errorf("reactor: resolve %q: %w", host, err)
		}
		ip = ips[0]
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return out, fmt.Errorf("reactor: %q is not IPv4", host)
	}
	copy(out[:], ip4)
	return out, nil
}

func sockaddrToNetAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	default:
		return nil
	}
}

func isBlocking(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

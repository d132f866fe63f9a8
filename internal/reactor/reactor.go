//go:build linux

// Package reactor implements the readiness-based I/O reactor of
// spec.md §4.D/§4.E, grounded on the epoll mechanics of
// _examples/joeycumines-go-utilpkg/eventloop/poller_linux.go (direct
// fd-indexed array, golang.org/x/sys/unix epoll calls) and the
// linger-close / push-then-poll control flow of
// original_source/server/libs/libgx/reactor.cpp.
//
// The reactor is single-threaded by design (spec.md §5): all of its
// methods are called only from the main fiber, between coroutine
// resumptions, and are not safe for concurrent use from multiple
// goroutines.
package reactor

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/opengxv/solo/internal/gxlog"
	"github.com/opengxv/solo/internal/timer"
)

// maxFDs bounds direct fd-table indexing, matching poller_linux.go.
const maxFDs = 65536

// Events is the readiness bitmask delivered to a Handler, spec.md
// §4.D's {poll_in, poll_out, poll_err, poll_close, poll_open}.
type Events uint32

const (
	PollIn Events = 1 << iota
	PollOut
	PollErr
	PollClose
	PollOpen
)

func (e Events) String() string {
	s := ""
	for _, f := range []struct {
		bit  Events
		name string
	}{{PollIn, "in"}, {PollOut, "out"}, {PollErr, "err"}, {PollClose, "close"}, {PollOpen, "open"}} {
		if e&f.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += f.name
		}
	}
	if s == "" {
		return "none"
	}
	return s
}

// Handler processes readiness events for a Socket. A return value of
// false tells the reactor to close the socket without lingering
// (spec.md §4.D: "If the handler returns false, the reactor closes the
// socket (non-lingering)").
type Handler func(s *Socket, ev Events) bool

var (
	ErrInvalidFD    = errors.New("reactor: invalid fd")
	ErrAlreadyOpen  = errors.New("reactor: fd already registered")
	ErrFDOutOfRange = errors.New("reactor: fd out of range")
	ErrNotOpen      = errors.New("reactor: fd not registered")
)

// Socket is one registered, non-blocking TCP endpoint (spec.md §3).
// It is exclusively owned by its Reactor from Open until Close;
// handlers receive a borrowed, non-owning reference.
type Socket struct {
	fd       int
	reactor  *Reactor
	handler  Handler
	interest Events // readable/writable/error interest currently applied to epoll
	edge     bool

	input  []byte
	output []byte

	pendingOut bool // queued on the reactor's pending-output list
	lingering  bool
	lingerTmr  *timer.Timer
	closed     bool
}

// FD returns the underlying OS file descriptor.
func (s *Socket) FD() int { return s.fd }

// Input returns the socket's accumulated, not-yet-consumed input
// bytes. Handlers that consume a prefix should call ConsumeInput.
func (s *Socket) Input() []byte { return s.input }

// SetHandler replaces the socket's event handler. Used by Connector's
// owner to hand off from the connect-phase handler to the steady-state
// frame-reception handler once CONNECTED (spec.md §4.E).
func (s *Socket) SetHandler(h Handler) { s.handler = h }

// ConsumeInput drops the first n bytes of the input buffer.
func (s *Socket) ConsumeInput(n int) {
	if n <= 0 {
		return
	}
	if n >= len(s.input) {
		s.input = s.input[:0]
		return
	}
	s.input = append(s.input[:0], s.input[n:]...)
}

// Write appends to the socket's output buffer and queues the socket on
// the reactor's pending-output list (Reactor.Send), which the next Loop
// flushes. The socket's epoll interest is left unchanged.
func (s *Socket) Write(p []byte) {
	s.output = append(s.output, p...)
	s.reactor.Send(s)
}

// SetInterest replaces s's readiness interest and re-applies it to the
// poll mechanism (spec.md §4.D), the setter `Modify` exists for.
// Needed whenever a socket's role changes after registration — e.g. a
// Connector's socket, opened with poll_out-only interest to detect
// connect completion, must gain poll_in once CONNECTED or inbound
// frames never produce a readiness event (original's on_connection
// sets socket->flags(-1), all interest, for the same reason).
func (s *Socket) SetInterest(ev Events) error {
	s.interest = ev
	return s.reactor.Modify(s)
}

// Reactor owns the epoll instance and the set of registered sockets.
type Reactor struct {
	epfd      int
	timers    *timer.Manager
	log       gxlog.Logger
	sockets   [maxFDs]*Socket
	pending   []*Socket
	eventbuf  []unix.EpollEvent
	lingerMS  int64
	closeChan chan struct{}
}

// Option configures a Reactor.
type Option func(*Reactor)

// WithLogger installs a logger; defaults to gxlog.NopLogger{}.
func WithLogger(l gxlog.Logger) Option { return func(r *Reactor) { r.log = l } }

// New creates an epoll instance and returns a ready-to-use Reactor.
// timers is the timer manager used for linger-close finalization.
func New(timers *timer.Manager, opts ...Option) (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	r := &Reactor{epfd: epfd, timers: timers, log: gxlog.NopLogger{}, eventbuf: make([]unix.EpollEvent, 256)}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Open registers an already-open OS socket fd with the reactor
// (spec.md §4.D). It sets the fd non-blocking and disables Nagle,
// records interest flags, and fails if the fd is invalid or already
// registered.
func (r *Reactor) Open(fd int, interest Events, handler Handler, edgeTriggered bool) (*Socket, error) {
	if fd < 0 || fd >= maxFDs {
		return nil, ErrFDOutOfRange
	}
	if r.sockets[fd] != nil {
		return nil, ErrAlreadyOpen
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("reactor: set nonblock: %w", err)
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1) // best effort; listening/unix sockets may reject this

	s := &Socket{fd: fd, reactor: r, handler: handler, interest: interest, edge: edgeTriggered}
	r.sockets[fd] = s

	events := eventsToEpoll(interest, edgeTriggered)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: events, Fd: int32(fd)}); err != nil {
		r.sockets[fd] = nil
		return nil, fmt.Errorf("reactor: epoll_ctl add: %w", err)
	}
	return s, nil
}

// Modify re-applies s's current interest flags to the OS poll
// mechanism (spec.md §4.D).
func (r *Reactor) Modify(s *Socket) error {
	events := eventsToEpoll(s.interest, s.edge)
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, s.fd, &unix.EpollEvent{Events: events, Fd: int32(s.fd)})
}

// Send enqueues s on the pending-output list; it does not block
// (spec.md §4.D).
func (r *Reactor) Send(s *Socket) {
	if s.pendingOut || s.closed {
		return
	}
	s.pendingOut = true
	r.pending = append(r.pending, s)
}

// Close implements spec.md §4.D close(): if lingerMS==0, deregister
// immediately and invoke the handler with PollClose; otherwise replace
// the handler with a drain-only handler that discards inbound bytes
// and schedule a timer at lingerMS to finalize the close.
func (r *Reactor) Close(s *Socket, lingerMS int64) {
	if s == nil || s.closed {
		return
	}
	if lingerMS <= 0 {
		r.finalize(s)
		return
	}
	s.lingering = true
	s.handler = lingerDrainHandler
	s.lingerTmr = r.timers.Schedule(lingerMS, func(*timer.Timer, int64) int64 {
		r.finalize(s)
		return 0
	})
}

// lingerDrainHandler implements REDESIGN FLAG #2: bytes read while
// draining are explicitly discarded, rather than accumulating
// unread as the C++ source's on_linger_data does.
func lingerDrainHandler(s *Socket, ev Events) bool {
	if ev&PollIn != 0 {
		s.ConsumeInput(len(s.input))
	}
	if ev&(PollErr|PollClose) != 0 {
		return false
	}
	return true
}

// finalize tears s down and invokes its handler with PollClose. Used
// only where the handler has not yet observed the close: Close()'s
// immediate (lingerMS<=0) path and a linger timer's expiry.
func (r *Reactor) finalize(s *Socket) {
	if s.closed {
		return
	}
	r.teardown(s)
	if s.handler != nil {
		s.handler(s, PollClose)
	}
}

// teardown deregisters s and releases its fd without touching the
// handler. Used where the handler already observed the close and
// returned false for that reason (dispatch's and push's own
// already-invoked-handler paths) — calling the handler again here
// would deliver a second PollClose for the same socket (e.g.
// Network.onPeerClosed running twice and scheduling two reconnects).
func (r *Reactor) teardown(s *Socket) {
	if s.closed {
		return
	}
	s.closed = true
	if s.lingerTmr != nil {
		r.timers.Close(s.lingerTmr)
		s.lingerTmr = nil
	}
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, s.fd, nil)
	r.sockets[s.fd] = nil
	_ = unix.Close(s.fd)
}

// push flushes the pending-output list, attempting one write per
// socket (spec.md §4.D step 1). After a successful write of every
// pending output byte, a socket with an active linger timer is
// half-closed (shutdown write), per spec.md §4.D.
func (r *Reactor) push() {
	if len(r.pending) == 0 {
		return
	}
	batch := r.pending
	r.pending = r.pending[:0]
	for _, s := range batch {
		s.pendingOut = false
		if s.closed {
			continue
		}
		if len(s.output) == 0 {
			continue
		}
		n, err := unix.Write(s.fd, s.output)
		if n > 0 {
			s.output = s.output[n:]
		}
		if err != nil && !errors.Is(err, unix.EAGAIN) {
			if s.handler != nil && !s.handler(s, PollErr) {
				r.teardown(s)
			}
			continue
		}
		if len(s.output) == 0 && s.lingering {
			_ = unix.Shutdown(s.fd, unix.SHUT_WR)
		} else if len(s.output) > 0 {
			// short write: re-queue on the pending-output list and
			// try again next tick.
			r.Send(s)
		}
	}
}

// Loop implements spec.md §4.D loop(): push pending output, poll for
// readiness up to timeoutMS, then dispatch a combined events bitmask
// to each ready socket's handler.
func (r *Reactor) Loop(timeoutMS int) error {
	r.push()

	n, err := unix.EpollWait(r.epfd, r.eventbuf, timeoutMS)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		r.log.Log(gxlog.Entry{Level: gxlog.LevelError, Component: "reactor", Message: "epoll_wait failed", Err: err})
		return fmt.Errorf("reactor: epoll_wait: %w", err)
	}

	for i := 0; i < n; i++ {
		fd := int(r.eventbuf[i].Fd)
		if fd < 0 || fd >= maxFDs {
			continue
		}
		s := r.sockets[fd]
		if s == nil || s.closed {
			continue
		}
		ev := epollToEvents(r.eventbuf[i].Events)
		r.dispatch(s, ev)
	}
	return nil
}

func (r *Reactor) dispatch(s *Socket, ev Events) {
	if ev&(PollErr|PollClose) != 0 {
		ev |= PollClose
	}
	if ev&PollIn != 0 {
		r.drain(s)
	}
	ok := true
	if s.handler != nil {
		ok = s.handler(s, ev)
	}
	if !ok && !s.closed {
		// the handler just processed this same event (including a
		// PollClose/PollErr) and returned false; it must not be
		// invoked a second time, so tear down quietly (see teardown).
		r.teardown(s)
	}
}

// drain reads until EAGAIN, end of stream, or a read shorter than its
// buffer (for a stream socket, a sign the kernel buffer is empty),
// appending to s.input. Edge-triggered mode needs the buffer emptied:
// a subsequent readiness edge will never re-arrive for
// already-available bytes.
func (r *Reactor) drain(s *Socket) {
	var buf [4096]byte
	for {
		n, err := unix.Read(s.fd, buf[:])
		if n > 0 {
			s.input = append(s.input, buf[:n]...)
		}
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return
			}
			return
		}
		if n == 0 {
			return // peer performed an orderly shutdown
		}
		if n < len(buf) {
			return
		}
	}
}

func eventsToEpoll(ev Events, edge bool) uint32 {
	var e uint32
	if ev&PollIn != 0 {
		e |= unix.EPOLLIN
	}
	if ev&PollOut != 0 {
		e |= unix.EPOLLOUT
	}
	e |= unix.EPOLLHUP | unix.EPOLLRDHUP
	if edge {
		e |= unix.EPOLLET
	}
	return e
}

func epollToEvents(e uint32) Events {
	var ev Events
	if e&unix.EPOLLIN != 0 {
		ev |= PollIn
	}
	if e&unix.EPOLLOUT != 0 {
		ev |= PollOut
	}
	if e&unix.EPOLLERR != 0 {
		ev |= PollErr
	}
	if e&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		ev |= PollClose
	}
	return ev
}

// Shutdown tears down the epoll instance itself (not named in spec.md,
// needed for clean process/test teardown per spec.md §9's "explicit
// init()/teardown()" guidance for global managers).
func (r *Reactor) Shutdown() error {
	return unix.Close(r.epfd)
}

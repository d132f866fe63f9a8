//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"

	"github.com/opengxv/solo/internal/timer"
)

// ConnectorState is the connector's lifecycle stage (spec.md §4.E).
type ConnectorState int

const (
	Idle ConnectorState = iota
	Connecting
	Connected
	Dead
)

// RateLimiter gates whether a reconnect attempt may proceed right now.
// Satisfied by internal/network's limiterAdapter, which wraps one
// *catrate.Limiter per Network, keyed by NetworkInstance id; nil
// disables limiting.
type RateLimiter interface {
	// Allow reports whether an event for category may be registered
	// now, mirroring catrate.Limiter.Allow with its time.Time result
	// boxed as any (callers here only use the bool).
	Allow(category any) (any, bool)
}

// Connector owns a client socket and dials host:port, implementing the
// IDLE -> CONNECTING -> CONNECTED -> DEAD state machine of spec.md
// §4.E. Retries are unbounded until Dispose is called.
type Connector struct {
	reactor *Reactor
	timers  *timer.Manager

	host string
	port int

	connectTimeoutMS int64
	retryIntervalMS  int64

	onConnected func(*Socket)

	limiter  RateLimiter
	category any

	state      ConnectorState
	socket     *Socket
	timeoutTmr *timer.Timer
}

// NewConnector returns a Connector targeting host:port. The socket is
// opened with poll_out-only interest to detect connect completion;
// once CONNECTED, interest switches to poll_in before onConnected is
// invoked, so the now-open Socket is ready to receive inbound frames.
// limiter and category may be nil/zero to disable reconnect-storm
// limiting.
func NewConnector(r *Reactor, timers *timer.Manager, host string, port int, connectTimeoutMS, retryIntervalMS int64, onConnected func(*Socket), limiter RateLimiter, category any) *Connector {
	return &Connector{
		reactor: r, timers: timers,
		host: host, port: port,
		connectTimeoutMS: connectTimeoutMS, retryIntervalMS: retryIntervalMS,
		onConnected: onConnected,
		limiter:     limiter, category: category,
		state: Idle,
	}
}

// State reports the connector's current lifecycle stage.
func (c *Connector) State() ConnectorState { return c.state }

// Connect initiates a non-blocking connect attempt (spec.md §4.E).
func (c *Connector) Connect() {
	if c.state == Dead {
		return
	}
	if c.limiter != nil {
		if _, ok := c.limiter.Allow(c.category); !ok {
			c.scheduleRetry()
			return
		}
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		c.scheduleRetry()
		return
	}
	ip, err := resolveIPv4(c.host)
	if err != nil {
		_ = unix.Close(fd)
		c.scheduleRetry()
		return
	}
	sa := &unix.SockaddrInet4{Port: c.port, Addr: ip}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		c.scheduleRetry()
		return
	}
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		c.scheduleRetry()
		return
	}

	s, openErr := c.reactor.Open(fd, PollOut, c.handle, true)
	if openErr != nil {
		_ = unix.Close(fd)
		c.scheduleRetry()
		return
	}
	c.socket = s
	c.state = Connecting
	c.timeoutTmr = c.timers.Schedule(c.connectTimeoutMS, func(*timer.Timer, int64) int64 {
		c.failConnecting()
		return 0
	})
}

func (c *Connector) handle(s *Socket, ev Events) bool {
	if c.state != Connecting {
		return false
	}
	if ev&(PollErr|PollClose) != 0 {
		c.failConnecting()
		return false
	}
	if ev&PollOut == 0 {
		return true
	}
	errno, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil || errno != 0 {
		c.failConnecting()
		return false
	}
	c.cancelTimeout()
	c.state = Connected
	_ = s.SetInterest(PollIn)
	if c.onConnected != nil {
		c.onConnected(s)
	}
	return true
}

func (c *Connector) failConnecting() {
	c.cancelTimeout()
	if c.socket != nil {
		c.reactor.Close(c.socket, 0)
		c.socket = nil
	}
	c.scheduleRetry()
}

func (c *Connector) cancelTimeout() {
	if c.timeoutTmr != nil {
		c.timers.Close(c.timeoutTmr)
		c.timeoutTmr = nil
	}
}

func (c *Connector) scheduleRetry() {
	if c.state == Dead {
		return
	}
	c.state = Idle
	c.timers.Schedule(c.retryIntervalMS, func(*timer.Timer, int64) int64 {
		c.Connect()
		return 0
	})
}

// OnSocketClosed must be called by the owner when the connected
// socket closes, so the Connector schedules a reconnect on the next
// loop tick (spec.md §4.H.6: "schedule a zero-delay reconnect ... so
// the retry happens on the next loop tick rather than recursively").
func (c *Connector) OnSocketClosed() {
	if c.state == Dead {
		return
	}
	c.socket = nil
	c.state = Idle
	c.timers.Schedule(0, func(*timer.Timer, int64) int64 {
		c.Connect()
		return 0
	})
}

// Dispose permanently stops the connector; no further retries occur.
func (c *Connector) Dispose() {
	c.state = Dead
	c.cancelTimeout()
	if c.socket != nil {
		c.reactor.Close(c.socket, 0)
		c.socket = nil
	}
}

// Package fiber implements the cooperative coroutine manager of
// spec.md §4.F and the per-coroutine Context of §4.G, grounded on
// original_source/server/libs/libgx/coroutine.h/.cpp and context.cpp.
//
// The C++ original multiplexes many stack-ful fibers onto one OS
// thread via assembly-level context switches (ucontext/Windows
// fibers). Go has no public stack-switch primitive, so this package
// instead gives each logical coroutine a persistent goroutine that
// blocks on a dedicated handoff channel between resumptions — the
// channel send/receive pair IS the context switch. Because a send on
// an unbuffered channel only completes when its matching receive is
// ready, and every coroutine is blocked on exactly one channel
// operation except the one currently executing, the "exactly one
// RUNNING coroutine at any instant" invariant of spec.md §8.1 holds by
// construction, not by a mutex. The free-list/recycling behavior is
// preserved too: a Coroutine's goroutine loops forever, picking up a
// freshly assigned routine each time it is pulled off the free list by
// Spawn, exactly mirroring the original's stack-slot reuse.
package fiber

import (
	"errors"

	"github.com/opengxv/solo/internal/timer"
)

// DefaultCapacity and DefaultGrowBy mirror GX_CO_CAP / GX_CO_GROW in
// original_source/server/libs/libgx/coroutine.cpp.
const (
	DefaultCapacity = 4096
	DefaultGrowBy   = 32
)

// State is a coroutine's lifecycle stage (spec.md §3).
type State int

const (
	Dead State = iota
	Ready
	Running
	Suspend
)

func (s State) String() string {
	switch s {
	case Dead:
		return "DEAD"
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Suspend:
		return "SUSPEND"
	default:
		return "?"
	}
}

// Routine is the body a spawned coroutine runs.
type Routine func(co *Coroutine, datum any)

// Coroutine is one fiber slot. It is never constructed directly by
// callers; obtain one via Manager.Spawn.
type Coroutine struct {
	mgr   *Manager
	ctl   chan struct{} // handoff channel; see package doc
	state State

	routine Routine
	datum   any
	resumer *Coroutine

	ctx        *Context
	bootstrapped bool
}

// State reports the coroutine's current lifecycle stage.
func (co *Coroutine) State() State { return co.state }

// Context returns the Context attached to this coroutine slot. It is
// created lazily on first Spawn and reused (reset, not destroyed)
// across subsequent spawns of the same slot, per spec.md §4.G.
func (co *Coroutine) Context() *Context { return co.ctx }

// Resume transfers control to co. Equivalent to Manager.Resume(co),
// provided as a method for callers that only hold the Coroutine.
func (co *Coroutine) Resume() bool { return co.mgr.Resume(co) }

// ContextFactory produces the transaction hooks of a fresh Context,
// called the first time a coroutine slot is spawned (and once for the
// main fiber). The embedder installs the concrete transaction-hook
// behavior via hooks (spec.md §4.G: "An installable factory produces a Context
// subclass chosen by the embedder").
type ContextFactory func() TxHooks

// Manager is the process-wide coroutine pool (spec.md §4.F), a
// "global manager singleton" per spec.md §9, given an explicit
// constructor (New) rather than an implicit static instance so tests
// can start from a fresh one in each case.
type Manager struct {
	capacity int
	growBy   int
	factory  ContextFactory
	timers   *timer.Manager

	all     []*Coroutine
	free    []*Coroutine
	current *Coroutine
	main    *Coroutine
}

var (
	// ErrPoolExhausted is returned by Spawn when the configured
	// capacity has been reached and no DEAD coroutine is free.
	ErrPoolExhausted = errors.New("fiber: coroutine pool exhausted")
)

// New returns a Manager with the given capacity and grow-chunk size (0
// selects the defaults). factory may be nil, selecting no-op
// transaction hooks (spec.md §4.G default). timers backs Context.Sleep
// and the per-call timeout timer network.Network installs.
func New(capacity, growBy int, timers *timer.Manager, factory ContextFactory) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if growBy <= 0 {
		growBy = DefaultGrowBy
	}
	if factory == nil {
		factory = func() TxHooks { return noopTxHooks{} }
	}
	m := &Manager{capacity: capacity, growBy: growBy, factory: factory, timers: timers}
	m.main = &Coroutine{mgr: m, state: Running, ctl: make(chan struct{})}
	m.main.ctx = newContext(m.main, timers, factory())
	m.current = m.main
	return m
}

// Self returns the currently RUNNING coroutine (spec.md §4.F: "the
// head of the busy list").
func (m *Manager) Self() *Coroutine { return m.current }

// IsMainRoutine reports whether Self() is the manager's built-in main
// fiber — the one driving the reactor/timer loop, which never issues
// RPC calls (spec.md Glossary: "Main fiber").
func (m *Manager) IsMainRoutine() bool { return m.current == m.main }

// Main returns the manager's built-in main fiber.
func (m *Manager) Main() *Coroutine { return m.main }

func (m *Manager) grow() {
	n := m.growBy
	if len(m.all)+n > m.capacity {
		n = m.capacity - len(m.all)
	}
	for i := 0; i < n; i++ {
		co := &Coroutine{mgr: m, state: Dead, ctl: make(chan struct{})}
		m.all = append(m.all, co)
		m.free = append(m.free, co)
	}
}

// Spawn takes a DEAD coroutine off the free list (growing the pool if
// necessary and permitted by capacity), transitions it to READY, and
// attaches a Context — reused from a prior occupant of this slot, or
// freshly constructed (spec.md §4.F spawn()).
func (m *Manager) Spawn(routine Routine, datum any) (*Coroutine, error) {
	if len(m.free) == 0 {
		m.grow()
	}
	if len(m.free) == 0 {
		return nil, ErrPoolExhausted
	}
	n := len(m.free)
	co := m.free[n-1]
	m.free = m.free[:n-1]

	co.state = Ready
	co.routine = routine
	co.datum = datum
	if co.ctx == nil {
		co.ctx = newContext(co, m.timers, m.factory())
	}

	if !co.bootstrapped {
		co.bootstrapped = true
		go m.runLoop(co)
	}
	return co, nil
}

// runLoop is the persistent goroutine backing one coroutine slot. It
// mirrors the trampoline of coroutine.cpp: whatever happens inside the
// routine (normal return or panic), cleanup to DEAD and hand-back to
// the resumer always happens, because it lives in this loop's defer,
// not in user code.
func (m *Manager) runLoop(co *Coroutine) {
	for range co.ctl {
		m.execute(co)
	}
}

func (m *Manager) execute(co *Coroutine) {
	defer m.finish(co)
	co.routine(co, co.datum)
}

// finish implements the trampoline's unconditional cleanup: transition
// to DEAD, return the slot to the free list, and switch back to the
// resumer. Runs via defer, so it executes even if routine panicked —
// matching spec.md §4.F's "such an unwind is treated as 'routine end'
// by the trampoline".
func (m *Manager) finish(co *Coroutine) {
	recover() // swallow a panicking routine; it still counts as "ended"
	resumer := co.resumer
	co.state = Dead
	co.routine = nil
	co.datum = nil
	co.resumer = nil
	co.ctx.finish()
	m.free = append(m.free, co)
	m.current = resumer
	resumer.ctl <- struct{}{}
}

// Resume transfers control to target (spec.md §4.F resume()). If the
// caller is already target, it returns false without switching
// anything (boundary behavior: "Resume onto self: returns false").
// Otherwise it blocks until target yields back or finishes, then
// returns true.
func (m *Manager) Resume(target *Coroutine) bool {
	if target == m.current {
		return false
	}
	if target.state != Ready && target.state != Suspend {
		return false
	}
	prev := m.current
	target.resumer = prev
	target.state = Running
	m.current = target
	target.ctl <- struct{}{}
	<-prev.ctl
	return true
}

// Yield suspends the current coroutine and switches back to its
// resumer (spec.md §4.F yield()). Returns false without changing state
// if called on the main fiber (boundary behavior: "Yield from the main
// fiber: returns false, coroutine state unchanged"). Otherwise blocks
// until some future Resume targets this coroutine again, then returns
// true.
func (m *Manager) Yield() bool {
	self := m.current
	if self == m.main {
		return false
	}
	resumer := self.resumer
	self.state = Suspend
	m.current = resumer
	resumer.ctl <- struct{}{}
	<-self.ctl
	self.state = Running
	return true
}

// Len reports the number of coroutine slots the pool has grown to, for
// tests asserting growth/capacity behavior.
func (m *Manager) Len() int { return len(m.all) }

// Free reports the number of DEAD coroutines currently on the free
// list.
func (m *Manager) Free() int { return len(m.free) }

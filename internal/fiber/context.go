package fiber

import (
	"github.com/opengxv/solo/internal/obstack"
	"github.com/opengxv/solo/internal/timer"
)

// CallResult is the outcome of a suspended outbound call, set by
// whichever of Context.CallOK/CallTimedout/CallCancel resumes the
// waiting coroutine (spec.md §4.G, grounded on context.cpp's
// GX_CALL_* enum).
type CallResult int

const (
	ResultUnknown CallResult = iota
	ResultOK
	ResultTimedout
	ResultCancel
)

// TxHooks is the embedder-overridable transaction hook pair Context
// wraps (spec.md §1: "the core only knows the two abstract hooks
// 'begin transaction' and 'commit/rollback transaction'"). The core
// never implements a concrete persistence layer — see SPEC_FULL.md §2
// "Dropped teacher dependencies" for why no SQL driver is wired here.
type TxHooks interface {
	DBBegin() bool
	DBCommit() bool
	DBRollback()
}

type noopTxHooks struct{}

func (noopTxHooks) DBBegin() bool  { return true }
func (noopTxHooks) DBCommit() bool { return true }
func (noopTxHooks) DBRollback()    {}

// Context is the per-coroutine ambient handle described in spec.md
// §4.G, grounded on context.cpp. Network and Peer are left as
// `any`/opaque here to keep this package free of a dependency on
// internal/network (which itself depends on fiber to spawn servlet
// coroutines); reading them back requires a type assertion to the
// internal/network types.
type Context struct {
	co     *Coroutine
	hooks  TxHooks
	timers *timer.Manager

	Network any
	Peer    any
	Servlet uint32
	Seq     uint32
	Size    uint32

	CallResult  CallResult
	ActiveTimer *timer.Timer
	Arena       *obstack.Arena
}

func newContext(co *Coroutine, timers *timer.Manager, hooks TxHooks) *Context {
	return &Context{co: co, timers: timers, hooks: hooks}
}

// Coroutine returns the coroutine this Context is attached to.
func (c *Context) Coroutine() *Coroutine { return c.co }

// Begin installs network/peer and invokes the DBBegin hook (spec.md
// §4.G begin()).
func (c *Context) Begin(network, peer any) bool {
	c.Network = network
	c.Peer = peer
	return c.hooks.DBBegin()
}

// Commit wraps the DBCommit hook.
func (c *Context) Commit() bool { return c.hooks.DBCommit() }

// Rollback wraps the DBRollback hook. failure documents intent (a
// failure-driven rollback vs. a voluntary one) even though, as in
// context.cpp, the hook itself does not currently branch on it.
func (c *Context) Rollback(failure bool) { c.hooks.DBRollback() }

// Clear closes any active timer (spec.md §4.G / context.cpp clear()).
func (c *Context) Clear() {
	if c.ActiveTimer != nil {
		c.timers.Close(c.ActiveTimer)
		c.ActiveTimer = nil
	}
}

// finish resets all fields, ready for reuse at the next Spawn of this
// coroutine slot (spec.md §4.G: "reset (finish()) on routine return").
func (c *Context) finish() {
	c.Network = nil
	c.Peer = nil
	c.Servlet = 0
	c.Seq = 0
	c.Size = 0
	c.CallResult = ResultUnknown
	if c.Arena != nil {
		c.Arena.Reset()
		c.Arena = nil
	}
	c.Clear()
}

// Sleep schedules a timer that resumes the calling coroutine after
// delayMS, then yields; zero delay returns immediately (spec.md §4.G
// sleep(), grounded on context.cpp Context::sleep).
func (c *Context) Sleep(delayMS int64) {
	if delayMS <= 0 {
		return
	}
	self := c.co
	self.mgr.timers.Schedule(delayMS, func(*timer.Timer, int64) int64 {
		self.Resume()
		return 0
	})
	self.mgr.Yield()
}

// CallYield yields the calling coroutine and, on resume, dispatches on
// the stored CallResult: OK returns nil, Timedout/Cancel return the
// corresponding error, and ResultUnknown after a resume is an internal
// invariant violation (spec.md §4.G call_yield(), grounded on
// context.cpp Context::call_yield).
//
// The caller must be the coroutine this Context belongs to.
func (c *Context) CallYield(timeoutErr, cancelErr error) error {
	c.CallResult = ResultUnknown
	c.co.mgr.Yield()
	switch c.CallResult {
	case ResultOK:
		return nil
	case ResultTimedout:
		return timeoutErr
	case ResultCancel:
		return cancelErr
	default:
		panic("fiber: call_yield resumed with ResultUnknown")
	}
}

// CallOK resumes the owning coroutine with a successful call result.
func (c *Context) CallOK() {
	c.CallResult = ResultOK
	c.co.Resume()
}

// CallCancel resumes the owning coroutine with a cancelled call
// result.
func (c *Context) CallCancel() {
	c.CallResult = ResultCancel
	c.co.Resume()
}

// CallTimedout resumes the owning coroutine with a timed-out call
// result.
func (c *Context) CallTimedout() {
	c.CallResult = ResultTimedout
	c.co.Resume()
}

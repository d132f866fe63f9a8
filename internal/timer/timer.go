// Package timer implements the timer manager described in spec.md
// §4.C, grounded on the deadline-ordered container/heap timer queue in
// _examples/joeycumines-go-utilpkg/eventloop/loop.go (timerHeap) and
// the scheduling semantics of
// original_source/server/libs/libgx/timer.h/.cpp (not kept in the
// retrieval pack's source list, but named throughout coroutine.cpp,
// reactor.cpp and context.cpp, whose call sites pin down the contract
// used here: schedule/schedule_abs/loop/clear, and the
// (Timer, actual_time) -> next_delay_ms callback shape).
package timer

import "container/heap"

// FarFuture is the sentinel Loop returns as "next deadline" when no
// timer is pending.
const FarFuture int64 = 1<<63 - 1

// Callback is invoked when a Timer fires. actualMS is the monotonic
// time (per Manager's clock) at which it actually fired, which may lag
// the scheduled deadline by up to one loop tick. A return value of 0
// closes the timer; a non-zero return value reschedules it that many
// milliseconds after actualMS.
type Callback func(t *Timer, actualMS int64) int64

// state is a Timer's lifecycle stage (spec.md §4.C invariants).
type state int

const (
	statePending state = iota
	stateFiring
	stateClosed
)

// Timer is one scheduled callback. The zero value is not usable;
// obtain one via Manager.Schedule or Manager.ScheduleAbs.
type Timer struct {
	deadline int64 // absolute ms
	seq      uint64
	cb       Callback
	state    state
	index    int // heap index, maintained by container/heap
}

// Closed reports whether the timer can no longer fire.
func (t *Timer) Closed() bool { return t.state == stateClosed }

// timerHeap orders pending timers by (deadline, insertion order),
// mirroring eventloop/loop.go's timerHeap and satisfying spec.md
// §4.C's "firing order among timers with equal deadlines is insertion
// order".
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Clock returns the current absolute monotonic time in milliseconds.
// Swappable in tests.
type Clock func() int64

// Manager is the process-wide timer service (spec.md §4.C, §9's
// "global manager singletons ... explicit init/teardown"). It is not
// safe for concurrent use: like the rest of the core, it is only ever
// touched from the main fiber.
type Manager struct {
	now  Clock
	heap timerHeap
	seq  uint64
}

// New returns a Manager using clock to read the current time. clock
// must be monotonic within one process's lifetime.
func New(clock Clock) *Manager {
	m := &Manager{now: clock}
	heap.Init(&m.heap)
	return m
}

// Now reads the manager's clock once, the "adjust_time() once per
// loop()" snapshot spec.md §4.C requires callbacks to observe
// consistently.
func (m *Manager) Now() int64 { return m.now() }

// Schedule fires cb once at Now()+delayMS, then reschedules per cb's
// return value (spec.md §4.C).
func (m *Manager) Schedule(delayMS int64, cb Callback) *Timer {
	return m.ScheduleAbs(m.now()+delayMS, cb)
}

// ScheduleAbs fires cb at the given absolute deadline; deadlineMS==0
// means "fire on the very next Loop call" (spec.md §4.C).
func (m *Manager) ScheduleAbs(deadlineMS int64, cb Callback) *Timer {
	t := &Timer{deadline: deadlineMS, cb: cb, seq: m.seq}
	m.seq++
	heap.Push(&m.heap, t)
	return t
}

// Close marks t unable to fire again and removes it from the pending
// heap if still present. Safe to call on an already-closed or
// already-firing timer.
func (m *Manager) Close(t *Timer) {
	if t == nil || t.state == stateClosed {
		return
	}
	if t.state == statePending && t.index >= 0 && t.index < len(m.heap) && m.heap[t.index] == t {
		heap.Remove(&m.heap, t.index)
	}
	t.state = stateClosed
}

// Loop fires every timer whose deadline is <= now, each at most once
// per call even if its reschedule would make it due again immediately
// (spec.md §4.C), and returns the next pending deadline, or FarFuture
// if none remain.
func (m *Manager) Loop() int64 {
	now := m.now()
	// due holds the timers that are due as of entry, snapshotted so a
	// callback scheduling a new timer for "now" cannot be observed by
	// this same Loop() call.
	var due []*Timer
	for m.heap.Len() > 0 && m.heap[0].deadline <= now {
		t := heap.Pop(&m.heap).(*Timer)
		due = append(due, t)
	}
	for _, t := range due {
		t.state = stateFiring
		next := t.cb(t, now)
		if t.state == stateClosed {
			// closed by its own callback (or concurrently) - leave it.
			continue
		}
		if next == 0 {
			t.state = stateClosed
			continue
		}
		t.state = statePending
		t.deadline = now + next
		t.seq = m.seq
		m.seq++
		heap.Push(&m.heap, t)
	}
	if m.heap.Len() == 0 {
		return FarFuture
	}
	return m.heap[0].deadline
}

// Clear closes all pending timers (spec.md §4.C).
func (m *Manager) Clear() {
	for m.heap.Len() > 0 {
		t := heap.Pop(&m.heap).(*Timer)
		t.state = stateClosed
	}
}

// Len reports the number of pending timers, for tests.
func (m *Manager) Len() int { return m.heap.Len() }

// Package page implements the fixed-size page allocator described in
// spec.md §4.A, grounded on the bucketed free-list allocator in
// original_source/server/libs/libgx/allocator.h.
package page

import "sync"

// DefaultSize is the default page payload size (64 KiB), matching
// GX_CO_MEMSIZE in original_source/server/libs/libgx/coroutine.cpp.
const DefaultSize = 64 * 1024

// Page is a fixed-size block of memory with a start pointer and a bump
// cursor. It is owned by one Arena (obstack) at a time.
type Page struct {
	buf    []byte
	cursor int
}

// Size returns the page's payload capacity in bytes.
func (p *Page) Size() int { return len(p.buf) }

// Bytes returns the page's raw backing storage. Callers allocating
// through an Arena should not use this directly; it exists so the
// arena package can bump-allocate within it.
func (p *Page) Bytes() []byte { return p.buf }

// Cursor returns the current bump offset.
func (p *Page) Cursor() int { return p.cursor }

// Advance moves the cursor forward by n bytes. Callers must have
// already checked Size()-Cursor() >= n.
func (p *Page) Advance(n int) { p.cursor += n }

func (p *Page) reset() { p.cursor = 0 }

// Allocator is a process-wide singleton pool of pages of a fixed size,
// backed by a free list. The core is single-threaded by design
// (spec.md §5), so no lock is required on the hot path; Allocator does
// take a mutex so tests may safely run Allocators concurrently across
// goroutines (each test owns its own Allocator instance via New).
type Allocator struct {
	mu       sync.Mutex
	pageSize int
	free     []*Page
}

// New returns an Allocator handing out pages of pageSize bytes. A
// pageSize of 0 selects DefaultSize.
func New(pageSize int) *Allocator {
	if pageSize <= 0 {
		pageSize = DefaultSize
	}
	return &Allocator{pageSize: pageSize}
}

// PageSize returns the fixed payload size this allocator hands out.
func (a *Allocator) PageSize() int { return a.pageSize }

// Alloc returns a Page from the free list, or a freshly allocated one
// if the free list is empty. Never returns nil: unlike the original's
// malloc-backed allocator, Go's runtime allocator does not return nil
// on exhaustion — it panics, which is the appropriate fatal-startup
// behavior spec.md §7 assigns to page-allocator exhaustion.
func (a *Allocator) Alloc() *Page {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.free); n > 0 {
		p := a.free[n-1]
		a.free = a.free[:n-1]
		p.reset()
		return p
	}
	return &Page{buf: make([]byte, a.pageSize)}
}

// Free returns p to the free list, where it is held until reused,
// giving it the same effectively-pointer-stable-until-destroy lifetime
// the obstack package relies on: a Page's backing array never moves
// after allocation, it is only ever appended to a new Arena.
func (a *Allocator) Free(p *Page) {
	if p == nil {
		return
	}
	a.mu.Lock()
	a.free = append(a.free, p)
	a.mu.Unlock()
}

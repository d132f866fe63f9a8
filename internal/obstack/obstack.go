// Package obstack implements the arena (bump allocator) described in
// spec.md §4.B, grounded on the obstack_allocator / obstack_map /
// obstack_vector family in
// original_source/server/libs/libgx/allocator.h.
//
// Unlike the C++ original, Go cannot bump-allocate arbitrary typed
// objects out of a raw byte arena without unsafe pointer arithmetic
// defeating the garbage collector's ability to trace them. This
// package instead hands out []byte slices: callers needing typed
// scratch storage (e.g. a decode target) allocate the backing bytes
// here and build the value in place, which matches how the original's
// obstack is actually used at its call sites — as scratch space for
// wire-decoded request/response bodies, not as a general-purpose GC
// replacement.
package obstack

import "github.com/opengxv/solo/internal/page"

// defaultAlign is the default alignment when callers do not need a
// specific one, matching the platform-word default spec.md §4.B names.
const defaultAlign = 8

// Arena is an ordered sequence of pages bump-allocated from a shared
// page.Allocator. Pointers (slices) returned by Alloc remain valid
// until Reset or Destroy.
type Arena struct {
	pages *page.Allocator
	used  []*page.Page
}

// New returns an empty Arena drawing pages from pages.
func New(pages *page.Allocator) *Arena {
	return &Arena{pages: pages}
}

// Alloc returns n zeroed bytes aligned to align (0 selects the
// default). If the current page lacks room, a new page is requested
// from the allocator; n must not exceed the allocator's page size.
func (a *Arena) Alloc(n int, align int) []byte {
	if align <= 0 {
		align = defaultAlign
	}
	if n < 0 {
		panic("obstack: negative size")
	}
	if len(a.used) > 0 {
		cur := a.used[len(a.used)-1]
		start := alignUp(cur.Cursor(), align)
		if end := start + n; end <= cur.Size() {
			b := cur.Bytes()[start:end]
			cur.Advance(end - cur.Cursor())
			for i := range b {
				b[i] = 0
			}
			return b
		}
	}
	if n > a.pages.PageSize() {
		panic("obstack: allocation larger than page size")
	}
	p := a.pages.Alloc()
	a.used = append(a.used, p)
	start := alignUp(p.Cursor(), align)
	end := start + n
	b := p.Bytes()[start:end]
	p.Advance(end - p.Cursor())
	for i := range b {
		b[i] = 0
	}
	return b
}

func alignUp(v, align int) int {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// Reset returns all pages to the underlying allocator's free list. The
// Arena is left empty and ready for reuse. Any slice previously
// returned by Alloc must not be used after Reset.
func (a *Arena) Reset() {
	for _, p := range a.used {
		a.pages.Free(p)
	}
	a.used = a.used[:0]
}

// Destroy releases all pages, same as Reset; provided as a distinct
// name so call sites can express intent (spec.md §4.B: "destruction
// implies reset").
func (a *Arena) Destroy() { a.Reset() }

// PageCount reports the number of pages currently held, for tests
// asserting O(#pages) release behavior.
func (a *Arena) PageCount() int { return len(a.used) }

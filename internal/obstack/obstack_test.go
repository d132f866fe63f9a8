package obstack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengxv/solo/internal/page"
)

func TestArena_AllocZeroed(t *testing.T) {
	pages := page.New(64)
	a := New(pages)
	b := a.Alloc(16, 0)
	require.Len(t, b, 16)
	for _, c := range b {
		assert.Zero(t, c)
	}
}

func TestArena_AllocPacksWithinPage(t *testing.T) {
	pages := page.New(64)
	a := New(pages)
	a.Alloc(8, 1)
	a.Alloc(8, 1)
	assert.Equal(t, 1, a.PageCount(), "two small allocs should pack into one page")
}

func TestArena_AllocSpansNewPage(t *testing.T) {
	pages := page.New(16)
	a := New(pages)
	a.Alloc(12, 1)
	a.Alloc(12, 1)
	assert.Equal(t, 2, a.PageCount(), "second alloc should not fit, forcing a new page")
}

func TestArena_AllocLargerThanPageSizePanics(t *testing.T) {
	pages := page.New(16)
	a := New(pages)
	assert.Panics(t, func() { a.Alloc(17, 1) })
}

func TestArena_ResetReleasesPages(t *testing.T) {
	pages := page.New(16)
	a := New(pages)
	a.Alloc(4, 1)
	a.Alloc(13, 1)
	require.Equal(t, 2, a.PageCount())
	a.Reset()
	assert.Equal(t, 0, a.PageCount())
}

func TestArena_AlignmentRespected(t *testing.T) {
	pages := page.New(64)
	a := New(pages)
	a.Alloc(3, 8)
	b := a.Alloc(8, 8)
	require.Len(t, b, 8)
	assert.Equal(t, 1, a.PageCount(), "aligned allocs should still fit in one page")
}

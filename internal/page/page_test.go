package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator_AllocReturnsFreshPage(t *testing.T) {
	a := New(4096)
	p := a.Alloc()
	require.NotNil(t, p)
	assert.Equal(t, 4096, p.Size())
	assert.Equal(t, 0, p.Cursor())
}

func TestAllocator_FreeRecyclesPage(t *testing.T) {
	a := New(4096)
	p1 := a.Alloc()
	p1.Advance(100)
	a.Free(p1)

	p2 := a.Alloc()
	assert.Same(t, p1, p2)
	assert.Equal(t, 0, p2.Cursor(), "recycled page must be reset")
}

func TestAllocator_DefaultSize(t *testing.T) {
	a := New(0)
	assert.Equal(t, DefaultSize, a.PageSize())
}

func TestPage_AdvanceMovesCursor(t *testing.T) {
	a := New(64)
	p := a.Alloc()
	p.Advance(10)
	p.Advance(20)
	assert.Equal(t, 30, p.Cursor())
}

func TestPage_Bytes(t *testing.T) {
	a := New(64)
	p := a.Alloc()
	buf := p.Bytes()
	require.Len(t, buf, 64)
}

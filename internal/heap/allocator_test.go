package heap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocRoundTrip(t *testing.T) {
	a := NewPooledAllocator()
	anc, err := a.Alloc(300)
	require.NoError(t, err)
	require.Equal(t, 300, a.SizeOf(anc))

	buf := a.Bytes(anc)
	copy(buf, []byte("hello"))
	require.Equal(t, byte('h'), a.Bytes(anc)[0])

	a.Free(anc)
}

func TestResizeGrowsInPlaceWithinBucket(t *testing.T) {
	a := NewPooledAllocator()
	anc, err := a.Alloc(100)
	require.NoError(t, err)
	copy(a.Bytes(anc), []byte("data"))

	grown, ok := a.Resize(anc, 900)
	require.True(t, ok)
	require.Equal(t, 900, a.SizeOf(grown))
	require.Equal(t, []byte("data"), a.Bytes(grown)[:4])
}

func TestResizeCrossesBucketAndPreservesContents(t *testing.T) {
	a := NewPooledAllocator()
	anc, err := a.Alloc(100)
	require.NoError(t, err)
	copy(a.Bytes(anc), []byte("spillover"))

	grown, ok := a.Resize(anc, size64k+1)
	require.True(t, ok)
	require.Equal(t, size64k+1, a.SizeOf(grown))
	require.Equal(t, []byte("spillover"), a.Bytes(grown)[:9])
}

func TestPinCoordinatorTogglesCompactorOnlyAtEdges(t *testing.T) {
	a := NewPooledAllocator()
	p := NewPinCoordinator(a)
	require.True(t, a.CompactorEnabled())

	p.Pin()
	require.False(t, a.CompactorEnabled())
	p.Pin()
	require.False(t, a.CompactorEnabled())

	p.Unpin()
	require.False(t, a.CompactorEnabled())
	p.Unpin()
	require.True(t, a.CompactorEnabled())
}

func TestUnpinWithoutPinIsNoOp(t *testing.T) {
	a := NewPooledAllocator()
	p := NewPinCoordinator(a)
	p.Unpin()
	require.Equal(t, 0, p.Count())
	require.True(t, a.CompactorEnabled())
}

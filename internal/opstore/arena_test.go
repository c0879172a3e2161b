package opstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertGetUpdate(t *testing.T) {
	a := New[string]()
	id, token := a.Insert("hello")
	require.NotEqual(t, Zero, id)

	v, ok := a.Get(id)
	require.True(t, ok)
	require.Equal(t, "hello", v)

	require.True(t, a.Update(id, "world"))
	v, ok = a.Get(id)
	require.True(t, ok)
	require.Equal(t, "world", v)

	gotToken, ok := a.TokenOf(id)
	require.True(t, ok)
	require.Equal(t, token, gotToken)
}

func TestReleaseInvalidatesStaleHandle(t *testing.T) {
	a := New[int]()
	id, _ := a.Insert(1)
	require.True(t, a.Release(id))

	_, ok := a.Get(id)
	require.False(t, ok)
	require.False(t, a.Update(id, 99))
	require.False(t, a.Release(id))
}

func TestReusedSlotGetsFreshGenerationAndStaleHandleNeverAliases(t *testing.T) {
	a := New[int]()
	first, _ := a.Insert(10)
	require.True(t, a.Release(first))

	second, _ := a.Insert(20)
	require.Equal(t, first.Index, second.Index)
	require.NotEqual(t, first.Generation, second.Generation)

	_, ok := a.Get(first)
	require.False(t, ok, "stale handle must not alias the reused slot")

	v, ok := a.Get(second)
	require.True(t, ok)
	require.Equal(t, 20, v)
}

func TestLenAndEach(t *testing.T) {
	a := New[int]()
	id1, _ := a.Insert(1)
	a.Insert(2)
	id3, _ := a.Insert(3)
	a.Release(id1)

	require.Equal(t, 2, a.Len())

	seen := map[OperationID]int{}
	a.Each(func(id OperationID, v int) { seen[id] = v })
	require.Len(t, seen, 2)
	require.Equal(t, 3, seen[id3])
}

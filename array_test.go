package tdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArrayInsertGetGrowsWidth(t *testing.T) {
	alloc := NewMemoryAllocator()
	arr, err := NewArray(alloc, false)
	require.NoError(t, err)

	values := []int64{0, 1, -1, 127, 128, -129, 70000, -70001}
	for i, v := range values {
		require.NoError(t, arr.Insert(uint32(i), v), "Insert(%d, %d)", i, v)
	}

	size, err := arr.Size()
	require.NoError(t, err)
	require.Equal(t, len(values), int(size))

	for i, want := range values {
		got, err := arr.Get(uint32(i))
		require.NoError(t, err)
		require.Equal(t, want, got, "Get(%d)", i)
	}
}

func TestArrayEraseShiftsDown(t *testing.T) {
	alloc := NewMemoryAllocator()
	arr, err := NewArray(alloc, false)
	require.NoError(t, err)
	for i, v := range []int64{10, 20, 30, 40} {
		require.NoError(t, arr.Insert(uint32(i), v))
	}
	require.NoError(t, arr.Erase(1))
	out, err := arr.ToSlice()
	require.NoError(t, err)
	require.Equal(t, []int64{10, 30, 40}, out)
}

func TestArraySortAndBounds(t *testing.T) {
	alloc := NewMemoryAllocator()
	arr, err := NewArray(alloc, false)
	require.NoError(t, err)
	for i, v := range []int64{5, 1, 4, 2, 3} {
		require.NoError(t, arr.Insert(uint32(i), v))
	}
	require.NoError(t, arr.Sort())
	out, err := arr.ToSlice()
	require.NoError(t, err)
	for i := 1; i < len(out); i++ {
		require.LessOrEqualf(t, out[i-1], out[i], "not sorted: %v", out)
	}

	idx, err := arr.LowerBound(3)
	require.NoError(t, err)
	require.Equal(t, int64(3), out[idx])

	idx, err = arr.UpperBound(3)
	require.NoError(t, err)
	if idx < uint32(len(out)) {
		require.NotEqual(t, int64(3), out[idx], "UpperBound(3) should land past the last 3")
	}
}

func TestArraySumAndMinMax(t *testing.T) {
	alloc := NewMemoryAllocator()
	arr, err := NewArray(alloc, false)
	require.NoError(t, err)
	for i, v := range []int64{3, -2, 8, 1} {
		require.NoError(t, arr.Insert(uint32(i), v))
	}
	sum, err := arr.Sum(0, 4)
	require.NoError(t, err)
	require.Equal(t, int64(10), sum)

	min, max, ok, err := arr.MinMax(0, 4)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(-2), min)
	require.Equal(t, int64(8), max)
}

func TestArrayFindFirst(t *testing.T) {
	alloc := NewMemoryAllocator()
	arr, err := NewArray(alloc, false)
	require.NoError(t, err)
	for i, v := range []int64{1, 2, 3, 4, 5} {
		require.NoError(t, arr.Insert(uint32(i), v))
	}
	idx, found, err := arr.FindFirst(FindGT, 3, 0, 5)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint32(3), idx)

	_, found, err = arr.FindFirst(FindEQ, 99, 0, 5)
	require.NoError(t, err)
	require.False(t, found, "FindFirst(EQ 99) unexpectedly found a match")
}

func TestArrayCopyOnWriteAgainstCommittedRef(t *testing.T) {
	fa, topRef, cleanup := newTestFileAllocator(t)
	defer cleanup()
	_ = topRef

	arr, err := NewArray(fa, false)
	require.NoError(t, err)
	require.NoError(t, arr.Insert(0, 42))
	require.NoError(t, fa.Commit(arr.Ref()))

	committedRef := arr.Ref()
	require.True(t, fa.IsReadOnly(committedRef), "committed ref should be read-only")

	reopened := OpenArray(fa, committedRef)
	require.NoError(t, reopened.Insert(1, 7))
	require.NotEqual(t, committedRef, reopened.Ref(), "mutating a committed array should produce a new ref")
}

package slot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocGetRelease(t *testing.T) {
	t.Parallel()

	tab := New[string](2)
	assert.Equal(t, 2, tab.Cap())

	a, ok := tab.Alloc("a")
	require.True(t, ok)
	b, ok := tab.Alloc("b")
	require.True(t, ok)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, tab.Len())

	_, ok = tab.Alloc("c")
	assert.False(t, ok, "table is full")

	v, ok := tab.Get(a)
	require.True(t, ok)
	assert.Equal(t, "a", *v)

	got, ok := tab.Release(a)
	require.True(t, ok)
	assert.Equal(t, "a", got)
	assert.Equal(t, 1, tab.Len())

	_, ok = tab.Get(a)
	assert.False(t, ok)
	_, ok = tab.Release(a)
	assert.False(t, ok, "double release")
}

func TestStaleRefAfterReuse(t *testing.T) {
	t.Parallel()

	tab := New[int](1)
	old, ok := tab.Alloc(1)
	require.True(t, ok)
	tab.Release(old)

	fresh, ok := tab.Alloc(2)
	require.True(t, ok)
	assert.Equal(t, old.Slot, fresh.Slot, "slot is reused")
	assert.NotEqual(t, old.Gen, fresh.Gen)

	_, ok = tab.Get(old)
	assert.False(t, ok, "stale ref must not reach the new value")
	v, ok := tab.Get(fresh)
	require.True(t, ok)
	assert.Equal(t, 2, *v)
}

func TestZeroRefNeverValid(t *testing.T) {
	t.Parallel()

	tab := New[int](4)
	_, ok := tab.Alloc(1)
	require.True(t, ok)

	var zero Ref
	assert.True(t, zero.IsZero())
	_, ok = tab.Get(zero)
	assert.False(t, ok)
	_, ok = tab.Get(Ref{Slot: 100, Gen: 1})
	assert.False(t, ok)
}

func TestAllSkipsFreeSlots(t *testing.T) {
	t.Parallel()

	tab := New[int](3)
	r0, _ := tab.Alloc(10)
	_, _ = tab.Alloc(20)
	_, _ = tab.Alloc(30)
	tab.Release(r0)

	var got []int
	for ref, v := range tab.All() {
		got = append(got, *v)
		tab.Release(ref)
	}
	assert.Equal(t, []int{20, 30}, got)
	assert.Equal(t, 0, tab.Len())
}

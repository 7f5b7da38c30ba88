// Package slot provides a fixed-capacity arena whose references carry a
// generation counter, so a released reference can never reach the value
// that later reuses its slot.
package slot

import "iter"

// Ref addresses a value in a Table. The zero Ref is never issued.
type Ref struct {
	Slot uint32
	Gen  uint32
}

// IsZero reports whether r is the zero Ref.
func (r Ref) IsZero() bool {
	return r.Gen == 0
}

type entry[T any] struct {
	gen  uint32
	used bool
	val  T
}

// Table is a fixed-capacity arena of T. It is not safe for concurrent use.
type Table[T any] struct {
	entries []entry[T]
	free    []uint32
	live    int
}

// New returns a table holding at most capacity values.
func New[T any](capacity int) *Table[T] {
	if capacity < 0 {
		capacity = 0
	}
	t := &Table[T]{
		entries: make([]entry[T], capacity),
		free:    make([]uint32, 0, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		t.free = append(t.free, uint32(i)) //nolint:gosec // capacity fits in uint32
	}
	return t
}

// Alloc stores v in a free slot. ok is false when the table is full.
// The most recently released slot is reused first.
func (t *Table[T]) Alloc(v T) (ref Ref, ok bool) {
	if len(t.free) == 0 {
		return Ref{}, false
	}
	slot := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	e := &t.entries[slot]
	e.gen++
	if e.gen == 0 {
		e.gen = 1
	}
	e.used = true
	e.val = v
	t.live++
	return Ref{Slot: slot, Gen: e.gen}, true
}

// Get returns the value for ref. ok is false for stale or unknown refs.
func (t *Table[T]) Get(ref Ref) (*T, bool) {
	if ref.IsZero() || int(ref.Slot) >= len(t.entries) {
		return nil, false
	}
	e := &t.entries[ref.Slot]
	if !e.used || e.gen != ref.Gen {
		return nil, false
	}
	return &e.val, true
}

// Release frees the slot of ref and returns its value.
func (t *Table[T]) Release(ref Ref) (T, bool) {
	var zero T
	if _, ok := t.Get(ref); !ok {
		return zero, false
	}
	e := &t.entries[ref.Slot]
	v := e.val
	e.val = zero
	e.used = false
	t.free = append(t.free, ref.Slot)
	t.live--
	return v, true
}

// All iterates over live values in slot order.
func (t *Table[T]) All() iter.Seq2[Ref, *T] {
	return func(yield func(Ref, *T) bool) {
		for i := range t.entries {
			e := &t.entries[i]
			if !e.used {
				continue
			}
			if !yield(Ref{Slot: uint32(i), Gen: e.gen}, &e.val) { //nolint:gosec // capacity fits in uint32
				return
			}
		}
	}
}

// Len returns the number of live values.
func (t *Table[T]) Len() int {
	return t.live
}

// Cap returns the capacity of the table.
func (t *Table[T]) Cap() int {
	return len(t.entries)
}

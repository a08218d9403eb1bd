// Package iheap implements an array-backed binary heap, where each element
// may track its own position within the heap.
//
// Position tracking is what allows [Heap.Remove] to take an arbitrary,
// already known slot, and run in O(log n), rather than needing a linear
// search. Slots are 1-based, with the top of the heap at [Heap.First].
// Elements that are not queued have a position of [NotQueued].
package iheap

import (
	"errors"
	"fmt"
)

// NotQueued is the position written to elements as they leave the heap.
const NotQueued = -1

var (
	// ErrFull is returned by insertion when the heap is at capacity, and
	// growth is disabled.
	ErrFull = errors.New(`iheap: heap is full`)

	// ErrInvalidCapacity indicates a negative capacity or growth step.
	ErrInvalidCapacity = errors.New(`iheap: invalid capacity`)

	// ErrNilCompare indicates a [Config] without a Compare func.
	ErrNilCompare = errors.New(`iheap: nil compare`)

	// ErrInvalid is wrapped by every error returned by [Heap.Validate].
	ErrInvalid = errors.New(`iheap: invalid heap`)
)

type (
	// Config models the parameters of a [Heap].
	Config[E any] struct {
		// Compare orders elements, returning a negative number when a
		// sorts before b. Required.
		Compare func(a, b E) int

		// Position returns a pointer to the slot index stored within the
		// element, which will be kept up to date by the heap. Optional.
		Position func(e E) *int

		// Capacity is the number of elements that may be stored without
		// growing.
		Capacity int

		// GrowthStep is the number of slots added by [Heap.InsertSafe], when
		// the heap is full. Zero disables growth.
		GrowthStep int

		// MaxAtTop orients the heap such that the greatest element is at
		// the top. The default is a min-heap.
		MaxAtTop bool
	}

	// Heap is a binary heap, see the package docs. It is not safe for
	// concurrent use.
	Heap[E any] struct {
		compare  func(a, b E) int
		position func(e E) *int
		// root[0] is never used
		root   []E
		count  int
		growth int
		// 1 for a min-heap, -1 for a max-heap, multiplied against compare
		dir int
	}
)

// New initialises a heap, with space for cfg.Capacity elements.
func New[E any](cfg Config[E]) (*Heap[E], error) {
	var h Heap[E]
	if err := h.Reinit(cfg); err != nil {
		return nil, err
	}
	return &h, nil
}

// Reinit reconfigures the heap, discarding all elements, which will have
// their position set to [NotQueued].
func (h *Heap[E]) Reinit(cfg Config[E]) error {
	if cfg.Compare == nil {
		return ErrNilCompare
	}
	if cfg.Capacity < 0 || cfg.GrowthStep < 0 {
		return ErrInvalidCapacity
	}
	h.RemoveAll()
	h.compare = cfg.Compare
	h.position = cfg.Position
	h.growth = cfg.GrowthStep
	if cfg.MaxAtTop {
		h.dir = -1
	} else {
		h.dir = 1
	}
	return h.Resize(cfg.Capacity)
}

// Resize changes the capacity. Shrinking below [Heap.Len] drops the
// elements in the trailing slots, which remains a valid heap.
func (h *Heap[E]) Resize(capacity int) error {
	if capacity < 0 {
		return ErrInvalidCapacity
	}
	if capacity+1 == len(h.root) {
		return nil
	}
	for h.count > capacity {
		h.setPos(h.root[h.count], NotQueued)
		h.count--
	}
	root := make([]E, capacity+1)
	copy(root, h.root[:min(len(h.root), capacity+1)])
	h.root = root
	return nil
}

// Insert adds e to the heap, sifting it up to its position. It returns
// [ErrFull] if there is no free slot.
func (h *Heap[E]) Insert(e E) error {
	if h.count >= h.Cap() {
		return ErrFull
	}
	h.count++
	h.insertAt(e, h.count)
	return nil
}

// InsertSafe is [Heap.Insert], but grows the heap by the configured step,
// if it is full.
func (h *Heap[E]) InsertSafe(e E) error {
	if h.count >= h.Cap() {
		if h.growth == 0 {
			return ErrFull
		}
		if err := h.Resize(h.Cap() + h.growth); err != nil {
			return err
		}
	}
	return h.Insert(e)
}

// Remove removes and returns the element at slot i, which must be in the
// range [1, Len].
func (h *Heap[E]) Remove(i int) E {
	h.checkIndex(i)
	e := h.root[i]
	last := h.count
	h.root[i] = h.root[last]
	var zero E
	h.root[last] = zero
	h.count--
	if i != last {
		h.Replace(i)
	}
	h.setPos(e, NotQueued)
	return e
}

// RemoveTop removes and returns the top element. The heap must not be
// empty.
func (h *Heap[E]) RemoveTop() E { return h.Remove(h.First()) }

// Replace restores the heap order after the key of the element at slot i
// has changed, in either direction.
//
// The element is first sunk, comparing against it only on the first level,
// then sifted back up from wherever it ended. A moved-in element can
// require both directions.
func (h *Heap[E]) Replace(i int) {
	h.checkIndex(i)
	e := h.root[i]
	half := h.count >> 1
	for first := true; i <= half; first = false {
		next := i + i
		if next < h.count && h.cmp(h.root[next], h.root[next+1]) > 0 {
			next++
		}
		if first && h.cmp(h.root[next], e) >= 0 {
			break
		}
		h.root[i] = h.root[next]
		h.setPos(h.root[i], i)
		i = next
	}
	h.insertAt(e, i)
}

// ReplaceTop restores the heap order after the top element's key has moved
// away from the top, e.g. increased, for a min-heap.
func (h *Heap[E]) ReplaceTop() {
	h.checkIndex(h.First())
	h.downHeap(h.First())
}

// Fix rebuilds the heap order in O(n), e.g. after the keys of several
// elements have changed.
func (h *Heap[E]) Fix() {
	for i := h.count >> 1; i > 0; i-- {
		h.downHeap(i)
	}
}

// RemoveAll empties the heap, without changing its capacity.
func (h *Heap[E]) RemoveAll() {
	var zero E
	for i := 1; i <= h.count; i++ {
		h.setPos(h.root[i], NotQueued)
		h.root[i] = zero
	}
	h.count = 0
}

// Top returns the top element. The heap must not be empty.
func (h *Heap[E]) Top() E { return h.At(h.First()) }

// At returns the element at slot i, in the range [1, Len].
func (h *Heap[E]) At(i int) E {
	h.checkIndex(i)
	return h.root[i]
}

// First returns the slot of the top element, which is always 1.
func (*Heap[E]) First() int { return 1 }

// Len returns the number of elements.
func (h *Heap[E]) Len() int { return h.count }

// Cap returns the number of elements that may be stored without growing.
func (h *Heap[E]) Cap() int {
	if len(h.root) == 0 {
		return 0
	}
	return len(h.root) - 1
}

// Empty reports whether Len is 0.
func (h *Heap[E]) Empty() bool { return h.count == 0 }

// Full reports whether Len has reached Cap.
func (h *Heap[E]) Full() bool { return h.count >= h.Cap() }

// Validate checks the heap order, and (if enabled) that every element's
// stored position matches its slot. It is O(n), intended for tests.
func (h *Heap[E]) Validate() error {
	for i := 1; i <= h.count; i++ {
		if p := h.position; p != nil {
			if pos := *p(h.root[i]); pos != i {
				return fmt.Errorf(`%w: element at slot %d has position %d`, ErrInvalid, i, pos)
			}
		}
		if i > 1 && h.cmp(h.root[i>>1], h.root[i]) > 0 {
			return fmt.Errorf(`%w: slot %d dominates its parent`, ErrInvalid, i)
		}
	}
	return nil
}

func (h *Heap[E]) cmp(a, b E) int { return h.compare(a, b) * h.dir }

func (h *Heap[E]) setPos(e E, i int) {
	if h.position != nil {
		*h.position(e) = i
	}
}

func (h *Heap[E]) checkIndex(i int) {
	if i < 1 || i > h.count {
		panic(fmt.Sprintf(`iheap: index %d out of range [1, %d]`, i, h.count))
	}
}

// insertAt places e at slot i, then sifts it up.
func (h *Heap[E]) insertAt(e E, i int) {
	for next := i >> 1; next > 0 && h.cmp(e, h.root[next]) < 0; next = i >> 1 {
		h.root[i] = h.root[next]
		h.setPos(h.root[i], i)
		i = next
	}
	h.root[i] = e
	h.setPos(e, i)
}

func (h *Heap[E]) downHeap(i int) {
	e := h.root[i]
	half := h.count >> 1
	for i <= half {
		next := i + i
		if next < h.count && h.cmp(h.root[next], h.root[next+1]) > 0 {
			next++
		}
		if h.cmp(h.root[next], e) >= 0 {
			break
		}
		h.root[i] = h.root[next]
		h.setPos(h.root[i], i)
		i = next
	}
	h.root[i] = e
	h.setPos(e, i)
}

// Package list implements an intrusive, circular, doubly-linked list.
//
// A [Head] is embedded in (or owned by) the value it links, with
// [Head.Value] pointing back at that value. A list is identified by a
// sentinel Head, which links to itself when empty. All operations are O(1)
// except for [Head.Len] and [Head.Each].
//
// The package performs no locking. Callers that share lists between
// goroutines must provide their own synchronisation.
package list

// Head is both a list sentinel and a list entry.
//
// The zero value is not linked anywhere, and must be initialised using
// [Head.Init] before use as a sentinel. Entries need not be initialised
// prior to insertion.
type Head[T any] struct {
	prev, next *Head[T]

	// Value is the owner of this entry, nil for sentinels.
	Value *T
}

// Init makes h an empty list, returning h.
func (h *Head[T]) Init() *Head[T] {
	h.prev = h
	h.next = h
	return h
}

// Empty reports whether the list, identified by the sentinel h, has no
// entries. An uninitialised Head is considered empty.
func (h *Head[T]) Empty() bool {
	return h.next == h || h.next == nil
}

// Linked reports whether n is currently a member of a list.
func (n *Head[T]) Linked() bool {
	return n.next != nil && n.next != n
}

// Next returns the entry after n, which will be the sentinel at the end of
// the list.
func (n *Head[T]) Next() *Head[T] { return n.next }

// Prev returns the entry before n, which will be the sentinel at the start
// of the list.
func (n *Head[T]) Prev() *Head[T] { return n.prev }

// First returns the first entry of the list, or nil if it is empty.
func (h *Head[T]) First() *Head[T] {
	if h.Empty() {
		return nil
	}
	return h.next
}

// Last returns the last entry of the list, or nil if it is empty.
func (h *Head[T]) Last() *Head[T] {
	if h.Empty() {
		return nil
	}
	return h.prev
}

// AddHead inserts n directly after the sentinel h.
func (h *Head[T]) AddHead(n *Head[T]) {
	insert(n, h, h.next)
}

// AddTail inserts n directly before the sentinel h.
func (h *Head[T]) AddTail(n *Head[T]) {
	insert(n, h.prev, h)
}

// Remove unlinks n from whatever list it is in. The entry is left
// self-linked, which makes a repeated Remove a no-op.
func (n *Head[T]) Remove() {
	if n.next == nil {
		return
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	n.Init()
}

// MoveHead unlinks n from its current list, and inserts it after h.
func (h *Head[T]) MoveHead(n *Head[T]) {
	n.Remove()
	h.AddHead(n)
}

// MoveTail unlinks n from its current list, and inserts it before h.
func (h *Head[T]) MoveTail(n *Head[T]) {
	n.Remove()
	h.AddTail(n)
}

// Splice moves every entry of the list src to directly after the sentinel
// dst, preserving their order. The src sentinel is left in an undefined
// state, see [Head.SpliceInit].
func (src *Head[T]) Splice(dst *Head[T]) {
	if src.Empty() {
		return
	}
	first := src.next
	last := src.prev
	at := dst.next

	first.prev = dst
	dst.next = first

	last.next = at
	at.prev = last
}

// SpliceInit is [Head.Splice], followed by re-initialising src as empty.
func (src *Head[T]) SpliceInit(dst *Head[T]) {
	if src.Empty() {
		return
	}
	src.Splice(dst)
	src.Init()
}

// Len counts the entries of the list, in O(n).
func (h *Head[T]) Len() (n int) {
	if h.Empty() {
		return 0
	}
	for e := h.next; e != h; e = e.next {
		n++
	}
	return n
}

// Each calls fn for the value of every entry, from first to last, stopping
// early if fn returns false. The entry being visited may be removed by fn.
func (h *Head[T]) Each(fn func(v *T) bool) {
	if h.Empty() {
		return
	}
	for e := h.next; e != h; {
		next := e.next
		if !fn(e.Value) {
			return
		}
		e = next
	}
}

func insert[T any](n, prev, next *Head[T]) {
	next.prev = n
	n.next = next
	n.prev = prev
	prev.next = n
}

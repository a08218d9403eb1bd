package iheap

import (
	"cmp"
	"math/rand/v2"
	"slices"
	"testing"

	gocmp "github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type elem struct {
	key int
	pos int
}

func newElem(key int) *elem { return &elem{key: key, pos: NotQueued} }

func elemConfig(capacity, growth int, maxAtTop bool) Config[*elem] {
	return Config[*elem]{
		Compare:    func(a, b *elem) int { return cmp.Compare(a.key, b.key) },
		Position:   func(e *elem) *int { return &e.pos },
		Capacity:   capacity,
		GrowthStep: growth,
		MaxAtTop:   maxAtTop,
	}
}

func drain(t *testing.T, h *Heap[*elem]) (out []int) {
	t.Helper()
	for !h.Empty() {
		e := h.RemoveTop()
		require.Equal(t, NotQueued, e.pos)
		require.NoError(t, h.Validate())
		out = append(out, e.key)
	}
	return out
}

func TestNew_errors(t *testing.T) {
	_, err := New(Config[int]{Capacity: 1})
	assert.ErrorIs(t, err, ErrNilCompare)

	_, err = New(Config[int]{Compare: cmp.Compare[int], Capacity: -1})
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = New(Config[int]{Compare: cmp.Compare[int], GrowthStep: -1})
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	h, err := New(Config[int]{Compare: cmp.Compare[int]})
	require.NoError(t, err)
	assert.Equal(t, 0, h.Cap())
	assert.True(t, h.Full())
	assert.ErrorIs(t, h.Insert(1), ErrFull)
}

func TestHeap_capacityExhaustedWithoutGrowth(t *testing.T) {
	h, err := New(elemConfig(4, 0, false))
	require.NoError(t, err)

	elems := []*elem{newElem(40), newElem(10), newElem(30), newElem(20)}
	for _, e := range elems {
		require.NoError(t, h.Insert(e))
	}
	require.True(t, h.Full())

	fifth := newElem(5)
	assert.ErrorIs(t, h.Insert(fifth), ErrFull)
	assert.ErrorIs(t, h.InsertSafe(fifth), ErrFull)
	assert.Equal(t, NotQueued, fifth.pos)
	assert.Equal(t, 4, h.Len())
	assert.Equal(t, 4, h.Cap())
	require.NoError(t, h.Validate())

	assert.Equal(t, []int{10, 20, 30, 40}, drain(t, h))
}

func TestHeap_insertSafeGrows(t *testing.T) {
	h, err := New(elemConfig(2, 3, false))
	require.NoError(t, err)
	for i := range 6 {
		require.NoError(t, h.InsertSafe(newElem(6-i)))
		require.NoError(t, h.Validate())
	}
	assert.Equal(t, 8, h.Cap())
	assert.Equal(t, 6, h.Len())
	assert.Equal(t, 1, h.Top().key)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, drain(t, h))
}

func TestHeap_maxAtTop(t *testing.T) {
	h, err := New(elemConfig(16, 0, true))
	require.NoError(t, err)
	for _, k := range []int{3, 9, 1, 7, 5, 8} {
		require.NoError(t, h.Insert(newElem(k)))
	}
	require.NoError(t, h.Validate())
	assert.Equal(t, 9, h.Top().key)
	assert.Equal(t, []int{9, 8, 7, 5, 3, 1}, drain(t, h))
}

func TestHeap_removeArbitraryByPosition(t *testing.T) {
	h, err := New(elemConfig(16, 0, false))
	require.NoError(t, err)
	byKey := make(map[int]*elem)
	for _, k := range []int{10, 9, 3, 8, 5, 1, 2, 7, 6} {
		e := newElem(k)
		byKey[k] = e
		require.NoError(t, h.Insert(e))
	}
	require.NoError(t, h.Validate())

	for _, k := range []int{1, 6, 10, 2} {
		e := byKey[k]
		require.Same(t, e, h.At(e.pos))
		got := h.Remove(e.pos)
		assert.Same(t, e, got)
		assert.Equal(t, NotQueued, e.pos)
		require.NoError(t, h.Validate())
	}
	assert.Equal(t, []int{3, 5, 7, 8, 9}, drain(t, h))
}

func TestHeap_removeLastSlot(t *testing.T) {
	h, err := New(elemConfig(4, 0, false))
	require.NoError(t, err)
	a, b := newElem(1), newElem(2)
	require.NoError(t, h.Insert(a))
	require.NoError(t, h.Insert(b))
	require.Equal(t, 2, b.pos)

	assert.Same(t, b, h.Remove(2))
	assert.Equal(t, NotQueued, b.pos)
	assert.Equal(t, 1, a.pos)
	assert.Equal(t, 1, h.Len())
	require.NoError(t, h.Validate())
}

func TestHeap_replaceAfterKeyChange(t *testing.T) {
	h, err := New(elemConfig(16, 0, false))
	require.NoError(t, err)
	var elems []*elem
	for k := 1; k <= 10; k++ {
		e := newElem(k * 10)
		elems = append(elems, e)
		require.NoError(t, h.Insert(e))
	}

	// decrease: must sift up past ancestors
	elems[9].key = 5
	h.Replace(elems[9].pos)
	require.NoError(t, h.Validate())
	assert.Same(t, elems[9], h.Top())

	// increase the top
	h.Top().key = 1000
	h.ReplaceTop()
	require.NoError(t, h.Validate())
	assert.Equal(t, 10, h.Top().key)

	// increase an inner element
	elems[2].key = 55
	h.Replace(elems[2].pos)
	require.NoError(t, h.Validate())

	assert.Equal(t, []int{10, 20, 40, 50, 55, 60, 70, 80, 90, 1000}, drain(t, h))
}

func TestHeap_fix(t *testing.T) {
	h, err := New(elemConfig(32, 0, false))
	require.NoError(t, err)
	var elems []*elem
	for k := range 20 {
		e := newElem(k)
		elems = append(elems, e)
		require.NoError(t, h.Insert(e))
	}
	rng := rand.New(rand.NewPCG(7, 11))
	for _, e := range elems {
		e.key = rng.IntN(100)
	}
	h.Fix()
	require.NoError(t, h.Validate())

	want := make([]int, 0, len(elems))
	for _, e := range elems {
		want = append(want, e.key)
	}
	slices.Sort(want)
	if diff := gocmp.Diff(want, drain(t, h)); diff != "" {
		t.Errorf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestHeap_resizeTruncates(t *testing.T) {
	h, err := New(elemConfig(8, 0, false))
	require.NoError(t, err)
	var elems []*elem
	for k := range 8 {
		e := newElem(k)
		elems = append(elems, e)
		require.NoError(t, h.Insert(e))
	}
	require.NoError(t, h.Resize(3))
	assert.Equal(t, 3, h.Cap())
	assert.Equal(t, 3, h.Len())
	require.NoError(t, h.Validate())
	queued := 0
	for _, e := range elems {
		if e.pos != NotQueued {
			queued++
		}
	}
	assert.Equal(t, 3, queued)
	assert.Equal(t, 0, h.Top().key)

	assert.ErrorIs(t, h.Resize(-1), ErrInvalidCapacity)
}

func TestHeap_reinitAndRemoveAll(t *testing.T) {
	h, err := New(elemConfig(4, 0, false))
	require.NoError(t, err)
	a := newElem(1)
	require.NoError(t, h.Insert(a))

	require.NoError(t, h.Reinit(elemConfig(2, 1, true)))
	assert.Equal(t, NotQueued, a.pos)
	assert.True(t, h.Empty())
	assert.Equal(t, 2, h.Cap())

	for _, k := range []int{1, 2, 3} {
		require.NoError(t, h.InsertSafe(newElem(k)))
	}
	assert.Equal(t, 3, h.Top().key)
	h.RemoveAll()
	assert.True(t, h.Empty())
	assert.Equal(t, 3, h.Cap())
}

func TestHeap_withoutPositionTracking(t *testing.T) {
	h, err := New(Config[int]{Compare: cmp.Compare[int], Capacity: 8})
	require.NoError(t, err)
	for _, v := range []int{5, 2, 8, 1} {
		require.NoError(t, h.Insert(v))
	}
	require.NoError(t, h.Validate())
	assert.Equal(t, 1, h.RemoveTop())
	assert.Equal(t, 2, h.RemoveTop())
}

func TestHeap_outOfRangePanics(t *testing.T) {
	h, err := New(elemConfig(4, 0, false))
	require.NoError(t, err)
	assert.Panics(t, func() { h.Top() })
	assert.Panics(t, func() { h.RemoveTop() })
	assert.Panics(t, func() { h.ReplaceTop() })
	require.NoError(t, h.Insert(newElem(1)))
	assert.Panics(t, func() { h.At(2) })
	assert.Panics(t, func() { h.Remove(0) })
}

func TestHeap_randomisedBackPointers(t *testing.T) {
	for _, maxAtTop := range []bool{false, true} {
		for _, seed := range []uint64{1, 2, 99} {
			rng := rand.New(rand.NewPCG(seed, 3))
			h, err := New(elemConfig(4, 4, maxAtTop))
			require.NoError(t, err)
			var live []*elem
			for step := range 3000 {
				switch op := rng.IntN(10); {
				case op < 5 || len(live) == 0:
					e := newElem(rng.IntN(200))
					require.NoError(t, h.InsertSafe(e))
					live = append(live, e)
				case op < 8:
					i := rng.IntN(len(live))
					e := live[i]
					live = slices.Delete(live, i, i+1)
					require.Same(t, e, h.Remove(e.pos))
				case op < 9:
					e := h.RemoveTop()
					live = slices.DeleteFunc(live, func(v *elem) bool { return v == e })
				default:
					e := live[rng.IntN(len(live))]
					e.key = rng.IntN(200)
					h.Replace(e.pos)
				}
				if err := h.Validate(); err != nil {
					t.Fatalf("maxAtTop=%v seed=%d step=%d: %v", maxAtTop, seed, step, err)
				}
				require.Equal(t, len(live), h.Len())
			}
		}
	}
}

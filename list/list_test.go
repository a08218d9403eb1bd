package list

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	link Head[item]
	id   int
}

func newItem(id int) *item {
	v := &item{id: id}
	v.link.Value = v
	return v
}

func ids(h *Head[item]) (out []int) {
	h.Each(func(v *item) bool {
		out = append(out, v.id)
		return true
	})
	return out
}

func backwards(h *Head[item]) (out []int) {
	for e := h.Prev(); e != h; e = e.Prev() {
		out = append(out, e.Value.id)
	}
	return out
}

func TestHead_zeroValueIsEmpty(t *testing.T) {
	var h Head[item]
	assert.True(t, h.Empty())
	assert.Nil(t, h.First())
	assert.Nil(t, h.Last())
	assert.Equal(t, 0, h.Len())
	assert.False(t, h.Linked())
	h.Remove() // no-op
}

func TestHead_addHeadAndTail(t *testing.T) {
	var h Head[item]
	h.Init()
	require.True(t, h.Empty())

	h.AddTail(&newItem(2).link)
	h.AddTail(&newItem(3).link)
	h.AddHead(&newItem(1).link)

	assert.False(t, h.Empty())
	assert.Equal(t, []int{1, 2, 3}, ids(&h))
	assert.Equal(t, []int{3, 2, 1}, backwards(&h))
	assert.Equal(t, 1, h.First().Value.id)
	assert.Equal(t, 3, h.Last().Value.id)
	assert.Equal(t, 3, h.Len())
}

func TestHead_remove(t *testing.T) {
	var h Head[item]
	h.Init()
	a, b, c := newItem(1), newItem(2), newItem(3)
	h.AddTail(&a.link)
	h.AddTail(&b.link)
	h.AddTail(&c.link)

	b.link.Remove()
	assert.Equal(t, []int{1, 3}, ids(&h))
	assert.False(t, b.link.Linked())

	// idempotent
	b.link.Remove()
	assert.Equal(t, []int{1, 3}, ids(&h))

	a.link.Remove()
	c.link.Remove()
	assert.True(t, h.Empty())
	assert.Equal(t, []int(nil), ids(&h))
}

func TestHead_moveBetweenLists(t *testing.T) {
	var x, y Head[item]
	x.Init()
	y.Init()
	a, b := newItem(1), newItem(2)
	x.AddTail(&a.link)
	x.AddTail(&b.link)

	y.MoveTail(&a.link)
	assert.Equal(t, []int{2}, ids(&x))
	assert.Equal(t, []int{1}, ids(&y))

	y.MoveHead(&b.link)
	assert.True(t, x.Empty())
	assert.Equal(t, []int{2, 1}, ids(&y))
}

func TestHead_splice(t *testing.T) {
	var src, dst Head[item]
	src.Init()
	dst.Init()
	for i := 1; i <= 3; i++ {
		src.AddTail(&newItem(i).link)
	}
	for i := 10; i <= 11; i++ {
		dst.AddTail(&newItem(i).link)
	}

	src.SpliceInit(&dst)
	assert.True(t, src.Empty())
	assert.Equal(t, []int{1, 2, 3, 10, 11}, ids(&dst))
	assert.Equal(t, []int{11, 10, 3, 2, 1}, backwards(&dst))

	// empty source is a no-op
	src.SpliceInit(&dst)
	assert.Equal(t, 5, dst.Len())
}

func TestHead_spliceIntoEmpty(t *testing.T) {
	var src, dst Head[item]
	src.Init()
	dst.Init()
	src.AddTail(&newItem(7).link)
	src.AddTail(&newItem(8).link)

	src.Splice(&dst)
	assert.Equal(t, []int{7, 8}, ids(&dst))
	assert.Equal(t, []int{8, 7}, backwards(&dst))
}

func TestHead_eachRemovingCurrent(t *testing.T) {
	var h Head[item]
	h.Init()
	for i := 1; i <= 5; i++ {
		h.AddTail(&newItem(i).link)
	}

	var visited []int
	h.Each(func(v *item) bool {
		visited = append(visited, v.id)
		if v.id%2 == 0 {
			v.link.Remove()
		}
		return v.id < 4
	})
	assert.Equal(t, []int{1, 2, 3, 4}, visited)
	assert.Equal(t, []int{1, 3, 5}, ids(&h))
}

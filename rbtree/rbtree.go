// Package rbtree implements an intrusive red-black tree.
//
// As with the Linux kernel implementation it is modelled after, the package
// provides only the balancing primitives. Callers perform their own ordered
// search to find the insertion point, link the new node as a red leaf via
// [Root.Link], then call [Root.InsertColor] to restore the invariants.
// [Root.Insert] wraps that sequence for callers happy to supply a less func.
//
// Nodes are embedded in (or owned by) the values they order, with
// [Node.Value] pointing back at that value. Nothing is allocated by the
// package, and no locking is performed.
package rbtree

// Color is the color of a [Node].
type Color uint8

const (
	Red Color = iota
	Black
)

// String implements fmt.Stringer.
func (c Color) String() string {
	switch c {
	case Red:
		return `red`
	case Black:
		return `black`
	default:
		return `unknown`
	}
}

type (
	// Node is a tree entry. The zero value is an unlinked node.
	Node[T any] struct {
		parent *Node[T]
		left   *Node[T]
		right  *Node[T]

		// Value is the owner of this node.
		Value *T

		color  Color
		linked bool
	}

	// Root is a tree. The zero value is an empty tree.
	Root[T any] struct {
		node *Node[T]
	}
)

// Parent returns the parent of n, nil for the root.
func (n *Node[T]) Parent() *Node[T] { return n.parent }

// Left returns the left child of n.
func (n *Node[T]) Left() *Node[T] { return n.left }

// Right returns the right child of n.
func (n *Node[T]) Right() *Node[T] { return n.right }

// Color returns the color of n.
func (n *Node[T]) Color() Color { return n.color }

// Linked reports whether n is currently in a tree.
func (n *Node[T]) Linked() bool { return n.linked }

// Top returns the root node, or nil if the tree is empty.
func (r *Root[T]) Top() *Node[T] { return r.node }

// Empty reports whether the tree has no nodes.
func (r *Root[T]) Empty() bool { return r.node == nil }

// Link attaches n as a red leaf under parent, on the given side. A nil
// parent makes n the root of an empty tree. The caller is responsible for
// the ordering, and must call [Root.InsertColor] immediately afterwards.
func (r *Root[T]) Link(n, parent *Node[T], left bool) {
	n.parent = parent
	n.left = nil
	n.right = nil
	n.color = Red
	n.linked = true
	switch {
	case parent == nil:
		r.node = n
	case left:
		parent.left = n
	default:
		parent.right = n
	}
}

// Insert performs an ordered search using less, links n, and rebalances.
// Nodes that compare equal are placed after existing ones. The returned
// bool indicates whether n became the leftmost (minimum) node.
func (r *Root[T]) Insert(n *Node[T], less func(a, b *T) bool) (leftmost bool) {
	var (
		parent *Node[T]
		left   bool
	)
	leftmost = true
	for p := r.node; p != nil; {
		parent = p
		if less(n.Value, p.Value) {
			p = p.left
			left = true
		} else {
			p = p.right
			left = false
			leftmost = false
		}
	}
	r.Link(n, parent, left)
	r.InsertColor(n)
	return leftmost
}

func (r *Root[T]) rotateLeft(node *Node[T]) {
	right := node.right

	node.right = right.left
	if node.right != nil {
		node.right.parent = node
	}
	right.left = node

	right.parent = node.parent
	if right.parent != nil {
		if node == node.parent.left {
			node.parent.left = right
		} else {
			node.parent.right = right
		}
	} else {
		r.node = right
	}
	node.parent = right
}

func (r *Root[T]) rotateRight(node *Node[T]) {
	left := node.left

	node.left = left.right
	if node.left != nil {
		node.left.parent = node
	}
	left.right = node

	left.parent = node.parent
	if left.parent != nil {
		if node == node.parent.right {
			node.parent.right = left
		} else {
			node.parent.left = left
		}
	} else {
		r.node = left
	}
	node.parent = left
}

// InsertColor rebalances the tree after n has been linked as a red leaf.
// Only ancestors of n are touched.
func (r *Root[T]) InsertColor(n *Node[T]) {
	for {
		parent := n.parent
		if parent == nil || parent.color != Red {
			break
		}
		// a red parent is never the root, so gparent exists
		gparent := parent.parent

		if parent == gparent.left {
			if uncle := gparent.right; uncle != nil && uncle.color == Red {
				uncle.color = Black
				parent.color = Black
				gparent.color = Red
				n = gparent
				continue
			}
			if parent.right == n {
				r.rotateLeft(parent)
				parent, n = n, parent
			}
			parent.color = Black
			gparent.color = Red
			r.rotateRight(gparent)
		} else {
			if uncle := gparent.left; uncle != nil && uncle.color == Red {
				uncle.color = Black
				parent.color = Black
				gparent.color = Red
				n = gparent
				continue
			}
			if parent.left == n {
				r.rotateRight(parent)
				parent, n = n, parent
			}
			parent.color = Black
			gparent.color = Red
			r.rotateLeft(gparent)
		}
	}
	r.node.color = Black
}

func isBlack[T any](n *Node[T]) bool { return n == nil || n.color == Black }

// eraseColor restores the black height after a black node was removed,
// node being the (possibly nil) child that took its place under parent.
func (r *Root[T]) eraseColor(node, parent *Node[T]) {
	for isBlack(node) && node != r.node {
		if parent.left == node {
			other := parent.right
			if other.color == Red {
				other.color = Black
				parent.color = Red
				r.rotateLeft(parent)
				other = parent.right
			}
			if isBlack(other.left) && isBlack(other.right) {
				other.color = Red
				node = parent
				parent = node.parent
				continue
			}
			if isBlack(other.right) {
				if other.left != nil {
					other.left.color = Black
				}
				other.color = Red
				r.rotateRight(other)
				other = parent.right
			}
			other.color = parent.color
			parent.color = Black
			if other.right != nil {
				other.right.color = Black
			}
			r.rotateLeft(parent)
			node = r.node
			break
		} else {
			other := parent.left
			if other.color == Red {
				other.color = Black
				parent.color = Red
				r.rotateRight(parent)
				other = parent.left
			}
			if isBlack(other.left) && isBlack(other.right) {
				other.color = Red
				node = parent
				parent = node.parent
				continue
			}
			if isBlack(other.left) {
				if other.right != nil {
					other.right.color = Black
				}
				other.color = Red
				r.rotateLeft(other)
				other = parent.left
			}
			other.color = parent.color
			parent.color = Black
			if other.left != nil {
				other.left.color = Black
			}
			r.rotateRight(parent)
			node = r.node
			break
		}
	}
	if node != nil {
		node.color = Black
	}
}

// Erase removes n from the tree. A node with two children is replaced by
// its in-order successor, which is physically relinked into n's position,
// rather than swapping values.
func (r *Root[T]) Erase(n *Node[T]) {
	var (
		child, parent *Node[T]
		color         Color
		node          = n
	)

	switch {
	case node.left == nil:
		child = node.right
	case node.right == nil:
		child = node.left
	default:
		old := node
		node = node.right
		for node.left != nil {
			node = node.left
		}
		child = node.right
		parent = node.parent
		color = node.color

		if child != nil {
			child.parent = parent
		}
		if parent == old {
			parent.right = child
			parent = node
		} else {
			parent.left = child
		}

		node.parent = old.parent
		node.color = old.color
		node.right = old.right
		node.left = old.left

		if old.parent != nil {
			if old.parent.left == old {
				old.parent.left = node
			} else {
				old.parent.right = node
			}
		} else {
			r.node = node
		}

		old.left.parent = node
		if old.right != nil {
			old.right.parent = node
		}

		if color == Black {
			r.eraseColor(child, parent)
		}
		unlink(n)
		return
	}

	parent = node.parent
	color = node.color

	if child != nil {
		child.parent = parent
	}
	if parent != nil {
		if parent.left == node {
			parent.left = child
		} else {
			parent.right = child
		}
	} else {
		r.node = child
	}

	if color == Black {
		r.eraseColor(child, parent)
	}
	unlink(n)
}

func unlink[T any](n *Node[T]) {
	n.parent = nil
	n.left = nil
	n.right = nil
	n.linked = false
}

// ReplaceNode puts repl in the exact structural position of victim, in
// O(1), without rebalancing. The caller must ensure repl orders the same as
// victim.
func (r *Root[T]) ReplaceNode(victim, repl *Node[T]) {
	parent := victim.parent

	if parent != nil {
		if victim == parent.left {
			parent.left = repl
		} else {
			parent.right = repl
		}
	} else {
		r.node = repl
	}
	if victim.left != nil {
		victim.left.parent = repl
	}
	if victim.right != nil {
		victim.right.parent = repl
	}

	repl.parent = victim.parent
	repl.left = victim.left
	repl.right = victim.right
	repl.color = victim.color
	repl.linked = true

	unlink(victim)
}

// First returns the minimum node, or nil if the tree is empty.
func (r *Root[T]) First() *Node[T] {
	n := r.node
	if n == nil {
		return nil
	}
	for n.left != nil {
		n = n.left
	}
	return n
}

// Last returns the maximum node, or nil if the tree is empty.
func (r *Root[T]) Last() *Node[T] {
	n := r.node
	if n == nil {
		return nil
	}
	for n.right != nil {
		n = n.right
	}
	return n
}

// Next returns the in-order successor of n, or nil.
func (n *Node[T]) Next() *Node[T] {
	if n.right != nil {
		n = n.right
		for n.left != nil {
			n = n.left
		}
		return n
	}
	for n.parent != nil && n == n.parent.right {
		n = n.parent
	}
	return n.parent
}

// Prev returns the in-order predecessor of n, or nil.
func (n *Node[T]) Prev() *Node[T] {
	if n.left != nil {
		n = n.left
		for n.right != nil {
			n = n.right
		}
		return n
	}
	for n.parent != nil && n == n.parent.left {
		n = n.parent
	}
	return n.parent
}

package rbtree

import (
	"errors"
	"fmt"
)

// ErrInvalid is wrapped by every error returned by [Root.Validate].
var ErrInvalid = errors.New(`rbtree: invalid tree`)

// Validate walks the entire tree, checking the red-black invariants, the
// consistency of the parent links, and that the in-order traversal is
// nondecreasing under cmp. It is O(n), intended for tests and debugging.
func (r *Root[T]) Validate(cmp func(a, b *T) int) error {
	if r.node == nil {
		return nil
	}
	if r.node.parent != nil {
		return fmt.Errorf(`%w: root has a parent`, ErrInvalid)
	}
	if r.node.color != Black {
		return fmt.Errorf(`%w: root is red`, ErrInvalid)
	}
	if _, err := validateNode(r.node); err != nil {
		return err
	}
	var prev *Node[T]
	for n := r.First(); n != nil; n = n.Next() {
		if !n.linked {
			return fmt.Errorf(`%w: node not marked as linked`, ErrInvalid)
		}
		if prev != nil && cmp != nil && cmp(prev.Value, n.Value) > 0 {
			return fmt.Errorf(`%w: in-order traversal out of order`, ErrInvalid)
		}
		prev = n
	}
	return nil
}

// validateNode returns the black height of the subtree rooted at n.
func validateNode[T any](n *Node[T]) (int, error) {
	if n == nil {
		return 1, nil
	}
	for _, c := range [...]*Node[T]{n.left, n.right} {
		if c == nil {
			continue
		}
		if c.parent != n {
			return 0, fmt.Errorf(`%w: inconsistent parent link`, ErrInvalid)
		}
		if n.color == Red && c.color == Red {
			return 0, fmt.Errorf(`%w: red node has a red child`, ErrInvalid)
		}
	}
	lh, err := validateNode(n.left)
	if err != nil {
		return 0, err
	}
	rh, err := validateNode(n.right)
	if err != nil {
		return 0, err
	}
	if lh != rh {
		return 0, fmt.Errorf(`%w: black height mismatch (%d != %d)`, ErrInvalid, lh, rh)
	}
	if n.color == Black {
		lh++
	}
	return lh, nil
}

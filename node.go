//go:build linux || darwin

package reactor

import (
	"time"

	"github.com/joeycumines/go-reactor/list"
	"github.com/joeycumines/go-reactor/rbtree"
)

// node is a registered descriptor or timer. It is in exactly one of the
// deadline tree or the no-timeout list, while registered.
type node struct {
	deadline time.Time
	err      error
	data     Data
	rb       rbtree.Node[node]
	link     list.Head[node]
	// notify holds a partial token, for OpNotify
	notify   [8]byte
	seq      uint64
	notifyN  int
	state    State
	inTree   bool
	removed  bool
}

func newNode(data *Data) *node {
	n := &node{data: *data}
	n.rb.Value = n
	n.link.Value = n
	if len(n.data.Buffers) != 0 {
		n.data.Buffers = append([][]byte(nil), n.data.Buffers...)
	}
	return n
}

func compareNodes(a, b *node) int {
	if c := a.deadline.Compare(b.deadline); c != 0 {
		return c
	}
	switch {
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	default:
		return 0
	}
}

func nodeLess(a, b *node) bool { return compareNodes(a, b) < 0 }

func (n *node) result() *Result {
	return &Result{
		State: n.state,
		Err:   n.err,
		Data:  n.data,
	}
}

// index inserts n into the deadline tree, or the no-timeout list, must be
// called with the lock held.
func (p *Poller) index(n *node, timeout time.Duration, now time.Time) {
	p.size++
	if timeout < 0 {
		n.inTree = false
		n.deadline = time.Time{}
		p.noTimeout.AddTail(&n.link)
		return
	}
	n.inTree = true
	n.deadline = now.Add(timeout)
	n.seq = p.seq
	p.seq++
	if p.timeouts.Insert(&n.rb, nodeLess) {
		p.first = &n.rb
	}
}

// unindex reverses index, must be called with the lock held.
func (p *Poller) unindex(n *node) {
	if n.inTree {
		if p.first == &n.rb {
			p.first = n.rb.Next()
		}
		p.timeouts.Erase(&n.rb)
		n.inTree = false
	} else if n.link.Linked() {
		n.link.Remove()
	} else {
		return
	}
	p.size--
}

// unregister removes n from every structure, marking it as removed. Must be
// called with the lock held. Returns false if n was already removed.
func (p *Poller) unregister(n *node) bool {
	if n.removed {
		return false
	}
	n.removed = true
	p.unindex(n)
	if fd := n.data.FD; n.data.Operation != OpTimer && fd >= 0 && fd < len(p.nodes) && p.nodes[fd] == n {
		p.nodes[fd] = nil
		if err := p.mux.del(fd, n.data.Operation); err != nil {
			p.logger.Debug().
				Err(err).
				Int(`fd`, fd).
				Log(`reactor: failed to deregister fd`)
		}
	}
	return true
}

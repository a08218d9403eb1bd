package timer

import (
	"time"

	"github.com/joeycumines/go-reactor/iheap"
)

// State models the lifecycle of an [Element].
type State uint8

const (
	// StateIdle indicates an element that has never been scheduled.
	StateIdle State = iota
	// StateScheduled indicates an element that is queued, waiting for its
	// deadline.
	StateScheduled
	// StateFired indicates the element was dequeued by the service, and its
	// callback was (or is being) invoked.
	StateFired
	// StateCancelled indicates the element was removed prior to firing, or
	// failed to be scheduled.
	StateCancelled
)

// String implements fmt.Stringer.
func (x State) String() string {
	switch x {
	case StateIdle:
		return `idle`
	case StateScheduled:
		return `scheduled`
	case StateFired:
		return `fired`
	case StateCancelled:
		return `cancelled`
	default:
		return `unknown`
	}
}

// Element is a caller-owned timer, which may be scheduled on a [Service]
// repeatedly, but only on one at a time. The service never allocates or
// retains elements beyond the time they are queued.
//
// All fields are guarded by the lock of the service the element was last
// added to. Accessors must not be called concurrently with that service,
// except from within the element's own callback.
type Element struct {
	deadline time.Time
	fn       func(arg any)
	arg      any
	seq      uint64
	pos      int
	state    State
}

// NewElement allocates an element, see also [Element.Init].
func NewElement(fn func(arg any), arg any) *Element {
	var e Element
	e.Init(fn, arg)
	return &e
}

// Init resets e, setting the callback and its argument. It must not be
// called while e is scheduled.
func (e *Element) Init(fn func(arg any), arg any) {
	*e = Element{
		fn:  fn,
		arg: arg,
		pos: iheap.NotQueued,
	}
}

// State returns the current lifecycle state.
func (e *Element) State() State { return e.state }

// Expired reports whether e is not currently queued.
func (e *Element) Expired() bool { return e.state != StateScheduled }

// Deadline returns the deadline of the last successful schedule.
func (e *Element) Deadline() time.Time { return e.deadline }

func compareElements(a, b *Element) int {
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

func elementPosition(e *Element) *int { return &e.pos }

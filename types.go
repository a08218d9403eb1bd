//go:build linux || darwin

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// NoTimeout may be passed as the timeout to [Poller.Add] and friends, to
// register a node that never times out.
const NoTimeout time.Duration = -1

// Operation determines how the loop handles a node's readiness.
type Operation uint8

const (
	// OpRead reads until EAGAIN, framing the input into messages, see
	// [Message].
	OpRead Operation = iota + 1
	// OpWrite writes [Data.Buffers], finishing once all are written.
	OpWrite
	// OpListen accepts connections, passing each to [Data.Accept].
	OpListen
	// OpConnect finishes once a non-blocking connect completes.
	OpConnect
	// OpEvent reads an eventfd style 8-byte counter, calling [Data.Event]
	// once per count.
	OpEvent
	// OpNotify reads 8-byte tokens, calling [Data.Notify] for each.
	OpNotify
	// OpTimer identifies standalone timers, see [Poller.AddTimer].
	OpTimer
)

// String implements fmt.Stringer.
func (x Operation) String() string {
	switch x {
	case OpRead:
		return `read`
	case OpWrite:
		return `write`
	case OpListen:
		return `listen`
	case OpConnect:
		return `connect`
	case OpEvent:
		return `event`
	case OpNotify:
		return `notify`
	case OpTimer:
		return `timer`
	default:
		return `unknown`
	}
}

// State is the outcome reported by a [Result].
type State uint8

const (
	// StateSuccess reports an intermediate result, e.g. a complete message,
	// or an accepted connection. The node remains registered.
	StateSuccess State = iota
	// StateFinished reports the node completed, e.g. EOF, or all buffers
	// were written. The node has been removed.
	StateFinished
	// StateError reports a failure, including timeouts. The node has been
	// removed.
	StateError
	// StateDeleted reports the node was removed by [Poller.Remove], or
	// cancelled by [Poller.CancelTimer].
	StateDeleted
	// StateModified reports the node was replaced by [Poller.Modify].
	StateModified
	// StateStopped reports the node was still registered when the poller
	// was stopped, and has been removed.
	StateStopped
)

// String implements fmt.Stringer.
func (x State) String() string {
	switch x {
	case StateSuccess:
		return `success`
	case StateFinished:
		return `finished`
	case StateError:
		return `error`
	case StateDeleted:
		return `deleted`
	case StateModified:
		return `modified`
	case StateStopped:
		return `stopped`
	default:
		return `unknown`
	}
}

// Terminal reports whether the node was removed, i.e. every state other
// than [StateSuccess].
func (x State) Terminal() bool { return x != StateSuccess }

// Message frames the input of an [OpRead] node.
type Message interface {
	// Append consumes a prefix of buf, returning the number of bytes
	// consumed. If complete is true, the message will be delivered, and
	// any remaining input will be appended to a new message. Otherwise, all
	// of buf must have been consumed. A non-nil error fails the node.
	Append(buf []byte) (n int, complete bool, err error)
}

// Data describes a node.
type Data struct {
	// Context is passed through to callbacks. The poller never inspects it.
	Context any

	// Message is the in-progress (or completed) message of an OpRead node.
	// It may be set prior to Add, otherwise it is created lazily, via
	// [Params.CreateMessage].
	Message Message

	// Accept is required for OpListen. It takes ownership of fd, which is
	// non-blocking and close-on-exec. A non-nil error causes fd to be
	// closed, and is otherwise ignored.
	Accept func(fd int, sa unix.Sockaddr, ctx any) (any, error)

	// Event is required for OpEvent.
	Event func(ctx any) (any, error)

	// Notify is required for OpNotify.
	Notify func(token uint64, ctx any) (any, error)

	// Value is the output of Accept, Event, or Notify, for the
	// corresponding StateSuccess result.
	Value any

	// Buffers are the pending writes of an OpWrite node. The outer slice
	// is copied by the poller, the buffers are not.
	Buffers [][]byte

	FD        int
	Operation Operation
}

// Result is the outcome of some node.
type Result struct {
	Err   error
	Data  Data
	State State
}

// Params configures the callbacks of a [Poller].
type Params struct {
	// CreateMessage allocates a new message, for OpRead nodes. Required
	// only for OpRead nodes without a preset message.
	CreateMessage func(ctx any) (Message, error)

	// PartialWritten is called after each write that makes progress, but
	// does not complete, an OpWrite node. Optional.
	PartialWritten func(n int, ctx any) error

	// Callback receives every result. It is called from the loop
	// goroutine, except for the results delivered by [Poller.Stop].
	// Required.
	Callback func(res *Result)

	// MaxOpenFiles is the capacity of the registry. Descriptors must be in
	// the range [0, MaxOpenFiles). Required.
	MaxOpenFiles int
}

// TimerHandle identifies a timer scheduled via [Poller.AddTimer].
type TimerHandle struct {
	n *node
}

// Context returns the context passed to [Poller.AddTimer].
func (x *TimerHandle) Context() any { return x.n.data.Context }

// Deadline returns the time the timer is due to fire.
func (x *TimerHandle) Deadline() time.Time { return x.n.deadline }

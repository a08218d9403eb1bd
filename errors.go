//go:build linux || darwin

package reactor

import (
	"errors"

	"golang.org/x/sys/unix"
)

var (
	// ErrInvalidParams indicates invalid [Params], [Data], or options.
	ErrInvalidParams = errors.New(`reactor: invalid params`)

	// ErrAlreadyStarted is returned by [Poller.Start] while running.
	ErrAlreadyStarted = errors.New(`reactor: already started`)

	// ErrNotStarted is returned by [Poller.Stop] if the loop is not running.
	ErrNotStarted = errors.New(`reactor: not started`)

	// ErrClosed is returned by [Poller.Start], and by every mutation, after
	// [Poller.Close].
	ErrClosed = errors.New(`reactor: closed`)

	// ErrFDOutOfRange indicates a descriptor outside [0, MaxOpenFiles).
	ErrFDOutOfRange = errors.New(`reactor: fd out of range`)

	// ErrFDAlreadyRegistered is returned by [Poller.Add] for a descriptor
	// that already has a node.
	ErrFDAlreadyRegistered = errors.New(`reactor: fd already registered`)

	// ErrFDNotRegistered indicates a descriptor without a node.
	ErrFDNotRegistered = errors.New(`reactor: fd not registered`)

	// ErrInvalidOperation indicates an unknown operation, or [OpTimer]
	// outside of [Poller.AddTimer].
	ErrInvalidOperation = errors.New(`reactor: invalid operation`)

	// ErrStopFromLoop is returned by [Poller.Stop] and [Poller.Close] when
	// called from a callback.
	ErrStopFromLoop = errors.New(`reactor: stop called from the loop goroutine`)

	// ErrIncompleteAppend fails a read node whose [Message] consumed no
	// input without completing.
	ErrIncompleteAppend = errors.New(`reactor: message did not consume input without completing`)
)

// ErrTimeout is the [Result.Err] for descriptor nodes whose deadline passed.
var ErrTimeout error = &timeoutError{}

type timeoutError struct{}

func (*timeoutError) Error() string { return `reactor: timed out` }

func (*timeoutError) Timeout() bool { return true }

func (*timeoutError) Unwrap() error { return unix.ETIMEDOUT }

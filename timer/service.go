// Package timer implements a heap-based timer service, driven by a single
// dedicated goroutine, which invokes the callbacks of caller-owned
// [Element] values once their deadlines pass.
//
// Scheduling and cancellation are O(log n), using the position each element
// tracks within the heap. Cancellation is lazy: removing an element that has
// already been dequeued for firing is a no-op, and its callback will run to
// completion.
package timer

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/joeycumines/go-reactor/iheap"
	"github.com/joeycumines/logiface"
)

var (
	// ErrFull is returned by [Service.Add] if the heap is at capacity, and
	// growth is disabled.
	ErrFull = iheap.ErrFull

	// ErrClosed is returned by [Service.Add] after [Service.Close].
	ErrClosed = errors.New(`timer: service closed`)

	// ErrAlreadyScheduled is returned by [Service.Add] for an element that
	// is currently queued.
	ErrAlreadyScheduled = errors.New(`timer: element already scheduled`)
)

// maxDeadline is the deadline of the sentinel, which permanently occupies
// the bottom of the heap.
var maxDeadline = time.Unix(math.MaxInt64>>1, 0)

// Service runs scheduled callbacks. See the package docs.
type Service struct {
	clock  clock.Clock
	logger *logiface.Logger[logiface.Event]
	heap   *iheap.Heap[*Element]
	// wake is buffered, and signals the loop to re-evaluate its wait
	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	// nearest is the deadline the loop is currently waiting for
	nearest  time.Time
	sentinel Element
	seq      uint64
	mu       sync.Mutex
	closed   bool
}

// New initialises a service, and starts its goroutine. [Service.Close]
// must be called to release it.
func New(opts ...Option) (*Service, error) {
	cfg, err := resolveServiceOptions(opts)
	if err != nil {
		return nil, err
	}

	s := &Service{
		clock:  cfg.clock,
		logger: cfg.logger,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	s.heap, err = iheap.New(iheap.Config[*Element]{
		Compare:  compareElements,
		Position: elementPosition,
		// room for the sentinel, and one spare
		Capacity:   cfg.initialCapacity + 2,
		GrowthStep: cfg.growthStep,
	})
	if err != nil {
		return nil, fmt.Errorf(`timer: failed to allocate heap: %w`, err)
	}

	s.sentinel.Init(nil, nil)
	s.sentinel.deadline = maxDeadline
	s.sentinel.seq = math.MaxUint64
	s.sentinel.state = StateScheduled
	if err := s.heap.Insert(&s.sentinel); err != nil {
		return nil, fmt.Errorf(`timer: failed to insert sentinel: %w`, err)
	}
	s.nearest = maxDeadline

	go s.run()

	return s, nil
}

// Add schedules e to fire after delay, which may be zero or negative, to
// fire as soon as possible. Elements with equal deadlines fire in the order
// they were added.
//
// If the element could not be queued, it remains expired, and an error is
// returned.
func (s *Service) Add(e *Element, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if e.state == StateScheduled {
		return ErrAlreadyScheduled
	}

	deadline := s.clock.Now().Add(delay)
	if deadline.After(maxDeadline) {
		deadline = maxDeadline
	}
	e.deadline = deadline
	e.seq = s.seq
	s.seq++

	if err := s.heap.InsertSafe(e); err != nil {
		e.state = StateCancelled
		s.logger.Warning().
			Err(err).
			Int(`len`, s.heap.Len()-1).
			Log(`timer: failed to schedule element`)
		return err
	}
	e.state = StateScheduled

	if deadline.Before(s.nearest) {
		s.nearest = deadline
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}

	return nil
}

// Remove cancels e, returning true if it was queued, in which case its
// callback will never be invoked. A false return indicates e was either
// never scheduled, has already been cancelled, or has fired (its callback
// may still be running).
func (s *Service) Remove(e *Element) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.state != StateScheduled || e == &s.sentinel {
		return false
	}
	s.heap.Remove(e.pos)
	e.state = StateCancelled
	return true
}

// Len returns the number of scheduled elements.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len() - 1
}

// NextDeadline returns the earliest scheduled deadline, or the zero time,
// if there is nothing scheduled.
func (s *Service) NextDeadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if top := s.heap.Top(); top != &s.sentinel {
		return top.deadline
	}
	return time.Time{}
}

// Close stops the service, waiting for its goroutine (including any
// in-flight callback) to exit. Scheduled elements are left in their current
// state, and will never fire. Calling Close from within a callback will
// deadlock.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	close(s.stop)
	s.mu.Unlock()

	<-s.done

	s.logger.Debug().Log(`timer: service closed`)

	return nil
}

func (s *Service) run() {
	defer close(s.done)

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}

		now := s.clock.Now()
		for top := s.heap.Top(); top != &s.sentinel && !top.deadline.After(now); top = s.heap.Top() {
			s.heap.RemoveTop()
			top.state = StateFired
			fn, arg := top.fn, top.arg

			s.mu.Unlock()
			s.invoke(fn, arg)
			s.mu.Lock()

			if s.closed {
				s.mu.Unlock()
				return
			}
			now = s.clock.Now()
		}

		top := s.heap.Top()
		s.nearest = top.deadline
		s.mu.Unlock()

		var (
			t      *clock.Timer
			expiry <-chan time.Time
		)
		if top != &s.sentinel {
			t = s.clock.Timer(top.deadline.Sub(now))
			expiry = t.C
		}

		select {
		case <-s.stop:
		case <-s.wake:
		case <-expiry:
		}

		if t != nil {
			t.Stop()
		}
	}
}

func (s *Service) invoke(fn func(arg any), arg any) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Err().
				Any(`panic`, r).
				Log(`timer: callback panicked`)
		}
	}()
	fn(arg)
}

//go:build linux || darwin

package reactor

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/joeycumines/go-reactor/list"
	"github.com/joeycumines/go-reactor/rbtree"
	"github.com/joeycumines/logiface"
	"github.com/petermattis/goid"
	"golang.org/x/sys/unix"
)

// readBufferSize is the size of the buffer shared by all read handlers.
const readBufferSize = 256 * 1024

type loopState uint8

const (
	loopIdle loopState = iota
	loopRunning
	loopStopping
)

// stopRequest is the control queue entry that terminates the loop.
type stopRequest struct{}

// Poller is the reactor, see the package docs.
type Poller struct {
	params Params
	logger *logiface.Logger[logiface.Event]
	mux    *mux

	// registry, indexed by fd
	nodes     []*node
	timeouts  rbtree.Root[node]
	first     *rbtree.Node[node]
	noTimeout list.Head[node]

	// control holds *node results to deliver from the loop, and
	// stopRequest
	control *queue.Queue
	done    chan struct{}

	// buf is only accessed by the loop goroutine
	buf []byte

	loopGoid atomic.Int64
	seq      uint64
	size     int
	mu       sync.Mutex
	state    loopState
	closed   bool
}

// New initialises a poller, allocating the registry, and the OS resources
// for readiness multiplexing. [Poller.Start] must be called to begin
// processing, and [Poller.Close] to release it.
func New(params Params, opts ...Option) (*Poller, error) {
	if params.MaxOpenFiles <= 0 {
		return nil, fmt.Errorf(`%w: max open files must be positive`, ErrInvalidParams)
	}
	if params.Callback == nil {
		return nil, fmt.Errorf(`%w: nil callback`, ErrInvalidParams)
	}

	cfg, err := resolvePollerOptions(opts)
	if err != nil {
		return nil, err
	}

	m, err := newMux()
	if err != nil {
		return nil, err
	}

	p := &Poller{
		params:  params,
		logger:  cfg.logger,
		mux:     m,
		nodes:   make([]*node, params.MaxOpenFiles),
		control: queue.New(),
		buf:     make([]byte, readBufferSize),
	}
	p.noTimeout.Init()

	return p, nil
}

// Start opens the wake channel, and starts the loop goroutine, which is
// locked to its OS thread.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.state != loopIdle {
		return ErrAlreadyStarted
	}

	if err := p.mux.openWake(); err != nil {
		return err
	}

	p.state = loopRunning
	p.done = make(chan struct{})
	go p.run(p.done)

	p.logger.Debug().
		Int(`max_open_files`, len(p.nodes)).
		Log(`reactor: started`)

	return nil
}

// Add registers a descriptor. The timeout is relative to now, and may be
// [NoTimeout]. Nodes with a deadline that passes are removed, and delivered
// as [StateError], with [ErrTimeout].
func (p *Poller) Add(data *Data, timeout time.Duration) error {
	if err := p.validate(data); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	fd := data.FD
	if p.nodes[fd] != nil {
		return ErrFDAlreadyRegistered
	}

	n := newNode(data)
	if err := p.mux.add(fd, data.Operation); err != nil {
		return fmt.Errorf(`reactor: failed to register fd %d: %w`, fd, err)
	}

	p.nodes[fd] = n
	p.index(n, timeout, time.Now())
	p.wakeLocked()

	return nil
}

// Modify atomically replaces the node registered for data.FD, which is
// delivered as [StateModified]. The deadline is recomputed from timeout,
// which may be [NoTimeout].
func (p *Poller) Modify(data *Data, timeout time.Duration) error {
	if err := p.validate(data); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	fd := data.FD
	old := p.nodes[fd]
	if old == nil {
		return ErrFDNotRegistered
	}

	n := newNode(data)
	if err := p.mux.mod(fd, old.data.Operation, data.Operation); err != nil {
		return fmt.Errorf(`reactor: failed to modify fd %d: %w`, fd, err)
	}

	old.removed = true
	old.state = StateModified
	p.unindex(old)
	p.control.Add(old)

	p.nodes[fd] = n
	p.index(n, timeout, time.Now())
	p.wakeLocked()

	return nil
}

// Remove unregisters fd. The node is delivered as [StateDeleted], from the
// loop goroutine. The caller may close fd as soon as Remove returns.
func (p *Poller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if fd < 0 || fd >= len(p.nodes) {
		return ErrFDOutOfRange
	}

	n := p.nodes[fd]
	if n == nil {
		return ErrFDNotRegistered
	}

	p.unregister(n)
	n.state = StateDeleted
	p.control.Add(n)
	p.wakeLocked()

	return nil
}

// SetTimeout replaces the deadline of the node registered for fd.
func (p *Poller) SetTimeout(fd int, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if fd < 0 || fd >= len(p.nodes) {
		return ErrFDOutOfRange
	}

	n := p.nodes[fd]
	if n == nil {
		return ErrFDNotRegistered
	}

	p.unindex(n)
	p.index(n, timeout, time.Now())
	p.wakeLocked()

	return nil
}

// AddTimer schedules a standalone timer, which will be delivered as
// [StateFinished] with an [OpTimer] operation, and FD -1, once delay has
// passed. Negative delays fire as soon as possible.
func (p *Poller) AddTimer(delay time.Duration, ctx any) (*TimerHandle, error) {
	if delay < 0 {
		delay = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	n := newNode(&Data{Operation: OpTimer, FD: -1, Context: ctx})
	p.index(n, delay, time.Now())
	p.wakeLocked()

	return &TimerHandle{n: n}, nil
}

// CancelTimer removes a timer that has not yet fired, returning true if it
// was removed, in which case it will be delivered as [StateDeleted].
func (p *Poller) CancelTimer(h *TimerHandle) bool {
	if h == nil || h.n == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.unregister(h.n) {
		return false
	}
	h.n.state = StateDeleted
	p.control.Add(h.n)
	p.wakeLocked()

	return true
}

// Len returns the number of registered nodes, including timers.
func (p *Poller) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// NextDeadline returns the earliest deadline of any registered node.
func (p *Poller) NextDeadline() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.first == nil {
		return time.Time{}, false
	}
	return p.first.Value.deadline, true
}

// Stop terminates the loop goroutine, and waits for it to exit. Results
// queued for delivery are then delivered, followed by [StateStopped] for
// every node that remains registered, from the calling goroutine. The
// poller may be started again.
func (p *Poller) Stop() error {
	p.mu.Lock()

	if p.state != loopRunning {
		p.mu.Unlock()
		return ErrNotStarted
	}
	if p.inLoop() {
		p.mu.Unlock()
		return ErrStopFromLoop
	}

	p.state = loopStopping
	p.control.Add(stopRequest{})
	done := p.done
	if err := p.mux.wake(); err != nil {
		p.state = loopRunning
		p.mu.Unlock()
		return fmt.Errorf(`reactor: failed to wake loop: %w`, err)
	}

	p.mu.Unlock()

	<-done

	p.mu.Lock()
	p.state = loopIdle
	p.mux.closeWake()
	results := p.drainLocked()
	p.mu.Unlock()

	p.logger.Debug().
		Int(`stopped`, len(results)).
		Log(`reactor: stopped`)

	p.deliverAll(results)

	return nil
}

// Close stops the poller (if it is running), delivers any remaining results
// as per [Poller.Stop], then releases all OS resources. Subsequent calls are
// no-ops.
func (p *Poller) Close() error {
	if err := p.Stop(); err != nil && !errors.Is(err, ErrNotStarted) {
		return err
	}

	p.mu.Lock()
	for p.state == loopStopping {
		// a concurrent Stop is still draining
		done := p.done
		p.mu.Unlock()
		<-done
		runtime.Gosched()
		p.mu.Lock()
	}
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	results := p.drainLocked()
	err := p.mux.close()
	p.mu.Unlock()

	p.deliverAll(results)

	return err
}

func (p *Poller) validate(data *Data) error {
	if data == nil {
		return fmt.Errorf(`%w: nil data`, ErrInvalidParams)
	}
	switch data.Operation {
	case OpRead:
		if data.Message == nil && p.params.CreateMessage == nil {
			return fmt.Errorf(`%w: read requires a message factory`, ErrInvalidParams)
		}
	case OpWrite, OpConnect:
	case OpListen:
		if data.Accept == nil {
			return fmt.Errorf(`%w: listen requires an accept func`, ErrInvalidParams)
		}
	case OpEvent:
		if data.Event == nil {
			return fmt.Errorf(`%w: event requires an event func`, ErrInvalidParams)
		}
	case OpNotify:
		if data.Notify == nil {
			return fmt.Errorf(`%w: notify requires a notify func`, ErrInvalidParams)
		}
	default:
		return fmt.Errorf(`%w: %s`, ErrInvalidOperation, data.Operation)
	}
	if data.FD < 0 || data.FD >= len(p.nodes) {
		return ErrFDOutOfRange
	}
	return nil
}

func (p *Poller) inLoop() bool {
	id := p.loopGoid.Load()
	return id != 0 && id == goid.Get()
}

// wakeLocked interrupts the wait of the loop, so it may re-arm its timer,
// and process the control queue. Unnecessary from the loop itself.
func (p *Poller) wakeLocked() {
	if p.state != loopRunning || p.inLoop() {
		return
	}
	if err := p.mux.wake(); err != nil {
		p.logger.Err().
			Err(err).
			Log(`reactor: failed to wake loop`)
	}
}

// drainLocked unregisters everything, returning the queued results,
// followed by the remaining nodes as StateStopped.
func (p *Poller) drainLocked() (results []*node) {
	for p.control.Length() != 0 {
		if n, ok := p.control.Remove().(*node); ok {
			results = append(results, n)
		}
	}
	var stopped []*node
	for n := p.timeouts.First(); n != nil; n = n.Next() {
		stopped = append(stopped, n.Value)
	}
	p.noTimeout.Each(func(n *node) bool {
		stopped = append(stopped, n)
		return true
	})
	for _, n := range stopped {
		p.unregister(n)
		n.state = StateStopped
		n.err = nil
	}
	return append(results, stopped...)
}

func (p *Poller) deliverAll(nodes []*node) {
	for _, n := range nodes {
		p.invoke(n.result())
	}
}

func (p *Poller) invoke(res *Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Err().
				Any(`panic`, r).
				Int(`fd`, res.Data.FD).
				Stringer(`state`, res.State).
				Log(`reactor: callback panicked`)
		}
	}()
	p.params.Callback(res)
}

func (p *Poller) run(done chan struct{}) {
	defer close(done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	p.loopGoid.Store(goid.Get())
	defer p.loopGoid.Store(0)

	var (
		fds  []int
		wake bool
		err  error
	)
	for {
		if err = p.armTimer(); err != nil {
			p.logger.Err().
				Err(err).
				Log(`reactor: failed to arm timer, terminating loop`)
			return
		}

		fds, wake, err = p.mux.wait(fds[:0])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			p.logger.Err().
				Err(err).
				Log(`reactor: wait failed, terminating loop`)
			return
		}

		now := time.Now()

		for _, fd := range fds {
			p.dispatch(fd)
		}

		if wake {
			p.mux.drainWake()
		}

		if p.processControl() {
			return
		}

		p.processTimeouts(now)
	}
}

func (p *Poller) armTimer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.first == nil {
		return p.mux.setTimer(0, false)
	}
	return p.mux.setTimer(time.Until(p.first.Value.deadline), true)
}

// processControl delivers queued results, returning true if a stop was
// requested, in which case any remaining entries are left in the queue.
func (p *Poller) processControl() bool {
	for {
		p.mu.Lock()
		if p.control.Length() == 0 {
			p.mu.Unlock()
			return false
		}
		v := p.control.Remove()
		p.mu.Unlock()

		switch v := v.(type) {
		case stopRequest:
			return true
		case *node:
			p.invoke(v.result())
		}
	}
}

// processTimeouts delivers every node with a deadline that is not after
// now, in deadline order.
func (p *Poller) processTimeouts(now time.Time) {
	var expired []*node

	p.mu.Lock()
	for p.first != nil && !p.first.Value.deadline.After(now) {
		n := p.first.Value
		p.unregister(n)
		if n.data.Operation == OpTimer {
			n.state = StateFinished
			n.err = nil
		} else {
			n.state = StateError
			n.err = ErrTimeout
		}
		expired = append(expired, n)
	}
	p.mu.Unlock()

	p.deliverAll(expired)
}

func (p *Poller) dispatch(fd int) {
	p.mu.Lock()
	var n *node
	if fd >= 0 && fd < len(p.nodes) {
		n = p.nodes[fd]
	}
	p.mu.Unlock()

	if n == nil {
		return
	}

	switch n.data.Operation {
	case OpRead:
		p.handleRead(n)
	case OpWrite:
		p.handleWrite(n)
	case OpListen:
		p.handleListen(n)
	case OpConnect:
		p.handleConnect(n)
	case OpEvent:
		p.handleEvent(n)
	case OpNotify:
		p.handleNotify(n)
	}
}

//go:build darwin

package reactor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

const maxEvents = 256

// timerIdent identifies the deadline EVFILT_TIMER, which has its own
// ident namespace.
const timerIdent = 1

// mux multiplexes readiness via kqueue, with a self-pipe wake channel, and
// an EVFILT_TIMER as the deadline wake source.
type mux struct {
	events [maxEvents]unix.Kevent_t
	kq     int
	wakeR  int
	wakeW  int
}

func newMux() (*mux, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf(`reactor: kqueue: %w`, err)
	}
	unix.CloseOnExec(kq)
	return &mux{kq: kq, wakeR: -1, wakeW: -1}, nil
}

func (m *mux) openWake() error {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return fmt.Errorf(`reactor: pipe: %w`, err)
	}
	cleanup := func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			cleanup()
			return fmt.Errorf(`reactor: set nonblock: %w`, err)
		}
	}
	if err := m.kevent(fds[0], unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE); err != nil {
		cleanup()
		return fmt.Errorf(`reactor: kevent pipe: %w`, err)
	}
	m.wakeR, m.wakeW = fds[0], fds[1]
	return nil
}

func (m *mux) closeWake() {
	if m.wakeR < 0 {
		return
	}
	_ = m.kevent(m.wakeR, unix.EVFILT_READ, unix.EV_DELETE)
	_ = unix.Close(m.wakeR)
	_ = unix.Close(m.wakeW)
	m.wakeR, m.wakeW = -1, -1
}

func (m *mux) wake() error {
	if m.wakeW < 0 {
		return nil
	}
	b := [1]byte{1}
	for {
		_, err := unix.Write(m.wakeW, b[:])
		switch err {
		case unix.EINTR:
			continue
		case nil, unix.EAGAIN:
			// EAGAIN means the pipe is full, already readable
			return nil
		default:
			return err
		}
	}
}

func (m *mux) drainWake() {
	var b [64]byte
	for {
		n, err := unix.Read(m.wakeR, b[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || n < len(b) {
			return
		}
	}
}

func (m *mux) kevent(ident int, filter int16, flags uint16) error {
	changes := [1]unix.Kevent_t{{Ident: uint64(ident), Filter: filter, Flags: flags}}
	_, err := unix.Kevent(m.kq, changes[:], nil, nil)
	return err
}

func kqueueFilter(op Operation) int16 {
	switch op {
	case OpWrite, OpConnect:
		return unix.EVFILT_WRITE
	default:
		return unix.EVFILT_READ
	}
}

func (m *mux) add(fd int, op Operation) error {
	return m.kevent(fd, kqueueFilter(op), unix.EV_ADD|unix.EV_ENABLE)
}

func (m *mux) mod(fd int, oldOp, op Operation) error {
	if kqueueFilter(oldOp) == kqueueFilter(op) {
		return nil
	}
	if err := m.add(fd, op); err != nil {
		return err
	}
	_ = m.del(fd, oldOp)
	return nil
}

func (m *mux) del(fd int, op Operation) error {
	return m.kevent(fd, kqueueFilter(op), unix.EV_DELETE)
}

// setTimer arms a one-shot EVFILT_TIMER to expire after d, or disarms it.
func (m *mux) setTimer(d time.Duration, armed bool) error {
	if !armed {
		if err := m.kevent(timerIdent, unix.EVFILT_TIMER, unix.EV_DELETE); err != nil && err != unix.ENOENT {
			return fmt.Errorf(`reactor: kevent timer delete: %w`, err)
		}
		return nil
	}
	if d <= 0 {
		d = 1
	}
	changes := [1]unix.Kevent_t{{
		Ident:  timerIdent,
		Filter: unix.EVFILT_TIMER,
		Flags:  unix.EV_ADD | unix.EV_ENABLE | unix.EV_ONESHOT,
		Fflags: unix.NOTE_NSECONDS,
		Data:   d.Nanoseconds(),
	}}
	if _, err := unix.Kevent(m.kq, changes[:], nil, nil); err != nil {
		return fmt.Errorf(`reactor: kevent timer: %w`, err)
	}
	return nil
}

func (m *mux) wait(fds []int) ([]int, bool, error) {
	n, err := unix.Kevent(m.kq, nil, m.events[:], nil)
	if err != nil {
		return fds, false, err
	}
	var wake bool
	for i := 0; i < n; i++ {
		ev := &m.events[i]
		switch {
		case ev.Filter == unix.EVFILT_TIMER:
		case int(ev.Ident) == m.wakeR:
			wake = true
		default:
			fds = append(fds, int(ev.Ident))
		}
	}
	return fds, wake, nil
}

func (m *mux) close() error {
	m.closeWake()
	return unix.Close(m.kq)
}

func writev(fd int, bufs [][]byte) (int, error) {
	var total int
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		n, err := unix.Write(fd, b)
		if n > 0 {
			total += n
		}
		if err != nil {
			if total != 0 {
				return total, nil
			}
			return 0, err
		}
		if n < len(b) {
			break
		}
	}
	return total, nil
}

func accept(fd int) (int, unix.Sockaddr, error) {
	nfd, sa, err := unix.Accept(fd)
	if err != nil {
		return -1, nil, err
	}
	unix.CloseOnExec(nfd)
	if err := unix.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		return -1, nil, err
	}
	return nfd, sa, nil
}

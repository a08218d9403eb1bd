//go:build linux

package reactor

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// maxEvents bounds the readiness reported by a single wait.
const maxEvents = 256

// maxIovecs is IOV_MAX, the limit on buffers per writev.
const maxIovecs = 1024

// mux multiplexes readiness via epoll, with an eventfd wake channel, and a
// timerfd as the deadline wake source.
type mux struct {
	events  [maxEvents]unix.EpollEvent
	epfd    int
	timerfd int
	wakefd  int
}

func newMux() (*mux, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf(`reactor: epoll_create1: %w`, err)
	}

	timerfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf(`reactor: timerfd_create: %w`, err)
	}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, timerfd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLET,
		Fd:     int32(timerfd),
	}); err != nil {
		_ = unix.Close(timerfd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf(`reactor: epoll_ctl timerfd: %w`, err)
	}

	return &mux{epfd: epfd, timerfd: timerfd, wakefd: -1}, nil
}

func (m *mux) openWake() error {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return fmt.Errorf(`reactor: eventfd: %w`, err)
	}
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fd),
	}); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf(`reactor: epoll_ctl eventfd: %w`, err)
	}
	m.wakefd = fd
	return nil
}

func (m *mux) closeWake() {
	if m.wakefd < 0 {
		return
	}
	_ = unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, m.wakefd, nil)
	_ = unix.Close(m.wakefd)
	m.wakefd = -1
}

func (m *mux) wake() error {
	if m.wakefd < 0 {
		return nil
	}
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	for {
		_, err := unix.Write(m.wakefd, b[:])
		switch err {
		case unix.EINTR:
			continue
		case nil, unix.EAGAIN:
			// EAGAIN means the counter is saturated, already readable
			return nil
		default:
			return err
		}
	}
}

func (m *mux) drainWake() {
	var b [8]byte
	for {
		if _, err := unix.Read(m.wakefd, b[:]); err != unix.EINTR {
			return
		}
	}
}

func epollEvents(op Operation) uint32 {
	switch op {
	case OpWrite, OpConnect:
		return unix.EPOLLOUT
	default:
		return unix.EPOLLIN
	}
}

func (m *mux) add(fd int, op Operation) error {
	return unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: epollEvents(op),
		Fd:     int32(fd),
	})
}

func (m *mux) mod(fd int, _, op Operation) error {
	return unix.EpollCtl(m.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: epollEvents(op),
		Fd:     int32(fd),
	})
}

func (m *mux) del(fd int, _ Operation) error {
	return unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// setTimer arms the timerfd to expire after d, or disarms it.
func (m *mux) setTimer(d time.Duration, armed bool) error {
	var spec unix.ItimerSpec
	if armed {
		if d <= 0 {
			// a zero value would disarm
			d = 1
		}
		spec.Value = unix.NsecToTimespec(d.Nanoseconds())
	}
	if err := unix.TimerfdSettime(m.timerfd, 0, &spec, nil); err != nil {
		return fmt.Errorf(`reactor: timerfd_settime: %w`, err)
	}
	return nil
}

// wait blocks until readiness, appending ready descriptors to fds, and
// reporting whether the wake channel was signalled.
func (m *mux) wait(fds []int) ([]int, bool, error) {
	n, err := unix.EpollWait(m.epfd, m.events[:], -1)
	if err != nil {
		return fds, false, err
	}
	var wake bool
	for i := 0; i < n; i++ {
		switch fd := int(m.events[i].Fd); fd {
		case m.wakefd:
			wake = true
		case m.timerfd:
			var b [8]byte
			_, _ = unix.Read(m.timerfd, b[:])
		default:
			fds = append(fds, fd)
		}
	}
	return fds, wake, nil
}

func (m *mux) close() error {
	m.closeWake()
	err := unix.Close(m.timerfd)
	if e := unix.Close(m.epfd); err == nil {
		err = e
	}
	return err
}

func writev(fd int, bufs [][]byte) (int, error) {
	if len(bufs) > maxIovecs {
		bufs = bufs[:maxIovecs]
	}
	return unix.Writev(fd, bufs)
}

func accept(fd int) (int, unix.Sockaddr, error) {
	return unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}

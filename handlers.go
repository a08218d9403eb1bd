//go:build linux || darwin

package reactor

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// finish unregisters n, and delivers it with a terminal state, unless it
// was already removed.
func (p *Poller) finish(n *node, state State, err error) {
	p.mu.Lock()
	if !p.unregister(n) {
		p.mu.Unlock()
		return
	}
	n.state = state
	n.err = err
	p.mu.Unlock()
	p.invoke(n.result())
}

func (p *Poller) isRemoved(n *node) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return n.removed
}

// emit delivers a StateSuccess result for n, returning false if n has been
// removed, either prior to, or by, the callback.
func (p *Poller) emit(n *node, data Data) bool {
	if p.isRemoved(n) {
		return false
	}
	p.invoke(&Result{State: StateSuccess, Data: data})
	return !p.isRemoved(n)
}

// readErr classifies a read or write error, returning true if the handler
// should retry immediately. EAGAIN is reported by a false retry and a nil
// error.
func readErr(err error) (retry bool, _ error) {
	switch err {
	case unix.EINTR:
		return true, nil
	case unix.EAGAIN:
		return false, nil
	default:
		return false, err
	}
}

func (p *Poller) handleRead(n *node) {
	for {
		nr, err := unix.Read(n.data.FD, p.buf)
		if err != nil {
			retry, err := readErr(err)
			if retry {
				continue
			}
			if err != nil {
				p.finish(n, StateError, err)
			}
			return
		}
		if nr == 0 {
			p.finish(n, StateFinished, nil)
			return
		}
		if !p.appendInput(n, p.buf[:nr]) {
			return
		}
	}
}

// appendInput feeds b to the message of n, delivering each completed
// message. Returns false if n is no longer registered.
func (p *Poller) appendInput(n *node, b []byte) bool {
	for len(b) != 0 {
		if n.data.Message == nil {
			if p.params.CreateMessage == nil {
				p.finish(n, StateError, fmt.Errorf(`%w: nil message factory`, ErrInvalidParams))
				return false
			}
			msg, err := p.params.CreateMessage(n.data.Context)
			if err != nil {
				p.finish(n, StateError, err)
				return false
			}
			n.data.Message = msg
		}

		c, complete, err := n.data.Message.Append(b)
		if err != nil {
			p.finish(n, StateError, err)
			return false
		}
		if c < 0 || c > len(b) || (!complete && c != len(b)) {
			p.finish(n, StateError, ErrIncompleteAppend)
			return false
		}
		b = b[c:]
		if !complete {
			break
		}

		data := n.data
		n.data.Message = nil
		if !p.emit(n, data) {
			return false
		}
	}
	return true
}

func (p *Poller) handleWrite(n *node) {
	for len(n.data.Buffers) != 0 {
		nw, err := writev(n.data.FD, n.data.Buffers)
		if err != nil {
			retry, err := readErr(err)
			if retry {
				continue
			}
			if err != nil {
				p.finish(n, StateError, err)
			}
			return
		}

		n.data.Buffers = consumeBuffers(n.data.Buffers, nw)

		if nw > 0 && len(n.data.Buffers) != 0 && p.params.PartialWritten != nil {
			if err := p.params.PartialWritten(nw, n.data.Context); err != nil {
				p.finish(n, StateError, err)
				return
			}
		}
	}
	p.finish(n, StateFinished, nil)
}

// consumeBuffers discards the first n bytes of bufs, dropping any buffers
// that become empty.
func consumeBuffers(bufs [][]byte, n int) [][]byte {
	for len(bufs) != 0 && n >= len(bufs[0]) {
		n -= len(bufs[0])
		bufs[0] = nil
		bufs = bufs[1:]
	}
	if len(bufs) != 0 {
		bufs[0] = bufs[0][n:]
	}
	return bufs
}

func (p *Poller) handleListen(n *node) {
	for {
		fd, sa, err := accept(n.data.FD)
		if err != nil {
			switch err {
			case unix.EINTR, unix.ECONNABORTED:
				continue
			case unix.EAGAIN:
			default:
				p.finish(n, StateError, err)
			}
			return
		}

		value, err := n.data.Accept(fd, sa, n.data.Context)
		if err != nil {
			_ = unix.Close(fd)
			p.logger.Debug().
				Err(err).
				Int(`fd`, n.data.FD).
				Log(`reactor: accept callback rejected connection`)
			continue
		}

		data := n.data
		data.Value = value
		if !p.emit(n, data) {
			return
		}
	}
}

func (p *Poller) handleConnect(n *node) {
	errno, err := unix.GetsockoptInt(n.data.FD, unix.SOL_SOCKET, unix.SO_ERROR)
	if err == nil && errno != 0 {
		err = unix.Errno(errno)
	}
	if err != nil {
		p.finish(n, StateError, err)
		return
	}
	p.finish(n, StateFinished, nil)
}

func (p *Poller) handleEvent(n *node) {
	var b [8]byte
	for {
		nr, err := unix.Read(n.data.FD, b[:])
		if err != nil {
			retry, err := readErr(err)
			if retry {
				continue
			}
			if err != nil {
				p.finish(n, StateError, err)
			}
			return
		}
		if nr == 0 {
			p.finish(n, StateFinished, nil)
			return
		}
		if nr != len(b) {
			p.finish(n, StateError, io.ErrUnexpectedEOF)
			return
		}

		for count := binary.NativeEndian.Uint64(b[:]); count != 0; count-- {
			value, err := n.data.Event(n.data.Context)
			if err != nil {
				p.finish(n, StateError, err)
				return
			}
			data := n.data
			data.Value = value
			if !p.emit(n, data) {
				return
			}
		}
	}
}

func (p *Poller) handleNotify(n *node) {
	for {
		nr, err := unix.Read(n.data.FD, p.buf)
		if err != nil {
			retry, err := readErr(err)
			if retry {
				continue
			}
			if err != nil {
				p.finish(n, StateError, err)
			}
			return
		}
		if nr == 0 {
			p.finish(n, StateFinished, nil)
			return
		}

		for b := p.buf[:nr]; len(b) != 0; {
			c := copy(n.notify[n.notifyN:], b)
			b = b[c:]
			n.notifyN += c
			if n.notifyN != len(n.notify) {
				break
			}
			n.notifyN = 0

			value, err := n.data.Notify(binary.NativeEndian.Uint64(n.notify[:]), n.data.Context)
			if err != nil {
				p.finish(n, StateError, err)
				return
			}
			data := n.data
			data.Value = value
			if !p.emit(n, data) {
				return
			}
		}
	}
}

//go:build linux || darwin

package main

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// listen opens a non-blocking TCP listener, returning the fd, and the bound
// address.
func listen(address string) (int, net.Addr, error) {
	tcp, err := net.ResolveTCPAddr(`tcp`, address)
	if err != nil {
		return -1, nil, err
	}

	var (
		domain = unix.AF_INET
		sa     unix.Sockaddr
	)
	if ip4 := tcp.IP.To4(); tcp.IP == nil || ip4 != nil {
		v := &unix.SockaddrInet4{Port: tcp.Port}
		if ip4 != nil {
			copy(v.Addr[:], ip4)
		}
		sa = v
	} else {
		domain = unix.AF_INET6
		v := &unix.SockaddrInet6{Port: tcp.Port}
		copy(v.Addr[:], tcp.IP.To16())
		sa = v
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, nil, fmt.Errorf(`socket: %w`, err)
	}
	unix.CloseOnExec(fd)

	if err := func() error {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return fmt.Errorf(`setsockopt: %w`, err)
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			return fmt.Errorf(`set nonblock: %w`, err)
		}
		if err := unix.Bind(fd, sa); err != nil {
			return fmt.Errorf(`bind %s: %w`, address, err)
		}
		if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
			return fmt.Errorf(`listen: %w`, err)
		}
		return nil
	}(); err != nil {
		_ = unix.Close(fd)
		return -1, nil, err
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return -1, nil, fmt.Errorf(`getsockname: %w`, err)
	}

	return fd, sockaddrToTCP(bound), nil
}

func sockaddrToTCP(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]).To16(), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}
	default:
		return nil
	}
}

//go:build linux

package transport

import (
	"net"

	"golang.org/x/sys/unix"
)

// forceSendBuffer uses SO_SNDBUFFORCE, which ignores the wmem sysctl
// limit but requires CAP_NET_ADMIN.
func forceSendBuffer(conn *net.UDPConn, size int) error {
	return setsockoptForce(conn, unix.SO_SNDBUFFORCE, size)
}

// forceRecvBuffer uses SO_RCVBUFFORCE; see forceSendBuffer.
func forceRecvBuffer(conn *net.UDPConn, size int) error {
	return setsockoptForce(conn, unix.SO_RCVBUFFORCE, size)
}

func setsockoptForce(conn *net.UDPConn, opt, size int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, opt, size)
	})
	if err == nil {
		err = sockErr
	}
	return err
}

//go:build !windows

package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

func getBufferSizes(conn *net.UDPConn) (send, recv int, err error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, 0, err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		send, sockErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF)
		if sockErr != nil {
			return
		}
		recv, sockErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
	})
	if err == nil {
		err = sockErr
	}
	if err != nil {
		return 0, 0, fmt.Errorf("get socket buffer sizes: %w", err)
	}
	return send, recv, nil
}

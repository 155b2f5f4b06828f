//go:build windows

package transport

import (
	"net"
	"unsafe"

	"golang.org/x/sys/windows"
)

func getBufferSizes(conn *net.UDPConn) (send, recv int, err error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, 0, err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		send, sockErr = getsockoptInt(windows.Handle(fd), windows.SO_SNDBUF)
		if sockErr != nil {
			return
		}
		recv, sockErr = getsockoptInt(windows.Handle(fd), windows.SO_RCVBUF)
	})
	if err == nil {
		err = sockErr
	}
	return send, recv, err
}

func getsockoptInt(h windows.Handle, opt int) (int, error) {
	var v int32
	l := int32(unsafe.Sizeof(v))
	err := windows.Getsockopt(h, windows.SOL_SOCKET, int32(opt), (*byte)(unsafe.Pointer(&v)), &l)
	return int(v), err
}

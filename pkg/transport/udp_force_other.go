//go:build !linux

package transport

import "net"

// Only Linux has the privileged SO_SNDBUFFORCE/SO_RCVBUFFORCE options;
// elsewhere the normal setsockopt path is all there is.

func forceSendBuffer(*net.UDPConn, int) error { return nil }

func forceRecvBuffer(*net.UDPConn, int) error { return nil }

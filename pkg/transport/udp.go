// Package transport builds the QUIC endpoint: a UDP socket bound
// within the negotiated port range, kernel buffers sized for the
// bandwidth-delay product, and a TLS configuration pinned to the exact
// peer identity delivered over the control channel.
package transport

import (
	"fmt"
	"net"

	"github.com/crazyscot/qcp-sub001/internal/logger"
	"github.com/crazyscot/qcp-sub001/pkg/protocol"
)

// BindUDP binds a UDP socket to the unspecified address for the given
// address family, trying ports ascending within the range. A default
// range means any ephemeral port.
func BindUDP(family protocol.ConnectionType, portRange protocol.PortRange) (*net.UDPConn, error) {
	network := "udp4"
	var ip net.IP = net.IPv4zero
	if family == protocol.ConnectionIPv6 {
		network = "udp6"
		ip = net.IPv6unspecified
	}

	if portRange.Begin == portRange.End {
		conn, err := net.ListenUDP(network, &net.UDPAddr{IP: ip, Port: int(portRange.Begin)})
		if err != nil {
			return nil, fmt.Errorf("bind udp port %d: %w", portRange.Begin, err)
		}
		return conn, nil
	}
	for port := int(portRange.Begin); port <= int(portRange.End); port++ {
		conn, err := net.ListenUDP(network, &net.UDPAddr{IP: ip, Port: port})
		if err == nil {
			logger.Debug("bound endpoint", "port", port)
			return conn, nil
		}
	}
	return nil, fmt.Errorf("failed to bind a udp port in range %s", portRange)
}

// LocalPort reports the port a bound socket landed on.
func LocalPort(conn *net.UDPConn) uint16 {
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return uint16(addr.Port)
	}
	return 0
}

// BufferResult reports what buffer sizing achieved. Endpoint creation
// never fails for buffer reasons alone; Warning carries the advisory
// when the kernel would not give us what we asked for.
type BufferResult struct {
	OK      bool
	Send    int
	Recv    int
	Warning string
}

// SetBufferSizes raises the socket buffers towards the requested sizes.
// The normal setsockopt is tried first; if the kernel clamps it, the
// privileged *FORCE variant is attempted. Shortfall is reported, not
// fatal.
func SetBufferSizes(conn *net.UDPConn, wantedSend, wantedRecv int) (BufferResult, error) {
	send, recv, err := getBufferSizes(conn)
	if err != nil {
		return BufferResult{}, err
	}
	logger.Debug("system default socket buffer sizes", "send", send, "recv", recv)
	if wantedSend == 0 {
		wantedSend = send
	}
	if wantedRecv == 0 {
		wantedRecv = recv
	}

	if send < wantedSend {
		_ = conn.SetWriteBuffer(wantedSend)
		send, _, err = getBufferSizes(conn)
		if err != nil {
			return BufferResult{}, err
		}
	}
	if send < wantedSend {
		if ferr := forceSendBuffer(conn, wantedSend); ferr != nil {
			logger.Debug("forced send buffer rejected", "err", ferr)
		}
	}
	if recv < wantedRecv {
		_ = conn.SetReadBuffer(wantedRecv)
		_, recv, err = getBufferSizes(conn)
		if err != nil {
			return BufferResult{}, err
		}
	}
	if recv < wantedRecv {
		if ferr := forceRecvBuffer(conn, wantedRecv); ferr != nil {
			logger.Debug("forced recv buffer rejected", "err", ferr)
		}
	}

	send, recv, err = getBufferSizes(conn)
	if err != nil {
		return BufferResult{}, err
	}
	result := BufferResult{OK: true, Send: send, Recv: recv}
	if send < wantedSend || recv < wantedRecv {
		result.OK = false
		result.Warning = fmt.Sprintf(
			"Unable to set UDP buffer sizes (send wanted %d, got %d; receive wanted %d, got %d). This may affect performance.",
			wantedSend, send, wantedRecv, recv)
		logger.Warn("udp buffer sizing fell short", "send", send, "recv", recv)
	} else {
		logger.Debug("udp buffer sizes set", "send", send, "recv", recv)
	}
	return result, nil
}

package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/logging"

	"github.com/crazyscot/qcp-sub001/internal/logger"
	"github.com/crazyscot/qcp-sub001/pkg/config"
	"github.com/crazyscot/qcp-sub001/pkg/credentials"
	"github.com/crazyscot/qcp-sub001/pkg/protocol"
)

// Transport timeouts not subject to negotiation.
const (
	idleTimeout     = 30 * time.Second
	keepAlivePeriod = 10 * time.Second
)

// QuicConfig derives the transport configuration from the negotiated
// parameters. The stream and connection receive windows are sized to
// the bandwidth-delay product so a single stream can keep the pipe
// full; the connection window gets headroom for a second concurrent
// stream.
//
// The negotiated congestion algorithm (logged here) and initial
// congestion window are carried in the configuration; the QUIC
// implementation exposes neither a controller selector nor an
// initial-window setting, so neither changes the connection.
func QuicConfig(cfg *config.Configuration, tracer func(context.Context, logging.Perspective, quic.ConnectionID) *logging.ConnectionTracer) *quic.Config {
	bdp := cfg.BandwidthDelayProduct()
	const minWindow = 2 * 1024 * 1024
	window := max(bdp, minWindow)

	qc := &quic.Config{
		MaxIdleTimeout:                 idleTimeout,
		KeepAlivePeriod:                keepAlivePeriod,
		InitialStreamReceiveWindow:     window,
		MaxStreamReceiveWindow:         window,
		InitialConnectionReceiveWindow: window * 3 / 2,
		MaxConnectionReceiveWindow:     window * 3 / 2,
		MaxIncomingStreams:             128,
		Tracer:                         tracer,
	}
	logger.Debug("transport config", "bdp", bdp, "stream_window", window,
		"congestion", cfg.Congestion)
	return qc
}

// Endpoint owns the UDP socket and the QUIC transport built on it.
type Endpoint struct {
	conn *net.UDPConn
	tr   *quic.Transport
	// BufferWarning is the advisory from socket buffer sizing, if any.
	BufferWarning string
}

// NewEndpoint binds a socket within portRange for the address family
// and applies buffer sizing per the configuration. Buffer shortfalls
// warn, never fail.
func NewEndpoint(cfg *config.Configuration, family protocol.ConnectionType, portRange protocol.PortRange) (*Endpoint, error) {
	conn, err := BindUDP(family, portRange)
	if err != nil {
		return nil, err
	}
	result, err := SetBufferSizes(conn, int(cfg.UDPSendBuffer), int(cfg.UDPRecvBuffer))
	if err != nil {
		// Sizing machinery failure is still only advisory.
		logger.Warn("could not inspect socket buffers", "err", err)
		result = BufferResult{}
	}
	return &Endpoint{
		conn:          conn,
		tr:            &quic.Transport{Conn: conn},
		BufferWarning: result.Warning,
	}, nil
}

// Port reports the bound local port, for the ServerMessage.
func (e *Endpoint) Port() uint16 { return LocalPort(e.conn) }

// Close releases the transport and socket.
func (e *Endpoint) Close() error {
	err := e.tr.Close()
	if cerr := e.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// Dial opens the QUIC connection to the server as negotiated: our
// credentials as client certificate, the pinned server identity as the
// sole trust anchor.
func (e *Endpoint) Dial(ctx context.Context, remote net.Addr, creds *credentials.Credentials, pin PeerPin, serverName string, qc *quic.Config) (quic.Connection, error) {
	conn, err := e.tr.Dial(ctx, remote, ClientTLS(creds, pin, serverName), qc)
	if err != nil {
		return nil, fmt.Errorf("quic dial %s: %w", remote, err)
	}
	return conn, nil
}

// Listen accepts exactly the one negotiated client, mirroring Dial.
func (e *Endpoint) Listen(creds *credentials.Credentials, pin PeerPin, qc *quic.Config) (*quic.Listener, error) {
	ln, err := e.tr.Listen(ServerTLS(creds, pin), qc)
	if err != nil {
		return nil, fmt.Errorf("quic listen: %w", err)
	}
	return ln, nil
}

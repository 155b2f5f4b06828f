// Package server is the remote end of a transfer: it is spawned over a
// shell session with its stdin/stdout as the control channel, performs
// the handshake, accepts one QUIC connection and serves session
// streams until the client closes, then reports statistics back over
// the control channel.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/crazyscot/qcp-sub001/internal/logger"
	"github.com/crazyscot/qcp-sub001/pkg/config"
	"github.com/crazyscot/qcp-sub001/pkg/control"
	"github.com/crazyscot/qcp-sub001/pkg/credentials"
	"github.com/crazyscot/qcp-sub001/pkg/metrics/prometheus"
	"github.com/crazyscot/qcp-sub001/pkg/session"
	"github.com/crazyscot/qcp-sub001/pkg/stats"
	"github.com/crazyscot/qcp-sub001/pkg/transport"
)

// acceptTimeout bounds the wait for the client's QUIC connection after
// the handshake advertises our port.
const acceptTimeout = 10 * time.Second

// Run serves one connection over the given control stream. It returns
// once the closedown report has been delivered (or the connection has
// failed terminally).
func Run(ctx context.Context, controlStream io.ReadWriteCloser, cfg *config.Configuration) error {
	creds, err := credentials.Generate()
	if err != nil {
		return err
	}
	ctrl := control.NewServer(control.NewChannel(controlStream), cfg, creds)

	n, err := ctrl.Negotiate(ctx)
	if err != nil {
		return err
	}
	runCfg := config.ServerView(cfg, n.FinalParams)

	endpoint, err := transport.NewEndpoint(runCfg, n.ConnectionType, n.PortRange)
	if err != nil {
		ctrl.Abort()
		return err
	}
	defer endpoint.Close()

	agg := stats.NewAggregator()
	pin := transport.PeerPin{Type: n.ClientCredType, Bytes: n.ClientCredBytes}
	listener, err := endpoint.Listen(creds, pin, transport.QuicConfig(runCfg, agg.Tracer()))
	if err != nil {
		ctrl.Abort()
		return err
	}
	defer listener.Close()

	if err := ctrl.SendServerMessage(n, endpoint.Port(), endpoint.BufferWarning); err != nil {
		return err
	}
	logger.Debug("listening", "port", endpoint.Port(), "compat", n.Compat.String())

	acceptCtx, cancel := context.WithTimeout(ctx, acceptTimeout)
	conn, err := listener.Accept(acceptCtx)
	cancel()
	if err != nil {
		ctrl.Abort()
		return fmt.Errorf("no connection from client: %w", err)
	}

	sess := &session.Session{
		Compat:  n.Compat,
		Config:  runCfg,
		Stats:   agg,
		Metrics: prometheus.NewTransferMetrics(),
	}
	serveStreams(ctx, sess, conn)

	agg.Finish()
	return ctrl.SendClosedown(agg.BuildReport())
}

// serveStreams accepts bidirectional streams until the client closes
// the connection, handling each in its own goroutine. Per-stream
// failures are logged and contained; only a connection-level error
// ends the loop.
func serveStreams(ctx context.Context, sess *session.Session, conn quic.Connection) {
	var wg sync.WaitGroup
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			var appErr *quic.ApplicationError
			switch {
			case errors.As(err, &appErr):
				logger.Debug("client closed connection", "code", appErr.ErrorCode)
			case errors.Is(err, context.Canceled):
				logger.Debug("server cancelled")
			default:
				logger.Error("connection error", "err", err)
			}
			break
		}
		logger.Debug("accepted stream", "id", stream.StreamID())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sess.Handle(ctx, stream); err != nil {
				logger.Error("stream handler failed", "err", err)
			}
		}()
	}
	// The closedown report must only be sent after every stream is done.
	wg.Wait()
}

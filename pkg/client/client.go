// Package client orchestrates a transfer from the initiating side:
// control-channel handshake over the supplied duplex stream, QUIC dial
// to the advertised port, the session command itself, and finally the
// closedown report.
package client

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/quic-go/quic-go"

	"github.com/crazyscot/qcp-sub001/internal/logger"
	"github.com/crazyscot/qcp-sub001/pkg/config"
	"github.com/crazyscot/qcp-sub001/pkg/control"
	"github.com/crazyscot/qcp-sub001/pkg/credentials"
	"github.com/crazyscot/qcp-sub001/pkg/metrics/prometheus"
	"github.com/crazyscot/qcp-sub001/pkg/protocol"
	"github.com/crazyscot/qcp-sub001/pkg/session"
	"github.com/crazyscot/qcp-sub001/pkg/stats"
	"github.com/crazyscot/qcp-sub001/pkg/transport"
)

// Client runs one copy job over one connection.
type Client struct {
	cfg   *config.Configuration
	debug bool
}

// New builds a client around a validated configuration.
func New(cfg *config.Configuration, debug bool) *Client {
	return &Client{cfg: cfg, debug: debug}
}

// Run executes the job. The controlStream is the pre-authenticated
// duplex stream to the remote server process (typically an ssh
// subprocess); it is closed before returning.
func (c *Client) Run(ctx context.Context, controlStream io.ReadWriteCloser, job *CopyJob) (stats.Summary, error) {
	var summary stats.Summary

	creds, err := credentials.Generate()
	if err != nil {
		return summary, err
	}

	ch := control.NewChannel(controlStream)
	defer ch.Close()

	outcome, err := ch.ClientHandshake(ctx, creds, c.cfg, c.debug)
	if err != nil {
		return summary, fmt.Errorf("control channel: %w", err)
	}

	remoteAddr, family, err := resolveRemote(job.Remote().Host, outcome.ServerPort, c.cfg)
	if err != nil {
		return summary, err
	}

	agg := stats.NewAggregator()
	endpoint, err := transport.NewEndpoint(c.cfg, family, c.cfg.Port)
	if err != nil {
		return summary, err
	}
	defer endpoint.Close()

	pin := transport.PeerPin{Type: outcome.ServerCredType, Bytes: outcome.ServerCredBytes}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	conn, err := endpoint.Dial(dialCtx, remoteAddr, creds, pin, job.Remote().Host, transport.QuicConfig(c.cfg, agg.Tracer()))
	cancel()
	if err != nil {
		return summary, err
	}
	logger.Debug("quic connection established", "remote", remoteAddr)

	sess := &session.Session{
		Compat:  outcome.Compat,
		Config:  c.cfg,
		Stats:   agg,
		Metrics: prometheus.NewTransferMetrics(),
	}
	jobErr := c.runJob(ctx, sess, conn, job)

	conn.CloseWithError(0, "")
	agg.Finish()
	_ = endpoint.Close()

	report, reportErr := ch.AwaitClosedown(ctx, c.cfg)
	if reportErr != nil {
		logger.Warn("no closedown report from server", "err", reportErr)
		report = nil
	}
	summary = agg.Summarize(report, c.cfg.Rtt())
	return summary, jobErr
}

func (c *Client) runJob(ctx context.Context, sess *session.Session, conn quic.Connection, job *CopyJob) error {
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	if job.IsGet() {
		dest, err := sess.SendGet(ctx, stream, job.Source.Path, job.Destination.Path, job.Preserve)
		if err != nil {
			return err
		}
		logger.Info("received", "file", dest)
		return nil
	}
	if err := sess.SendPut(ctx, stream, job.Source.Path, job.Destination.Path, job.Preserve); err != nil {
		return err
	}
	logger.Info("sent", "file", job.Source.Path)
	return nil
}

// resolveRemote turns the remote host name plus the advertised port
// into a dialable address, honouring the configured address family.
func resolveRemote(host string, port uint16, cfg *config.Configuration) (net.Addr, protocol.ConnectionType, error) {
	network := "udp"
	switch cfg.AddressFamily {
	case "4":
		network = "udp4"
	case "6":
		network = "udp6"
	}
	addr, err := net.ResolveUDPAddr(network, fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, 0, fmt.Errorf("resolve %s: %w", host, err)
	}
	family := protocol.ConnectionIPv4
	if addr.IP.To4() == nil {
		family = protocol.ConnectionIPv6
	}
	return addr, family, nil
}

package control

import (
	"context"
	"fmt"

	"github.com/crazyscot/qcp-sub001/internal/logger"
	"github.com/crazyscot/qcp-sub001/pkg/config"
	"github.com/crazyscot/qcp-sub001/pkg/credentials"
	"github.com/crazyscot/qcp-sub001/pkg/protocol"
)

// ClientOutcome is everything the client learns from the handshake.
type ClientOutcome struct {
	// Compat is the negotiated compatibility level.
	Compat protocol.Compatibility
	// ServerPort is the UDP port the server is listening on.
	ServerPort uint16
	// ServerCredType and ServerCredBytes pin the server's identity for
	// the QUIC handshake.
	ServerCredType  protocol.CredentialsType
	ServerCredBytes []byte
	// Warning is an advisory message from the server, if any.
	Warning string
}

// ClientHandshake drives the client side of the control channel:
// greeting exchange, then ClientMessage/ServerMessage. On success the
// supplied Configuration has been updated with the negotiated final
// parameters and the returned outcome carries the server's identity.
func (c *Channel) ClientHandshake(ctx context.Context, creds *credentials.Credentials, cfg *config.Configuration, debug bool) (*ClientOutcome, error) {
	greeting := protocol.ClientGreeting{
		Compatibility: protocol.OurCompatibilityLevel,
		Debug:         debug,
	}
	if err := greeting.Encode(c.rw); err != nil {
		return nil, fmt.Errorf("send greeting: %w", err)
	}

	var serverGreeting protocol.ServerGreeting
	err := c.withTimeout(ctx, cfg.Timeout(), func() error {
		var err error
		serverGreeting, err = protocol.DecodeServerGreeting(c.rw)
		return err
	})
	if err != nil {
		return nil, err
	}
	compat, err := negotiated(serverGreeting.Compatibility)
	if err != nil {
		return nil, err
	}
	logger.Debug("greetings exchanged", "ours", protocol.OurCompatibilityLevel,
		"theirs", serverGreeting.Compatibility, "negotiated", compat.String())

	msg, err := buildClientMessage(creds, cfg, compat)
	if err != nil {
		return nil, err
	}
	if err := c.writeFramed(msg); err != nil {
		return nil, fmt.Errorf("send client message: %w", err)
	}

	var reply protocol.ServerMessage
	if err := c.readFramed(ctx, cfg.Timeout(), &reply); err != nil {
		return nil, fmt.Errorf("read server message: %w", err)
	}
	credType, credBytes, err := reply.Credentials()
	if err != nil {
		return nil, err
	}
	if len(credBytes) == 0 {
		return nil, fmt.Errorf("server sent empty credentials")
	}

	if reply.V2 != nil {
		cfg.Apply(reply.V2.Params)
	}
	if w := reply.WarningValue(); w != "" {
		logger.Warn("remote advisory", "message", w)
	}

	return &ClientOutcome{
		Compat:          compat,
		ServerPort:      reply.PortValue(),
		ServerCredType:  credType,
		ServerCredBytes: credBytes,
		Warning:         reply.WarningValue(),
	}, nil
}

// AwaitClosedown reads the server's final statistics report. It is
// called after the QUIC session has fully closed.
func (c *Channel) AwaitClosedown(ctx context.Context, cfg *config.Configuration) (*protocol.ClosedownReportV1, error) {
	var report protocol.ClosedownReport
	if err := c.readFramed(ctx, cfg.Timeout(), &report); err != nil {
		return nil, fmt.Errorf("read closedown report: %w", err)
	}
	return report.V1, nil
}

func buildClientMessage(creds *credentials.Credentials, cfg *config.Configuration, compat protocol.Compatibility) (*protocol.ClientMessage, error) {
	params := cfg.ToTransferParams()
	if f, gated := params.Congestion.RequiredFeature(); gated && !compat.Supports(f) {
		return nil, fmt.Errorf("congestion algorithm %s requires feature %s, not supported by remote", params.Congestion, f.Symbol)
	}
	connType := cfg.ConnectionType()

	if compat.Supports(protocol.FeatureCmsgSmsg2) {
		td, err := creds.ToTaggedData(compat, cfg.CredentialsTypeTag())
		if err != nil {
			return nil, err
		}
		return &protocol.ClientMessage{V2: &protocol.ClientMessageV2{
			Credentials:    td,
			ConnectionType: connType,
			PortRange:      cfg.RemotePort,
			Params:         params,
		}}, nil
	}

	if cfg.CredentialsTypeTag() == protocol.CredentialsRawPublicKey {
		return nil, fmt.Errorf("RawPublicKey credentials configured, but not supported by remote")
	}
	return &protocol.ClientMessage{V1: &protocol.ClientMessageV1{
		Cert:           creds.CertDER,
		ConnectionType: connType,
		PortRange:      cfg.RemotePort,
		Params:         params,
	}}, nil
}

package control

import (
	"context"
	"fmt"

	"github.com/crazyscot/qcp-sub001/internal/logger"
	"github.com/crazyscot/qcp-sub001/pkg/config"
	"github.com/crazyscot/qcp-sub001/pkg/credentials"
	"github.com/crazyscot/qcp-sub001/pkg/protocol"
)

// ServerState tracks the server-side handshake state machine:
// AwaitGreeting -> AwaitClientMessage -> Running -> Reporting -> Closed.
// Any IO or protocol error transitions straight to Closed.
type ServerState int

const (
	StateAwaitGreeting ServerState = iota
	StateAwaitClientMessage
	StateRunning
	StateReporting
	StateClosed
)

func (s ServerState) String() string {
	switch s {
	case StateAwaitGreeting:
		return "AwaitGreeting"
	case StateAwaitClientMessage:
		return "AwaitClientMessage"
	case StateRunning:
		return "Running"
	case StateReporting:
		return "Reporting"
	case StateClosed:
		return "Closed"
	}
	return "?"
}

// Server is the server end of the control channel.
type Server struct {
	ch    *Channel
	cfg   *config.Configuration
	creds *credentials.Credentials
	state ServerState
}

// NewServer wraps a channel for the server role.
func NewServer(ch *Channel, cfg *config.Configuration, creds *credentials.Credentials) *Server {
	return &Server{ch: ch, cfg: cfg, creds: creds}
}

// State exposes the machine state, chiefly for tests and logging.
func (s *Server) State() ServerState { return s.state }

// Negotiation is everything the server learns before it binds its
// endpoint.
type Negotiation struct {
	Compat protocol.Compatibility
	// Debug is the client's request for remote debug output.
	Debug bool
	// ClientCredType and ClientCredBytes pin the client's identity.
	ClientCredType  protocol.CredentialsType
	ClientCredBytes []byte
	// ConnectionType is the address family the client will dial over.
	ConnectionType protocol.ConnectionType
	// PortRange is the combined (ours ∩ theirs) bind range.
	PortRange protocol.PortRange
	// FinalParams is what the server will echo in its ServerMessage.
	FinalParams protocol.TransferParams
}

// Negotiate runs the receive side of the handshake: the greeting
// exchange and the ClientMessage. Each wait is bounded by the
// configured handshake timeout so a stalled peer cannot hold the
// process open.
func (s *Server) Negotiate(ctx context.Context) (*Negotiation, error) {
	out, err := s.negotiate(ctx)
	if err != nil {
		s.state = StateClosed
		_ = s.ch.Close()
		return nil, err
	}
	return out, nil
}

func (s *Server) negotiate(ctx context.Context) (*Negotiation, error) {
	s.state = StateAwaitGreeting
	var clientGreeting protocol.ClientGreeting
	err := s.ch.withTimeout(ctx, s.cfg.Timeout(), func() error {
		var err error
		clientGreeting, err = protocol.DecodeClientGreeting(s.ch.rw)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("await greeting: %w", err)
	}

	reply := protocol.ServerGreeting{Compatibility: protocol.OurCompatibilityLevel}
	if err := reply.Encode(s.ch.rw); err != nil {
		return nil, fmt.Errorf("send greeting: %w", err)
	}
	compat, err := negotiated(clientGreeting.Compatibility)
	if err != nil {
		return nil, err
	}
	logger.Debug("greetings exchanged", "theirs", clientGreeting.Compatibility,
		"negotiated", compat.String(), "debug", clientGreeting.Debug)

	s.state = StateAwaitClientMessage
	var msg protocol.ClientMessage
	if err := s.ch.readFramed(ctx, s.cfg.Timeout(), &msg); err != nil {
		return nil, fmt.Errorf("await client message: %w", err)
	}

	credType, credBytes, err := msg.Credentials()
	if err != nil {
		return nil, err
	}
	if len(credBytes) == 0 {
		return nil, fmt.Errorf("client sent empty credentials")
	}
	if credType == protocol.CredentialsRawPublicKey && !compat.Supports(protocol.FeatureCmsgSmsg2) {
		return nil, fmt.Errorf("client sent RawPublicKey credentials below feature level %d", protocol.FeatureCmsgSmsg2.RequiredLevel)
	}

	var connType protocol.ConnectionType
	var theirRange protocol.PortRange
	var params protocol.TransferParams
	switch {
	case msg.V1 != nil:
		connType, theirRange, params = msg.V1.ConnectionType, msg.V1.PortRange, msg.V1.Params
	case msg.V2 != nil:
		connType, theirRange, params = msg.V2.ConnectionType, msg.V2.PortRange, msg.V2.Params
	}

	combined, err := s.cfg.Port.Combine(theirRange)
	if err != nil {
		return nil, err
	}
	final, err := config.Negotiate(s.cfg, params, compat)
	if err != nil {
		return nil, err
	}

	return &Negotiation{
		Compat:          compat,
		Debug:           clientGreeting.Debug,
		ClientCredType:  credType,
		ClientCredBytes: credBytes,
		ConnectionType:  connType,
		PortRange:       combined,
		FinalParams:     final,
	}, nil
}

// SendServerMessage completes the handshake once the endpoint is bound:
// it advertises the chosen port and the final parameters, then enters
// Running.
func (s *Server) SendServerMessage(n *Negotiation, port uint16, warning string) error {
	var msg protocol.ServerMessage
	if n.Compat.Supports(protocol.FeatureCmsgSmsg2) {
		td, err := s.creds.ToTaggedData(n.Compat, s.cfg.CredentialsTypeTag())
		if err != nil {
			s.state = StateClosed
			return err
		}
		msg = protocol.ServerMessage{V2: &protocol.ServerMessageV2{
			Credentials: td,
			Port:        port,
			Name:        s.creds.Hostname,
			Params:      n.FinalParams,
			Warning:     warning,
		}}
	} else {
		msg = protocol.ServerMessage{V1: &protocol.ServerMessageV1{
			Cert:    s.creds.CertDER,
			Port:    port,
			Name:    s.creds.Hostname,
			Warning: warning,
		}}
	}
	if err := s.ch.writeFramed(&msg); err != nil {
		s.state = StateClosed
		return fmt.Errorf("send server message: %w", err)
	}
	s.state = StateRunning
	return nil
}

// SendClosedown delivers the final statistics report and closes the
// machine. It must only be called after every session stream has
// finished.
func (s *Server) SendClosedown(report *protocol.ClosedownReportV1) error {
	s.state = StateReporting
	err := s.ch.writeFramed(&protocol.ClosedownReport{V1: report})
	s.state = StateClosed
	if err != nil {
		return fmt.Errorf("send closedown report: %w", err)
	}
	return nil
}

// Abort closes the channel from any state, signalling the stream
// provider to tear down its subprocess.
func (s *Server) Abort() {
	s.state = StateClosed
	_ = s.ch.Close()
}

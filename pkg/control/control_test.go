package control

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crazyscot/qcp-sub001/pkg/config"
	"github.com/crazyscot/qcp-sub001/pkg/credentials"
	"github.com/crazyscot/qcp-sub001/pkg/protocol"
)

func testCreds(t *testing.T) *credentials.Credentials {
	t.Helper()
	c, err := credentials.Generate()
	require.NoError(t, err)
	return c
}

// runHandshake drives both ends over a pipe and returns both outcomes.
func runHandshake(t *testing.T, clientCfg, serverCfg *config.Configuration) (*ClientOutcome, *Negotiation, *Server) {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	t.Cleanup(func() { _ = clientEnd.Close(); _ = serverEnd.Close() })

	clientCreds := testCreds(t)
	serverCreds := testCreds(t)
	server := NewServer(NewChannel(serverEnd), serverCfg, serverCreds)

	type serverResult struct {
		n   *Negotiation
		err error
	}
	serverDone := make(chan serverResult, 1)
	go func() {
		n, err := server.Negotiate(context.Background())
		if err == nil {
			err = server.SendServerMessage(n, 12345, "")
		}
		serverDone <- serverResult{n, err}
	}()

	outcome, err := NewChannel(clientEnd).ClientHandshake(context.Background(), clientCreds, clientCfg, false)
	require.NoError(t, err)
	sr := <-serverDone
	require.NoError(t, sr.err)
	return outcome, sr.n, server
}

func TestHandshake(t *testing.T) {
	clientCfg := config.SystemDefault()
	serverCfg := config.SystemDefault()

	outcome, n, server := runHandshake(t, clientCfg, serverCfg)

	// Both ends land on our own level and agree.
	assert.Equal(t, protocol.Level(protocol.OurCompatibilityLevel), outcome.Compat)
	assert.Equal(t, outcome.Compat, n.Compat)
	assert.Equal(t, uint16(12345), outcome.ServerPort)
	assert.Equal(t, StateRunning, server.State())

	// At level >= 3 both sides use raw public keys by default.
	assert.Equal(t, protocol.CredentialsRawPublicKey, outcome.ServerCredType)
	assert.Equal(t, protocol.CredentialsRawPublicKey, n.ClientCredType)
	assert.NotEmpty(t, outcome.ServerCredBytes)
	assert.NotEmpty(t, n.ClientCredBytes)

	// The client adopted the server's final parameters.
	assert.Equal(t, n.FinalParams.RttMs, clientCfg.RttMs)
}

func TestHandshakePortRangeCombination(t *testing.T) {
	clientCfg := config.SystemDefault()
	clientCfg.RemotePort = protocol.PortRange{Begin: 10000, End: 10050}
	serverCfg := config.SystemDefault()
	serverCfg.Port = protocol.PortRange{Begin: 10040, End: 10100}

	_, n, _ := runHandshake(t, clientCfg, serverCfg)
	assert.Equal(t, protocol.PortRange{Begin: 10040, End: 10050}, n.PortRange)
}

func TestHandshakeDisjointPortRanges(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	t.Cleanup(func() { _ = clientEnd.Close(); _ = serverEnd.Close() })

	clientCfg := config.SystemDefault()
	clientCfg.RemotePort = protocol.PortRange{Begin: 1000, End: 1010}
	serverCfg := config.SystemDefault()
	serverCfg.Port = protocol.PortRange{Begin: 2000, End: 2010}

	server := NewServer(NewChannel(serverEnd), serverCfg, testCreds(t))
	errCh := make(chan error, 1)
	go func() {
		_, err := server.Negotiate(context.Background())
		errCh <- err
	}()

	_, clientErr := NewChannel(clientEnd).ClientHandshake(context.Background(), testCreds(t), clientCfg, false)
	serverErr := <-errCh
	require.Error(t, serverErr)
	assert.Contains(t, serverErr.Error(), "port range")
	assert.Equal(t, StateClosed, server.State())
	// The server tore the channel down, so the client fails too.
	assert.Error(t, clientErr)
}

func TestServerTimesOutAwaitingGreeting(t *testing.T) {
	_, serverEnd := net.Pipe() // client never speaks

	serverCfg := config.SystemDefault()
	serverCfg.TimeoutSeconds = 1
	server := NewServer(NewChannel(serverEnd), serverCfg, testCreds(t))

	start := time.Now()
	_, err := server.Negotiate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, StateClosed, server.State())
}

func TestServerRejectsZeroCompatibility(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	t.Cleanup(func() { _ = clientEnd.Close(); _ = serverEnd.Close() })

	server := NewServer(NewChannel(serverEnd), config.SystemDefault(), testCreds(t))
	errCh := make(chan error, 1)
	go func() {
		_, err := server.Negotiate(context.Background())
		errCh <- err
	}()

	g := protocol.ClientGreeting{Compatibility: 0}
	require.NoError(t, g.Encode(clientEnd))
	// Drain the server greeting so the pipe is not blocked.
	go func() { _, _ = protocol.DecodeServerGreeting(clientEnd) }()

	err := <-errCh
	assert.ErrorIs(t, err, ErrIncompatiblePeer)
}

func TestClientTreatsNewerServerAsNewer(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	t.Cleanup(func() { _ = clientEnd.Close(); _ = serverEnd.Close() })

	cfg := config.SystemDefault()
	outcomeCh := make(chan *ClientOutcome, 1)
	errCh := make(chan error, 1)
	go func() {
		o, err := NewChannel(clientEnd).ClientHandshake(context.Background(), testCreds(t), cfg, false)
		outcomeCh <- o
		errCh <- err
	}()

	// Hand-roll a futuristic server end.
	_, err := protocol.DecodeClientGreeting(serverEnd)
	require.NoError(t, err)
	g := protocol.ServerGreeting{Compatibility: protocol.OurCompatibilityLevel + 10}
	require.NoError(t, g.Encode(serverEnd))

	serverCreds := testCreds(t)
	serverCfg := config.SystemDefault()
	server := NewServer(NewChannel(serverEnd), serverCfg, serverCreds)
	server.state = StateAwaitClientMessage
	var msg protocol.ClientMessage
	require.NoError(t, server.ch.readFramed(context.Background(), serverCfg.Timeout(), &msg))
	// The futuristic server clamps to our level; both sides then agree.
	n := &Negotiation{Compat: protocol.Level(protocol.OurCompatibilityLevel), FinalParams: serverCfg.ToTransferParams()}
	require.NoError(t, server.SendServerMessage(n, 2222, ""))

	require.NoError(t, <-errCh)
	outcome := <-outcomeCh
	// From the client's view the negotiated level is our own maximum.
	assert.Equal(t, protocol.Level(protocol.OurCompatibilityLevel), outcome.Compat)
}

func TestClosedownReportDelivery(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	t.Cleanup(func() { _ = clientEnd.Close(); _ = serverEnd.Close() })

	cfg := config.SystemDefault()
	server := NewServer(NewChannel(serverEnd), cfg, testCreds(t))
	server.state = StateRunning

	go func() {
		_ = server.SendClosedown(&protocol.ClosedownReportV1{SentBytes: 4242})
	}()

	report, err := NewChannel(clientEnd).AwaitClosedown(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, uint64(4242), report.SentBytes)
	assert.Equal(t, StateClosed, server.State())
}

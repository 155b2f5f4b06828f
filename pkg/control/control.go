// Package control implements the two-phase control-channel handshake:
// greeting exchange, then credentials/parameters exchange, concluded
// after the QUIC session by the server's closedown report.
//
// The channel runs over any ordered, reliable, 8-bit-clean duplex byte
// stream; in production that is the stdin/stdout of a spawned remote
// shell process, in tests a net.Pipe. The stream is trusted: it is the
// root of trust for the certificate pinning that secures the QUIC
// connection.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/crazyscot/qcp-sub001/pkg/protocol"
	"github.com/crazyscot/qcp-sub001/pkg/wire"
)

// ErrHandshakeTimeout is returned when the peer stalls during the
// handshake phases.
var ErrHandshakeTimeout = errors.New("control channel handshake timed out")

// ErrIncompatiblePeer is returned when version negotiation fails
// outright (the peer advertised nothing we can work with).
var ErrIncompatiblePeer = errors.New("peer protocol version is not compatible")

// Channel wraps the duplex stream with framed message IO and timeout
// handling. It is used by both ends; the client and server state
// machines live in their respective files.
type Channel struct {
	rw io.ReadWriteCloser
}

// NewChannel wraps a duplex stream.
func NewChannel(rw io.ReadWriteCloser) *Channel {
	return &Channel{rw: rw}
}

// Close tears the stream down. Safe to call more than once if the
// underlying stream tolerates it.
func (c *Channel) Close() error {
	return c.rw.Close()
}

// withTimeout runs fn, closing the stream if the deadline passes first
// so a blocked read unblocks. A generic io.Reader has no deadline of
// its own, so closing is the only portable cancel.
func (c *Channel) withTimeout(ctx context.Context, d time.Duration, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = c.rw.Close()
		<-done
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrHandshakeTimeout
		}
		return ctx.Err()
	}
}

func (c *Channel) readFramed(ctx context.Context, d time.Duration, m wire.Message) error {
	return c.withTimeout(ctx, d, func() error {
		return wire.ReadFramed(c.rw, m)
	})
}

func (c *Channel) writeFramed(m wire.Message) error {
	return wire.WriteFramed(c.rw, m)
}

// negotiated computes the compatibility state from a peer's advertised
// level. A peer advertising zero is unusable.
func negotiated(peerLevel uint16) (protocol.Compatibility, error) {
	peer := protocol.CompatibilityFrom(peerLevel)
	if !peer.IsKnown() {
		return protocol.CompatibilityUnknown, fmt.Errorf("%w: peer advertised level 0", ErrIncompatiblePeer)
	}
	return protocol.Combine(protocol.Level(protocol.OurCompatibilityLevel), peer), nil
}

// Package session implements the request/response protocol carried on
// each bidirectional QUIC stream, and the transfer engine that moves
// file bytes between the stream and the local file system.
//
// Every command occupies its own stream: the initiator writes a
// Command, the handler replies with a Response, and for the transfer
// commands a FileHeader / payload / FileTrailer sequence follows. The
// first side to detect a fatal condition sends a Response carrying the
// status and closes its send side; the connection as a whole survives
// per-stream errors.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/crazyscot/qcp-sub001/internal/logger"
	"github.com/crazyscot/qcp-sub001/pkg/config"
	"github.com/crazyscot/qcp-sub001/pkg/metrics"
	"github.com/crazyscot/qcp-sub001/pkg/protocol"
	"github.com/crazyscot/qcp-sub001/pkg/stats"
	"github.com/crazyscot/qcp-sub001/pkg/wire"
)

// Stream is the bidirectional byte stream a command runs over. A QUIC
// stream satisfies it: Close finishes the send side, reads drain until
// the peer finishes theirs.
type Stream = io.ReadWriteCloser

// Session carries the per-connection state every command needs.
type Session struct {
	Compat  protocol.Compatibility
	Config  *config.Configuration
	Stats   *stats.Aggregator
	Metrics *metrics.TransferMetrics
}

func (s *Session) recordPayload(n int) {
	if s.Stats != nil {
		s.Stats.RecordPayload(n)
	}
	s.Metrics.RecordPayloadBytes(n)
}

// Handle serves one incoming stream: reads the command, checks its
// feature gate, dispatches. A clean EOF before any command is an idle
// close, not an error.
func (s *Session) Handle(ctx context.Context, stream Stream) error {
	var cmd protocol.Command
	if err := wire.ReadFramed(stream, &cmd); err != nil {
		if errors.Is(err, io.EOF) {
			logger.Debug("stream closed before command; idle close")
			return nil
		}
		// Decode failures (oversize frame, unknown discriminant, short
		// read) are per-stream fatal: report and close this stream only.
		s.Metrics.RecordStreamError(protocol.StatusProtocolError)
		_ = sendError(stream, protocol.StatusProtocolError, err.Error())
		_ = stream.Close()
		return fmt.Errorf("read command: %w", err)
	}

	log := logger.With("cmd", cmd.Name())
	if gate, gated := commandFeature(&cmd); gated && !s.Compat.Supports(gate) {
		log.Warn("command not allowed at negotiated level", "feature", gate.Symbol)
		s.Metrics.RecordStreamError(protocol.StatusProtocolError)
		err := sendError(stream, protocol.StatusProtocolError,
			fmt.Sprintf("command %s requires feature %s", cmd.Name(), gate.Symbol))
		_ = stream.Close()
		return err
	}

	s.Metrics.RecordCommand(cmd.Name())
	log.Debug("handling command")

	var err error
	switch {
	case cmd.Get != nil:
		err = s.handleGet(ctx, stream, cmd.Get.Filename, nil)
	case cmd.Get2 != nil:
		err = s.handleGet(ctx, stream, cmd.Get2.Filename, cmd.Get2.Options)
	case cmd.Put != nil:
		err = s.handlePut(ctx, stream, cmd.Put.Filename, nil)
	case cmd.Put2 != nil:
		err = s.handlePut(ctx, stream, cmd.Put2.Filename, cmd.Put2.Options)
	case cmd.CreateDir != nil:
		err = s.handleCreateDirectory(stream, cmd.CreateDir)
	case cmd.SetMeta != nil:
		err = s.handleSetMetadata(stream, cmd.SetMeta)
	case cmd.List != nil:
		err = s.handleList(stream, cmd.List)
	default:
		err = fmt.Errorf("empty command")
	}
	if err != nil {
		log.Error("command handler failed", "err", err)
	}
	_ = stream.Close()
	return err
}

// commandFeature returns the feature gating a command, if any.
func commandFeature(cmd *protocol.Command) (protocol.Feature, bool) {
	switch {
	case cmd.Get2 != nil, cmd.Put2 != nil:
		return protocol.FeatureGet2Put2, true
	case cmd.CreateDir != nil, cmd.SetMeta != nil, cmd.List != nil:
		return protocol.FeatureMkdirSetmetaLs, true
	}
	return protocol.Feature{}, false
}

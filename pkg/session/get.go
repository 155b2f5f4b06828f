package session

import (
	"context"
	"fmt"
	"os"

	"github.com/crazyscot/qcp-sub001/internal/logger"
	"github.com/crazyscot/qcp-sub001/pkg/protocol"
	"github.com/crazyscot/qcp-sub001/pkg/wire"
)

// SendGet runs the client side of a Get: the remote file at remotePath
// lands at localDest (or inside it, if it is a directory). Returns the
// path actually written.
func (s *Session) SendGet(ctx context.Context, stream Stream, remotePath, localDest string, preserve bool) (string, error) {
	var cmd protocol.Command
	if s.Compat.Supports(protocol.FeatureGet2Put2) {
		cmd = protocol.Command{Get2: &protocol.Get2Args{
			Filename: remotePath,
			Options:  preserveOptions(s.Compat, preserve),
		}}
	} else {
		if preserve {
			logger.Warn("remote does not support metadata preservation; copying data only")
		}
		cmd = protocol.Command{Get: &protocol.GetArgs{Filename: remotePath}}
	}
	if err := wire.WriteFramed(stream, &cmd); err != nil {
		return "", err
	}
	if err := readResponse(stream); err != nil {
		return "", err
	}
	dest, err := s.receiveFile(ctx, stream, localDest, preserve)
	if err == errIdleClose {
		return "", fmt.Errorf("remote closed the stream without sending the file")
	}
	return dest, err
}

// handleGet is the server side: respond, then stream the file out.
func (s *Session) handleGet(ctx context.Context, stream Stream, filename string, options []wire.TaggedData) error {
	f, err := os.Open(filename)
	if err != nil {
		return reportError(stream, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return reportError(stream, err)
	}
	if info.IsDir() {
		return reportError(stream, statusError(protocol.StatusIoError, fmt.Sprintf("%s is a directory", filename)))
	}

	if err := sendOK(stream); err != nil {
		return err
	}
	preserve := protocol.HasPreserve(options) && s.Compat.Supports(protocol.FeaturePreserve)
	if err := s.sendFile(ctx, stream, f, info, preserve); err != nil {
		return fmt.Errorf("send %s: %w", filename, err)
	}
	return nil
}

// preserveOptions builds the option list for Get2/Put2, gated on the
// PRESERVE feature: a sender must not emit an option the peer cannot
// understand.
func preserveOptions(compat protocol.Compatibility, preserve bool) []wire.TaggedData {
	if !preserve || !compat.Supports(protocol.FeaturePreserve) {
		return nil
	}
	return []wire.TaggedData{wire.Tagged(protocol.ParamPreserveMetadata, wire.Empty())}
}

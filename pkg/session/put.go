package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/crazyscot/qcp-sub001/internal/logger"
	"github.com/crazyscot/qcp-sub001/pkg/protocol"
	"github.com/crazyscot/qcp-sub001/pkg/wire"
)

// SendPut runs the client side of a Put: the local file at localPath
// is written to remoteDest on the server (or inside it, if it is a
// directory there). The server validates the destination before any
// payload moves, so a bad path costs one round trip, not a transfer.
func (s *Session) SendPut(ctx context.Context, stream Stream, localPath, remoteDest string, preserve bool) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory (directory transfer is not supported)", localPath)
	}

	var cmd protocol.Command
	if s.Compat.Supports(protocol.FeatureGet2Put2) {
		cmd = protocol.Command{Put2: &protocol.Put2Args{
			Filename: remoteDest,
			Options:  preserveOptions(s.Compat, preserve),
		}}
	} else {
		if preserve {
			logger.Warn("remote does not support metadata preservation; copying data only")
		}
		cmd = protocol.Command{Put: &protocol.PutArgs{Filename: remoteDest}}
	}
	if err := wire.WriteFramed(stream, &cmd); err != nil {
		return err
	}
	if err := readResponse(stream); err != nil {
		return err
	}

	if err := s.sendFile(ctx, stream, f, info, preserve); err != nil {
		return err
	}
	// The final response confirms the file is closed on disk.
	return readResponse(stream)
}

// handlePut is the server side: validate the destination, invite the
// payload, then confirm once the file is safely on disk.
func (s *Session) handlePut(ctx context.Context, stream Stream, destPath string, options []wire.TaggedData) error {
	if err := validatePutDestination(destPath); err != nil {
		return reportError(stream, err)
	}
	if err := sendOK(stream); err != nil {
		return err
	}

	preserve := protocol.HasPreserve(options) && s.Compat.Supports(protocol.FeaturePreserve)
	dest, err := s.receiveFile(ctx, stream, destPath, preserve)
	if errors.Is(err, errIdleClose) {
		// The client went away without sending anything; nothing to do.
		return nil
	}
	if err != nil {
		return reportError(stream, err)
	}
	logger.Debug("put complete", "path", dest)
	return sendOK(stream)
}

// validatePutDestination applies the destination rules up front: an
// existing file or directory is fine, a missing path needs an existing
// parent directory, and a file in the directory position is refused.
func validatePutDestination(destPath string) error {
	state, err := probePath(destPath)
	if err != nil {
		return err
	}
	if state != pathMissing {
		return nil
	}
	parentState, err := probePath(filepath.Dir(destPath))
	if err != nil {
		return err
	}
	switch parentState {
	case pathIsDir:
		return nil
	case pathIsFile:
		return statusError(protocol.StatusItIsAFile,
			fmt.Sprintf("%s is a file, not a directory", filepath.Dir(destPath)))
	default:
		return statusError(protocol.StatusDirectoryDoesNotExist,
			fmt.Sprintf("directory %s does not exist", filepath.Dir(destPath)))
	}
}

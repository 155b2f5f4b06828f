package session

import (
	"fmt"
	"os"

	"github.com/crazyscot/qcp-sub001/pkg/protocol"
	"github.com/crazyscot/qcp-sub001/pkg/wire"
)

// SendCreateDirectory runs the client side of CreateDirectory.
// A trivial command: send, await the response.
func (s *Session) SendCreateDirectory(stream Stream, dirName string) error {
	if !s.Compat.Supports(protocol.FeatureMkdirSetmetaLs) {
		return fmt.Errorf("operation not supported by remote")
	}
	cmd := protocol.Command{CreateDir: &protocol.CreateDirectoryArgs{DirName: dirName}}
	if err := wire.WriteFramed(stream, &cmd); err != nil {
		return err
	}
	return readResponse(stream)
}

// handleCreateDirectory creates a single directory level. An already
// existing directory is not an error; an existing file is.
func (s *Session) handleCreateDirectory(stream Stream, args *protocol.CreateDirectoryArgs) error {
	state, err := probePath(args.DirName)
	if err != nil {
		return reportError(stream, err)
	}
	switch state {
	case pathIsFile:
		return reportError(stream, statusError(protocol.StatusItIsAFile, "directory target is a file"))
	case pathIsDir:
		// Already there: success.
	default:
		if err := os.Mkdir(args.DirName, 0o777); err != nil {
			return reportError(stream, err)
		}
	}
	return sendOK(stream)
}

package session

import (
	"fmt"
	"os"

	"github.com/crazyscot/qcp-sub001/pkg/protocol"
	"github.com/crazyscot/qcp-sub001/pkg/wire"
)

// SendSetMetadata runs the client side of SetMetadata, applying the
// given attribute list to an existing remote path.
func (s *Session) SendSetMetadata(stream Stream, path string, metadata []wire.TaggedData) error {
	if !s.Compat.Supports(protocol.FeatureMkdirSetmetaLs) {
		return fmt.Errorf("operation not supported by remote")
	}
	cmd := protocol.Command{SetMeta: &protocol.SetMetadataArgs{Path: path, Metadata: metadata}}
	if err := wire.WriteFramed(stream, &cmd); err != nil {
		return err
	}
	return readResponse(stream)
}

// handleSetMetadata applies mode and times to an existing path. The
// attributes arrive as the same tagged list the file trailer uses;
// unknown tags are ignored.
func (s *Session) handleSetMetadata(stream Stream, args *protocol.SetMetadataArgs) error {
	if _, err := os.Stat(args.Path); err != nil {
		return reportError(stream, err)
	}
	meta := collectMeta(nil, args.Metadata)
	// SetMetadata is explicit: the caller asked for these exact bits,
	// so the umask does not apply.
	if err := applyFinalMetadata(args.Path, meta, true, 0); err != nil {
		return reportError(stream, err)
	}
	return sendOK(stream)
}

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/crazyscot/qcp-sub001/internal/logger"
	"github.com/crazyscot/qcp-sub001/pkg/protocol"
	"github.com/crazyscot/qcp-sub001/pkg/wire"
)

// copyBufferSize is the unit of payload movement between file and
// stream.
const copyBufferSize = 1 << 20

// sendFile emits header, exactly size payload bytes, then trailer.
// The V2 header always carries the source mode so the receiver can
// apply umask semantics; the trailer carries mode and times only when
// preserving.
func (s *Session) sendFile(ctx context.Context, w io.Writer, f *os.File, info fs.FileInfo, preserve bool) error {
	size := uint64(info.Size())
	protocolName := filepath.Base(f.Name())

	var header *protocol.FileHeader
	if s.Compat.Supports(protocol.FeatureGet2Put2) {
		header = protocol.NewFileHeaderV2(size, protocolName, headerMetadata(info))
	} else {
		header = protocol.NewFileHeaderV1(size, protocolName)
	}
	if err := wire.WriteFramed(w, header); err != nil {
		return err
	}

	n, err := s.copyPayload(ctx, w, io.LimitReader(f, int64(size)))
	if err != nil {
		return err
	}
	if uint64(n) != size {
		return fmt.Errorf("file %s shrank during transfer: sent %d of %d bytes", protocolName, n, size)
	}

	var trailer protocol.FileTrailer
	if s.Compat.Supports(protocol.FeatureGet2Put2) {
		trailer = protocol.FileTrailer{V2: &protocol.FileTrailerV2{Metadata: trailerMetadata(info, preserve)}}
	} else {
		trailer = protocol.FileTrailer{V1: true}
	}
	return wire.WriteFramed(w, &trailer)
}

// errIdleClose signals that the peer closed cleanly before sending a
// header: not an error, nothing was transferred.
var errIdleClose = errors.New("peer closed before header")

// receiveFile reads header, payload and trailer from r, writing the
// payload to the destination path. If destPath is an existing
// directory the header's filename is appended. Metadata is applied
// only after the trailer arrives and the payload is complete; a
// cancelled transfer leaves a partial file with no final metadata.
func (s *Session) receiveFile(ctx context.Context, r io.Reader, destPath string, preserve bool) (string, error) {
	var header protocol.FileHeader
	if err := wire.ReadFramed(r, &header); err != nil {
		if errors.Is(err, io.EOF) {
			return "", errIdleClose
		}
		return "", fmt.Errorf("read file header: %w", err)
	}

	dest, err := resolveDestination(destPath, header.FilenameValue())
	if err != nil {
		return "", err
	}

	meta := collectMeta(header.MetadataValue(), nil)
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, platformMode(creationMode(meta, preserve, processUmask())))
	if err != nil {
		return "", classifyCreateError(err, dest)
	}

	size := header.SizeValue()
	n, copyErr := s.copyPayload(ctx, out, io.LimitReader(r, int64(size)))
	if closeErr := out.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr == nil && uint64(n) != size {
		copyErr = io.ErrUnexpectedEOF
	}
	if copyErr != nil {
		return dest, fmt.Errorf("write %s: %w", dest, copyErr)
	}

	var trailer protocol.FileTrailer
	if err := wire.ReadFramed(r, &trailer); err != nil {
		// No trailer, no metadata: the file stays as created.
		return dest, fmt.Errorf("read file trailer: %w", err)
	}

	meta = collectMeta(header.MetadataValue(), trailer.MetadataValue())
	if err := applyFinalMetadata(dest, meta, preserve, processUmask()); err != nil {
		return dest, err
	}
	logger.Debug("received file", "path", dest, "bytes", size)
	return dest, nil
}

// resolveDestination applies the destination rule and refuses header
// filenames that try to escape the target directory.
func resolveDestination(destPath, headerName string) (string, error) {
	state, err := probePath(destPath)
	if err != nil {
		return "", err
	}
	if state != pathIsDir {
		return destPath, nil
	}
	name := filepath.Base(headerName)
	if name == "." || name == string(filepath.Separator) || strings.ContainsRune(headerName, 0) {
		return "", statusError(protocol.StatusProtocolError, fmt.Sprintf("unusable filename %q in header", headerName))
	}
	return filepath.Join(destPath, name), nil
}

// classifyCreateError maps a destination open failure onto the wire
// taxonomy, distinguishing the missing-parent case.
func classifyCreateError(err error, dest string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return statusError(protocol.StatusDirectoryDoesNotExist,
			fmt.Sprintf("directory for %s does not exist", dest))
	}
	if errors.Is(err, fs.ErrPermission) {
		return statusError(protocol.StatusIncorrectPermissions, err.Error())
	}
	return err
}

// copyPayload moves bytes between file and stream, feeding the
// statistics aggregator and honouring cancellation between chunks.
// Returns the number of bytes moved.
func (s *Session) copyPayload(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return total, writeErr
			}
			total += int64(n)
			s.recordPayload(n)
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}

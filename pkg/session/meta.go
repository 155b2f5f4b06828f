package session

import (
	"io/fs"
	"os"
	"time"

	"github.com/crazyscot/qcp-sub001/internal/logger"
	"github.com/crazyscot/qcp-sub001/pkg/protocol"
	"github.com/crazyscot/qcp-sub001/pkg/wire"
)

// permMask is the part of a mode we put on the wire: permission bits
// plus setuid/setgid/sticky.
const permMask = 0o7777

// headerMetadata is the attribute list sent in a V2 FileHeader: always
// the source mode, so a non-preserving receiver can still apply
// mode & ^umask semantics.
func headerMetadata(info fs.FileInfo) []wire.TaggedData {
	return []wire.TaggedData{
		wire.TaggedUnsigned(protocol.MetaMode, wireMode(info)),
	}
}

// trailerMetadata is the attribute list for a V2 FileTrailer: empty
// unless preserving, in which case mode and both times travel.
func trailerMetadata(info fs.FileInfo, preserve bool) []wire.TaggedData {
	if !preserve {
		return nil
	}
	md := []wire.TaggedData{
		wire.TaggedUnsigned(protocol.MetaMode, wireMode(info)),
	}
	if atime, ok := accessTime(info); ok {
		md = append(md, wire.TaggedUnsigned(protocol.MetaAccessTime, atime))
	}
	if mtime := info.ModTime().Unix(); mtime > 0 {
		md = append(md, wire.TaggedUnsigned(protocol.MetaModificationTime, uint64(mtime)))
	}
	return md
}

// receivedMeta is what a receiver distils from the header and trailer
// attribute lists. Unknown tags are ignored (and preserved upstream by
// the codec); absent values leave the OS defaults alone.
type receivedMeta struct {
	mode     uint64
	hasMode  bool
	atime    uint64
	hasAtime bool
	mtime    uint64
	hasMtime bool
}

func collectMeta(header, trailer []wire.TaggedData) receivedMeta {
	var m receivedMeta
	// Trailer wins over header for the mode; times are trailer-only.
	if v, ok := wire.FindUnsigned(header, protocol.MetaMode); ok {
		m.mode, m.hasMode = v&permMask, true
	}
	if v, ok := wire.FindUnsigned(trailer, protocol.MetaMode); ok {
		m.mode, m.hasMode = v&permMask, true
	}
	if v, ok := wire.FindUnsigned(trailer, protocol.MetaAccessTime); ok {
		m.atime, m.hasAtime = v, true
	}
	if v, ok := wire.FindUnsigned(trailer, protocol.MetaModificationTime); ok {
		m.mtime, m.hasMtime = v, true
	}
	return m
}

// creationMode is the mode a destination file is created with while it
// is being written: the eventual mode with user-write forced on, since
// the writing process must be able to write.
func creationMode(m receivedMeta, preserve bool, umask fs.FileMode) fs.FileMode {
	if !m.hasMode {
		return 0o666 & ^umask
	}
	mode := fs.FileMode(m.mode)
	if !preserve {
		mode &= ^umask
	}
	return (mode | 0o200) & permMask
}

// finalMode resolves the mode the destination ends up with: the source
// mode exactly when preserving, source & ^umask otherwise.
func finalMode(m receivedMeta, preserve bool, umask fs.FileMode) fs.FileMode {
	mode := fs.FileMode(m.mode)
	if !preserve {
		mode &= ^umask
	}
	return mode
}

// applyFinalMetadata sets the destination's final mode and times after
// the trailer has been received and the data fully written. It must
// NOT be called when the trailer never arrived (cancelled transfer).
func applyFinalMetadata(path string, m receivedMeta, preserve bool, umask fs.FileMode) error {
	if m.hasMode {
		if err := os.Chmod(path, platformMode(finalMode(m, preserve, umask))); err != nil {
			return err
		}
	}
	if m.hasAtime || m.hasMtime {
		var atime, mtime time.Time // zero means "leave unchanged"
		if m.hasAtime {
			atime = time.Unix(int64(m.atime), 0)
		}
		if m.hasMtime {
			mtime = time.Unix(int64(m.mtime), 0)
		}
		if err := os.Chtimes(path, atime, mtime); err != nil {
			logger.Warn("could not set file times", "path", path, "err", err)
		}
	}
	return nil
}

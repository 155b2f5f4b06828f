package session

import (
	"fmt"
	"os"

	"github.com/crazyscot/qcp-sub001/pkg/protocol"
	"github.com/crazyscot/qcp-sub001/pkg/wire"
)

// SendList runs the client side of List: a single-level listing of a
// remote directory. No recursion.
func (s *Session) SendList(stream Stream, path string) (*protocol.ListData, error) {
	if !s.Compat.Supports(protocol.FeatureMkdirSetmetaLs) {
		return nil, fmt.Errorf("operation not supported by remote")
	}
	cmd := protocol.Command{List: &protocol.ListArgs{Path: path}}
	if err := wire.WriteFramed(stream, &cmd); err != nil {
		return nil, err
	}
	if err := readResponse(stream); err != nil {
		return nil, err
	}
	var data protocol.ListData
	if err := wire.ReadFramed(stream, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// handleList responds with one directory level. Entries whose stat
// fails are skipped rather than failing the whole listing.
func (s *Session) handleList(stream Stream, args *protocol.ListArgs) error {
	state, err := probePath(args.Path)
	if err != nil {
		return reportError(stream, err)
	}
	switch state {
	case pathMissing:
		return reportError(stream, statusError(protocol.StatusFileNotFound, fmt.Sprintf("%s not found", args.Path)))
	case pathIsFile:
		return reportError(stream, statusError(protocol.StatusDirectoryDoesNotExist, fmt.Sprintf("%s is not a directory", args.Path)))
	}

	dirEntries, err := os.ReadDir(args.Path)
	if err != nil {
		return reportError(stream, err)
	}
	data := protocol.ListData{Entries: make([]protocol.ListEntry, 0, len(dirEntries))}
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		kind := protocol.ListEntryOther
		switch {
		case info.Mode().IsRegular():
			kind = protocol.ListEntryFile
		case info.IsDir():
			kind = protocol.ListEntryDirectory
		}
		entry := protocol.ListEntry{
			Name: de.Name(),
			Size: uint64(info.Size()),
			Mode: wireMode(info),
			Kind: kind,
		}
		if mtime := info.ModTime().Unix(); mtime > 0 {
			entry.Mtime = uint64(mtime)
		}
		data.Entries = append(data.Entries, entry)
	}

	if err := sendOK(stream); err != nil {
		return err
	}
	return wire.WriteFramed(stream, &data)
}

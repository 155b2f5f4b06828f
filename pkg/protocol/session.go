package protocol

import (
	"bytes"
	"fmt"

	"github.com/crazyscot/qcp-sub001/pkg/wire"
)

// Encoding limits for session-stream messages.
const (
	commandWireLimit  = 65536
	responseWireLimit = 65536
	headerWireLimit   = 65536
	trailerWireLimit  = 65536
	listWireLimit     = 1 << 20
)

// Status is the closed result taxonomy carried in a Response.
type Status uint64

const (
	StatusOk Status = iota
	StatusFileNotFound
	StatusIncorrectPermissions
	StatusDirectoryDoesNotExist
	StatusItIsAFile
	StatusIoError
	StatusProtocolError
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "Ok"
	case StatusFileNotFound:
		return "FileNotFound"
	case StatusIncorrectPermissions:
		return "IncorrectPermissions"
	case StatusDirectoryDoesNotExist:
		return "DirectoryDoesNotExist"
	case StatusItIsAFile:
		return "ItIsAFile"
	case StatusIoError:
		return "IoError"
	case StatusProtocolError:
		return "ProtocolError"
	}
	return fmt.Sprintf("Status(%d)", uint64(s))
}

// MetadataAttr tags for file metadata attribute lists.
const (
	MetaInvalid uint64 = 0
	// MetaMode is the POSIX permission bits (low 12 bits significant).
	MetaMode uint64 = 1
	// MetaAccessTime is seconds since the Unix epoch.
	MetaAccessTime uint64 = 2
	// MetaModificationTime is seconds since the Unix epoch.
	MetaModificationTime uint64 = 3
)

// CommandParam tags for Get2/Put2 option lists.
const (
	ParamInvalid uint64 = 0
	// ParamPreserveMetadata asks the receiver to apply the sender's
	// mode and times.
	ParamPreserveMetadata uint64 = 1
)

// HasPreserve reports whether an option list requests metadata
// preservation.
func HasPreserve(options []wire.TaggedData) bool {
	_, ok := wire.FindTag(options, ParamPreserveMetadata)
	return ok
}

// ----------------------------------------------------------------------
// Response

// Response is the status reply on a session stream, versioned for
// forward compatibility.
type Response struct {
	V1 *ResponseV1
}

// ResponseV1 carries a status and an optional human-readable message.
type ResponseV1 struct {
	Status  Status
	Message *string
}

// NewResponse builds a V1 response.
func NewResponse(status Status, message string) *Response {
	v := &ResponseV1{Status: status}
	if message != "" {
		v.Message = &message
	}
	return &Response{V1: v}
}

// WireLimit implements wire.Message.
func (m *Response) WireLimit() uint32 { return responseWireLimit }

// MarshalWire implements wire.Message.
func (m *Response) MarshalWire(buf *bytes.Buffer) error {
	if m.V1 == nil {
		return fmt.Errorf("response: no variant set")
	}
	if err := wire.WriteUint(buf, 0); err != nil {
		return err
	}
	if err := wire.WriteUint(buf, uint64(m.V1.Status)); err != nil {
		return err
	}
	return wire.WriteOptionString(buf, m.V1.Message)
}

// UnmarshalWire implements wire.Message.
func (m *Response) UnmarshalWire(r *bytes.Reader) error {
	disc, err := wire.ReadUint(r)
	if err != nil {
		return fmt.Errorf("response: %w", err)
	}
	if disc != 0 {
		return fmt.Errorf("response discriminant %d: %w", disc, wire.ErrUnknownDiscriminant)
	}
	v := &ResponseV1{}
	status, err := wire.ReadUint(r)
	if err != nil {
		return fmt.Errorf("response: %w", err)
	}
	v.Status = Status(status)
	if v.Message, err = wire.ReadOptionString(r, responseWireLimit); err != nil {
		return err
	}
	*m = Response{V1: v}
	return nil
}

// Err converts a non-Ok response into an error; Ok yields nil.
func (m *Response) Err() error {
	if m.V1 == nil {
		return fmt.Errorf("response: no variant set")
	}
	if m.V1.Status == StatusOk {
		return nil
	}
	if m.V1.Message != nil && *m.V1.Message != "" {
		return &StatusError{Status: m.V1.Status, Message: *m.V1.Message}
	}
	return &StatusError{Status: m.V1.Status}
}

// StatusError is a wire status surfaced as a local error.
type StatusError struct {
	Status  Status
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Status, e.Message)
	}
	return e.Status.String()
}

// ----------------------------------------------------------------------
// Commands

// Command discriminants, frozen on the wire.
const (
	cmdGet uint64 = iota
	cmdPut
	cmdGet2
	cmdPut2
	cmdCreateDirectory
	cmdSetMetadata
	cmdList
)

// Command is the first message on every session stream. Exactly one
// argument field is set.
type Command struct {
	Get       *GetArgs
	Put       *PutArgs
	Get2      *Get2Args
	Put2      *Put2Args
	CreateDir *CreateDirectoryArgs
	SetMeta   *SetMetadataArgs
	List      *ListArgs
}

// GetArgs requests a file from the remote.
type GetArgs struct {
	// Filename may include leading directory components.
	Filename string
}

// PutArgs sends a file to the remote. If Filename names an existing
// directory, the name from the FileHeader is appended.
type PutArgs struct {
	Filename string
}

// Get2Args extends Get with a forward-compatible option list.
// Requires feature GET2_PUT2.
type Get2Args struct {
	Filename string
	Options  []wire.TaggedData
}

// Put2Args extends Put with a forward-compatible option list.
// Requires feature GET2_PUT2.
type Put2Args struct {
	Filename string
	Options  []wire.TaggedData
}

// CreateDirectoryArgs creates a single directory level.
// Requires feature MKDIR_SETMETA_LS.
type CreateDirectoryArgs struct {
	DirName string
	Options []wire.TaggedData
}

// SetMetadataArgs applies metadata to an existing path.
// Requires feature MKDIR_SETMETA_LS.
type SetMetadataArgs struct {
	Path     string
	Metadata []wire.TaggedData
}

// ListArgs requests a single-level directory listing.
// Requires feature MKDIR_SETMETA_LS.
type ListArgs struct {
	Path    string
	Options []wire.TaggedData
}

// Name returns the command's protocol name, for logging.
func (c *Command) Name() string {
	switch {
	case c.Get != nil:
		return "GET"
	case c.Put != nil:
		return "PUT"
	case c.Get2 != nil:
		return "GET2"
	case c.Put2 != nil:
		return "PUT2"
	case c.CreateDir != nil:
		return "MKDIR"
	case c.SetMeta != nil:
		return "SETMETA"
	case c.List != nil:
		return "LS"
	}
	return "?"
}

// WireLimit implements wire.Message.
func (c *Command) WireLimit() uint32 { return commandWireLimit }

func encodeNameAndOptions(buf *bytes.Buffer, disc uint64, name string, options []wire.TaggedData) error {
	if err := wire.WriteUint(buf, disc); err != nil {
		return err
	}
	if err := wire.WriteString(buf, name); err != nil {
		return err
	}
	return wire.EncodeTaggedList(buf, options)
}

// MarshalWire implements wire.Message.
func (c *Command) MarshalWire(buf *bytes.Buffer) error {
	switch {
	case c.Get != nil:
		if err := wire.WriteUint(buf, cmdGet); err != nil {
			return err
		}
		return wire.WriteString(buf, c.Get.Filename)
	case c.Put != nil:
		if err := wire.WriteUint(buf, cmdPut); err != nil {
			return err
		}
		return wire.WriteString(buf, c.Put.Filename)
	case c.Get2 != nil:
		return encodeNameAndOptions(buf, cmdGet2, c.Get2.Filename, c.Get2.Options)
	case c.Put2 != nil:
		return encodeNameAndOptions(buf, cmdPut2, c.Put2.Filename, c.Put2.Options)
	case c.CreateDir != nil:
		return encodeNameAndOptions(buf, cmdCreateDirectory, c.CreateDir.DirName, c.CreateDir.Options)
	case c.SetMeta != nil:
		if err := wire.WriteUint(buf, cmdSetMetadata); err != nil {
			return err
		}
		if err := wire.WriteString(buf, c.SetMeta.Path); err != nil {
			return err
		}
		return wire.EncodeTaggedList(buf, c.SetMeta.Metadata)
	case c.List != nil:
		return encodeNameAndOptions(buf, cmdList, c.List.Path, c.List.Options)
	}
	return fmt.Errorf("command: no variant set")
}

// UnmarshalWire implements wire.Message.
//
// An unknown discriminant is a hard error here (the enclosing type is a
// versioned enum); callers map it to StatusProtocolError.
func (c *Command) UnmarshalWire(r *bytes.Reader) error {
	disc, err := wire.ReadUint(r)
	if err != nil {
		return fmt.Errorf("command: %w", err)
	}
	if disc > cmdList {
		return fmt.Errorf("command discriminant %d: %w", disc, wire.ErrUnknownDiscriminant)
	}
	name, err := wire.ReadString(r, commandWireLimit)
	if err != nil {
		return fmt.Errorf("command: %w", err)
	}
	readOptions := func() ([]wire.TaggedData, error) {
		return wire.DecodeTaggedList(r)
	}
	switch disc {
	case cmdGet:
		*c = Command{Get: &GetArgs{Filename: name}}
	case cmdPut:
		*c = Command{Put: &PutArgs{Filename: name}}
	case cmdGet2:
		opts, err := readOptions()
		if err != nil {
			return err
		}
		*c = Command{Get2: &Get2Args{Filename: name, Options: opts}}
	case cmdPut2:
		opts, err := readOptions()
		if err != nil {
			return err
		}
		*c = Command{Put2: &Put2Args{Filename: name, Options: opts}}
	case cmdCreateDirectory:
		opts, err := readOptions()
		if err != nil {
			return err
		}
		*c = Command{CreateDir: &CreateDirectoryArgs{DirName: name, Options: opts}}
	case cmdSetMetadata:
		meta, err := readOptions()
		if err != nil {
			return err
		}
		*c = Command{SetMeta: &SetMetadataArgs{Path: name, Metadata: meta}}
	case cmdList:
		opts, err := readOptions()
		if err != nil {
			return err
		}
		*c = Command{List: &ListArgs{Path: name, Options: opts}}
	default:
		return fmt.Errorf("command discriminant %d: %w", disc, wire.ErrUnknownDiscriminant)
	}
	return nil
}

// ----------------------------------------------------------------------
// FileHeader / FileTrailer

// FileHeader precedes the raw payload bytes of a transfer.
type FileHeader struct {
	V1 *FileHeaderV1
	V2 *FileHeaderV2
}

// FileHeaderV1 is the original header shape.
type FileHeaderV1 struct {
	// Size of the payload that follows, in bytes.
	Size uint64
	// Filename is a bare name with no directory component.
	Filename string
}

// FileHeaderV2 (feature GET2_PUT2) adds a metadata attribute list.
// Only MetaMode is valid here; times may only appear in the trailer.
// The writer implicitly adds user-write for the duration of the write;
// a mode in the trailer corrects it afterwards.
type FileHeaderV2 struct {
	Size     uint64
	Filename string
	Metadata []wire.TaggedData
}

// NewFileHeaderV1 is a convenience constructor.
func NewFileHeaderV1(size uint64, filename string) *FileHeader {
	return &FileHeader{V1: &FileHeaderV1{Size: size, Filename: filename}}
}

// NewFileHeaderV2 is a convenience constructor.
func NewFileHeaderV2(size uint64, filename string, metadata []wire.TaggedData) *FileHeader {
	return &FileHeader{V2: &FileHeaderV2{Size: size, Filename: filename, Metadata: metadata}}
}

// SizeValue returns the payload size from either variant.
func (h *FileHeader) SizeValue() uint64 {
	switch {
	case h.V1 != nil:
		return h.V1.Size
	case h.V2 != nil:
		return h.V2.Size
	}
	return 0
}

// FilenameValue returns the bare filename from either variant.
func (h *FileHeader) FilenameValue() string {
	switch {
	case h.V1 != nil:
		return h.V1.Filename
	case h.V2 != nil:
		return h.V2.Filename
	}
	return ""
}

// MetadataValue returns the metadata list (nil for V1).
func (h *FileHeader) MetadataValue() []wire.TaggedData {
	if h.V2 != nil {
		return h.V2.Metadata
	}
	return nil
}

// WireLimit implements wire.Message.
func (h *FileHeader) WireLimit() uint32 { return headerWireLimit }

// MarshalWire implements wire.Message.
func (h *FileHeader) MarshalWire(buf *bytes.Buffer) error {
	switch {
	case h.V1 != nil:
		if err := wire.WriteUint(buf, 0); err != nil {
			return err
		}
		if err := wire.WriteUint(buf, h.V1.Size); err != nil {
			return err
		}
		return wire.WriteString(buf, h.V1.Filename)
	case h.V2 != nil:
		if err := wire.WriteUint(buf, 1); err != nil {
			return err
		}
		if err := wire.WriteUint(buf, h.V2.Size); err != nil {
			return err
		}
		if err := wire.WriteString(buf, h.V2.Filename); err != nil {
			return err
		}
		return wire.EncodeTaggedList(buf, h.V2.Metadata)
	}
	return fmt.Errorf("file header: no variant set")
}

// UnmarshalWire implements wire.Message.
func (h *FileHeader) UnmarshalWire(r *bytes.Reader) error {
	disc, err := wire.ReadUint(r)
	if err != nil {
		return fmt.Errorf("file header: %w", err)
	}
	size, err := wire.ReadUint(r)
	if err != nil {
		return fmt.Errorf("file header: %w", err)
	}
	filename, err := wire.ReadString(r, headerWireLimit)
	if err != nil {
		return fmt.Errorf("file header: %w", err)
	}
	switch disc {
	case 0:
		*h = FileHeader{V1: &FileHeaderV1{Size: size, Filename: filename}}
	case 1:
		meta, err := wire.DecodeTaggedList(r)
		if err != nil {
			return err
		}
		*h = FileHeader{V2: &FileHeaderV2{Size: size, Filename: filename, Metadata: meta}}
	default:
		return fmt.Errorf("file header discriminant %d: %w", disc, wire.ErrUnknownDiscriminant)
	}
	return nil
}

// FileTrailer follows the raw payload bytes of a transfer.
type FileTrailer struct {
	// V1 has no contents; it is represented by both pointers nil being
	// invalid, so V1 is an explicit flag.
	V1 bool
	V2 *FileTrailerV2
}

// FileTrailerV2 (feature GET2_PUT2) carries the final metadata: mode,
// access time and modification time. Times absent means the receiving
// OS picks them.
type FileTrailerV2 struct {
	Metadata []wire.TaggedData
}

// WireLimit implements wire.Message.
func (t *FileTrailer) WireLimit() uint32 { return trailerWireLimit }

// MarshalWire implements wire.Message.
func (t *FileTrailer) MarshalWire(buf *bytes.Buffer) error {
	switch {
	case t.V1:
		return wire.WriteUint(buf, 0)
	case t.V2 != nil:
		if err := wire.WriteUint(buf, 1); err != nil {
			return err
		}
		return wire.EncodeTaggedList(buf, t.V2.Metadata)
	}
	return fmt.Errorf("file trailer: no variant set")
}

// UnmarshalWire implements wire.Message.
func (t *FileTrailer) UnmarshalWire(r *bytes.Reader) error {
	disc, err := wire.ReadUint(r)
	if err != nil {
		return fmt.Errorf("file trailer: %w", err)
	}
	switch disc {
	case 0:
		*t = FileTrailer{V1: true}
	case 1:
		meta, err := wire.DecodeTaggedList(r)
		if err != nil {
			return err
		}
		*t = FileTrailer{V2: &FileTrailerV2{Metadata: meta}}
	default:
		return fmt.Errorf("file trailer discriminant %d: %w", disc, wire.ErrUnknownDiscriminant)
	}
	return nil
}

// MetadataValue returns the metadata list (nil for V1).
func (t *FileTrailer) MetadataValue() []wire.TaggedData {
	if t.V2 != nil {
		return t.V2.Metadata
	}
	return nil
}

// ----------------------------------------------------------------------
// List

// ListEntryKind classifies a directory entry.
type ListEntryKind uint8

const (
	ListEntryFile ListEntryKind = iota
	ListEntryDirectory
	ListEntryOther
)

// ListEntry is one row of a directory listing.
type ListEntry struct {
	Name  string
	Size  uint64
	Mode  uint64
	Kind  ListEntryKind
	Mtime uint64 // seconds since the Unix epoch
}

// ListData is the payload following Response(Ok) on a List stream.
type ListData struct {
	Entries []ListEntry
}

// maxListEntries bounds a single listing reply.
const maxListEntries = 65536

// WireLimit implements wire.Message.
func (l *ListData) WireLimit() uint32 { return listWireLimit }

// MarshalWire implements wire.Message.
func (l *ListData) MarshalWire(buf *bytes.Buffer) error {
	if err := wire.WriteUint(buf, uint64(len(l.Entries))); err != nil {
		return err
	}
	for i := range l.Entries {
		e := &l.Entries[i]
		if err := wire.WriteString(buf, e.Name); err != nil {
			return err
		}
		if err := wire.WriteUint(buf, e.Size); err != nil {
			return err
		}
		if err := wire.WriteUint(buf, e.Mode); err != nil {
			return err
		}
		if err := wire.WriteU8(buf, uint8(e.Kind)); err != nil {
			return err
		}
		if err := wire.WriteUint(buf, e.Mtime); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalWire implements wire.Message.
func (l *ListData) UnmarshalWire(r *bytes.Reader) error {
	n, err := wire.ReadUint(r)
	if err != nil {
		return fmt.Errorf("list data: %w", err)
	}
	if n > maxListEntries {
		return fmt.Errorf("list data: %d entries: %w", n, wire.ErrOversizeFrame)
	}
	entries := make([]ListEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		var e ListEntry
		if e.Name, err = wire.ReadString(r, listWireLimit); err != nil {
			return err
		}
		if e.Size, err = wire.ReadUint(r); err != nil {
			return err
		}
		if e.Mode, err = wire.ReadUint(r); err != nil {
			return err
		}
		k, err := wire.ReadU8(r)
		if err != nil {
			return err
		}
		e.Kind = ListEntryKind(k)
		if e.Mtime, err = wire.ReadUint(r); err != nil {
			return err
		}
		entries = append(entries, e)
	}
	l.Entries = entries
	return nil
}

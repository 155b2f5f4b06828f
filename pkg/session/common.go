package session

import (
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/crazyscot/qcp-sub001/pkg/protocol"
	"github.com/crazyscot/qcp-sub001/pkg/wire"
)

func sendOK(w io.Writer) error {
	return wire.WriteFramed(w, protocol.NewResponse(protocol.StatusOk, ""))
}

func sendError(w io.Writer, status protocol.Status, message string) error {
	return wire.WriteFramed(w, protocol.NewResponse(status, message))
}

// reportError maps a local error onto the wire taxonomy, reports it on
// the stream, and hands the original error back so the failure is also
// visible to the handler's own logs.
func reportError(w io.Writer, err error) error {
	status, msg := statusFor(err)
	if werr := sendError(w, status, msg); werr != nil {
		return errors.Join(err, werr)
	}
	return err
}

// statusFor classifies a local error into the closed Status set.
// Anything unrecognised becomes IoError with the error text.
func statusFor(err error) (protocol.Status, string) {
	var se *protocol.StatusError
	if errors.As(err, &se) {
		return se.Status, se.Message
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return protocol.StatusFileNotFound, err.Error()
	case errors.Is(err, fs.ErrPermission):
		return protocol.StatusIncorrectPermissions, err.Error()
	}
	return protocol.StatusIoError, err.Error()
}

// statusError builds a StatusError for conditions detected directly.
func statusError(status protocol.Status, message string) error {
	return &protocol.StatusError{Status: status, Message: message}
}

// readResponse reads the peer's Response and converts it to an error
// (nil for Ok).
func readResponse(r io.Reader) error {
	var resp protocol.Response
	if err := wire.ReadFramed(r, &resp); err != nil {
		return err
	}
	return resp.Err()
}

// pathState probes a destination path for the Put/Get destination
// rules.
type pathState int

const (
	pathMissing pathState = iota
	pathIsFile
	pathIsDir
)

func probePath(path string) (pathState, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return pathMissing, nil
	case err != nil:
		return pathMissing, err
	case info.IsDir():
		return pathIsDir, nil
	default:
		return pathIsFile, nil
	}
}

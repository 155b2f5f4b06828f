package wire

import (
	"bytes"
	"fmt"
	"io"
)

// Message is implemented by every framed protocol message.
//
// MarshalWire appends the body encoding to buf. UnmarshalWire decodes a
// body from r; the reader is bounded to exactly one frame. WireLimit is
// the hard upper bound on the encoded body size; framed readers reject
// longer frames before reading the body.
type Message interface {
	MarshalWire(buf *bytes.Buffer) error
	UnmarshalWire(r *bytes.Reader) error
	WireLimit() uint32
}

// EncodeMessage returns the unframed body encoding of m.
func EncodeMessage(m Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := m.MarshalWire(&buf); err != nil {
		return nil, err
	}
	if uint32(buf.Len()) > m.WireLimit() {
		return nil, fmt.Errorf("encode %T: %d bytes exceeds limit %d: %w",
			m, buf.Len(), m.WireLimit(), ErrOversizeFrame)
	}
	return buf.Bytes(), nil
}

// DecodeMessage decodes an unframed body into m.
func DecodeMessage(m Message, data []byte) error {
	if uint32(len(data)) > m.WireLimit() {
		return fmt.Errorf("decode %T: %d bytes exceeds limit %d: %w",
			m, len(data), m.WireLimit(), ErrOversizeFrame)
	}
	r := bytes.NewReader(data)
	if err := m.UnmarshalWire(r); err != nil {
		return err
	}
	if r.Len() != 0 {
		return fmt.Errorf("decode %T: %d trailing bytes", m, r.Len())
	}
	return nil
}

// WriteFramed writes m to w as a Uint length followed by the body.
// The write is a single Write call so a frame is never interleaved with
// payload bytes on a shared stream.
func WriteFramed(w io.Writer, m Message) error {
	body, err := EncodeMessage(m)
	if err != nil {
		return err
	}
	var frame bytes.Buffer
	frame.Grow(len(body) + MaxVarintLen)
	if err := WriteUint(&frame, uint64(len(body))); err != nil {
		return err
	}
	_, _ = frame.Write(body)
	if _, err := w.Write(frame.Bytes()); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// byteReader adapts an io.Reader to io.ByteReader without buffering
// ahead, so the frame length can be read from a stream that will next
// carry raw payload bytes.
type byteReader struct {
	r io.Reader
}

func (b byteReader) ReadByte() (byte, error) {
	var one [1]byte
	_, err := io.ReadFull(b.r, one[:])
	return one[0], err
}

// ReadFramed reads one frame from r and decodes it into m. A frame
// longer than m's declared limit is rejected before the body is read.
//
// io.EOF is returned untranslated when the stream ends cleanly before
// the first length byte; callers use that to distinguish an idle close
// from a truncated frame (io.ErrUnexpectedEOF).
func ReadFramed(r io.Reader, m Message) error {
	length, err := ReadUint(byteReader{r})
	if err != nil {
		return err
	}
	if length > uint64(m.WireLimit()) {
		return fmt.Errorf("read %T: frame of %d bytes exceeds limit %d: %w",
			m, length, m.WireLimit(), ErrOversizeFrame)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("read frame body: %w", err)
	}
	return DecodeMessage(m, body)
}

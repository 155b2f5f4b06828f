package wire

import (
	"bytes"
	"fmt"
)

// VariantKind discriminates the payload type carried by a Variant.
//
// The numeric values are frozen on the wire. Kind 1 is reserved (it was a
// boolean in an early protocol draft) and is never emitted; decoding it
// is an error.
type VariantKind uint8

const (
	// VariantEmpty carries no payload.
	VariantEmpty VariantKind = 0
	// VariantSigned carries a signed varint.
	VariantSigned VariantKind = 2
	// VariantUnsigned carries an unsigned varint.
	VariantUnsigned VariantKind = 3
	// VariantBytes carries a length-prefixed byte blob.
	VariantBytes VariantKind = 4
	// VariantText carries a length-prefixed UTF-8 string.
	VariantText VariantKind = 5
)

// variantPayloadLimit bounds the size of a Bytes or Text payload within a
// Variant. Certificates are the largest legitimate payload.
const variantPayloadLimit = 16384

// Variant is a discriminated union of the payload types that may appear
// inside a TaggedData attribute.
type Variant struct {
	Kind     VariantKind
	Unsigned uint64
	Signed   int64
	Bytes    []byte
	Text     string
}

// Empty returns the empty Variant.
func Empty() Variant { return Variant{Kind: VariantEmpty} }

// UnsignedVariant wraps an unsigned value.
func UnsignedVariant(v uint64) Variant {
	return Variant{Kind: VariantUnsigned, Unsigned: v}
}

// SignedVariant wraps a signed value.
func SignedVariant(v int64) Variant {
	return Variant{Kind: VariantSigned, Signed: v}
}

// BytesVariant wraps a byte blob.
func BytesVariant(b []byte) Variant {
	return Variant{Kind: VariantBytes, Bytes: b}
}

// TextVariant wraps a string.
func TextVariant(s string) Variant {
	return Variant{Kind: VariantText, Text: s}
}

// Equal reports deep equality of two Variants.
func (v Variant) Equal(other Variant) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case VariantEmpty:
		return true
	case VariantSigned:
		return v.Signed == other.Signed
	case VariantUnsigned:
		return v.Unsigned == other.Unsigned
	case VariantBytes:
		return bytes.Equal(v.Bytes, other.Bytes)
	case VariantText:
		return v.Text == other.Text
	}
	return false
}

func (v Variant) String() string {
	switch v.Kind {
	case VariantEmpty:
		return "Empty"
	case VariantSigned:
		return fmt.Sprintf("Signed(%d)", v.Signed)
	case VariantUnsigned:
		return fmt.Sprintf("Unsigned(%d)", v.Unsigned)
	case VariantBytes:
		return fmt.Sprintf("Bytes(%d bytes)", len(v.Bytes))
	case VariantText:
		return fmt.Sprintf("Text(%q)", v.Text)
	}
	return fmt.Sprintf("Variant(kind %d)", v.Kind)
}

// Encode writes the Variant as a single-byte kind discriminant followed
// by the kind-specific payload.
func (v Variant) Encode(buf *bytes.Buffer) error {
	if err := WriteU8(buf, uint8(v.Kind)); err != nil {
		return err
	}
	switch v.Kind {
	case VariantEmpty:
		return nil
	case VariantSigned:
		return WriteInt(buf, v.Signed)
	case VariantUnsigned:
		return WriteUint(buf, v.Unsigned)
	case VariantBytes:
		return WriteBytes(buf, v.Bytes)
	case VariantText:
		return WriteString(buf, v.Text)
	}
	return fmt.Errorf("encode variant: invalid kind %d", v.Kind)
}

// DecodeVariant reads a Variant from r.
func DecodeVariant(r *bytes.Reader) (Variant, error) {
	kind, err := ReadU8(r)
	if err != nil {
		return Variant{}, fmt.Errorf("decode variant: %w", err)
	}
	switch VariantKind(kind) {
	case VariantEmpty:
		return Empty(), nil
	case VariantSigned:
		i, err := ReadInt(r)
		if err != nil {
			return Variant{}, err
		}
		return SignedVariant(i), nil
	case VariantUnsigned:
		u, err := ReadUint(r)
		if err != nil {
			return Variant{}, err
		}
		return UnsignedVariant(u), nil
	case VariantBytes:
		b, err := ReadBytes(r, variantPayloadLimit)
		if err != nil {
			return Variant{}, err
		}
		return BytesVariant(b), nil
	case VariantText:
		s, err := ReadString(r, variantPayloadLimit)
		if err != nil {
			return Variant{}, err
		}
		return TextVariant(s), nil
	}
	return Variant{}, fmt.Errorf("decode variant: kind %d: %w", kind, ErrUnknownDiscriminant)
}

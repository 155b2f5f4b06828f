package wire

import (
	"bytes"
	"fmt"
)

// TaggedData is a forward-compatible attribute: a numeric tag plus a
// Variant payload. Tag namespaces are defined by the enclosing message
// (metadata attributes, command parameters, report extensions and so on).
//
// A tag the decoder does not recognise is preserved verbatim, never an
// error. That property is what lets a newer peer attach attributes an
// older peer silently carries through.
type TaggedData struct {
	Tag  uint64
	Data Variant
}

// Tagged builds a TaggedData from a tag and payload.
func Tagged(tag uint64, data Variant) TaggedData {
	return TaggedData{Tag: tag, Data: data}
}

// TaggedUnsigned builds a TaggedData carrying an unsigned value.
func TaggedUnsigned(tag, value uint64) TaggedData {
	return TaggedData{Tag: tag, Data: UnsignedVariant(value)}
}

// Equal reports equality of tag and payload.
func (t TaggedData) Equal(other TaggedData) bool {
	return t.Tag == other.Tag && t.Data.Equal(other.Data)
}

// Encode writes the attribute as (tag: Uint, data: Variant).
func (t TaggedData) Encode(buf *bytes.Buffer) error {
	if err := WriteUint(buf, t.Tag); err != nil {
		return err
	}
	return t.Data.Encode(buf)
}

// DecodeTaggedData reads a single attribute from r.
func DecodeTaggedData(r *bytes.Reader) (TaggedData, error) {
	tag, err := ReadUint(r)
	if err != nil {
		return TaggedData{}, fmt.Errorf("decode tagged data: %w", err)
	}
	data, err := DecodeVariant(r)
	if err != nil {
		return TaggedData{}, fmt.Errorf("decode tagged data (tag %d): %w", tag, err)
	}
	return TaggedData{Tag: tag, Data: data}, nil
}

// maxTaggedListLen bounds the element count of an attribute list. Real
// lists carry a handful of entries; the bound exists so a forged count
// cannot drive allocation.
const maxTaggedListLen = 1024

// EncodeTaggedList writes a sequence of attributes: count then elements.
//
// An empty list encodes as the single byte 0x00, which is byte-identical
// to the reserved zero byte that occupied the same slot in legacy message
// layouts. That identity is a protocol invariant; see FindTag callers.
func EncodeTaggedList(buf *bytes.Buffer, list []TaggedData) error {
	if err := WriteUint(buf, uint64(len(list))); err != nil {
		return err
	}
	for i := range list {
		if err := list[i].Encode(buf); err != nil {
			return fmt.Errorf("encode tagged list[%d]: %w", i, err)
		}
	}
	return nil
}

// DecodeTaggedList reads a sequence of attributes.
func DecodeTaggedList(r *bytes.Reader) ([]TaggedData, error) {
	n, err := ReadUint(r)
	if err != nil {
		return nil, fmt.Errorf("decode tagged list: %w", err)
	}
	if n > maxTaggedListLen {
		return nil, fmt.Errorf("decode tagged list: %d entries exceeds limit: %w", n, ErrOversizeFrame)
	}
	if n == 0 {
		return nil, nil
	}
	list := make([]TaggedData, 0, n)
	for i := uint64(0); i < n; i++ {
		td, err := DecodeTaggedData(r)
		if err != nil {
			return nil, err
		}
		list = append(list, td)
	}
	return list, nil
}

// FindTag returns the first attribute with the given tag, if present.
func FindTag(list []TaggedData, tag uint64) (TaggedData, bool) {
	for _, td := range list {
		if td.Tag == tag {
			return td, true
		}
	}
	return TaggedData{}, false
}

// FindUnsigned returns the unsigned payload of the first attribute with
// the given tag. The second return is false if the tag is absent or its
// payload is not unsigned.
func FindUnsigned(list []TaggedData, tag uint64) (uint64, bool) {
	td, ok := FindTag(list, tag)
	if !ok || td.Data.Kind != VariantUnsigned {
		return 0, false
	}
	return td.Data.Unsigned, true
}

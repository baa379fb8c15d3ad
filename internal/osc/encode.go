package osc

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BundleTag prefixes every bundle.
const BundleTag = "#bundle"

// ImmediateTimeTag asks the receiver to act on a bundle as soon as it arrives.
const ImmediateTimeTag uint64 = 1

func pad4(n int) int {
	return (n + 3) &^ 3
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	// at least one NUL, then pad to a 4-byte boundary
	for n := pad4(len(s) + 1); n > len(s); n-- {
		buf = append(buf, 0)
	}
	return buf
}

func appendBlob(buf, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	buf = append(buf, b...)
	for i := len(b); i < pad4(len(b)); i++ {
		buf = append(buf, 0)
	}
	return buf
}

// Encode serialises a single message.
func Encode(m *Message) ([]byte, error) {
	return appendMessage(nil, m)
}

func appendMessage(buf []byte, m *Message) ([]byte, error) {
	if m == nil || len(m.Address) == 0 || m.Address[0] != '/' {
		return nil, fmt.Errorf("osc: invalid address %q", addressOf(m))
	}
	buf = appendString(buf, m.Address)
	buf = appendString(buf, m.TypeTags())
	for i, a := range m.Args {
		switch a.Tag {
		case TagInt32:
			buf = binary.BigEndian.AppendUint32(buf, uint32(a.Int32))
		case TagFloat32:
			buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(a.Float32))
		case TagDouble:
			buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(a.Double))
		case TagInt64:
			buf = binary.BigEndian.AppendUint64(buf, uint64(a.Int64))
		case TagString:
			buf = appendString(buf, a.String)
		case TagBlob:
			buf = appendBlob(buf, a.Blob)
		case TagTrue, TagFalse, TagNil:
		default:
			return nil, fmt.Errorf("osc: %s arg %d: unsupported type tag %q", m.Address, i, a.Tag)
		}
	}
	return buf, nil
}

func addressOf(m *Message) string {
	if m == nil {
		return ""
	}
	return m.Address
}

// EncodeBundle wraps the messages in a bundle with an immediate time tag.
func EncodeBundle(msgs ...*Message) ([]byte, error) {
	buf := appendString(nil, BundleTag)
	buf = binary.BigEndian.AppendUint64(buf, ImmediateTimeTag)
	for _, m := range msgs {
		elem, err := Encode(m)
		if err != nil {
			return nil, err
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(elem)))
		buf = append(buf, elem...)
	}
	return buf, nil
}

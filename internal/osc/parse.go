package osc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformed marks a packet or element that could not be decoded at all.
var ErrMalformed = errors.New("osc: malformed packet")

// maxBundleDepth bounds recursion through nested bundles.
const maxBundleDepth = 8

// ParsePacket decodes a datagram into its messages, flattening bundles in
// order. Decoding is best effort: a bad argument truncates that message's
// argument list, and a bad bundle element is skipped while later elements are
// still decoded. The returned error describes the first problem seen; the
// messages decoded so far are returned alongside it.
func ParsePacket(data []byte) ([]Message, error) {
	p := &packetParser{}
	p.parse(data, 0)
	return p.msgs, p.err
}

type packetParser struct {
	msgs []Message
	err  error
}

func (p *packetParser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *packetParser) parse(data []byte, depth int) {
	if len(data) == 0 {
		p.fail(fmt.Errorf("%w: empty element", ErrMalformed))
		return
	}
	if data[0] == '#' {
		p.parseBundle(data, depth)
		return
	}
	m, err := parseMessage(data)
	if m != nil {
		p.msgs = append(p.msgs, *m)
	}
	if err != nil {
		p.fail(err)
	}
}

func (p *packetParser) parseBundle(data []byte, depth int) {
	if depth >= maxBundleDepth {
		p.fail(fmt.Errorf("%w: bundles nested deeper than %d", ErrMalformed, maxBundleDepth))
		return
	}
	tag, off, err := readString(data, 0)
	if err != nil || tag != BundleTag {
		p.fail(fmt.Errorf("%w: bad bundle header", ErrMalformed))
		return
	}
	if off+8 > len(data) {
		p.fail(fmt.Errorf("%w: bundle missing time tag", ErrMalformed))
		return
	}
	off += 8
	for off < len(data) {
		if off+4 > len(data) {
			p.fail(fmt.Errorf("%w: truncated bundle element size", ErrMalformed))
			return
		}
		size := int(binary.BigEndian.Uint32(data[off:]))
		off += 4
		if size < 0 || off+size > len(data) {
			p.fail(fmt.Errorf("%w: bundle element of %d bytes overruns packet", ErrMalformed, size))
			return
		}
		p.parse(data[off:off+size], depth+1)
		off += size
	}
}

// parseMessage returns nil only when the address cannot be read. Otherwise the
// message carries every argument decoded before the first failure.
func parseMessage(data []byte) (*Message, error) {
	addr, off, err := readString(data, 0)
	if err != nil || len(addr) == 0 || addr[0] != '/' {
		return nil, fmt.Errorf("%w: unreadable address", ErrMalformed)
	}
	m := &Message{Address: addr}
	if off >= len(data) {
		// no type tag string: a bare address
		return m, nil
	}
	tags, off, err := readString(data, off)
	if err != nil || len(tags) == 0 || tags[0] != ',' {
		return m, fmt.Errorf("%w: %s: bad type tag string", ErrMalformed, addr)
	}

	for i := 1; i < len(tags); i++ {
		a := Arg{Tag: tags[i]}
		switch a.Tag {
		case TagInt32, TagFloat32:
			if off+4 > len(data) {
				return m, truncated(addr, i)
			}
			v := binary.BigEndian.Uint32(data[off:])
			if a.Tag == TagInt32 {
				a.Int32 = int32(v)
			} else {
				a.Float32 = math.Float32frombits(v)
			}
			off += 4
		case TagDouble, TagInt64:
			if off+8 > len(data) {
				return m, truncated(addr, i)
			}
			v := binary.BigEndian.Uint64(data[off:])
			if a.Tag == TagDouble {
				a.Double = math.Float64frombits(v)
			} else {
				a.Int64 = int64(v)
			}
			off += 8
		case TagString:
			s, next, err := readString(data, off)
			if err != nil {
				return m, truncated(addr, i)
			}
			a.String = s
			off = next
		case TagBlob:
			if off+4 > len(data) {
				return m, truncated(addr, i)
			}
			n := int(binary.BigEndian.Uint32(data[off:]))
			off += 4
			if n < 0 || off+n > len(data) {
				return m, truncated(addr, i)
			}
			a.Blob = append([]byte(nil), data[off:off+n]...)
			off += pad4(n)
		case TagTrue, TagFalse, TagNil:
		default:
			return m, fmt.Errorf("%w: %s: unknown type tag %q", ErrMalformed, addr, a.Tag)
		}
		m.Args = append(m.Args, a)
	}
	return m, nil
}

func truncated(addr string, i int) error {
	return fmt.Errorf("%w: %s: argument %d truncated", ErrMalformed, addr, i)
}

// readString reads a NUL-terminated, 4-byte padded string at off and returns
// the offset just past its padding.
func readString(data []byte, off int) (string, int, error) {
	if off >= len(data) {
		return "", off, fmt.Errorf("%w: string past end", ErrMalformed)
	}
	end := bytes.IndexByte(data[off:], 0)
	if end < 0 {
		return "", off, fmt.Errorf("%w: unterminated string", ErrMalformed)
	}
	s := string(data[off : off+end])
	next := off + pad4(end+1)
	if next > len(data) {
		next = len(data)
	}
	return s, next, nil
}

// Package osc encodes and decodes the control messages exchanged with the
// rendering engine: an address pattern followed by type-tagged, big-endian,
// 4-byte aligned arguments, optionally grouped into bundles.
package osc

import (
	"fmt"
	"strings"
)

// Type tags understood by the codec.
const (
	TagInt32   byte = 'i'
	TagFloat32 byte = 'f'
	TagDouble  byte = 'd'
	TagInt64   byte = 'h'
	TagString  byte = 's'
	TagBlob    byte = 'b'
	TagTrue    byte = 'T'
	TagFalse   byte = 'F'
	TagNil     byte = 'N'
)

// Arg is one typed argument. Only the field matching Tag is meaningful.
type Arg struct {
	Tag     byte
	Int32   int32
	Float32 float32
	Double  float64
	Int64   int64
	String  string
	Blob    []byte
}

func Int32(v int32) Arg     { return Arg{Tag: TagInt32, Int32: v} }
func Float32(v float32) Arg { return Arg{Tag: TagFloat32, Float32: v} }
func Double(v float64) Arg  { return Arg{Tag: TagDouble, Double: v} }
func Int64(v int64) Arg     { return Arg{Tag: TagInt64, Int64: v} }
func String(v string) Arg   { return Arg{Tag: TagString, String: v} }
func Blob(v []byte) Arg     { return Arg{Tag: TagBlob, Blob: v} }
func Nil() Arg              { return Arg{Tag: TagNil} }

// Bool returns a T or F argument.
func Bool(v bool) Arg {
	if v {
		return Arg{Tag: TagTrue}
	}
	return Arg{Tag: TagFalse}
}

// Value returns the argument as a plain Go value, for logging and JSON.
func (a Arg) Value() interface{} {
	switch a.Tag {
	case TagInt32:
		return a.Int32
	case TagFloat32:
		return a.Float32
	case TagDouble:
		return a.Double
	case TagInt64:
		return a.Int64
	case TagString:
		return a.String
	case TagBlob:
		return a.Blob
	case TagTrue:
		return true
	case TagFalse:
		return false
	}
	return nil
}

func (a Arg) text() string {
	switch a.Tag {
	case TagString:
		return fmt.Sprintf("%q", a.String)
	case TagBlob:
		return fmt.Sprintf("blob[%d]", len(a.Blob))
	case TagNil:
		return "nil"
	}
	return fmt.Sprint(a.Value())
}

// Message is a single control message.
type Message struct {
	Address string `json:"address"`
	Args    []Arg  `json:"-"`
}

// NewMessage starts a message for the given address pattern.
func NewMessage(address string) *Message {
	return &Message{Address: address}
}

func (m *Message) Int32(v int32) *Message     { m.Args = append(m.Args, Int32(v)); return m }
func (m *Message) Float32(v float32) *Message { m.Args = append(m.Args, Float32(v)); return m }
func (m *Message) Double(v float64) *Message  { m.Args = append(m.Args, Double(v)); return m }
func (m *Message) Int64(v int64) *Message     { m.Args = append(m.Args, Int64(v)); return m }
func (m *Message) Str(v string) *Message      { m.Args = append(m.Args, String(v)); return m }
func (m *Message) Blob(v []byte) *Message     { m.Args = append(m.Args, Blob(v)); return m }
func (m *Message) Bool(v bool) *Message       { m.Args = append(m.Args, Bool(v)); return m }

// Float is a convenience for float64 values sent as 32-bit floats.
func (m *Message) Float(v float64) *Message { return m.Float32(float32(v)) }

// TypeTags returns the type tag string including the leading comma.
func (m *Message) TypeTags() string {
	var b strings.Builder
	b.WriteByte(',')
	for _, a := range m.Args {
		b.WriteByte(a.Tag)
	}
	return b.String()
}

// Text renders the message as "address arg1 arg2 ..." for logs.
func (m *Message) Text() string {
	var b strings.Builder
	b.WriteString(m.Address)
	for _, a := range m.Args {
		b.WriteByte(' ')
		b.WriteString(a.text())
	}
	return b.String()
}

// Values returns all arguments as plain Go values.
func (m *Message) Values() []interface{} {
	out := make([]interface{}, len(m.Args))
	for i, a := range m.Args {
		out[i] = a.Value()
	}
	return out
}

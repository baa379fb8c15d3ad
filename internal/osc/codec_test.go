package osc

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncode_Layout(t *testing.T) {
	got, err := Encode(NewMessage("/notify").Int32(1))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{
		'/', 'n', 'o', 't', 'i', 'f', 'y', 0,
		',', 'i', 0, 0,
		0, 0, 0, 1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Encode mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode_StringPadding(t *testing.T) {
	// "/abc" is 4 bytes and needs a full 4-byte NUL pad.
	got, err := Encode(NewMessage("/abc"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 12 {
		t.Fatalf("len = %d, want 12 (%v)", len(got), got)
	}
	if got[4] != 0 || got[7] != 0 {
		t.Errorf("address not NUL padded: %v", got)
	}
}

func TestEncode_RejectsBadAddress(t *testing.T) {
	for _, m := range []*Message{nil, NewMessage(""), NewMessage("status")} {
		if _, err := Encode(m); err == nil {
			t.Errorf("Encode(%v) expected error", m)
		}
	}
	if _, err := Encode(&Message{Address: "/x", Args: []Arg{{Tag: 'z'}}}); err == nil {
		t.Error("expected error for unknown type tag")
	}
}

func TestParsePacket_AllTypes(t *testing.T) {
	in := NewMessage("/everything").
		Int32(-7).
		Float32(0.25).
		Double(44100.5).
		Int64(1 << 40).
		Str("stereoTestSound.wav").
		Blob([]byte{1, 2, 3}).
		Bool(true).
		Bool(false)
	in.Args = append(in.Args, Nil())

	data, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := ParsePacket(data)
	if err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if diff := cmp.Diff(*in, msgs[0]); diff != "" {
		t.Errorf("decoded message mismatch (-want +got):\n%s", diff)
	}
}

func TestParsePacket_FlattensNestedBundles(t *testing.T) {
	inner, err := EncodeBundle(NewMessage("/n_end").Int32(1001), NewMessage("/n_go").Int32(1002))
	if err != nil {
		t.Fatal(err)
	}
	first, _ := Encode(NewMessage("/status.reply").Int32(1))

	outer := appendString(nil, BundleTag)
	outer = binary.BigEndian.AppendUint64(outer, ImmediateTimeTag)
	outer = binary.BigEndian.AppendUint32(outer, uint32(len(first)))
	outer = append(outer, first...)
	outer = binary.BigEndian.AppendUint32(outer, uint32(len(inner)))
	outer = append(outer, inner...)

	msgs, err := ParsePacket(outer)
	if err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}
	var addrs []string
	for _, m := range msgs {
		addrs = append(addrs, m.Address)
	}
	if diff := cmp.Diff([]string{"/status.reply", "/n_end", "/n_go"}, addrs); diff != "" {
		t.Errorf("addresses (-want +got):\n%s", diff)
	}
	if msgs[1].Args[0].Int32 != 1001 {
		t.Errorf("/n_end node = %d, want 1001", msgs[1].Args[0].Int32)
	}
}

func TestParsePacket_TruncatedArgumentKeepsDecodedPrefix(t *testing.T) {
	data, _ := Encode(NewMessage("/status.reply").Int32(5).Int32(3).Float32(0.1))
	// Drop the float payload.
	data = data[:len(data)-4]

	msgs, err := ParsePacket(data)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	want := []Arg{Int32(5), Int32(3)}
	if diff := cmp.Diff(want, msgs[0].Args); diff != "" {
		t.Errorf("args (-want +got):\n%s", diff)
	}
}

func TestParsePacket_BadElementDoesNotDropLaterOnes(t *testing.T) {
	good, _ := Encode(NewMessage("/n_end").Int32(9))
	bad := []byte("garbage!")

	pkt := appendString(nil, BundleTag)
	pkt = binary.BigEndian.AppendUint64(pkt, ImmediateTimeTag)
	pkt = binary.BigEndian.AppendUint32(pkt, uint32(len(bad)))
	pkt = append(pkt, bad...)
	pkt = binary.BigEndian.AppendUint32(pkt, uint32(len(good)))
	pkt = append(pkt, good...)

	msgs, err := ParsePacket(pkt)
	if err == nil {
		t.Error("expected an error for the garbage element")
	}
	if len(msgs) != 1 || msgs[0].Address != "/n_end" {
		t.Fatalf("msgs = %+v, want the single /n_end", msgs)
	}
}

func TestParsePacket_Garbage(t *testing.T) {
	tests := map[string][]byte{
		"empty":           {},
		"no terminator":   []byte("/abc"),
		"no slash":        {'x', 0, 0, 0},
		"short bundle":    []byte("#bundle\x00\x00\x00"),
		"overrun element": append(append(appendString(nil, BundleTag), make([]byte, 8)...), 0, 0, 1, 0),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			msgs, err := ParsePacket(data)
			if err == nil {
				t.Errorf("expected error, got msgs %+v", msgs)
			}
			if len(msgs) != 0 {
				t.Errorf("expected no messages, got %+v", msgs)
			}
		})
	}
}

func TestParsePacket_BareAddress(t *testing.T) {
	data := appendString(nil, "/status")
	msgs, err := ParsePacket(data)
	if err != nil || len(msgs) != 1 || len(msgs[0].Args) != 0 {
		t.Fatalf("ParsePacket(bare) = %+v, %v", msgs, err)
	}
}

func TestEncodeBundle_Header(t *testing.T) {
	data, err := EncodeBundle(NewMessage("/status"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data[:7]) != BundleTag || data[7] != 0 {
		t.Errorf("bundle tag = %q", data[:8])
	}
	if tt := binary.BigEndian.Uint64(data[8:16]); tt != ImmediateTimeTag {
		t.Errorf("time tag = %d, want %d", tt, ImmediateTimeTag)
	}
	if size := binary.BigEndian.Uint32(data[16:20]); int(size) != len(data)-20 {
		t.Errorf("element size = %d, want %d", size, len(data)-20)
	}
}

func TestMessage_Text(t *testing.T) {
	m := NewMessage("/loadBuffer").Int32(3).Str("a.wav").Float(0.5)
	if got, want := m.Text(), `/loadBuffer 3 "a.wav" 0.5`; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
	if got := m.TypeTags(); got != ",isf" {
		t.Errorf("TypeTags() = %q", got)
	}
	if v := m.Values()[2].(float32); math.Abs(float64(v)-0.5) > 1e-9 {
		t.Errorf("Values()[2] = %v", v)
	}
}

package main

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/soundfield/internal/osc"
)

func udpFrame(t *testing.T, src, dst uint16, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(127, 0, 0, 1),
		DstIP:    net.IPv4(127, 0, 0, 1),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(src), DstPort: layers.UDPPort(dst)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func writeCapture(t *testing.T, frames ...[]byte) *bytes.Buffer {
	t.Helper()
	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, f := range frames {
		ci := gopacket.CaptureInfo{Timestamp: ts.Add(time.Duration(i) * time.Millisecond), CaptureLength: len(f), Length: len(f)}
		require.NoError(t, w.WritePacket(ci, f))
	}
	return &out
}

func TestDecode(t *testing.T) {
	setPos, err := osc.EncodeBundle(osc.NewMessage("/setPos").Int32(1000).Float32(-0.5))
	require.NoError(t, err)
	status, err := osc.Encode(osc.NewMessage("/status"))
	require.NoError(t, err)

	capture := writeCapture(t,
		udpFrame(t, 40000, 57120, setPos),
		udpFrame(t, 8001, 57110, status),
		udpFrame(t, 40000, 9999, setPos),
		udpFrame(t, 40000, 57120, []byte("garbage")),
	)

	records, err := Decode(capture, defaultPorts())
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, uint16(57120), records[0].DstPort)
	require.Len(t, records[0].Messages, 1)
	assert.Equal(t, "/setPos", records[0].Messages[0].Address)
	assert.NoError(t, records[0].Err)

	assert.Equal(t, "/status", records[1].Messages[0].Address)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 0, 0, int(time.Millisecond), time.UTC), records[1].Time.UTC())

	assert.Error(t, records[2].Err)
}

func TestDecode_NotACapture(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("nope")), nil)
	assert.Error(t, err)
}

func TestParsePorts(t *testing.T) {
	got, err := parsePorts("57120, 8001,,")
	require.NoError(t, err)
	assert.Equal(t, map[uint16]bool{57120: true, 8001: true}, got)

	_, err = parsePorts("70000")
	assert.Error(t, err)
}

// osc-pcap prints the control messages found in a packet capture of engine
// traffic.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/soundfield/internal/osc"
	"github.com/banshee-data/soundfield/internal/transport"
)

var (
	pcapFile = flag.String("pcap", "", "Capture file to read (pcap format)")
	ports    = flag.String("ports", "", "Comma-separated UDP ports to decode (default: control, status and notify ports)")
)

// Record is one decoded datagram.
type Record struct {
	Time     time.Time
	SrcPort  uint16
	DstPort  uint16
	Messages []osc.Message
	Err      error
}

// Decode reads every UDP datagram to or from one of ports and parses its
// payload as control messages.
func Decode(r io.Reader, ports map[uint16]bool) ([]Record, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	source := gopacket.NewPacketSource(reader, reader.LinkType())

	var out []Record
	for packet := range source.Packets() {
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		src, dst := uint16(udp.SrcPort), uint16(udp.DstPort)
		if len(ports) > 0 && !ports[src] && !ports[dst] {
			continue
		}
		msgs, err := osc.ParsePacket(udp.Payload)
		out = append(out, Record{
			Time:     packet.Metadata().Timestamp,
			SrcPort:  src,
			DstPort:  dst,
			Messages: msgs,
			Err:      err,
		})
	}
	return out, nil
}

func defaultPorts() map[uint16]bool {
	return map[uint16]bool{
		transport.DefaultControlPort: true,
		transport.DefaultStatusPort:  true,
		transport.DefaultNotifyPort:  true,
	}
}

func main() {
	flag.Parse()
	if *pcapFile == "" {
		log.Fatal("-pcap is required")
	}

	portSet := defaultPorts()
	if *ports != "" {
		var err error
		if portSet, err = parsePorts(*ports); err != nil {
			log.Fatalf("invalid -ports: %v", err)
		}
	}

	f, err := os.Open(*pcapFile)
	if err != nil {
		log.Fatalf("failed to open %s: %v", *pcapFile, err)
	}
	defer f.Close()

	records, err := Decode(f, portSet)
	if err != nil {
		log.Fatal(err)
	}
	for _, rec := range records {
		for _, m := range rec.Messages {
			fmt.Printf("%s %5d -> %5d %s\n", rec.Time.Format("15:04:05.000000"), rec.SrcPort, rec.DstPort, m.Text())
		}
		if rec.Err != nil {
			fmt.Printf("%s %5d -> %5d ! %v\n", rec.Time.Format("15:04:05.000000"), rec.SrcPort, rec.DstPort, rec.Err)
		}
	}
	log.Printf("%d datagrams decoded", len(records))
}

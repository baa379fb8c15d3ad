package transport

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SLIP framing bytes (RFC 1055), used for packet streams over serial links.
const (
	slipEnd    byte = 0xC0
	slipEsc    byte = 0xDB
	slipEscEnd byte = 0xDC
	slipEscEsc byte = 0xDD
)

// PortOptions describes the serial line to a bridged engine.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and fills defaults.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options for go.bug.st/serial.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{BaudRate: opts.BaudRate, DataBits: opts.DataBits, StopBits: serial.OneStopBit}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

// SLIPConn frames packets over a byte stream.
type SLIPConn struct {
	rw      io.ReadWriteCloser
	writeMu sync.Mutex

	frames chan []byte
	errc   chan error
	done   chan struct{}
	once   sync.Once
}

// OpenSerial opens a serial port and frames packets with SLIP.
func OpenSerial(path string, opts PortOptions) (*SLIPConn, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return NewSLIPConn(port), nil
}

// NewSLIPConn starts decoding frames from rw.
func NewSLIPConn(rw io.ReadWriteCloser) *SLIPConn {
	c := &SLIPConn{
		rw:     rw,
		frames: make(chan []byte, 64),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// EncodeSLIP frames a single packet with a leading and trailing END byte.
func EncodeSLIP(packet []byte) []byte {
	out := make([]byte, 0, len(packet)+2)
	out = append(out, slipEnd)
	for _, b := range packet {
		switch b {
		case slipEnd:
			out = append(out, slipEsc, slipEscEnd)
		case slipEsc:
			out = append(out, slipEsc, slipEscEsc)
		default:
			out = append(out, b)
		}
	}
	return append(out, slipEnd)
}

func (c *SLIPConn) readLoop() {
	r := bufio.NewReader(c.rw)
	var frame []byte
	escaped := false
	for {
		b, err := r.ReadByte()
		if err != nil {
			select {
			case c.errc <- err:
			default:
			}
			return
		}
		switch {
		case escaped:
			escaped = false
			switch b {
			case slipEscEnd:
				frame = append(frame, slipEnd)
			case slipEscEsc:
				frame = append(frame, slipEsc)
			default:
				// protocol violation: keep the byte as-is
				frame = append(frame, b)
			}
		case b == slipEsc:
			escaped = true
		case b == slipEnd:
			if len(frame) == 0 {
				continue
			}
			select {
			case c.frames <- frame:
			case <-c.done:
				return
			default:
				// reader is not keeping up; drop like a datagram
			}
			frame = nil
		default:
			if len(frame) >= MaxPacketSize {
				frame = frame[:0]
				continue
			}
			frame = append(frame, b)
		}
	}
}

func (c *SLIPConn) Send(packet []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.rw.Write(EncodeSLIP(packet))
	return err
}

func (c *SLIPConn) Receive(timeout time.Duration) ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.errc:
		if err == io.EOF {
			return nil, ErrClosed
		}
		return nil, err
	case <-c.done:
		return nil, ErrClosed
	case <-timer.C:
		return nil, ErrTimeout
	}
}

func (c *SLIPConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.rw.Close()
	})
	return err
}

package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Default ports of the rendering engine.
const (
	DefaultControlPort = 57120
	DefaultStatusPort  = 57110
	DefaultNotifyPort  = 8001
)

// UDPSocket is the subset of *net.UDPConn used by UDPConn.
type UDPSocket interface {
	Write(b []byte) (int, error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// UDPConn is a Conn over a UDP socket. When remote is nil the socket is
// already connected and Write is used.
type UDPConn struct {
	sock   UDPSocket
	remote *net.UDPAddr
	buf    []byte
}

// NewUDPConn wraps an existing socket. remote may be nil for a connected socket.
func NewUDPConn(sock UDPSocket, remote *net.UDPAddr) *UDPConn {
	return &UDPConn{sock: sock, remote: remote, buf: make([]byte, MaxPacketSize)}
}

// DialControl opens the control channel: a connected UDP socket to host:port
// from an ephemeral local port.
func DialControl(host string, port int) (*UDPConn, error) {
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve control address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial control channel %s: %w", raddr, err)
	}
	return NewUDPConn(conn, nil), nil
}

// DialQuery opens the query channel. It binds localPort so that the engine
// can address notifications back to a well-known port, and sends to
// host:remotePort.
func DialQuery(host string, remotePort, localPort int) (*UDPConn, error) {
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(remotePort)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve status address: %w", err)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: localPort})
	if err != nil {
		return nil, fmt.Errorf("failed to bind query channel on port %d: %w", localPort, err)
	}
	return NewUDPConn(conn, raddr), nil
}

// Send writes one datagram.
func (c *UDPConn) Send(packet []byte) error {
	var err error
	if c.remote != nil {
		_, err = c.sock.WriteToUDP(packet, c.remote)
	} else {
		_, err = c.sock.Write(packet)
	}
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}

// Receive reads one datagram, waiting at most timeout.
func (c *UDPConn) Receive(timeout time.Duration) ([]byte, error) {
	if err := c.sock.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	n, _, err := c.sock.ReadFromUDP(c.buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, ErrTimeout
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	out := make([]byte, n)
	copy(out, c.buf[:n])
	return out, nil
}

// LocalAddr returns the bound local address.
func (c *UDPConn) LocalAddr() net.Addr {
	return c.sock.LocalAddr()
}

// Close closes the socket.
func (c *UDPConn) Close() error {
	return c.sock.Close()
}

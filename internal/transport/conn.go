// Package transport carries encoded control packets between the session and
// the rendering engine. Each channel is a datagram-like Conn: one Send is one
// packet and one Receive returns at most one packet.
package transport

import (
	"errors"
	"time"
)

// ErrTimeout is returned by Receive when nothing arrived within the wait.
var ErrTimeout = errors.New("transport: receive timed out")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("transport: connection closed")

// MaxPacketSize bounds a single inbound packet.
const MaxPacketSize = 8192

// Conn is one control or query channel.
type Conn interface {
	// Send writes a single packet. Delivery is best effort.
	Send(packet []byte) error
	// Receive waits up to timeout for one packet and returns ErrTimeout if
	// none arrived.
	Receive(timeout time.Duration) ([]byte, error)
	Close() error
}

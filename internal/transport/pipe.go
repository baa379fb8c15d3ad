package transport

import (
	"sync"
	"time"
)

// PipeConn is one end of an in-memory packet pipe.
type PipeConn struct {
	in   chan []byte
	peer *PipeConn

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Pipe returns two connected ends. Packets sent on one are received on the
// other. Sends never block; a full buffer drops the packet like a lossy link.
func Pipe() (*PipeConn, *PipeConn) {
	a := &PipeConn{in: make(chan []byte, 256), done: make(chan struct{})}
	b := &PipeConn{in: make(chan []byte, 256), done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (p *PipeConn) Send(packet []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}

	cp := append([]byte(nil), packet...)
	select {
	case <-p.peer.done:
	case p.peer.in <- cp:
	default:
	}
	return nil
}

func (p *PipeConn) Receive(timeout time.Duration) ([]byte, error) {
	// drain queued packets before reporting closure
	select {
	case pkt := <-p.in:
		return pkt, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case pkt := <-p.in:
		return pkt, nil
	case <-p.done:
		return nil, ErrClosed
	case <-timer.C:
		return nil, ErrTimeout
	}
}

func (p *PipeConn) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}

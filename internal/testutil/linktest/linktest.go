package linktest

import (
	"errors"
	"io"
	"sync"
)

// ErrClosed reports I/O on a locally closed endpoint.
var ErrClosed = errors.New("linktest: endpoint closed")

// Endpoint is one side of an in-memory duplex byte channel. Reads block
// until data arrives or either side closes; writes never block while
// the chunk queue has room. Closing unblocks the peer's pending read.
type Endpoint struct {
	recv chan []byte
	done chan struct{}
	peer *Endpoint

	closeOnce sync.Once

	mu      sync.Mutex
	pending []byte
}

// Pipe returns two connected endpoints: bytes written to one side are
// readable on the other.
func Pipe() (*Endpoint, *Endpoint) {
	a := &Endpoint{recv: make(chan []byte, 64), done: make(chan struct{})}
	b := &Endpoint{recv: make(chan []byte, 64), done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (e *Endpoint) Write(p []byte) (int, error) {
	chunk := make([]byte, len(p))
	copy(chunk, p)
	select {
	case <-e.done:
		return 0, ErrClosed
	case <-e.peer.done:
		return 0, io.ErrClosedPipe
	case e.peer.recv <- chunk:
		return len(p), nil
	}
}

func (e *Endpoint) Read(p []byte) (int, error) {
	e.mu.Lock()
	if len(e.pending) > 0 {
		n := copy(p, e.pending)
		e.pending = e.pending[n:]
		e.mu.Unlock()
		return n, nil
	}
	e.mu.Unlock()

	select {
	case chunk := <-e.recv:
		return e.consume(p, chunk), nil
	case <-e.done:
		return 0, ErrClosed
	case <-e.peer.done:
		// Chunks already queued before the peer closed still arrive.
		select {
		case chunk := <-e.recv:
			return e.consume(p, chunk), nil
		default:
			return 0, io.EOF
		}
	}
}

func (e *Endpoint) consume(p, chunk []byte) int {
	n := copy(p, chunk)
	if n < len(chunk) {
		e.mu.Lock()
		e.pending = append(e.pending, chunk[n:]...)
		e.mu.Unlock()
	}
	return n
}

// Close shuts this side down. Idempotent; pending reads on both sides
// unblock.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() { close(e.done) })
	return nil
}

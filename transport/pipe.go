// File: transport/pipe.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// In-process connected pair of api.Conn handles. No sockets, no framing:
// payloads move through bounded channels. Intended for tests, examples, and
// wiring two meshes inside one process.

package transport

import (
	"io"
	"sync"

	"github.com/momentics/hioload-mesh/api"
)

// Ensure compile-time interface compliance.
var _ api.Conn = (*pipeConn)(nil)

type pipeConn struct {
	out chan<- []byte
	in  <-chan []byte

	localClosed  chan struct{}
	remoteClosed chan struct{}
	closeOnce    sync.Once
}

// Pipe returns two connected handles, each buffering up to depth payloads per
// direction. Closing either side eventually surfaces io.EOF on the peer once
// its buffered payloads drain.
func Pipe(depth int) (api.Conn, api.Conn) {
	if depth < 1 {
		depth = 1
	}
	ab := make(chan []byte, depth)
	ba := make(chan []byte, depth)
	aClosed := make(chan struct{})
	bClosed := make(chan struct{})
	a := &pipeConn{out: ab, in: ba, localClosed: aClosed, remoteClosed: bClosed}
	b := &pipeConn{out: ba, in: ab, localClosed: bClosed, remoteClosed: aClosed}
	return a, b
}

// Send implements api.Conn.Send.
func (p *pipeConn) Send(payload []byte) error {
	select {
	case <-p.localClosed:
		return io.ErrClosedPipe
	case <-p.remoteClosed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case p.out <- payload:
		return nil
	default:
		return api.ErrWouldBlock
	}
}

// Recv implements api.Conn.Recv. Payloads buffered before a peer close are
// still delivered; io.EOF follows once they drain.
func (p *pipeConn) Recv() ([]byte, error) {
	select {
	case payload := <-p.in:
		return payload, nil
	default:
	}
	select {
	case <-p.localClosed:
		return nil, io.ErrClosedPipe
	default:
	}
	select {
	case <-p.remoteClosed:
		// One more look: the peer may have pushed before closing.
		select {
		case payload := <-p.in:
			return payload, nil
		default:
			return nil, io.EOF
		}
	default:
	}
	return nil, api.ErrWouldBlock
}

// Close implements api.Conn.Close.
func (p *pipeConn) Close() error {
	p.closeOnce.Do(func() {
		close(p.localClosed)
	})
	return nil
}

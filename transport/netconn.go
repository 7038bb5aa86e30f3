// File: transport/netconn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// NetConn bridges a blocking net.Conn into the non-blocking api.Conn
// contract: a reader and a writer goroutine own the socket, and Send/Recv
// exchange whole payloads with them through bounded channels. Frames are a
// 4-byte big-endian length prefix followed by the payload.

package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-mesh/api"
)

// MaxFrameSize bounds a single payload on the wire.
const MaxFrameSize = 16 << 20

// Ensure compile-time interface compliance.
var _ api.Conn = (*NetConn)(nil)

// NetConn implements api.Conn over an established net.Conn.
type NetConn struct {
	conn net.Conn
	out  chan []byte
	in   chan []byte

	closed    chan struct{}
	closeOnce sync.Once
	dead      chan struct{}
	deadOnce  sync.Once
	deadErr   atomic.Value // error
}

// NewNetConn wraps conn, buffering up to depth undelivered payloads in each
// direction. The adapter takes ownership of conn.
func NewNetConn(conn net.Conn, depth int) *NetConn {
	if depth < 1 {
		depth = 1
	}
	n := &NetConn{
		conn:   conn,
		out:    make(chan []byte, depth),
		in:     make(chan []byte, depth),
		closed: make(chan struct{}),
		dead:   make(chan struct{}),
	}
	go n.readLoop()
	go n.writeLoop()
	return n
}

// Send implements api.Conn.Send. Returns api.ErrWouldBlock when the write
// buffer is full; the payload must not be mutated after a nil return.
func (n *NetConn) Send(payload []byte) error {
	select {
	case <-n.closed:
		return net.ErrClosed
	default:
	}
	select {
	case <-n.dead:
		return n.failure()
	default:
	}
	select {
	case n.out <- payload:
		return nil
	default:
		return api.ErrWouldBlock
	}
}

// Recv implements api.Conn.Recv. Buffered payloads drain before the terminal
// error surfaces.
func (n *NetConn) Recv() ([]byte, error) {
	select {
	case payload := <-n.in:
		return payload, nil
	default:
	}
	select {
	case <-n.closed:
		return nil, net.ErrClosed
	default:
	}
	select {
	case <-n.dead:
		return nil, n.failure()
	default:
	}
	return nil, api.ErrWouldBlock
}

// Close implements api.Conn.Close.
func (n *NetConn) Close() error {
	n.closeOnce.Do(func() {
		close(n.closed)
		_ = n.conn.Close()
	})
	return nil
}

func (n *NetConn) readLoop() {
	var hdr [4]byte
	for {
		if _, err := io.ReadFull(n.conn, hdr[:]); err != nil {
			n.fail(err)
			return
		}
		size := binary.BigEndian.Uint32(hdr[:])
		if size > MaxFrameSize {
			n.fail(fmt.Errorf("transport: frame of %d bytes exceeds limit", size))
			return
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(n.conn, payload); err != nil {
			n.fail(err)
			return
		}
		select {
		case n.in <- payload:
		case <-n.closed:
			return
		}
	}
}

func (n *NetConn) writeLoop() {
	var hdr [4]byte
	for {
		select {
		case payload := <-n.out:
			if len(payload) > MaxFrameSize {
				n.fail(fmt.Errorf("transport: payload of %d bytes exceeds limit", len(payload)))
				return
			}
			binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
			if _, err := n.conn.Write(hdr[:]); err != nil {
				n.fail(err)
				return
			}
			if _, err := n.conn.Write(payload); err != nil {
				n.fail(err)
				return
			}
		case <-n.closed:
			return
		case <-n.dead:
			return
		}
	}
}

// fail records the first terminal error and marks the adapter dead.
func (n *NetConn) fail(err error) {
	n.deadOnce.Do(func() {
		n.deadErr.Store(err)
		close(n.dead)
	})
}

func (n *NetConn) failure() error {
	if err, ok := n.deadErr.Load().(error); ok {
		return err
	}
	return io.ErrUnexpectedEOF
}

// File: api/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Defines the connection handle abstraction consumed by the reactor.
// Handles are produced elsewhere (transport adapters, tests); this layer
// only manages their lifecycle and I/O once established.

package api

// Conn abstracts an established, exclusively-owned bidirectional byte stream
// carrying whole payloads. Ownership is transferred to the reactor at Add and
// back to the caller at Remove; no other goroutine may touch the handle in
// between.
type Conn interface {
	// Send attempts to hand one payload to the underlying stream without
	// blocking. Returns ErrWouldBlock when the stream cannot accept the
	// payload right now; any other error marks the connection unusable.
	Send(payload []byte) error

	// Recv attempts to take the next available payload without blocking.
	// Returns ErrWouldBlock when nothing is pending; io.EOF or any other
	// error marks the connection unusable.
	Recv() ([]byte, error)

	// Close tears down the underlying stream. Safe to call more than once.
	Close() error
}

// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the api.Conn contract.

package fake

import (
	"errors"
	"sync"

	"github.com/momentics/hioload-mesh/api"
)

// ErrConnClosed is returned once the fake connection has been closed.
var ErrConnClosed = errors.New("fake: conn is closed")

// Ensure compile-time interface compliance.
var _ api.Conn = (*Conn)(nil)

// Conn is a scriptable in-memory implementation of api.Conn.
type Conn struct {
	mu         sync.Mutex
	sent       [][]byte
	recvQueue  [][]byte
	closed     bool
	closeCount int
	sendErr    error
	recvErr    error
	blocked    bool
}

// NewConn creates a fake connection with empty buffers.
func NewConn() *Conn {
	return &Conn{}
}

// Send implements api.Conn.Send.
func (c *Conn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.blocked {
		return api.ErrWouldBlock
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.sent = append(c.sent, buf)
	return nil
}

// Recv implements api.Conn.Recv. Queued payloads drain before any scripted
// receive error takes effect.
func (c *Conn) Recv() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrConnClosed
	}
	if len(c.recvQueue) == 0 {
		if c.recvErr != nil {
			return nil, c.recvErr
		}
		return nil, api.ErrWouldBlock
	}
	payload := c.recvQueue[0]
	c.recvQueue = c.recvQueue[1:]
	return payload, nil
}

// Close implements api.Conn.Close.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCount++
	return nil
}

// QueueRecv adds a payload to be returned by a later Recv call.
func (c *Conn) QueueRecv(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.recvQueue = append(c.recvQueue, buf)
}

// SetSendError configures Send to fail with err.
func (c *Conn) SetSendError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// SetRecvError configures Recv to fail with err once the queue is drained.
func (c *Conn) SetRecvError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recvErr = err
}

// SetBlocked toggles would-block behavior on Send.
func (c *Conn) SetBlocked(blocked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocked = blocked
}

// SentData returns a copy of everything accepted by Send.
func (c *Conn) SentData() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// PendingRecv returns the number of queued, unread payloads.
func (c *Conn) PendingRecv() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recvQueue)
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseCount returns how many times Close has been called.
func (c *Conn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

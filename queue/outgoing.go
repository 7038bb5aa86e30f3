// File: queue/outgoing.go
// Package queue implements the bounded per-connection outgoing queue.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Each registered connection owns exactly one outgoing queue. The producer
// handle lives with the mesh front-end, the consumer handle with the reactor.
// Queues for different connections are fully independent structures: draining
// one never inspects or locks another, so a backed-up peer cannot starve the
// rest.

package queue

import (
	"sync/atomic"

	"github.com/momentics/hioload-mesh/api"
	"github.com/momentics/hioload-mesh/core/concurrency"
)

// outgoing is the state shared by a producer/consumer pair.
// The ring rounds its size up to a power of two, so an exact capacity gate
// is kept separately in length/capacity.
type outgoing struct {
	ring     *concurrency.RingBuffer[[]byte]
	length   atomic.Int64
	capacity int64

	producerDropped atomic.Bool
	consumerClosed  atomic.Bool
}

// Producer is the mesh-side handle. Push never blocks on the reactor.
type Producer struct {
	q *outgoing
}

// Consumer is the reactor-side handle. Single-consumer by contract.
type Consumer struct {
	q *outgoing
}

// NewOutgoing creates a bounded queue of exactly capacity payloads and
// returns its producer/consumer handle pair.
func NewOutgoing(capacity int) (*Producer, *Consumer) {
	if capacity < 1 {
		capacity = 1
	}
	q := &outgoing{
		ring:     concurrency.NewRingBuffer[[]byte](uint64(capacity)),
		capacity: int64(capacity),
	}
	return &Producer{q: q}, &Consumer{q: q}
}

// Push enqueues one payload. Returns api.ErrFull when the capacity bound is
// reached and api.ErrDisconnected once the reactor side has torn the queue
// down. Never blocks.
func (p *Producer) Push(payload []byte) error {
	q := p.q
	if q.consumerClosed.Load() {
		return api.ErrDisconnected
	}
	if q.length.Add(1) > q.capacity {
		q.length.Add(-1)
		return api.ErrFull
	}
	if !q.ring.Enqueue(payload) {
		// Cannot happen while the length gate holds; keep accounting sane.
		q.length.Add(-1)
		return api.ErrFull
	}
	if q.consumerClosed.Load() {
		// Teardown raced the enqueue; the payload will never drain.
		return api.ErrDisconnected
	}
	return nil
}

// Drop releases the producer side. The reactor observes the drop and treats
// it like an explicit removal of the connection.
func (p *Producer) Drop() {
	p.q.producerDropped.Store(true)
}

// Len returns the number of queued payloads.
func (p *Producer) Len() int {
	return int(p.q.length.Load())
}

// Cap returns the exact configured capacity.
func (p *Producer) Cap() int {
	return int(p.q.capacity)
}

// Pop dequeues the oldest payload; ok is false when the queue is empty.
// Popping does NOT free capacity: a popped payload still counts against the
// bound until Release confirms it reached the wire. Without this, the
// reactor's pop-ahead would silently stretch the configured capacity while a
// connection is stalled.
func (c *Consumer) Pop() ([]byte, bool) {
	return c.q.ring.Dequeue()
}

// Release frees one unit of capacity after a popped payload was written out.
func (c *Consumer) Release() {
	c.q.length.Add(-1)
}

// ProducerDropped reports whether the producer side has been released.
func (c *Consumer) ProducerDropped() bool {
	return c.q.producerDropped.Load()
}

// Close tears the queue down from the reactor side. Subsequent Push calls
// observe api.ErrDisconnected. Idempotent.
func (c *Consumer) Close() {
	c.q.consumerClosed.Store(true)
}

// Len returns the number of queued payloads.
func (c *Consumer) Len() int {
	return int(c.q.length.Load())
}

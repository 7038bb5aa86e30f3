// File: inbox/inbox.go
// Package inbox implements the bounded incoming delivery channel.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The reactor is the only producer; any number of mesh clones consume.
// Delivery is work distribution, not broadcast: each envelope reaches exactly
// one receiver. Shutdown is broadcast by closing the channel, so every
// current and future receiver observes it exactly once per call and never an
// envelope afterward.

package inbox

import (
	"sync"
	"time"

	"github.com/momentics/hioload-mesh/api"
)

// Envelope is the reactor-internal unit of delivery, addressed by numeric
// connection id. Identity translation happens at the mesh boundary.
type Envelope struct {
	ConnID  int64
	Payload []byte
}

// Inbox is a bounded multi-consumer channel between reactor and mesh clones.
type Inbox struct {
	ch        chan Envelope
	closeOnce sync.Once
}

// New creates an inbox holding at most capacity undelivered envelopes.
// A full inbox blocks the reactor's Push: the single, intentional point of
// backpressure instead of unbounded buffering.
func New(capacity int) *Inbox {
	if capacity < 1 {
		capacity = 1
	}
	return &Inbox{ch: make(chan Envelope, capacity)}
}

// Push delivers one envelope, blocking while the inbox is full.
// Must only be called by the reactor goroutine, and never after Close.
func (in *Inbox) Push(ev Envelope) {
	in.ch <- ev
}

// Recv blocks until an envelope arrives or shutdown is observed.
func (in *Inbox) Recv() (Envelope, error) {
	ev, ok := <-in.ch
	if !ok {
		return Envelope{}, api.ErrShutdown
	}
	return ev, nil
}

// RecvTimeout behaves like Recv but gives up after d with api.ErrTimeout.
// A timed-out call consumes nothing.
func (in *Inbox) RecvTimeout(d time.Duration) (Envelope, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case ev, ok := <-in.ch:
		if !ok {
			return Envelope{}, api.ErrShutdown
		}
		return ev, nil
	case <-timer.C:
		return Envelope{}, api.ErrTimeout
	}
}

// Close broadcasts shutdown to all receivers. Idempotent. The producer must
// have stopped pushing before the call.
func (in *Inbox) Close() {
	in.closeOnce.Do(func() {
		close(in.ch)
	})
}

// Pending returns the number of undelivered envelopes.
func (in *Inbox) Pending() int {
	return len(in.ch)
}

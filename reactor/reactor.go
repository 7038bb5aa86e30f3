// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Single-worker connection multiplexer. One goroutine owns the registered
// connection set and drives three event sources per iteration: the control
// channel, each connection's outgoing queue, and each connection's readiness
// for reading. When nothing moves, the loop parks on the control channel with
// adaptive backoff instead of spinning.

package reactor

import (
	"errors"
	"log"
	"runtime"
	"time"

	eaqueue "github.com/eapache/queue"

	"github.com/momentics/hioload-mesh/affinity"
	"github.com/momentics/hioload-mesh/api"
	"github.com/momentics/hioload-mesh/inbox"
	"github.com/momentics/hioload-mesh/queue"
)

// Config holds parameters immutable per reactor run.
type Config struct {
	IncomingCapacity int // Bound of the shared inbox
	OutgoingCapacity int // Bound of each per-connection outgoing queue
	BatchSize        int // Max payloads moved per connection per iteration
	ControlBacklog   int // Buffered control commands
	PinCPU           int // Logical CPU to pin the worker to; -1 disables
}

// DefaultConfig returns sane defaults for typical deployments.
func DefaultConfig() Config {
	return Config{
		IncomingCapacity: 1024,
		OutgoingCapacity: 64,
		BatchSize:        16,
		ControlBacklog:   16,
		PinCPU:           -1,
	}
}

func (c *Config) sanitize() {
	if c.IncomingCapacity < 1 {
		c.IncomingCapacity = 1
	}
	if c.OutgoingCapacity < 1 {
		c.OutgoingCapacity = 1
	}
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}
	if c.ControlBacklog < 1 {
		c.ControlBacklog = 1
	}
}

// connState is the reactor-private view of one registered connection.
// pending holds payloads already popped from the outgoing queue that hit a
// would-block on the wire; they drain first on the next iteration so write
// order is preserved.
type connState struct {
	id      int64
	conn    api.Conn
	out     *queue.Consumer
	pending *eaqueue.Queue
	dead    bool
	deadErr error
}

// Reactor owns all registered connections and serializes every mutation of
// the registration set through its single loop goroutine. The loop shares no
// locks with callers.
type Reactor struct {
	cfg       Config
	cmds      chan command
	in        *inbox.Inbox
	done      chan struct{}
	conns     map[int64]*connState
	listeners []chan<- api.ConnEvent
	nextID    int64
}

// New wires the channels, spawns the worker goroutine, and returns the
// running reactor.
func New(cfg Config) *Reactor {
	cfg.sanitize()
	r := &Reactor{
		cfg:   cfg,
		cmds:  make(chan command, cfg.ControlBacklog),
		in:    inbox.New(cfg.IncomingCapacity),
		done:  make(chan struct{}),
		conns: make(map[int64]*connState),
	}
	go r.run()
	return r
}

// Inbox returns the shared incoming channel consumed by front-end handles.
func (r *Reactor) Inbox() *inbox.Inbox {
	return r.in
}

// Done is closed once the loop has terminated.
func (r *Reactor) Done() <-chan struct{} {
	return r.done
}

func (r *Reactor) run() {
	defer close(r.done)

	if r.cfg.PinCPU >= 0 {
		runtime.LockOSThread()
		if err := affinity.SetAffinity(r.cfg.PinCPU); err != nil {
			log.Printf("[reactor] cpu pin warning: %v", err)
		}
	}

	backoff := time.Microsecond
	const maxBackoff = time.Millisecond

	timer := time.NewTimer(0)
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}

	for {
		// Control first: registration changes beat data movement.
		select {
		case cmd := <-r.cmds:
			if r.handle(cmd) {
				r.finish()
				return
			}
			continue
		default:
		}

		progress := false
		var departed []*connState
		for _, cs := range r.conns {
			if r.drainOutgoing(cs) {
				progress = true
			}
			if r.pumpIncoming(cs) {
				progress = true
			}
			if cs.dead {
				departed = append(departed, cs)
			} else if cs.out.ProducerDropped() && cs.out.Len() == 0 && cs.pending.Length() == 0 {
				// All front-end handles released the queue: treat like an
				// explicit remove once everything already accepted is flushed.
				cs.deadErr = api.ErrDisconnected
				departed = append(departed, cs)
			}
		}
		for _, cs := range departed {
			r.cleanup(cs)
			progress = true
		}

		if progress {
			backoff = time.Microsecond
			continue
		}

		// Idle: park on control with adaptive backoff.
		timer.Reset(backoff)
		select {
		case cmd := <-r.cmds:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			if r.handle(cmd) {
				r.finish()
				return
			}
			backoff = time.Microsecond
		case <-timer.C:
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// handle processes one control command; returns true on shutdown.
func (r *Reactor) handle(cmd command) bool {
	switch cmd.kind {
	case cmdAdd:
		id := r.nextID
		r.nextID++
		producer, consumer := queue.NewOutgoing(r.cfg.OutgoingCapacity)
		r.conns[id] = &connState{
			id:      id,
			conn:    cmd.conn,
			out:     consumer,
			pending: eaqueue.New(),
		}
		cmd.reply <- reply{id: id, producer: producer}

	case cmdRemove:
		cs, ok := r.conns[cmd.id]
		if !ok {
			cmd.reply <- reply{err: api.ErrNotFound}
			break
		}
		cs.out.Close()
		delete(r.conns, cmd.id)
		r.notify(api.ConnEvent{NumericID: cmd.id})
		cmd.reply <- reply{conn: cs.conn}

	case cmdSubscribe:
		r.listeners = append(r.listeners, cmd.listener)
		cmd.reply <- reply{}

	case cmdShutdown:
		cmd.reply <- reply{}
		return true
	}
	return false
}

// drainOutgoing moves payloads from the connection's queue onto the wire.
// A would-block leaves the remainder in pending; a hard write failure marks
// the connection dead without touching any other connection's queue.
func (r *Reactor) drainOutgoing(cs *connState) bool {
	if cs.dead {
		return false
	}
	for cs.pending.Length() < r.cfg.BatchSize {
		payload, ok := cs.out.Pop()
		if !ok {
			break
		}
		cs.pending.Add(payload)
	}
	progress := false
	for cs.pending.Length() > 0 {
		payload := cs.pending.Peek().([]byte)
		err := cs.conn.Send(payload)
		if errors.Is(err, api.ErrWouldBlock) {
			break
		}
		if err != nil {
			cs.dead = true
			cs.deadErr = err
			return true
		}
		cs.pending.Remove()
		cs.out.Release()
		progress = true
	}
	return progress
}

// pumpIncoming reads available payloads and pushes them into the inbox.
// The push blocks when the inbox is full: the singular, intentional point of
// backpressure against a slow consumer.
func (r *Reactor) pumpIncoming(cs *connState) bool {
	if cs.dead {
		return false
	}
	progress := false
	for i := 0; i < r.cfg.BatchSize; i++ {
		payload, err := cs.conn.Recv()
		if errors.Is(err, api.ErrWouldBlock) {
			break
		}
		if err != nil {
			cs.dead = true
			cs.deadErr = err
			return true
		}
		r.in.Push(inbox.Envelope{ConnID: cs.id, Payload: payload})
		progress = true
	}
	return progress
}

// cleanup deregisters a connection the reactor itself found unusable. It runs
// on the loop goroutine, so an in-flight explicit Remove for the same id is
// serialized against it: whichever executes first wins, the other observes
// not-found.
func (r *Reactor) cleanup(cs *connState) {
	cs.out.Close()
	if err := cs.conn.Close(); err != nil {
		log.Printf("[reactor] close conn %d: %v", cs.id, err)
	}
	delete(r.conns, cs.id)
	r.notify(api.ConnEvent{NumericID: cs.id, Reason: cs.deadErr})
}

// finish tears down every remaining connection and broadcasts shutdown.
// Queued outbound payloads are dropped in favor of prompt termination.
func (r *Reactor) finish() {
	for _, cs := range r.conns {
		cs.out.Close()
		_ = cs.conn.Close()
	}
	r.conns = make(map[int64]*connState)
	r.in.Close()
}

// notify fans an event to subscribed listeners without ever blocking the loop.
func (r *Reactor) notify(ev api.ConnEvent) {
	for _, l := range r.listeners {
		select {
		case l <- ev:
		default:
			// listener lagging, event missed
		}
	}
}

// File: mesh/mesh.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Cloneable front-end over the reactor. The mesh owns the only mutable state
// shared across caller goroutines: the bijective identity map and the
// per-connection queue-producer map, guarded by a read/write lock taken only
// on mesh-facing calls. The reactor loop never touches this lock; it is
// reached exclusively through the control channel, the outgoing queues, and
// the inbox.

package mesh

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/momentics/hioload-mesh/api"
	"github.com/momentics/hioload-mesh/control"
	"github.com/momentics/hioload-mesh/inbox"
	"github.com/momentics/hioload-mesh/queue"
	"github.com/momentics/hioload-mesh/reactor"
)

// Ensure compile-time interface compliance.
var _ api.GracefulShutdown = (*Mesh)(nil)

// shared is the per-handle-group state. All clones of a mesh point at the
// same shared instance.
type shared struct {
	reactor *reactor.Reactor
	in      *inbox.Inbox
	metrics *control.MetricsRegistry

	mu        sync.RWMutex
	ids       map[string]int64          // identity -> numeric id
	names     map[int64]string          // numeric id -> identity
	producers map[int64]*queue.Producer // numeric id -> outgoing queue
}

// Mesh is a cheaply cloneable handle exposing Add, Remove, Send, Recv,
// RecvTimeout, Subscribe, and Shutdown.
type Mesh struct {
	s *shared
}

// New spawns the reactor and wires the channels with the given bounds.
// incomingCapacity bounds the shared inbox; outgoingCapacity bounds every
// per-connection outgoing queue.
func New(incomingCapacity, outgoingCapacity int, opts ...Option) *Mesh {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	r := reactor.New(reactor.Config{
		IncomingCapacity: incomingCapacity,
		OutgoingCapacity: outgoingCapacity,
		BatchSize:        o.batchSize,
		ControlBacklog:   o.controlBacklog,
		PinCPU:           o.pinCPU,
	})
	return &Mesh{s: &shared{
		reactor:   r,
		in:        r.Inbox(),
		metrics:   o.metrics,
		ids:       make(map[string]int64),
		names:     make(map[int64]string),
		producers: make(map[int64]*queue.Producer),
	}}
}

// Clone returns a new handle over the same shared state. Clones consume the
// inbox as a group: each envelope is delivered to exactly one of them.
func (m *Mesh) Clone() *Mesh {
	return &Mesh{s: m.s}
}

// Add registers conn under the caller-chosen identity and returns the numeric
// id minted by the reactor. Ownership of conn transfers to the reactor until
// Remove. Fails with api.ErrAlreadyExists when the identity is taken and
// api.ErrReactorDown when the worker is gone.
func (m *Mesh) Add(conn api.Conn, identity string) (int64, error) {
	m.s.mu.RLock()
	_, taken := m.s.ids[identity]
	m.s.mu.RUnlock()
	if taken {
		return 0, api.ErrAlreadyExists
	}

	id, producer, err := m.s.reactor.Add(conn)
	if err != nil {
		return 0, err
	}

	m.s.mu.Lock()
	if _, taken := m.s.ids[identity]; taken {
		m.s.mu.Unlock()
		// Lost a race with a concurrent Add of the same identity; undo the
		// registration. Ownership of conn returns to the caller either way.
		if _, rerr := m.s.reactor.Remove(id); rerr != nil {
			log.Printf("[mesh] rollback of conn %d failed: %v", id, rerr)
		}
		return 0, api.ErrAlreadyExists
	}
	m.s.ids[identity] = id
	m.s.names[id] = identity
	m.s.producers[id] = producer
	active := len(m.s.ids)
	m.s.mu.Unlock()

	m.s.metrics.Set("mesh.conns_active", int64(active))
	return id, nil
}

// Remove deregisters the identity and hands the connection handle back to the
// caller. The local producer entry is dropped only after the reactor
// round-trip settles: releasing it earlier would let the reactor observe a
// dropped producer and race this removal into a spurious not-found.
func (m *Mesh) Remove(identity string) (api.Conn, error) {
	m.s.mu.RLock()
	id, ok := m.s.ids[identity]
	m.s.mu.RUnlock()
	if !ok {
		return nil, api.ErrNotFound
	}

	conn, err := m.s.reactor.Remove(id)

	m.s.mu.Lock()
	delete(m.s.ids, identity)
	delete(m.s.names, id)
	delete(m.s.producers, id)
	active := len(m.s.ids)
	m.s.mu.Unlock()
	m.s.metrics.Set("mesh.conns_active", int64(active))

	if err != nil {
		// Automatic cleanup won the race; the stale local entries are gone now.
		return nil, err
	}
	return conn, nil
}

// Send enqueues the envelope's payload on the addressed connection's outgoing
// queue. Never blocks on the reactor. Failures come back as *api.SendError
// carrying the envelope, wrapping api.ErrNotFound, api.ErrFull, or
// api.ErrDisconnected.
func (m *Mesh) Send(env api.Envelope) error {
	m.s.mu.RLock()
	id, ok := m.s.ids[env.ID]
	var producer *queue.Producer
	if ok {
		producer = m.s.producers[id]
	}
	m.s.mu.RUnlock()
	if !ok {
		return &api.SendError{Envelope: env, Err: api.ErrNotFound}
	}

	if err := producer.Push(env.Payload); err != nil {
		if errors.Is(err, api.ErrFull) {
			m.s.metrics.Inc("mesh.send_full", 1)
		}
		return &api.SendError{Envelope: env, Err: err}
	}
	m.s.metrics.Inc("mesh.envelopes_out", 1)
	return nil
}

// Recv blocks until an envelope arrives or shutdown is observed.
func (m *Mesh) Recv() (api.Envelope, error) {
	ev, err := m.s.in.Recv()
	if err != nil {
		return api.Envelope{}, err
	}
	return m.translate(ev), nil
}

// RecvTimeout behaves like Recv but fails with api.ErrTimeout after d,
// consuming nothing.
func (m *Mesh) RecvTimeout(d time.Duration) (api.Envelope, error) {
	ev, err := m.s.in.RecvTimeout(d)
	if err != nil {
		return api.Envelope{}, err
	}
	return m.translate(ev), nil
}

// translate maps the reactor's numeric id back to the caller's identity.
// A missing mapping means the connection was removed while the envelope was
// in flight; the payload is still delivered under the default identity, and
// the occurrence is flagged through the mesh.identity_fallback counter.
func (m *Mesh) translate(ev inbox.Envelope) api.Envelope {
	m.s.mu.RLock()
	identity, ok := m.s.names[ev.ConnID]
	m.s.mu.RUnlock()
	if !ok {
		m.s.metrics.Inc("mesh.identity_fallback", 1)
	}
	m.s.metrics.Inc("mesh.envelopes_in", 1)
	return api.Envelope{ID: identity, Payload: ev.Payload}
}

// Subscribe registers a listener for connection-departure events, with the
// numeric id translated back to the identity when still known. Delivery is
// best effort; a listener that cannot keep up misses events.
func (m *Mesh) Subscribe(listener chan<- api.ConnEvent) error {
	internal := make(chan api.ConnEvent, 16)
	if err := m.s.reactor.Subscribe(internal); err != nil {
		return err
	}
	go func() {
		for {
			select {
			case ev := <-internal:
				m.s.mu.RLock()
				ev.Identity = m.s.names[ev.NumericID]
				m.s.mu.RUnlock()
				select {
				case listener <- ev:
				default:
				}
			case <-m.s.reactor.Done():
				return
			}
		}
	}()
	return nil
}

// Shutdown runs the shutdown protocol. Safe to call from any clone and
// idempotent: subsequent sends observe disconnect-style failures and every
// receiver observes api.ErrShutdown.
func (m *Mesh) Shutdown() error {
	return m.s.reactor.Shutdown()
}

// ShutdownSignaler returns a standalone handle that can trigger shutdown
// without holding a full mesh reference.
func (m *Mesh) ShutdownSignaler() *Signaler {
	return &Signaler{r: m.s.reactor}
}

// Metrics exposes the registry backing this mesh's counters.
func (m *Mesh) Metrics() *control.MetricsRegistry {
	return m.s.metrics
}

// Done is closed once the reactor has terminated.
func (m *Mesh) Done() <-chan struct{} {
	return m.s.reactor.Done()
}

// Signaler triggers the shutdown protocol described on Mesh.Shutdown.
type Signaler struct {
	r *reactor.Reactor
}

// Shutdown is one-shot and idempotent.
func (s *Signaler) Shutdown() error {
	return s.r.Shutdown()
}

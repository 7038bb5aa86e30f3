// File: reactor/control.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Control channel protocol between front-end handles and the reactor loop.
// Every request is a synchronous round-trip: the caller blocks on the reply
// channel, guarded by the reactor's done channel so a dead reactor can never
// strand a caller.

package reactor

import (
	"github.com/momentics/hioload-mesh/api"
	"github.com/momentics/hioload-mesh/queue"
)

type commandKind int

const (
	cmdAdd commandKind = iota
	cmdRemove
	cmdSubscribe
	cmdShutdown
)

type command struct {
	kind     commandKind
	conn     api.Conn             // cmdAdd
	id       int64                // cmdRemove
	listener chan<- api.ConnEvent // cmdSubscribe
	reply    chan reply
}

type reply struct {
	id       int64
	producer *queue.Producer
	conn     api.Conn
	err      error
}

// Add registers conn with the reactor and returns the minted numeric id plus
// the producer handle for its outgoing queue. Ownership of conn transfers to
// the reactor until Remove.
func (r *Reactor) Add(conn api.Conn) (int64, *queue.Producer, error) {
	rep, err := r.roundTrip(command{kind: cmdAdd, conn: conn})
	if err != nil {
		return 0, nil, err
	}
	return rep.id, rep.producer, nil
}

// Remove deregisters the connection with the given numeric id and transfers
// its handle back to the caller. Returns api.ErrNotFound when the id is
// unknown, including when automatic cleanup won the race.
func (r *Reactor) Remove(id int64) (api.Conn, error) {
	rep, err := r.roundTrip(command{kind: cmdRemove, id: id})
	if err != nil {
		return nil, err
	}
	if rep.err != nil {
		return nil, rep.err
	}
	return rep.conn, nil
}

// Subscribe registers a listener for connection-departure events. Delivery is
// non-blocking: a listener that cannot keep up misses events.
func (r *Reactor) Subscribe(listener chan<- api.ConnEvent) error {
	_, err := r.roundTrip(command{kind: cmdSubscribe, listener: listener})
	return err
}

// Shutdown runs the shutdown protocol: the reactor stops accepting control
// requests, closes every registered connection and queue, and broadcasts the
// shutdown condition through the inbox. Idempotent.
func (r *Reactor) Shutdown() error {
	rep := make(chan reply, 1)
	select {
	case r.cmds <- command{kind: cmdShutdown, reply: rep}:
	case <-r.done:
		return nil // already down
	}
	select {
	case <-rep:
	case <-r.done:
	}
	return nil
}

// roundTrip submits one command and waits for its reply, failing with
// api.ErrReactorDown if the loop terminates first.
func (r *Reactor) roundTrip(cmd command) (reply, error) {
	cmd.reply = make(chan reply, 1)
	select {
	case r.cmds <- cmd:
	case <-r.done:
		return reply{}, api.ErrReactorDown
	}
	select {
	case rep := <-cmd.reply:
		return rep, nil
	case <-r.done:
		return reply{}, api.ErrReactorDown
	}
}

// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Common error types and error handling utilities for hioload-mesh.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	// ErrWouldBlock is returned by Conn.Send/Recv when the operation cannot
	// complete immediately. It never escapes the reactor.
	ErrWouldBlock = errors.New("operation would block")

	// ErrFull signals a per-connection outgoing queue at capacity. The caller
	// owns backpressure handling: retry later or drop.
	ErrFull = errors.New("outgoing queue is full")

	// ErrDisconnected signals the reactor side of a queue is gone.
	ErrDisconnected = errors.New("connection is disconnected")

	// ErrNotFound signals an identity or numeric id with no live registration.
	ErrNotFound = errors.New("connection not found")

	// ErrAlreadyExists signals an identity already bound to a live connection.
	ErrAlreadyExists = errors.New("identity already registered")

	// ErrShutdown is observed by every receiver after the shutdown protocol
	// completes. No envelope follows it.
	ErrShutdown = errors.New("mesh is shut down")

	// ErrTimeout is returned by RecvTimeout when nothing arrives in time.
	ErrTimeout = errors.New("receive timed out")

	// ErrReactorDown signals the background worker terminated while handles
	// survive. Internal state is unrecoverable past this point.
	ErrReactorDown = errors.New("reactor is down")
)

// SendError wraps a send failure together with the envelope that could not be
// delivered, so the caller can retry or drop with the right payload in hand.
type SendError struct {
	Envelope Envelope
	Err      error
}

// Error implements the error interface.
func (e *SendError) Error() string {
	return fmt.Sprintf("send to %q: %v", e.Envelope.ID, e.Err)
}

// Unwrap exposes the underlying condition for errors.Is matching.
func (e *SendError) Unwrap() error {
	return e.Err
}

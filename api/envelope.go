// File: api/envelope.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Envelope and connection-event types exchanged through the mesh.

package api

// Envelope is the caller-facing unit of exchange: an opaque payload addressed
// by the caller-chosen identity string. Payload framing is a concern of the
// layers above; this layer treats it as raw bytes.
type Envelope struct {
	ID      string
	Payload []byte
}

// ConnEvent notifies subscribed listeners that a connection left the reactor,
// either through an explicit Remove or through automatic cleanup after an I/O
// failure or a dropped producer.
type ConnEvent struct {
	NumericID int64
	Identity  string
	Reason    error
}

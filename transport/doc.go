// Copyright (c) 2026
// Author: momentics <momentics@gmail.com>

// Package transport adapts established byte streams into api.Conn handles the
// reactor can poll. Listening, dialing, and TLS negotiation stay with the
// caller: adapters only wrap connections that already exist. NetConn carries
// payloads over a net.Conn with a 4-byte length prefix; Pipe wires two
// in-process handles directly for tests and examples.
package transport

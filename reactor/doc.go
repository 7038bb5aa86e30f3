// Copyright (c) 2026
// Author: momentics <momentics@gmail.com>

// Package reactor provides the single background worker that owns every
// registered connection and multiplexes all of their I/O. External callers
// never touch a registered connection directly: configuration changes travel
// over the control channel, outbound payloads over per-connection bounded
// queues, and inbound payloads over the shared inbox. The polling loop holds
// no shared locks.
package reactor

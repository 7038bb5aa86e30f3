// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown unifies cooperative teardown across components.
type GracefulShutdown interface {
	// Shutdown stops internal services and releases resources.
	// Idempotent from the caller's perspective.
	Shutdown() error
}

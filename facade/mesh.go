// File: facade/mesh.go
// Unified facade layer for hioload-mesh.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// This file defines the HioloadMesh struct, which aggregates the mesh
// front-end, the control plane, and identification behind a single facade.
// It constructs the reactor and channels from immutable configuration and
// exposes runtime services: the Mesh handle, the Control interface, and the
// instance id.

package facade

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/momentics/hioload-mesh/api"
	"github.com/momentics/hioload-mesh/control"
	"github.com/momentics/hioload-mesh/mesh"
)

// Config holds parameters immutable per run.
type Config struct {
	IncomingCapacity int  // Bound of the shared incoming channel
	OutgoingCapacity int  // Bound of each per-connection outgoing queue
	BatchSize        int  // Payloads moved per connection per reactor iteration
	PinCPU           int  // Logical CPU for the reactor worker; -1 disables
	EnableMetrics    bool // Whether mesh counters feed the control plane
	EnableDebug      bool // Whether to register debug probes
}

// DefaultConfig returns default configuration values.
// These sane defaults support typical use cases without extensive tuning.
func DefaultConfig() *Config {
	return &Config{
		IncomingCapacity: 1024, // 1024 undelivered envelopes across all peers
		OutgoingCapacity: 64,   // 64 pending payloads per connection
		BatchSize:        16,   // Process 16 payloads per connection per cycle
		PinCPU:           -1,   // No CPU pinning by default
		EnableMetrics:    true, // Enable built-in metrics
		EnableDebug:      true, // Enable debug probes
	}
}

// HioloadMesh is the main facade type.
// It implements api.GracefulShutdown to allow unified shutdown logic.
type HioloadMesh struct {
	mesh       *mesh.Mesh
	control    *control.Adapter
	instanceID string

	mu      sync.Mutex
	started bool
}

// Ensure compliance with api.GracefulShutdown.
var _ api.GracefulShutdown = (*HioloadMesh)(nil)

// New constructs HioloadMesh with the given configuration: it spawns the
// reactor, wires the channels with the configured bounds, and exposes the
// configuration through the Control interface.
func New(cfg *Config) (*HioloadMesh, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.IncomingCapacity < 1 || cfg.OutgoingCapacity < 1 {
		return nil, fmt.Errorf("facade: capacities must be positive, got %d/%d",
			cfg.IncomingCapacity, cfg.OutgoingCapacity)
	}

	metrics := control.NewMetricsRegistry()
	ctl := control.NewAdapter(metrics)

	opts := []mesh.Option{mesh.WithBatchSize(cfg.BatchSize)}
	if cfg.EnableMetrics {
		opts = append(opts, mesh.WithMetrics(metrics))
	}
	if cfg.PinCPU >= 0 {
		opts = append(opts, mesh.WithPinnedCPU(cfg.PinCPU))
	}

	h := &HioloadMesh{
		mesh:       mesh.New(cfg.IncomingCapacity, cfg.OutgoingCapacity, opts...),
		control:    ctl,
		instanceID: uuid.NewString(),
		started:    true,
	}

	ctl.SetConfig(map[string]any{
		"instance_id":       h.instanceID,
		"incoming_capacity": cfg.IncomingCapacity,
		"outgoing_capacity": cfg.OutgoingCapacity,
		"batch_size":        cfg.BatchSize,
		"metrics.enabled":   cfg.EnableMetrics,
	})
	if cfg.EnableDebug {
		ctl.RegisterDebugProbe("mesh.instance_id", func() any {
			return h.instanceID
		})
		ctl.RegisterDebugProbe("mesh.counters", func() any {
			return metrics.GetSnapshot()
		})
	}
	return h, nil
}

// Mesh returns the cloneable front-end handle.
func (h *HioloadMesh) Mesh() *mesh.Mesh {
	return h.mesh
}

// GetControl returns the Control interface for dynamic config and metrics.
func (h *HioloadMesh) GetControl() api.Control {
	return h.control
}

// InstanceID returns the unique identifier minted for this facade instance.
func (h *HioloadMesh) InstanceID() string {
	return h.instanceID
}

// Shutdown implements api.GracefulShutdown by running the mesh shutdown
// protocol. Calling Shutdown on an already stopped facade is a no-op.
func (h *HioloadMesh) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return nil
	}
	h.started = false
	return h.mesh.Shutdown()
}

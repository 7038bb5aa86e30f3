// control/adapter.go
// Author: momentics <momentics@gmail.com>
//
// Adapter implementing the api.Control interface on top of the control
// package primitives: config store, metrics registry, and debug probes.

package control

import (
	"runtime"

	"github.com/momentics/hioload-mesh/api"
)

// Adapter bundles config, metrics, and debug probes behind api.Control.
type Adapter struct {
	config  *ConfigStore
	metrics *MetricsRegistry
	debug   *DebugProbes
}

// Ensure compile-time interface compliance.
var _ api.Control = (*Adapter)(nil)

// NewAdapter creates a control adapter around the given metrics registry,
// allocating one when nil.
func NewAdapter(metrics *MetricsRegistry) *Adapter {
	if metrics == nil {
		metrics = NewMetricsRegistry()
	}
	a := &Adapter{
		config:  NewConfigStore(),
		metrics: metrics,
		debug:   NewDebugProbes(),
	}
	registerRuntimeProbes(a.debug)
	return a
}

func (a *Adapter) GetConfig() map[string]any {
	return a.config.GetSnapshot()
}

// SetConfig replaces the dynamic configuration snapshot and fires reload
// hooks: the store's own listeners first, then the process-wide registry.
func (a *Adapter) SetConfig(cfg map[string]any) error {
	a.config.SetConfig(cfg)
	TriggerHotReloadSync()
	return nil
}

func (a *Adapter) Stats() map[string]any {
	stats := a.metrics.GetSnapshot()
	debugStats := a.debug.DumpState()
	combined := make(map[string]any)
	for k, v := range stats {
		combined[k] = v
	}
	for k, v := range debugStats {
		combined["debug."+k] = v
	}
	return combined
}

// OnReload registers fn in the process-wide reload registry; it fires on
// every subsequent SetConfig through any adapter.
func (a *Adapter) OnReload(fn func()) {
	RegisterReloadHook(fn)
}

func (a *Adapter) RegisterDebugProbe(name string, fn func() any) {
	a.debug.RegisterProbe(name, fn)
}

// Metrics exposes the underlying registry for direct counter updates.
func (a *Adapter) Metrics() *MetricsRegistry {
	return a.metrics
}

// registerRuntimeProbes sets process-level debug probes.
func registerRuntimeProbes(dp *DebugProbes) {
	dp.RegisterProbe("runtime.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("runtime.goroutines", func() any {
		return runtime.NumGoroutine()
	})
}

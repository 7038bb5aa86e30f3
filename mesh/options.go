// File: mesh/options.go
// Package mesh defines functional options for mesh construction.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package mesh

import "github.com/momentics/hioload-mesh/control"

type options struct {
	batchSize      int
	controlBacklog int
	pinCPU         int
	metrics        *control.MetricsRegistry
}

func defaultOptions() options {
	return options{
		batchSize:      16,
		controlBacklog: 16,
		pinCPU:         -1,
		metrics:        control.NewMetricsRegistry(),
	}
}

// Option customizes mesh initialization.
type Option func(*options)

// WithMetrics wires an externally owned metrics registry.
func WithMetrics(mr *control.MetricsRegistry) Option {
	return func(o *options) {
		if mr != nil {
			o.metrics = mr
		}
	}
}

// WithBatchSize overrides the reactor's per-connection batch size.
func WithBatchSize(n int) Option {
	return func(o *options) {
		o.batchSize = n
	}
}

// WithPinnedCPU pins the reactor worker thread to a logical CPU.
func WithPinnedCPU(cpu int) Option {
	return func(o *options) {
		o.pinCPU = cpu
	}
}

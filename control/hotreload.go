// File: control/hotreload.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide reload hook registry. Hooks registered here fire on every
// configuration replacement performed through an Adapter, regardless of
// which adapter performed it.

package control

import "sync"

var (
	reloadMu    sync.Mutex
	reloadHooks []func()
)

// RegisterReloadHook adds a component reload listener.
func RegisterReloadHook(fn func()) {
	reloadMu.Lock()
	defer reloadMu.Unlock()
	reloadHooks = append(reloadHooks, fn)
}

// TriggerHotReload dispatches all registered hooks asynchronously.
func TriggerHotReload() {
	for _, fn := range snapshotReloadHooks() {
		go fn()
	}
}

// TriggerHotReloadSync invokes all registered hooks on the calling goroutine,
// returning after the last hook has run.
func TriggerHotReloadSync() {
	for _, fn := range snapshotReloadHooks() {
		fn()
	}
}

// snapshotReloadHooks copies the registry so hooks run without the lock held.
func snapshotReloadHooks() []func() {
	reloadMu.Lock()
	defer reloadMu.Unlock()
	return append([]func(){}, reloadHooks...)
}

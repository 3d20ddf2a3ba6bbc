// Package runtime holds the engine's global lifecycle state: the
// enable/disable switch toggled by the configured switch-key, the
// foreground-process whitelist cache, and the coordination between a
// config reload and the worker pool that keeps a removed mapping from
// leaving a key stuck down.
package runtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/chordforge/engine/internal/mapping"
	"github.com/chordforge/engine/internal/worker"
)

// whitelistCacheTTL bounds how long a foreground-process query result is
// reused before the OS is asked again.
const whitelistCacheTTL = 50 * time.Millisecond

// ForegroundProcessName is the platform capability Runtime queries to
// learn which executable currently owns the foreground window.
type ForegroundProcessName func() (string, error)

// Runtime wraps the enabled switch, the process whitelist cache, and the
// reload-to-worker-pool reconciliation path.
type Runtime struct {
	enabled atomic.Bool

	foreground ForegroundProcessName

	cacheMu      sync.Mutex
	cachedExe    string
	cachedAllow  bool
	cacheExpires time.Time

	res  *mapping.Resolver
	pool *worker.Pool
}

// New returns a Runtime that starts enabled, with an empty process
// whitelist (meaning every process is allowed) until the first config
// swap installs one.
func New(res *mapping.Resolver, pool *worker.Pool, foreground ForegroundProcessName) *Runtime {
	r := &Runtime{res: res, pool: pool, foreground: foreground}
	r.enabled.Store(true)
	return r
}

// Enabled reports whether the engine is currently dispatching mapped
// output. False means the hook layer still observes input (so the
// switch-key itself remains classifiable) but every other mapping
// short-circuits.
func (r *Runtime) Enabled() bool { return r.enabled.Load() }

// SetEnabled installs the engine's enable/disable state directly, used by
// the tray icon's toggle menu item.
func (r *Runtime) SetEnabled(v bool) { r.enabled.Store(v) }

// ToggleEnabled flips the engine's enable/disable state, called when the
// switch-key hotkey fires, and returns the resulting state.
func (r *Runtime) ToggleEnabled() bool {
	for {
		old := r.enabled.Load()
		if r.enabled.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// ProcessAllowed reports whether dispatching should proceed given the
// current foreground process, consulting a 50ms-TTL cache before asking
// the platform again. An empty whitelist (cfg.ProcessWhitelist has no
// entries) allows every process.
func (r *Runtime) ProcessAllowed(cfg *mapping.Config) bool {
	if len(cfg.ProcessWhitelist) == 0 {
		return true
	}
	if r.foreground == nil {
		return true
	}

	r.cacheMu.Lock()
	if time.Now().Before(r.cacheExpires) {
		allow := r.cachedAllow
		r.cacheMu.Unlock()
		return allow
	}
	r.cacheMu.Unlock()

	exe, err := r.foreground()
	allow := true
	if err == nil {
		_, allow = cfg.ProcessWhitelist[exe]
	}

	r.cacheMu.Lock()
	r.cachedExe = exe
	r.cachedAllow = allow
	r.cacheExpires = time.Now().Add(whitelistCacheTTL)
	r.cacheMu.Unlock()

	return allow
}

// Reload validates and swaps cfg into the resolver, then runs the worker
// pool's grace pass so any mapping the old snapshot held active but the
// new one no longer defines stops firing. The grace pass injects no key-up;
// see worker.Pool.Reconcile.
func (r *Runtime) Reload(cfg *mapping.Config) error {
	if err := r.res.Swap(cfg); err != nil {
		return err
	}
	r.pool.Reconcile()
	return nil
}

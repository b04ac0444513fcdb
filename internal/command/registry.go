// Package command manages the request/response exchanges for
// long-running engine maintenance operations (persist-map,
// localize-in-map) without stalling the per-frame tracking path.
//
// Each command kind has exactly one owned pending slot. Completion is
// signalled from inside the engine's tracking call path via a Future
// whose address is the correlation identity; superseding a pending
// command orphans its eventual completion (a documented no-op).
package command

import (
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/fusiontrack/internal/engine"
	"github.com/banshee-data/fusiontrack/internal/fsutil"
	"github.com/banshee-data/fusiontrack/internal/geom"
	"github.com/banshee-data/fusiontrack/internal/monitoring"
)

// Config holds configuration for the Registry.
type Config struct {
	// Engine is the opaque tracking capability.
	Engine engine.Engine

	// FileSystem backs the map-folder precondition checks. Defaults to
	// the OS filesystem.
	FileSystem fsutil.FileSystem

	// MappingEnabled gates both maintenance commands; when false they
	// fail fast without contacting the engine.
	MappingEnabled bool

	// ConvertPose post-processes a successful localization pose (frame
	// conversion happens outside this core). Nil means identity.
	ConvertPose func(geom.Pose) geom.Pose
}

// pending is one in-flight command: an owned slot correlated by the
// future's identity, with a token for logs and audit rows.
type pending struct {
	token  uuid.UUID
	future *Future
}

// Registry owns the pending-command slots and bridges engine callbacks
// into caller-visible futures.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	persist  *pending
	localize *pending
	// watched is the composed localization future the per-tick poll
	// observes; consumed and cleared once complete.
	watched *Future
	// Superseded commands whose engine completion may never fire.
	// Close force-resolves them so no waiter leaks.
	orphanPersist  []*Future
	orphanLocalize []*Future
	closed         bool
}

// NewRegistry creates a Registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.FileSystem == nil {
		cfg.FileSystem = fsutil.OSFileSystem{}
	}
	if cfg.ConvertPose == nil {
		cfg.ConvertPose = func(p geom.Pose) geom.Pose { return p }
	}
	return &Registry{cfg: cfg}
}

// PersistMap asks the engine to write its map to destination and blocks
// until the engine's completion callback fires or the engine rejects
// the request synchronously. Safe to call from any goroutine except the
// tracking goroutine (the completion often arrives on it).
func (r *Registry) PersistMap(destination string) Result {
	if !r.cfg.MappingEnabled {
		monitoring.Logf("[Command] Cannot persist map: localization and mapping are disabled")
		return Result{Status: engine.StatusNotInitialized}
	}

	cmd := &pending{token: uuid.New(), future: NewFuture()}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Result{Status: engine.StatusGenericError}
	}
	if r.persist != nil {
		// The prior command's completion, if it ever fires, resolves an
		// orphaned future; until then Close owns its release.
		monitoring.Logf("[Command] Superseding pending persist command %s", r.persist.token)
		r.orphanPersist = append(pruneResolved(r.orphanPersist), r.persist.future)
	}
	r.persist = cmd
	r.mu.Unlock()

	monitoring.Logf("[Command] Persisting map to %s (token %s)", destination, cmd.token)
	fut := cmd.future
	status := r.cfg.Engine.PersistState(destination, func(s engine.Status) {
		fut.Resolve(Result{Status: s})
	})
	if status != engine.StatusSuccess {
		// Synchronous rejection: resolve now rather than waiting for a
		// callback that will never come.
		monitoring.Logf("[Command] Engine rejected persist request: %s", status)
		fut.Resolve(Result{Status: status})
	}

	res := fut.Wait()
	r.clearPersist(cmd)
	monitoring.Logf("[Command] Persist map finished with status %s", res.Status)
	return res
}

// LocalizeInMap validates preconditions and, if they hold, asks the
// engine to localize against the stored map near the pose hint. It
// returns immediately; the returned future resolves once the engine
// completes (typically during a later tracking tick) and carries the
// converted pose on success. The future is also registered for the
// per-tick Poll.
func (r *Registry) LocalizeInMap(destination string, hint geom.Pose) *Future {
	return r.localizeAsync(destination, hint, true)
}

// LocalizeInMapSync is the synchronous convenience wrapper: it simply
// blocks on the composed future.
func (r *Registry) LocalizeInMapSync(destination string, hint geom.Pose) Result {
	return r.localizeAsync(destination, hint, false).Wait()
}

// LocalizeDetached runs a localization on a background goroutine that
// owns its future and logs-and-discards the outcome. Used at startup.
func (r *Registry) LocalizeDetached(destination string, hint geom.Pose) {
	fut := r.localizeAsync(destination, hint, false)
	go func() {
		res := fut.Wait()
		if res.OK() {
			monitoring.Logf("[Command] Startup localization succeeded")
		} else {
			monitoring.Logf("[Command] Could not localize on startup (%s). Try a different map or pose hint.", res.Status)
		}
	}()
}

func (r *Registry) localizeAsync(destination string, hint geom.Pose, watch bool) *Future {
	// Fail-fast preconditions, no engine contact.
	if !r.cfg.MappingEnabled {
		monitoring.Logf("[Command] Cannot localize: localization and mapping are disabled")
		return ResolvedFuture(Result{Status: engine.StatusNotInitialized})
	}
	if err := ValidateMapFolder(r.cfg.FileSystem, destination); err != nil {
		monitoring.Logf("[Command] Localization precondition failed: %v", err)
		return ResolvedFuture(Result{Status: engine.StatusGenericError})
	}

	cmd := &pending{token: uuid.New(), future: NewFuture()}
	outer := NewFuture()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ResolvedFuture(Result{Status: engine.StatusCannotLocalize})
	}
	if r.localize != nil {
		monitoring.Logf("[Command] Superseding pending localize command %s", r.localize.token)
		r.orphanLocalize = append(pruneResolved(r.orphanLocalize), r.localize.future)
	}
	r.localize = cmd
	if watch {
		r.watched = outer
	}
	r.mu.Unlock()

	monitoring.Logf("[Command] Localizing in map %s around [%.2f, %.2f, %.2f] (token %s)",
		destination, hint.Translation.X, hint.Translation.Y, hint.Translation.Z, cmd.token)

	inner := cmd.future
	status := r.cfg.Engine.LocalizeAgainstStored(destination, hint, func(s engine.Status, pose geom.Pose) {
		if s == engine.StatusSuccess {
			inner.Resolve(Result{Status: s, Pose: &pose})
		} else {
			inner.Resolve(Result{Status: s})
		}
	})
	if status != engine.StatusSuccess {
		monitoring.Logf("[Command] Engine rejected localize request: %s", status)
		inner.Resolve(Result{Status: status})
	}

	// Continuation: convert the resolved pose off the issuing thread.
	go func() {
		res := inner.Wait()
		r.clearLocalize(cmd)
		if res.OK() && res.Pose != nil {
			converted := r.cfg.ConvertPose(*res.Pose)
			monitoring.Logf("[Command] Successfully localized at {%.2f, %.2f, %.2f}",
				converted.Translation.X, converted.Translation.Y, converted.Translation.Z)
			outer.Resolve(Result{Status: res.Status, Pose: &converted})
			return
		}
		monitoring.Logf("[Command] Failed to localize in map: %s", res.Status)
		outer.Resolve(Result{Status: res.Status})
	}()

	return outer
}

// Poll performs the zero-wait per-tick check of the watched
// localization future. When it has completed, the result is consumed,
// logged and the slot cleared. Never blocks: this runs on the real-time
// tracking path.
func (r *Registry) Poll() (Result, bool) {
	r.mu.Lock()
	watched := r.watched
	r.mu.Unlock()
	if watched == nil {
		return Result{}, false
	}

	res, done := watched.Poll()
	if !done {
		return Result{}, false
	}

	r.mu.Lock()
	if r.watched == watched {
		r.watched = nil
	}
	r.mu.Unlock()

	if res.OK() {
		monitoring.Logf("[Command] Localization completed successfully")
	} else {
		monitoring.Logf("[Command] Localization failed: %s", res.Status)
	}
	return res, true
}

// Close force-resolves any still-pending command with a canonical
// failure so no caller stays blocked through teardown. Redundant
// resolutions are no-ops.
func (r *Registry) Close() {
	r.mu.Lock()
	persist := r.persist
	localize := r.localize
	orphanPersist := r.orphanPersist
	orphanLocalize := r.orphanLocalize
	r.persist = nil
	r.localize = nil
	r.orphanPersist = nil
	r.orphanLocalize = nil
	r.watched = nil
	r.closed = true
	r.mu.Unlock()

	if persist != nil {
		persist.future.Resolve(Result{Status: engine.StatusGenericError})
	}
	if localize != nil {
		localize.future.Resolve(Result{Status: engine.StatusCannotLocalize})
	}
	for _, f := range orphanPersist {
		f.Resolve(Result{Status: engine.StatusGenericError})
	}
	for _, f := range orphanLocalize {
		f.Resolve(Result{Status: engine.StatusCannotLocalize})
	}
}

// pruneResolved drops futures the engine did eventually complete, so
// the orphan lists stay bounded by the number of truly lost callbacks.
func pruneResolved(futs []*Future) []*Future {
	kept := futs[:0]
	for _, f := range futs {
		if _, done := f.Poll(); !done {
			kept = append(kept, f)
		}
	}
	return kept
}

func (r *Registry) clearPersist(cmd *pending) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.persist == cmd {
		r.persist = nil
	}
}

func (r *Registry) clearLocalize(cmd *pending) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.localize == cmd {
		r.localize = nil
	}
}

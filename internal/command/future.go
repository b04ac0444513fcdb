package command

import (
	"sync"

	"github.com/banshee-data/fusiontrack/internal/engine"
	"github.com/banshee-data/fusiontrack/internal/geom"
)

// Result is the outcome of a maintenance command. Pose is set only on a
// successful localization.
type Result struct {
	Status engine.Status
	Pose   *geom.Pose
}

// OK reports whether the command succeeded.
func (r Result) OK() bool {
	return r.Status == engine.StatusSuccess
}

// Future is a single-completion result container bridging an engine
// callback (fired from any goroutine, often the tracking goroutine) to
// a caller-visible value.
//
// Resolve is idempotent: the first call wins and later calls are
// no-ops, so a teardown force-resolution racing a live engine callback
// is safe by construction. The Future's address is the command's
// correlation identity and must stay reachable for the command's whole
// lifetime.
type Future struct {
	once   sync.Once
	done   chan struct{}
	result Result
}

// NewFuture creates an unresolved Future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// ResolvedFuture creates a Future already resolved with r. Used for
// fail-fast precondition failures.
func ResolvedFuture(r Result) *Future {
	f := NewFuture()
	f.Resolve(r)
	return f
}

// Resolve completes the future with r. Resolving an already-resolved
// future is a no-op, not an error.
func (f *Future) Resolve(r Result) {
	f.once.Do(func() {
		f.result = r
		close(f.done)
	})
}

// Wait blocks until the future resolves and returns the result.
func (f *Future) Wait() Result {
	<-f.done
	return f.result
}

// Poll returns the result without blocking. The boolean is false while
// the future is unresolved.
func (f *Future) Poll() (Result, bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return Result{}, false
	}
}

// Done exposes the completion channel for select-based composition.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

package command

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fusiontrack/internal/engine"
	"github.com/banshee-data/fusiontrack/internal/fsutil"
	"github.com/banshee-data/fusiontrack/internal/geom"
)

func mapFS(t *testing.T) *fsutil.MemoryFileSystem {
	t.Helper()
	m := fsutil.NewMemoryFileSystem()
	m.WriteFile("/maps/site-a/data.mdb", []byte("db"))
	m.WriteFile("/maps/site-a/lock.mdb", []byte("lk"))
	m.MkdirAll("/maps/empty")
	return m
}

func newTestRegistry(t *testing.T, eng *engine.MockEngine) *Registry {
	t.Helper()
	return NewRegistry(Config{
		Engine:         eng,
		FileSystem:     mapFS(t),
		MappingEnabled: true,
	})
}

func TestPersistMapCompletesViaCallback(t *testing.T) {
	t.Parallel()

	eng := engine.NewMockEngine()
	r := newTestRegistry(t, eng)

	done := make(chan Result, 1)
	go func() { done <- r.PersistMap("/maps/site-a") }()

	// Wait for the request to reach the engine, then complete it from
	// this goroutine (standing in for the tracking thread).
	require.Eventually(t, func() bool {
		return eng.PersistCallCount() == 1
	}, time.Second, time.Millisecond)
	eng.CompletePersist(engine.StatusSuccess)

	select {
	case res := <-done:
		assert.True(t, res.OK())
	case <-time.After(time.Second):
		t.Fatal("PersistMap did not return after completion")
	}
}

func TestPersistMapSynchronousRejection(t *testing.T) {
	t.Parallel()

	eng := engine.NewMockEngine()
	eng.PersistStatus = engine.StatusNotInitialized
	r := newTestRegistry(t, eng)

	// Must return immediately without a completion callback.
	res := r.PersistMap("/maps/site-a")
	assert.Equal(t, engine.StatusNotInitialized, res.Status)
}

func TestPersistMapDisabledFailsFast(t *testing.T) {
	t.Parallel()

	eng := engine.NewMockEngine()
	r := NewRegistry(Config{Engine: eng, FileSystem: mapFS(t), MappingEnabled: false})

	res := r.PersistMap("/maps/site-a")
	assert.Equal(t, engine.StatusNotInitialized, res.Status)
	assert.Empty(t, eng.PersistDests, "engine not contacted")
}

func TestCloseResolvesPendingPersist(t *testing.T) {
	t.Parallel()

	eng := engine.NewMockEngine()
	r := newTestRegistry(t, eng)

	done := make(chan Result, 1)
	go func() { done <- r.PersistMap("/maps/site-a") }()

	require.Eventually(t, func() bool {
		return eng.PersistCallCount() == 1
	}, time.Second, time.Millisecond)

	// Tear down before the engine completes: caller must not block.
	r.Close()

	select {
	case res := <-done:
		assert.False(t, res.OK())
	case <-time.After(time.Second):
		t.Fatal("caller stayed blocked through teardown")
	}

	// A late engine callback against the orphaned future is a no-op.
	eng.CompletePersist(engine.StatusSuccess)
}

func TestLocalizePreconditions(t *testing.T) {
	t.Parallel()

	t.Run("missing folder", func(t *testing.T) {
		t.Parallel()
		eng := engine.NewMockEngine()
		r := newTestRegistry(t, eng)

		res := r.LocalizeInMap("/maps/missing", geom.IdentityPose()).Wait()
		assert.Equal(t, engine.StatusGenericError, res.Status)
		assert.Zero(t, eng.LocalizeCallCount(), "no engine call attempted")
	})

	t.Run("no database artifacts", func(t *testing.T) {
		t.Parallel()
		eng := engine.NewMockEngine()
		r := newTestRegistry(t, eng)

		res := r.LocalizeInMap("/maps/empty", geom.IdentityPose()).Wait()
		assert.Equal(t, engine.StatusGenericError, res.Status)
		assert.Zero(t, eng.LocalizeCallCount())
	})

	t.Run("feature disabled", func(t *testing.T) {
		t.Parallel()
		eng := engine.NewMockEngine()
		r := NewRegistry(Config{Engine: eng, FileSystem: mapFS(t), MappingEnabled: false})

		res := r.LocalizeInMap("/maps/site-a", geom.IdentityPose()).Wait()
		assert.Equal(t, engine.StatusNotInitialized, res.Status)
		assert.Zero(t, eng.LocalizeCallCount())
	})
}

func TestLocalizeSuccessConvertsPose(t *testing.T) {
	t.Parallel()

	eng := engine.NewMockEngine()
	converted := 0
	r := NewRegistry(Config{
		Engine:         eng,
		FileSystem:     mapFS(t),
		MappingEnabled: true,
		ConvertPose: func(p geom.Pose) geom.Pose {
			converted++
			p.Translation.X += 100
			return p
		},
	})

	fut := r.LocalizeInMap("/maps/site-a", geom.IdentityPose())
	_, ready := fut.Poll()
	assert.False(t, ready, "future unresolved until the engine completes")

	eng.CompleteLocalize(engine.StatusSuccess, geom.Pose{
		Translation: geom.Vec3{X: 1, Y: 2},
		Rotation:    geom.IdentityQuat(),
	})

	res := fut.Wait()
	require.True(t, res.OK())
	require.NotNil(t, res.Pose)
	assert.Equal(t, 1, converted)
	assert.InDelta(t, 101.0, res.Pose.Translation.X, 1e-12)
}

func TestLocalizeFailureCarriesStatus(t *testing.T) {
	t.Parallel()

	eng := engine.NewMockEngine()
	r := newTestRegistry(t, eng)

	fut := r.LocalizeInMap("/maps/site-a", geom.IdentityPose())
	eng.CompleteLocalize(engine.StatusCannotLocalize, geom.Pose{})

	res := fut.Wait()
	assert.Equal(t, engine.StatusCannotLocalize, res.Status)
	assert.Nil(t, res.Pose)
}

func TestSecondLocalizeSupersedesWithoutDeadlock(t *testing.T) {
	t.Parallel()

	eng := engine.NewMockEngine()
	r := newTestRegistry(t, eng)

	first := r.LocalizeInMap("/maps/site-a", geom.IdentityPose())
	second := r.LocalizeInMap("/maps/site-a", geom.IdentityPose())
	assert.Equal(t, 2, eng.LocalizeCallCount(), "registry accepts the new request")

	// Only the most recent capture is live in the mock; completing it
	// resolves the second future. The first stays pending (its engine
	// completion was orphaned) until teardown resolves it.
	eng.CompleteLocalize(engine.StatusSuccess, geom.Pose{Rotation: geom.IdentityQuat()})
	res := second.Wait()
	assert.True(t, res.OK())

	_, ready := first.Poll()
	assert.False(t, ready)

	// Teardown releases the superseded waiter with a failure rather
	// than leaving it blocked forever.
	done := make(chan Result, 1)
	go func() { done <- first.Wait() }()
	r.Close()

	select {
	case res := <-done:
		assert.Equal(t, engine.StatusCannotLocalize, res.Status)
	case <-time.After(time.Second):
		t.Fatal("superseded localize future never resolved after Close")
	}
}

func TestPollConsumesCompletedLocalization(t *testing.T) {
	t.Parallel()

	eng := engine.NewMockEngine()
	r := newTestRegistry(t, eng)

	_, ok := r.Poll()
	assert.False(t, ok, "nothing watched yet")

	r.LocalizeInMap("/maps/site-a", geom.IdentityPose())
	_, ok = r.Poll()
	assert.False(t, ok, "watched future still pending")

	eng.CompleteLocalize(engine.StatusSuccess, geom.Pose{Rotation: geom.IdentityQuat()})

	require.Eventually(t, func() bool {
		_, ok := r.Poll()
		return ok
	}, time.Second, time.Millisecond)

	// Consumed: a second poll reports nothing.
	_, ok = r.Poll()
	assert.False(t, ok)
}

func TestLocalizeSyncWrapper(t *testing.T) {
	t.Parallel()

	eng := engine.NewMockEngine()
	r := newTestRegistry(t, eng)

	var wg sync.WaitGroup
	wg.Add(1)
	var res Result
	go func() {
		defer wg.Done()
		res = r.LocalizeInMapSync("/maps/site-a", geom.IdentityPose())
	}()

	require.Eventually(t, func() bool {
		return eng.HasPendingLocalize()
	}, time.Second, time.Millisecond)
	eng.CompleteLocalize(engine.StatusSuccess, geom.Pose{Rotation: geom.IdentityQuat()})
	wg.Wait()
	assert.True(t, res.OK())
}

func TestFutureResolveIdempotent(t *testing.T) {
	t.Parallel()

	f := NewFuture()
	f.Resolve(Result{Status: engine.StatusSuccess})
	f.Resolve(Result{Status: engine.StatusGenericError})
	res := f.Wait()
	assert.Equal(t, engine.StatusSuccess, res.Status, "first resolution wins")
}

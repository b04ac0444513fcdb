package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fusiontrack/internal/geom"
)

func TestAutoCompleteFiresPersistCallback(t *testing.T) {
	t.Parallel()

	m := NewMockEngine()
	m.AutoComplete = true

	got := make(chan Status, 1)
	st := m.PersistState("/maps/a", func(s Status) { got <- s })
	require.Equal(t, StatusSuccess, st)

	select {
	case s := <-got:
		assert.Equal(t, StatusSuccess, s)
	case <-time.After(time.Second):
		t.Fatal("persist completion never fired")
	}
}

func TestAutoCompleteFiresLocalizeCallback(t *testing.T) {
	t.Parallel()

	m := NewMockEngine()
	m.AutoComplete = true

	var mu sync.Mutex
	var pose geom.Pose
	got := make(chan Status, 1)
	st := m.LocalizeAgainstStored("/maps/a", geom.IdentityPose(), func(s Status, p geom.Pose) {
		mu.Lock()
		pose = p
		mu.Unlock()
		got <- s
	})
	require.Equal(t, StatusSuccess, st)

	select {
	case s := <-got:
		assert.Equal(t, StatusSuccess, s)
		mu.Lock()
		assert.Equal(t, geom.IdentityPose(), pose)
		mu.Unlock()
	case <-time.After(time.Second):
		t.Fatal("localize completion never fired")
	}
}

func TestCallbacksStayCapturedWithoutAutoComplete(t *testing.T) {
	t.Parallel()

	m := NewMockEngine()
	st := m.LocalizeAgainstStored("/maps/a", geom.IdentityPose(), func(Status, geom.Pose) {})
	require.Equal(t, StatusSuccess, st)

	// The completion waits for an explicit CompleteLocalize.
	time.Sleep(2 * autoCompleteDelay)
	assert.True(t, m.HasPendingLocalize())
}

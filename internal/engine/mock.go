package engine

import (
	"sync"
	"time"

	"github.com/banshee-data/fusiontrack/internal/geom"
)

// autoCompleteDelay is how long the self-completing mock waits before
// firing a captured maintenance callback.
const autoCompleteDelay = 50 * time.Millisecond

// MockEngine implements Engine with configurable behaviour for testing.
// Tracking results are served from a script (default: success at the
// identity pose) and maintenance completions are captured so tests can
// fire them from any goroutine, mirroring the real engine's contract.
type MockEngine struct {
	mu sync.Mutex

	// Results is consumed one entry per TrackBatch call; when exhausted,
	// DefaultResult is returned.
	Results       []TrackResult
	DefaultResult TrackResult

	// Sync return values for maintenance requests.
	PersistStatus  Status
	LocalizeStatus Status

	// AutoComplete makes captured maintenance callbacks fire
	// successfully on a short delay, so a running binary honours the
	// completion contract without a test driving it.
	AutoComplete bool

	// Captured inputs.
	TrackedBatches  [][]Image
	ImuSamples      []ImuSample
	PersistDests    []string
	LocalizeDests   []string
	LocalizeHints   []geom.Pose
	persistDone     func(Status)
	localizeDone    func(Status, geom.Pose)
	imuStatusResult Status
}

// NewMockEngine returns a mock that tracks successfully at identity.
func NewMockEngine() *MockEngine {
	return &MockEngine{
		DefaultResult: TrackResult{Pose: geom.IdentityPose(), Status: StatusSuccess},
	}
}

// TrackBatch records the batch and serves the next scripted result.
func (m *MockEngine) TrackBatch(images []Image) TrackResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TrackedBatches = append(m.TrackedBatches, images)
	if len(m.Results) > 0 {
		res := m.Results[0]
		m.Results = m.Results[1:]
		return res
	}
	return m.DefaultResult
}

// RegisterImuSample records the sample.
func (m *MockEngine) RegisterImuSample(batchTimestampNanos int64, sample ImuSample) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ImuSamples = append(m.ImuSamples, sample)
	return m.imuStatusResult
}

// PersistState records the request and captures the completion callback.
func (m *MockEngine) PersistState(destination string, done func(Status)) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PersistDests = append(m.PersistDests, destination)
	if m.PersistStatus != StatusSuccess {
		return m.PersistStatus
	}
	m.persistDone = done
	if m.AutoComplete {
		time.AfterFunc(autoCompleteDelay, func() { m.CompletePersist(StatusSuccess) })
	}
	return StatusSuccess
}

// LocalizeAgainstStored records the request and captures the callback.
func (m *MockEngine) LocalizeAgainstStored(destination string, hint geom.Pose, done func(Status, geom.Pose)) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LocalizeDests = append(m.LocalizeDests, destination)
	m.LocalizeHints = append(m.LocalizeHints, hint)
	if m.LocalizeStatus != StatusSuccess {
		return m.LocalizeStatus
	}
	m.localizeDone = done
	if m.AutoComplete {
		time.AfterFunc(autoCompleteDelay, func() { m.CompleteLocalize(StatusSuccess, geom.IdentityPose()) })
	}
	return StatusSuccess
}

// CompletePersist fires the captured persist completion, if any.
func (m *MockEngine) CompletePersist(status Status) {
	m.mu.Lock()
	done := m.persistDone
	m.persistDone = nil
	m.mu.Unlock()
	if done != nil {
		done(status)
	}
}

// CompleteLocalize fires the captured localize completion, if any.
func (m *MockEngine) CompleteLocalize(status Status, pose geom.Pose) {
	m.mu.Lock()
	done := m.localizeDone
	m.localizeDone = nil
	m.mu.Unlock()
	if done != nil {
		done(status, pose)
	}
}

// HasPendingLocalize reports whether a localize completion is captured
// and unfired.
func (m *MockEngine) HasPendingLocalize() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localizeDone != nil
}

// TrackBatchCount returns the number of TrackBatch invocations.
func (m *MockEngine) TrackBatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.TrackedBatches)
}

// PersistCallCount returns the number of PersistState calls.
func (m *MockEngine) PersistCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.PersistDests)
}

// LocalizeCallCount returns the number of LocalizeAgainstStored calls.
func (m *MockEngine) LocalizeCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.LocalizeDests)
}

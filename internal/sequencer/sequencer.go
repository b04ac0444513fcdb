// Package sequencer merges synchronized image groups with the inertial
// stream into causally-ordered fused batches.
//
// Responsibilities: bounded IMU buffering with stale-sample aging, and
// draining every sample at or before a group's representative timestamp
// into one FusedBatch handed synchronously to the registered sink.
package sequencer

import (
	"sort"
	"sync"

	"github.com/banshee-data/fusiontrack/internal/engine"
	"github.com/banshee-data/fusiontrack/internal/monitoring"
	"github.com/banshee-data/fusiontrack/internal/streamsync"
)

// FusedBatch pairs a synchronized group with every inertial sample that
// causally precedes it. Imu is strictly ordered by timestamp and every
// sample's timestamp is at or before Group.RepresentativeNanos.
type FusedBatch struct {
	Imu   []engine.ImuSample
	Group streamsync.SynchronizedGroup
}

// Config holds configuration for the Sequencer.
type Config struct {
	// ImuBufferSize is the inertial buffer capacity. On overflow the
	// oldest sample is dropped. Default: 200.
	ImuBufferSize int

	// ImuJitterThresholdNanos bounds how far behind the most recent
	// batch an arriving sample may be before it is discarded as stale.
	ImuJitterThresholdNanos int64
}

// Sequencer implements the image/IMU merge. Stream callbacks may arrive
// concurrently from distinct producer goroutines.
type Sequencer struct {
	cfg Config
	mu  sync.Mutex
	imu []engine.ImuSample
	// deliverMu serializes sink invocation so batches reach the sink
	// in the same order their state updates were applied.
	deliverMu sync.Mutex
	sink      func(FusedBatch)

	lastBatchNanos int64
	haveBatch      bool
	staleDrops     uint64
}

// New creates a Sequencer with the given configuration.
func New(cfg Config) *Sequencer {
	if cfg.ImuBufferSize <= 0 {
		cfg.ImuBufferSize = 200
	}
	return &Sequencer{
		cfg: cfg,
		imu: make([]engine.ImuSample, 0, cfg.ImuBufferSize),
	}
}

// RegisterCallback sets the single sink for fused batches.
func (s *Sequencer) RegisterCallback(fn func(FusedBatch)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = fn
}

// CallbackStream1 ingests one inertial sample.
func (s *Sequencer) CallbackStream1(timestampNanos int64, sample engine.ImuSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Samples trailing the last batch by more than the jitter threshold
	// can never join a future batch; dropping them bounds memory during
	// camera stalls.
	if s.haveBatch && s.cfg.ImuJitterThresholdNanos > 0 &&
		timestampNanos < s.lastBatchNanos-s.cfg.ImuJitterThresholdNanos {
		s.staleDrops++
		monitoring.Logf("[Sequencer] Dropping stale IMU sample ts=%d, %.1fms behind last batch (%d total)",
			timestampNanos, float64(s.lastBatchNanos-timestampNanos)/1e6, s.staleDrops)
		return
	}

	if len(s.imu) >= s.cfg.ImuBufferSize {
		monitoring.Logf("[Sequencer] IMU buffer full (%d), dropped oldest sample ts=%d",
			s.cfg.ImuBufferSize, s.imu[0].TimestampNanos)
		copy(s.imu, s.imu[1:])
		s.imu = s.imu[:len(s.imu)-1]
	}

	sample.TimestampNanos = timestampNanos
	s.imu = append(s.imu, sample)
}

// CallbackStream2 receives a synchronized group from the upstream
// synchronizer and triggers the merge. All buffered samples with
// timestamp at or before the representative timestamp are drained, in
// order, into one FusedBatch delivered synchronously to the sink.
func (s *Sequencer) CallbackStream2(representativeNanos int64, group streamsync.SynchronizedGroup) {
	s.mu.Lock()

	// Producers may deliver slightly out of order; sort before the
	// split so the drained prefix is monotonic.
	sort.SliceStable(s.imu, func(i, j int) bool {
		return s.imu[i].TimestampNanos < s.imu[j].TimestampNanos
	})

	cut := sort.Search(len(s.imu), func(i int) bool {
		return s.imu[i].TimestampNanos > representativeNanos
	})
	drained := make([]engine.ImuSample, cut)
	copy(drained, s.imu[:cut])
	s.imu = append(s.imu[:0], s.imu[cut:]...)

	s.lastBatchNanos = representativeNanos
	s.haveBatch = true
	sink := s.sink

	// Take the delivery lock before releasing the state lock: a batch
	// whose state update landed first must also be delivered first, or
	// the stale-drop window and downstream jitter tracking regress.
	s.deliverMu.Lock()
	s.mu.Unlock()

	if sink != nil {
		sink(FusedBatch{Imu: drained, Group: group})
	}
	s.deliverMu.Unlock()
}

// BufferedImuCount returns the number of samples currently held.
func (s *Sequencer) BufferedImuCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.imu)
}

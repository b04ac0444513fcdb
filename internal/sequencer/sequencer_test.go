package sequencer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fusiontrack/internal/engine"
	"github.com/banshee-data/fusiontrack/internal/streamsync"
)

const msec = int64(1_000_000)

func imuAt(ts int64) engine.ImuSample {
	return engine.ImuSample{TimestampNanos: ts}
}

func groupAt(ts int64) streamsync.SynchronizedGroup {
	return streamsync.SynchronizedGroup{
		RepresentativeNanos: ts,
		Frames:              []streamsync.StreamFrame{{StreamIndex: 0, TimestampNanos: ts}},
	}
}

func TestMergeDrainsCausalPrefix(t *testing.T) {
	t.Parallel()

	var batches []FusedBatch
	s := New(Config{ImuBufferSize: 16, ImuJitterThresholdNanos: 100 * msec})
	s.RegisterCallback(func(b FusedBatch) { batches = append(batches, b) })

	s.CallbackStream1(10*msec, imuAt(10*msec))
	s.CallbackStream1(20*msec, imuAt(20*msec))
	s.CallbackStream1(30*msec, imuAt(30*msec))
	s.CallbackStream1(45*msec, imuAt(45*msec))

	s.CallbackStream2(30*msec, groupAt(30*msec))
	require.Len(t, batches, 1)

	b := batches[0]
	require.Len(t, b.Imu, 3)
	for i, sample := range b.Imu {
		assert.LessOrEqual(t, sample.TimestampNanos, b.Group.RepresentativeNanos)
		if i > 0 {
			assert.GreaterOrEqual(t, sample.TimestampNanos, b.Imu[i-1].TimestampNanos)
		}
	}
	assert.Equal(t, 1, s.BufferedImuCount(), "sample after the representative stays for the next batch")

	s.CallbackStream2(50*msec, groupAt(50*msec))
	require.Len(t, batches, 2)
	require.Len(t, batches[1].Imu, 1)
	assert.EqualValues(t, 45*msec, batches[1].Imu[0].TimestampNanos)
}

func TestOutOfOrderArrivalsSorted(t *testing.T) {
	t.Parallel()

	var batches []FusedBatch
	s := New(Config{})
	s.RegisterCallback(func(b FusedBatch) { batches = append(batches, b) })

	s.CallbackStream1(30*msec, imuAt(30*msec))
	s.CallbackStream1(10*msec, imuAt(10*msec))
	s.CallbackStream1(20*msec, imuAt(20*msec))

	s.CallbackStream2(40*msec, groupAt(40*msec))
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Imu, 3)
	assert.EqualValues(t, 10*msec, batches[0].Imu[0].TimestampNanos)
	assert.EqualValues(t, 20*msec, batches[0].Imu[1].TimestampNanos)
	assert.EqualValues(t, 30*msec, batches[0].Imu[2].TimestampNanos)
}

func TestStaleSamplesAgedOut(t *testing.T) {
	t.Parallel()

	var batches []FusedBatch
	s := New(Config{ImuBufferSize: 16, ImuJitterThresholdNanos: 10 * msec})
	s.RegisterCallback(func(b FusedBatch) { batches = append(batches, b) })

	s.CallbackStream2(100*msec, groupAt(100*msec))
	require.Len(t, batches, 1)

	// 80ms is more than the 10ms jitter threshold behind the last batch:
	// dropped, and it never appears in any later batch.
	s.CallbackStream1(80*msec, imuAt(80*msec))
	assert.Zero(t, s.BufferedImuCount())

	// 95ms is within the threshold: kept for the next batch.
	s.CallbackStream1(95*msec, imuAt(95*msec))
	assert.Equal(t, 1, s.BufferedImuCount())

	s.CallbackStream2(120*msec, groupAt(120*msec))
	require.Len(t, batches, 2)
	require.Len(t, batches[1].Imu, 1)
	assert.EqualValues(t, 95*msec, batches[1].Imu[0].TimestampNanos)
}

func TestImuBufferOverflowDropsOldest(t *testing.T) {
	t.Parallel()

	var batches []FusedBatch
	s := New(Config{ImuBufferSize: 3})
	s.RegisterCallback(func(b FusedBatch) { batches = append(batches, b) })

	for i := int64(1); i <= 5; i++ {
		s.CallbackStream1(i*10*msec, imuAt(i*10*msec))
	}
	assert.Equal(t, 3, s.BufferedImuCount())

	s.CallbackStream2(60*msec, groupAt(60*msec))
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Imu, 3)
	assert.EqualValues(t, 30*msec, batches[0].Imu[0].TimestampNanos, "oldest two were evicted")
}

func TestNoSinkRegistered(t *testing.T) {
	t.Parallel()

	s := New(Config{})
	s.CallbackStream1(10*msec, imuAt(10*msec))
	// Must not panic; samples are still drained.
	s.CallbackStream2(20*msec, groupAt(20*msec))
	assert.Zero(t, s.BufferedImuCount())
}

func TestConcurrentGroupsDeliverInStateOrder(t *testing.T) {
	t.Parallel()

	s := New(Config{ImuBufferSize: 16})

	var mu sync.Mutex
	var order []int64
	entered := make(chan struct{})
	release := make(chan struct{})
	s.RegisterCallback(func(b FusedBatch) {
		if b.Group.RepresentativeNanos == 100*msec {
			close(entered)
			<-release
		}
		mu.Lock()
		order = append(order, b.Group.RepresentativeNanos)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.CallbackStream2(100*msec, groupAt(100*msec))
	}()
	<-entered

	// The second group arrives while the first is still inside the
	// sink; it must wait its turn rather than overtaking.
	go func() {
		defer wg.Done()
		s.CallbackStream2(200*msec, groupAt(200*msec))
	}()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	require.Empty(t, order, "no batch may complete before the first sink call returns")
	mu.Unlock()

	close(release)
	wg.Wait()

	mu.Lock()
	assert.Equal(t, []int64{100 * msec, 200 * msec}, order)
	mu.Unlock()
}

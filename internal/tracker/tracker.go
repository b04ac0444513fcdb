package tracker

import (
	"fmt"
	"sync"

	"github.com/banshee-data/fusiontrack/internal/command"
	"github.com/banshee-data/fusiontrack/internal/engine"
	"github.com/banshee-data/fusiontrack/internal/fsutil"
	"github.com/banshee-data/fusiontrack/internal/geom"
	"github.com/banshee-data/fusiontrack/internal/monitoring"
	"github.com/banshee-data/fusiontrack/internal/posecache"
	"github.com/banshee-data/fusiontrack/internal/sequencer"
	"github.com/banshee-data/fusiontrack/internal/streamsync"
	"github.com/banshee-data/fusiontrack/internal/timeutil"
)

// statsLogInterval is how many ticks elapse between execution-time
// summary log lines.
const statsLogInterval = 100

// TickResult is the output of one tracking tick, published to every
// registered sink after a successful batch.
type TickResult struct {
	TimestampNanos     int64
	Pose               geom.Pose
	Velocity           geom.Twist
	PoseCovariance     [36]float64
	VelocityCovariance [36]float64
	Status             engine.Status
	ImuCount           int
}

// Config carries the tuning knobs for the orchestrator. Zero values
// fall back to package defaults where one exists.
type Config struct {
	// Engine performs the actual tracking. Required.
	Engine engine.Engine

	// NumCameras is the number of image streams. NumMasks optional
	// mask streams ride behind them: stream index i >= NumCameras
	// carries the mask for camera i-NumCameras.
	NumCameras int
	NumMasks   int

	// MatchingThresholdNanos bounds the timestamp spread of a
	// synchronized image group.
	MatchingThresholdNanos int64

	// MinRequiredStreams is the smallest number of camera streams a
	// synchronized group may carry. Mask streams never count toward
	// it. Defaults to NumCameras.
	MinRequiredStreams int

	// ImageBufferSize and ImuBufferSize bound the per-stream queues.
	ImageBufferSize int
	ImuBufferSize   int

	// ImuJitterThresholdNanos tolerates slightly stale IMU samples;
	// ImageJitterThresholdNanos warns when the inter-batch gap
	// exceeds it. Zero disables the warning.
	ImuJitterThresholdNanos   int64
	ImageJitterThresholdNanos int64

	// PoseHistorySize and CovarianceMinSamples configure the pose and
	// velocity caches.
	PoseHistorySize      int
	CovarianceMinSamples int

	// MappingEnabled gates the map persistence and localization
	// commands.
	MappingEnabled bool

	// FileSystem backs map-folder validation. Defaults to the OS.
	FileSystem fsutil.FileSystem

	// ConvertPose maps engine-frame localization results into the
	// output frame. Defaults to identity.
	ConvertPose func(geom.Pose) geom.Pose

	// Clock is used for tick execution timing. Defaults to the wall
	// clock.
	Clock timeutil.Clock
}

// Orchestrator ties the synchronizer, sequencer, command registry and
// caches together. Frame and IMU ingress funnel through it; each fused
// batch becomes one engine tick.
type Orchestrator struct {
	cfg      Config
	clock    timeutil.Clock
	eng      engine.Engine
	sync     *streamsync.Synchronizer
	seq      *sequencer.Sequencer
	registry *command.Registry

	poses      *posecache.PoseCache
	velocities *posecache.VelocityCache

	mu             sync.Mutex
	sinks          []func(TickResult)
	lastBatchNanos int64
	tickCount      int64
	lastResult     TickResult
	haveResult     bool
	imuRejects     int
	localized      bool
	execStats      *posecache.StatsWindow
}

// New builds an Orchestrator from cfg. The engine is the only
// required field.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("tracker: engine is required")
	}
	if cfg.NumCameras < 1 {
		return nil, fmt.Errorf("tracker: at least one camera stream is required, got %d", cfg.NumCameras)
	}
	if cfg.NumMasks < 0 || cfg.NumMasks > cfg.NumCameras {
		return nil, fmt.Errorf("tracker: mask stream count %d must be between 0 and %d", cfg.NumMasks, cfg.NumCameras)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	o := &Orchestrator{
		cfg:        cfg,
		clock:      clock,
		eng:        cfg.Engine,
		poses:      posecache.NewPoseCache(cfg.PoseHistorySize, cfg.CovarianceMinSamples),
		velocities: posecache.NewVelocityCache(cfg.PoseHistorySize, cfg.CovarianceMinSamples),
		execStats:  posecache.NewStatsWindow(0),
	}

	o.seq = sequencer.New(sequencer.Config{
		ImuBufferSize:           cfg.ImuBufferSize,
		ImuJitterThresholdNanos: cfg.ImuJitterThresholdNanos,
	})
	o.seq.RegisterCallback(o.onBatch)

	o.sync = streamsync.New(streamsync.Config{
		NumStreams:             cfg.NumCameras + cfg.NumMasks,
		NumPrimaryStreams:      cfg.NumCameras,
		MatchingThresholdNanos: cfg.MatchingThresholdNanos,
		MinRequiredStreams:     cfg.MinRequiredStreams,
		BufferSize:             cfg.ImageBufferSize,
		Callback: func(g streamsync.SynchronizedGroup) {
			o.seq.CallbackStream2(g.RepresentativeNanos, g)
		},
	})

	o.registry = command.NewRegistry(command.Config{
		Engine:         cfg.Engine,
		FileSystem:     cfg.FileSystem,
		MappingEnabled: cfg.MappingEnabled,
		ConvertPose:    cfg.ConvertPose,
	})

	return o, nil
}

// RegisterSink adds a consumer for tick results. Sinks run on the
// tracking goroutine and should return quickly.
func (o *Orchestrator) RegisterSink(fn func(TickResult)) {
	if fn == nil {
		return
	}
	o.mu.Lock()
	o.sinks = append(o.sinks, fn)
	o.mu.Unlock()
}

// SubmitFrame feeds one image or mask frame into the synchronizer.
func (o *Orchestrator) SubmitFrame(streamIndex int, timestampNanos int64, payload []byte) {
	o.sync.AddMessage(streamIndex, timestampNanos, payload)
}

// SubmitImu feeds one inertial sample into the sequencer.
func (o *Orchestrator) SubmitImu(timestampNanos int64, sample engine.ImuSample) {
	o.seq.CallbackStream1(timestampNanos, sample)
}

// PersistMap saves the engine's map to destination, blocking until the
// engine reports completion.
func (o *Orchestrator) PersistMap(destination string) command.Result {
	return o.registry.PersistMap(destination)
}

// LocalizeInMap starts localization against a stored map and returns a
// future for the result. Completion is also observed by the next tick.
func (o *Orchestrator) LocalizeInMap(destination string, hint geom.Pose) *command.Future {
	return o.registry.LocalizeInMap(destination, hint)
}

// LocalizeOnStartup fires a localization whose outcome is only logged.
// Used when the process boots against a previously saved map.
func (o *Orchestrator) LocalizeOnStartup(destination string, hint geom.Pose) {
	o.registry.LocalizeDetached(destination, hint)
}

// LastResult returns the most recent published tick, if any.
func (o *Orchestrator) LastResult() (TickResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastResult, o.haveResult
}

// TickCount reports how many batches produced a published result.
func (o *Orchestrator) TickCount() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tickCount
}

// ExecStats reports the mean and maximum engine execution time in
// milliseconds over the recent tick window.
func (o *Orchestrator) ExecStats() (mean, max float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.execStats.MeanMax()
}

// Localized reports whether a localization against a stored map has
// completed successfully since startup.
func (o *Orchestrator) Localized() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.localized
}

// PendingFrameCounts exposes the synchronizer's per-stream queue
// depths for status reporting.
func (o *Orchestrator) PendingFrameCounts() []int {
	return o.sync.PendingCounts()
}

// Close force-resolves any in-flight map commands so blocked callers
// return.
func (o *Orchestrator) Close() {
	o.registry.Close()
}

// onBatch is the single serialization point of the pipeline: one fused
// batch in, at most one published tick out.
func (o *Orchestrator) onBatch(batch sequencer.FusedBatch) {
	start := o.clock.Now()

	o.mu.Lock()
	defer o.mu.Unlock()

	// Surface any finished async localization before tracking so its
	// pose correction applies from this tick onward.
	if res, ok := o.registry.Poll(); ok && res.OK() {
		o.localized = true
	}

	repr := batch.Group.RepresentativeNanos
	if o.cfg.ImageJitterThresholdNanos > 0 && o.lastBatchNanos != 0 {
		if gap := repr - o.lastBatchNanos; gap > o.cfg.ImageJitterThresholdNanos {
			monitoring.Logf("tracker: inter-batch gap %.1fms exceeds threshold %.1fms",
				float64(gap)/1e6, float64(o.cfg.ImageJitterThresholdNanos)/1e6)
		}
	}
	o.lastBatchNanos = repr

	for _, s := range batch.Imu {
		if st := o.eng.RegisterImuSample(repr, s); st != engine.StatusSuccess {
			o.imuRejects++
			if o.imuRejects%100 == 1 {
				monitoring.Logf("tracker: engine rejected IMU sample (%v), %d rejects so far", st, o.imuRejects)
			}
		}
	}

	images := o.assembleImages(batch.Group)
	result := o.eng.TrackBatch(images)

	if result.Status != engine.StatusSuccess {
		if result.Status == engine.StatusTrackingLost {
			monitoring.Logf("tracker: tracking lost at t=%d, clearing pose history", repr)
			o.poses.Reset()
			o.velocities.Reset()
		} else {
			monitoring.Logf("tracker: tick at t=%d failed: %v", repr, result.Status)
		}
		return
	}

	o.poses.Add(repr, result.Pose)
	velocity := o.poses.Velocity()
	o.velocities.Add(velocity)

	poseCov, ok := o.poses.Covariance()
	if !ok {
		poseCov = posecache.IdentityCovariance()
	}
	velCov, ok := o.velocities.Covariance()
	if !ok {
		velCov = posecache.IdentityCovariance()
	}

	tick := TickResult{
		TimestampNanos:     repr,
		Pose:               result.Pose,
		Velocity:           velocity,
		PoseCovariance:     poseCov,
		VelocityCovariance: velCov,
		Status:             result.Status,
		ImuCount:           len(batch.Imu),
	}
	o.lastResult = tick
	o.haveResult = true
	o.tickCount++

	for _, sink := range o.sinks {
		sink(tick)
	}

	o.execStats.Add(float64(o.clock.Since(start).Microseconds()) / 1000)
	if o.tickCount%statsLogInterval == 0 {
		mean, max := o.execStats.MeanMax()
		monitoring.Logf("tracker: %d ticks, exec time mean %.2fms max %.2fms", o.tickCount, mean, max)
	}
}

// assembleImages folds mask frames onto their camera frames. Mask
// stream i carries the mask for camera i-NumCameras; a mask whose
// camera frame is absent from the group is dropped.
func (o *Orchestrator) assembleImages(group streamsync.SynchronizedGroup) []engine.Image {
	images := make([]engine.Image, 0, o.cfg.NumCameras)
	byCamera := make(map[int]int, o.cfg.NumCameras)
	for _, f := range group.Frames {
		if f.StreamIndex >= o.cfg.NumCameras {
			continue
		}
		byCamera[f.StreamIndex] = len(images)
		images = append(images, engine.Image{
			CameraIndex:    f.StreamIndex,
			TimestampNanos: f.TimestampNanos,
			Payload:        f.Payload,
		})
	}
	for _, f := range group.Frames {
		if f.StreamIndex < o.cfg.NumCameras {
			continue
		}
		cam := f.StreamIndex - o.cfg.NumCameras
		if i, ok := byCamera[cam]; ok {
			images[i].Mask = f.Payload
		}
	}
	return images
}

// Package engine defines the contract for the opaque visual tracking
// engine consumed by the fusion pipeline.
//
// Feature tracking, loop closure and the map representation live
// entirely behind this interface; the pipeline only sequences inputs,
// invokes the engine once per fused batch, and bridges its asynchronous
// maintenance completions back to callers.
package engine

import "github.com/banshee-data/fusiontrack/internal/geom"

// Status is the engine's result code for tracking and maintenance calls.
type Status int

const (
	StatusSuccess Status = iota
	StatusTrackingLost
	StatusNotInitialized
	StatusCannotLocalize
	StatusGenericError
)

// String returns a short name for logs and API payloads.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTrackingLost:
		return "tracking_lost"
	case StatusNotInitialized:
		return "not_initialized"
	case StatusCannotLocalize:
		return "cannot_localize"
	default:
		return "generic_error"
	}
}

// ImuSample is one inertial measurement. Immutable once submitted.
type ImuSample struct {
	TimestampNanos     int64
	AngularVelocity    geom.Vec3 // rad/s
	LinearAcceleration geom.Vec3 // m/s²
}

// Image is one camera image handed to TrackBatch, with the optional
// segmentation mask already paired to its camera.
type Image struct {
	CameraIndex    int
	TimestampNanos int64
	Payload        []byte
	Mask           []byte // nil when no mask stream covers this camera
}

// TrackResult is the engine's per-batch tracking output. Covariance is a
// 6x6 row-major matrix over [x y z roll pitch yaw].
type TrackResult struct {
	Pose       geom.Pose
	Covariance [36]float64
	Status     Status
}

// Engine is the opaque tracking capability.
//
// TrackBatch and RegisterImuSample are synchronous and must only be
// called from the serialized tracking path. PersistState and
// LocalizeAgainstStored may invoke their completion callback at most
// once, from an unspecified goroutine (often the tracking goroutine
// itself, during a later TrackBatch); a non-success return value means
// the request was rejected synchronously and no callback will follow.
type Engine interface {
	// TrackBatch runs one tracking update over the synchronized images.
	TrackBatch(images []Image) TrackResult

	// RegisterImuSample feeds one inertial measurement, associated with
	// the upcoming batch timestamp. Must precede the batch's TrackBatch.
	RegisterImuSample(batchTimestampNanos int64, sample ImuSample) Status

	// PersistState asynchronously writes the engine's map to destination.
	PersistState(destination string, done func(Status)) Status

	// LocalizeAgainstStored asynchronously localizes against a stored map
	// near the pose hint. On success the callback delivers the resolved
	// pose in the engine's frame.
	LocalizeAgainstStored(destination string, hint geom.Pose, done func(Status, geom.Pose)) Status
}

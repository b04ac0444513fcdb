package api

import (
	"github.com/banshee-data/fusiontrack/internal/geom"
	"github.com/banshee-data/fusiontrack/internal/tracker"
)

// posePayload is the wire form of a pose: translation plus quaternion.
type posePayload struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
	QW float64 `json:"qw"`
	QX float64 `json:"qx"`
	QY float64 `json:"qy"`
	QZ float64 `json:"qz"`
}

func newPosePayload(p geom.Pose) *posePayload {
	return &posePayload{
		X: p.Translation.X, Y: p.Translation.Y, Z: p.Translation.Z,
		QW: p.Rotation.W, QX: p.Rotation.X, QY: p.Rotation.Y, QZ: p.Rotation.Z,
	}
}

func (p *posePayload) toPose() geom.Pose {
	q := geom.Quat{W: p.QW, X: p.QX, Y: p.QY, Z: p.QZ}
	if q == (geom.Quat{}) {
		q = geom.IdentityQuat()
	}
	return geom.Pose{
		Translation: geom.Vec3{X: p.X, Y: p.Y, Z: p.Z},
		Rotation:    q.Normalize(),
	}
}

// twistPayload is the wire form of a velocity estimate.
type twistPayload struct {
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
	VZ float64 `json:"vz"`
	WX float64 `json:"wx"`
	WY float64 `json:"wy"`
	WZ float64 `json:"wz"`
}

// tickPayload is one tracking tick on the websocket feed and in the
// status endpoint.
type tickPayload struct {
	TimestampNanos     int64        `json:"timestamp_ns"`
	Pose               *posePayload `json:"pose"`
	Velocity           twistPayload `json:"velocity"`
	PoseCovariance     [36]float64  `json:"pose_covariance"`
	VelocityCovariance [36]float64  `json:"velocity_covariance"`
	Status             string       `json:"status"`
	ImuCount           int          `json:"imu_count"`
}

func newTickPayload(t tracker.TickResult) *tickPayload {
	return &tickPayload{
		TimestampNanos: t.TimestampNanos,
		Pose:           newPosePayload(t.Pose),
		Velocity: twistPayload{
			VX: t.Velocity.Linear.X, VY: t.Velocity.Linear.Y, VZ: t.Velocity.Linear.Z,
			WX: t.Velocity.Angular.X, WY: t.Velocity.Angular.Y, WZ: t.Velocity.Angular.Z,
		},
		PoseCovariance:     t.PoseCovariance,
		VelocityCovariance: t.VelocityCovariance,
		Status:             t.Status.String(),
		ImuCount:           t.ImuCount,
	}
}

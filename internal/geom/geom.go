// Package geom provides the minimal rigid-transform math used by the
// fusion pipeline: 3D vectors, unit quaternions and poses.
//
// The engine owns all heavy geometry; this package only supports pose
// differencing for velocity estimation and pose flattening for
// covariance statistics.
package geom

import "math"

// Vec3 is a 3D vector.
type Vec3 struct {
	X, Y, Z float64
}

// Add returns v + w.
func (v Vec3) Add(w Vec3) Vec3 {
	return Vec3{v.X + w.X, v.Y + w.Y, v.Z + w.Z}
}

// Sub returns v - w.
func (v Vec3) Sub(w Vec3) Vec3 {
	return Vec3{v.X - w.X, v.Y - w.Y, v.Z - w.Z}
}

// Scale returns v * s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Quat is a rotation quaternion (W is the scalar part).
type Quat struct {
	W, X, Y, Z float64
}

// IdentityQuat returns the identity rotation.
func IdentityQuat() Quat {
	return Quat{W: 1}
}

// Mul returns the Hamilton product q * r (apply r, then q).
func (q Quat) Mul(r Quat) Quat {
	return Quat{
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
	}
}

// Conj returns the conjugate of q. For unit quaternions this is the
// inverse rotation.
func (q Quat) Conj() Quat {
	return Quat{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Normalize returns q scaled to unit length. The zero quaternion
// normalizes to identity.
func (q Quat) Normalize() Quat {
	n := math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	if n == 0 {
		return IdentityQuat()
	}
	return Quat{q.W / n, q.X / n, q.Y / n, q.Z / n}
}

// Rotate applies the rotation q to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	p := Quat{W: 0, X: v.X, Y: v.Y, Z: v.Z}
	r := q.Mul(p).Mul(q.Conj())
	return Vec3{r.X, r.Y, r.Z}
}

// AxisAngle decomposes the rotation into a unit axis and an angle in
// radians within [0, π]. The identity rotation returns a zero axis.
func (q Quat) AxisAngle() (axis Vec3, angle float64) {
	u := q.Normalize()
	// Keep the scalar part non-negative so the angle stays in [0, π].
	if u.W < 0 {
		u = Quat{-u.W, -u.X, -u.Y, -u.Z}
	}
	s := math.Sqrt(u.X*u.X + u.Y*u.Y + u.Z*u.Z)
	angle = 2 * math.Atan2(s, u.W)
	if s < 1e-12 {
		return Vec3{}, 0
	}
	return Vec3{u.X / s, u.Y / s, u.Z / s}, angle
}

// Euler returns intrinsic roll/pitch/yaw (XYZ) angles in radians.
func (q Quat) Euler() (roll, pitch, yaw float64) {
	u := q.Normalize()

	sinr := 2 * (u.W*u.X + u.Y*u.Z)
	cosr := 1 - 2*(u.X*u.X+u.Y*u.Y)
	roll = math.Atan2(sinr, cosr)

	sinp := 2 * (u.W*u.Y - u.Z*u.X)
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}

	siny := 2 * (u.W*u.Z + u.X*u.Y)
	cosy := 1 - 2*(u.Y*u.Y+u.Z*u.Z)
	yaw = math.Atan2(siny, cosy)
	return roll, pitch, yaw
}

// Pose is a rigid transform: rotation followed by translation.
type Pose struct {
	Translation Vec3
	Rotation    Quat
}

// IdentityPose returns the identity transform.
func IdentityPose() Pose {
	return Pose{Rotation: IdentityQuat()}
}

// Inverse returns the inverse transform.
func (p Pose) Inverse() Pose {
	inv := p.Rotation.Conj()
	return Pose{
		Translation: inv.Rotate(p.Translation.Scale(-1)),
		Rotation:    inv,
	}
}

// Compose returns p * q (apply q, then p).
func (p Pose) Compose(q Pose) Pose {
	return Pose{
		Translation: p.Rotation.Rotate(q.Translation).Add(p.Translation),
		Rotation:    p.Rotation.Mul(q.Rotation).Normalize(),
	}
}

// Twist is a linear/angular velocity pair.
type Twist struct {
	Linear  Vec3
	Angular Vec3
}

// Flatten returns the pose as a 6-vector [x y z roll pitch yaw], the
// representation covariance statistics are computed over.
func (p Pose) Flatten() [6]float64 {
	roll, pitch, yaw := p.Rotation.Euler()
	return [6]float64{
		p.Translation.X, p.Translation.Y, p.Translation.Z,
		roll, pitch, yaw,
	}
}

// Flatten returns the twist as a 6-vector [vx vy vz wx wy wz].
func (t Twist) Flatten() [6]float64 {
	return [6]float64{
		t.Linear.X, t.Linear.Y, t.Linear.Z,
		t.Angular.X, t.Angular.Y, t.Angular.Z,
	}
}

package geom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quatAboutZ(angle float64) Quat {
	return Quat{W: math.Cos(angle / 2), Z: math.Sin(angle / 2)}
}

func TestQuatRotate(t *testing.T) {
	t.Parallel()

	// 90° about Z maps +X to +Y.
	q := quatAboutZ(math.Pi / 2)
	v := q.Rotate(Vec3{X: 1})
	assert.InDelta(t, 0, v.X, 1e-12)
	assert.InDelta(t, 1, v.Y, 1e-12)
	assert.InDelta(t, 0, v.Z, 1e-12)
}

func TestQuatAxisAngle(t *testing.T) {
	t.Parallel()

	t.Run("identity has zero angle", func(t *testing.T) {
		t.Parallel()
		_, angle := IdentityQuat().AxisAngle()
		assert.Zero(t, angle)
	})

	t.Run("recovers axis and angle", func(t *testing.T) {
		t.Parallel()
		axis, angle := quatAboutZ(1.0).AxisAngle()
		assert.InDelta(t, 1.0, angle, 1e-12)
		assert.InDelta(t, 1.0, axis.Z, 1e-12)
	})

	t.Run("angle stays within [0, pi]", func(t *testing.T) {
		t.Parallel()
		// -90° about Z is reported as 90° about -Z.
		axis, angle := quatAboutZ(-math.Pi / 2).AxisAngle()
		assert.InDelta(t, math.Pi/2, angle, 1e-12)
		assert.InDelta(t, -1.0, axis.Z, 1e-12)
	})
}

func TestPoseComposeInverse(t *testing.T) {
	t.Parallel()

	p := Pose{
		Translation: Vec3{X: 1, Y: 2, Z: 3},
		Rotation:    quatAboutZ(math.Pi / 3),
	}

	id := p.Compose(p.Inverse())
	assert.InDelta(t, 0, id.Translation.Norm(), 1e-12)
	_, angle := id.Rotation.AxisAngle()
	assert.InDelta(t, 0, angle, 1e-12)
}

func TestEulerRoundTrip(t *testing.T) {
	t.Parallel()

	roll, pitch, yaw := quatAboutZ(0.5).Euler()
	assert.InDelta(t, 0, roll, 1e-12)
	assert.InDelta(t, 0, pitch, 1e-12)
	assert.InDelta(t, 0.5, yaw, 1e-12)
}

func TestFlatten(t *testing.T) {
	t.Parallel()

	p := Pose{Translation: Vec3{X: 1, Y: 2, Z: 3}, Rotation: IdentityQuat()}
	flat := p.Flatten()
	require.Equal(t, [6]float64{1, 2, 3, 0, 0, 0}, flat)

	tw := Twist{Linear: Vec3{X: 4}, Angular: Vec3{Z: 5}}
	require.Equal(t, [6]float64{4, 0, 0, 0, 0, 5}, tw.Flatten())
}

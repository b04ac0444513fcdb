// Package posecache maintains bounded histories of tracked poses and
// derived velocities, and estimates covariance from them.
//
// The caches are touched only from the tracking goroutine (the
// serialized batch callback), so they carry no locks.
package posecache

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/fusiontrack/internal/geom"
)

// Constants for cache sizing.
const (
	// DefaultCapacity is the default pose history size.
	DefaultCapacity = 30
	// DefaultMinSamplesForCovariance is the fill count below which
	// covariance is reported unavailable.
	DefaultMinSamplesForCovariance = 10
)

// PoseSample is one timestamped pose in the history.
type PoseSample struct {
	TimestampNanos int64
	Pose           geom.Pose
}

// PoseCache is a fixed-capacity ring of timestamped poses. The oldest
// sample is evicted on overflow.
type PoseCache struct {
	samples    []PoseSample
	head       int
	count      int
	minSamples int
}

// NewPoseCache creates a PoseCache. Non-positive arguments select the
// package defaults.
func NewPoseCache(capacity, minSamplesForCovariance int) *PoseCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if minSamplesForCovariance <= 0 {
		minSamplesForCovariance = DefaultMinSamplesForCovariance
	}
	if minSamplesForCovariance < 2 {
		minSamplesForCovariance = 2
	}
	return &PoseCache{
		samples:    make([]PoseSample, capacity),
		minSamples: minSamplesForCovariance,
	}
}

// Add inserts a pose, evicting the oldest sample beyond capacity.
func (c *PoseCache) Add(timestampNanos int64, pose geom.Pose) {
	c.samples[c.head] = PoseSample{TimestampNanos: timestampNanos, Pose: pose}
	c.head = (c.head + 1) % len(c.samples)
	if c.count < len(c.samples) {
		c.count++
	}
}

// Len returns the number of samples currently held.
func (c *PoseCache) Len() int {
	return c.count
}

// Reset clears the history. Called on tracking loss.
func (c *PoseCache) Reset() {
	c.head = 0
	c.count = 0
}

// at returns the i-th most recent sample (0 = newest).
func (c *PoseCache) at(i int) PoseSample {
	idx := (c.head - 1 - i + 2*len(c.samples)) % len(c.samples)
	return c.samples[idx]
}

// Velocity returns the finite-difference twist between the two most
// recent samples. With fewer than two samples, or a non-positive time
// delta, it returns a zero twist.
func (c *PoseCache) Velocity() geom.Twist {
	if c.count < 2 {
		return geom.Twist{}
	}
	newest := c.at(0)
	prev := c.at(1)
	dt := float64(newest.TimestampNanos-prev.TimestampNanos) / 1e9
	if dt <= 0 {
		return geom.Twist{}
	}

	linear := newest.Pose.Translation.Sub(prev.Pose.Translation).Scale(1 / dt)

	// Relative rotation over the interval, expressed in the world frame.
	rel := newest.Pose.Rotation.Mul(prev.Pose.Rotation.Conj())
	axis, angle := rel.AxisAngle()
	return geom.Twist{Linear: linear, Angular: axis.Scale(angle / dt)}
}

// Covariance estimates the 6x6 pose covariance (row-major, over
// [x y z roll pitch yaw]) from the buffered samples. The boolean is
// false until the minimum fill count is reached; callers substitute an
// identity covariance in that case.
func (c *PoseCache) Covariance() ([36]float64, bool) {
	if c.count < c.minSamples {
		return [36]float64{}, false
	}
	rows := make([][6]float64, c.count)
	for i := 0; i < c.count; i++ {
		rows[i] = c.at(i).Pose.Flatten()
	}
	return sampleCovariance(rows), true
}

// VelocityCache mirrors PoseCache for derived twists: it tracks the
// distribution of recent velocity outputs rather than poses.
type VelocityCache struct {
	samples    [][6]float64
	head       int
	count      int
	minSamples int
}

// NewVelocityCache creates a VelocityCache with the same sizing rules
// as NewPoseCache.
func NewVelocityCache(capacity, minSamplesForCovariance int) *VelocityCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if minSamplesForCovariance <= 0 {
		minSamplesForCovariance = DefaultMinSamplesForCovariance
	}
	if minSamplesForCovariance < 2 {
		minSamplesForCovariance = 2
	}
	return &VelocityCache{
		samples:    make([][6]float64, capacity),
		minSamples: minSamplesForCovariance,
	}
}

// Add inserts a twist observation.
func (c *VelocityCache) Add(t geom.Twist) {
	c.samples[c.head] = t.Flatten()
	c.head = (c.head + 1) % len(c.samples)
	if c.count < len(c.samples) {
		c.count++
	}
}

// Len returns the number of samples currently held.
func (c *VelocityCache) Len() int {
	return c.count
}

// Reset clears the history.
func (c *VelocityCache) Reset() {
	c.head = 0
	c.count = 0
}

// Covariance estimates the 6x6 twist covariance from the buffer, with
// the same availability rule as PoseCache.Covariance.
func (c *VelocityCache) Covariance() ([36]float64, bool) {
	if c.count < c.minSamples {
		return [36]float64{}, false
	}
	rows := make([][6]float64, c.count)
	for i := 0; i < c.count; i++ {
		idx := (c.head - 1 - i + 2*len(c.samples)) % len(c.samples)
		rows[i] = c.samples[idx]
	}
	return sampleCovariance(rows), true
}

// sampleCovariance computes the sample covariance of 6-dimensional
// observations as a row-major 6x6 matrix.
func sampleCovariance(rows [][6]float64) [36]float64 {
	data := mat.NewDense(len(rows), 6, nil)
	for i, r := range rows {
		data.SetRow(i, r[:])
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)

	var out [36]float64
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			out[i*6+j] = cov.At(i, j)
		}
	}
	return out
}

// IdentityCovariance is the default substituted when a cache reports
// covariance unavailable.
func IdentityCovariance() [36]float64 {
	var out [36]float64
	for i := 0; i < 6; i++ {
		out[i*6+i] = 1
	}
	return out
}

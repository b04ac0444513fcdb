// Package tracker orchestrates the sensor fusion front end: it owns the
// image synchronizer, the IMU sequencer, the asynchronous map-command
// registry, and the pose and velocity caches, and drives the tracking
// engine once per fused batch.
package tracker

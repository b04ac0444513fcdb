// Package testutil provides shared test helpers for comparing
// geometric quantities with tolerance.
package testutil

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/banshee-data/fusiontrack/internal/geom"
)

// AssertPoseApprox fails the test when got differs from want by more
// than tol in any component.
func AssertPoseApprox(t *testing.T, want, got geom.Pose, tol float64) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, tol)); diff != "" {
		t.Errorf("pose mismatch (-want +got):\n%s", diff)
	}
}

// AssertTwistApprox fails the test when got differs from want by more
// than tol in any component.
func AssertTwistApprox(t *testing.T, want, got geom.Twist, tol float64) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, tol)); diff != "" {
		t.Errorf("twist mismatch (-want +got):\n%s", diff)
	}
}

// AssertMatrixApprox compares two row-major 6x6 matrices with
// tolerance.
func AssertMatrixApprox(t *testing.T, want, got [36]float64, tol float64) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, tol)); diff != "" {
		t.Errorf("matrix mismatch (-want +got):\n%s", diff)
	}
}

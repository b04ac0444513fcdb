package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fusiontrack/internal/engine"
	"github.com/banshee-data/fusiontrack/internal/geom"
	"github.com/banshee-data/fusiontrack/internal/tracker"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrationsApplyOnOpen(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)

	n, err := db.TickCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReopenIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := NewDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewDB(path)
	require.NoError(t, err)
	defer db.Close()
}

func TestTickRoundTrip(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	tick := tracker.TickResult{
		TimestampNanos: 123456789,
		Pose: geom.Pose{
			Translation: geom.Vec3{X: 1.5, Y: -2, Z: 0.25},
			Rotation:    geom.IdentityQuat(),
		},
		Velocity: geom.Twist{
			Linear:  geom.Vec3{X: 0.5},
			Angular: geom.Vec3{Z: 0.1},
		},
		Status:   engine.StatusSuccess,
		ImuCount: 7,
	}
	require.NoError(t, db.InsertTick(tick))

	records, err := db.RecentTicks(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	got := records[0]
	assert.Equal(t, tick.TimestampNanos, got.TimestampNanos)
	assert.InDelta(t, 1.5, got.Pose.Translation.X, 1e-12)
	assert.InDelta(t, 1.0, got.Pose.Rotation.W, 1e-12)
	assert.InDelta(t, 0.5, got.Velocity.Linear.X, 1e-12)
	assert.InDelta(t, 0.1, got.Velocity.Angular.Z, 1e-12)
	assert.Equal(t, engine.StatusSuccess.String(), got.Status)
	assert.Equal(t, 7, got.ImuCount)
}

func TestRecentTicksNewestFirst(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	for _, ts := range []int64{100, 300, 200} {
		require.NoError(t, db.InsertTick(tracker.TickResult{
			TimestampNanos: ts,
			Pose:           geom.IdentityPose(),
			Status:         engine.StatusSuccess,
		}))
	}

	records, err := db.RecentTicks(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(300), records[0].TimestampNanos)
	assert.Equal(t, int64(200), records[1].TimestampNanos)
}

func TestCommandAudit(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	token := uuid.NewString()
	require.NoError(t, db.InsertCommandAudit(token, "save_map", "/maps/site", "OK", ""))
	require.NoError(t, db.InsertCommandAudit(uuid.NewString(), "localize", "/maps/site", "FAILED", "no map artifacts"))

	records, err := db.RecentCommands(10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "localize", records[0].Command)
	assert.Equal(t, "no map artifacts", records[0].Detail)
	assert.Equal(t, token, records[1].Token)
	assert.Equal(t, "save_map", records[1].Command)
}

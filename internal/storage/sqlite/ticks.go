package sqlite

import (
	"fmt"

	"github.com/banshee-data/fusiontrack/internal/geom"
	"github.com/banshee-data/fusiontrack/internal/tracker"
)

// TickRecord is one persisted tracking tick.
type TickRecord struct {
	ID             int64       `json:"id"`
	TimestampNanos int64       `json:"timestamp_ns"`
	Pose           geom.Pose   `json:"pose"`
	Velocity       geom.Twist  `json:"velocity"`
	Status         string      `json:"status"`
	ImuCount       int         `json:"imu_count"`
}

// InsertTick stores one tracking tick.
func (db *DB) InsertTick(r tracker.TickResult) error {
	query := `
		INSERT INTO tracking_ticks
			(timestamp_ns, x, y, z, qw, qx, qy, qz, vx, vy, vz, wx, wy, wz, status, imu_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.Exec(query,
		r.TimestampNanos,
		r.Pose.Translation.X, r.Pose.Translation.Y, r.Pose.Translation.Z,
		r.Pose.Rotation.W, r.Pose.Rotation.X, r.Pose.Rotation.Y, r.Pose.Rotation.Z,
		r.Velocity.Linear.X, r.Velocity.Linear.Y, r.Velocity.Linear.Z,
		r.Velocity.Angular.X, r.Velocity.Angular.Y, r.Velocity.Angular.Z,
		r.Status.String(), r.ImuCount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tracking tick: %w", err)
	}
	return nil
}

// RecentTicks returns the newest ticks, most recent first.
func (db *DB) RecentTicks(limit int) ([]TickRecord, error) {
	query := `
		SELECT id, timestamp_ns, x, y, z, qw, qx, qy, qz, vx, vy, vz, wx, wy, wz, status, imu_count
		FROM tracking_ticks
		ORDER BY timestamp_ns DESC
		LIMIT ?
	`
	rows, err := db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent ticks: %w", err)
	}
	defer rows.Close()

	var records []TickRecord
	for rows.Next() {
		var r TickRecord
		err := rows.Scan(&r.ID, &r.TimestampNanos,
			&r.Pose.Translation.X, &r.Pose.Translation.Y, &r.Pose.Translation.Z,
			&r.Pose.Rotation.W, &r.Pose.Rotation.X, &r.Pose.Rotation.Y, &r.Pose.Rotation.Z,
			&r.Velocity.Linear.X, &r.Velocity.Linear.Y, &r.Velocity.Linear.Z,
			&r.Velocity.Angular.X, &r.Velocity.Angular.Y, &r.Velocity.Angular.Z,
			&r.Status, &r.ImuCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tick row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// TickCount returns the total number of persisted ticks.
func (db *DB) TickCount() (int64, error) {
	var n int64
	if err := db.QueryRow("SELECT COUNT(*) FROM tracking_ticks").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count ticks: %w", err)
	}
	return n, nil
}

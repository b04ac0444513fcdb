package sqlite

import (
	"fmt"
)

// CommandRecord is one audited maintenance command.
type CommandRecord struct {
	ID          int64  `json:"id"`
	Token       string `json:"token"`
	Command     string `json:"command"`
	Destination string `json:"destination"`
	Status      string `json:"status"`
	Detail      string `json:"detail,omitempty"`
}

// InsertCommandAudit records the outcome of a maintenance command.
func (db *DB) InsertCommandAudit(token, command, destination, status, detail string) error {
	query := `
		INSERT INTO command_audit (token, command, destination, status, detail)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := db.Exec(query, token, command, destination, status, detail); err != nil {
		return fmt.Errorf("failed to insert command audit: %w", err)
	}
	return nil
}

// RecentCommands returns the newest audit records, most recent first.
func (db *DB) RecentCommands(limit int) ([]CommandRecord, error) {
	query := `
		SELECT id, token, command, destination, status, detail
		FROM command_audit
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query command audit: %w", err)
	}
	defer rows.Close()

	var records []CommandRecord
	for rows.Next() {
		var r CommandRecord
		if err := rows.Scan(&r.ID, &r.Token, &r.Command, &r.Destination, &r.Status, &r.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

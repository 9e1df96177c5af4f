package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/sensorhub/internal/models"
)

// Cursor returns the last key the driver consumed for sensor. ok is false
// when the driver has never advanced it.
func (db *DB) Cursor(sensor string) (models.Key, bool, error) {
	var k string
	err := db.conn.QueryRow(`SELECT last_k FROM cursors WHERE sensor = ?`, sensor).Scan(&k)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ledger: cursor: %w", err)
	}
	return models.Key(k), true, nil
}

// SetCursor moves sensor's cursor to k.
func (db *DB) SetCursor(sensor string, k models.Key) error {
	_, err := db.conn.Exec(`
		INSERT INTO cursors (sensor, last_k, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(sensor) DO UPDATE SET
			last_k     = excluded.last_k,
			updated_at = excluded.updated_at
	`, sensor, string(k), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ledger: set cursor: %w", err)
	}
	return nil
}

package ledger

import (
	"fmt"
	"time"

	"github.com/starford/sensorhub/internal/models"
)

// MarkAnnounced records that the driver has announced (sensor, k). It
// reports true only for the first call per pair, independently of when the
// record itself entered the ledger.
func (db *DB) MarkAnnounced(sensor string, k models.Key, at time.Time) (bool, error) {
	res, err := db.conn.Exec(`
		INSERT INTO announcements (sensor, k, announced_at) VALUES (?, ?, ?)
		ON CONFLICT(sensor, k) DO NOTHING
	`, sensor, string(k), at.UTC())
	if err != nil {
		return false, fmt.Errorf("ledger: mark announced: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger: mark announced: %w", err)
	}
	return n == 1, nil
}

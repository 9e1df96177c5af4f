//go:build !sqlite_fts5

package ledger

import (
	"database/sql"
	"fmt"

	"github.com/starford/sensorhub/internal/models"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; search uses LIKE over the records table.
	return nil
}

func ftsUpsert(_ *sql.Tx, _ string, _ models.Record) error {
	return nil
}

func ftsDeleteSensor(_ *sql.Tx, _ string) {}

// Search performs a LIKE-based search (fallback when FTS5 is not compiled in).
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := db.conn.Query(`
		SELECT sensor, k, caption, substr(summary, 1, 200)
		FROM records
		WHERE caption LIKE ? OR summary LIKE ? OR story LIKE ?
		ORDER BY seen_at DESC
		LIMIT ?
	`, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		var k string
		if err := rows.Scan(&r.Sensor, &k, &r.Caption, &r.Snippet); err != nil {
			return nil, err
		}
		r.K = models.Key(k)
		out = append(out, r)
	}
	return out, rows.Err()
}

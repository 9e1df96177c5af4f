//go:build sqlite_fts5

package ledger

import (
	"database/sql"
	"fmt"

	"github.com/starford/sensorhub/internal/models"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(
			sensor UNINDEXED,
			k UNINDEXED,
			caption,
			summary,
			story,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, sensor string, rec models.Record) error {
	_, _ = tx.Exec(`DELETE FROM records_fts WHERE sensor = ? AND k = ?`, sensor, string(rec.K))
	_, err := tx.Exec(`INSERT INTO records_fts (sensor, k, caption, summary, story) VALUES (?, ?, ?, ?, ?)`,
		sensor, string(rec.K), rec.Caption, rec.Summary, rec.Story)
	if err != nil {
		return fmt.Errorf("ledger: upsert fts: %w", err)
	}
	return nil
}

func ftsDeleteSensor(tx *sql.Tx, sensor string) {
	_, _ = tx.Exec(`DELETE FROM records_fts WHERE sensor = ?`, sensor)
}

// Search performs an FTS5 full-text search and returns matching records with snippets.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT sensor,
		       k,
		       caption,
		       snippet(records_fts, -1, '<b>', '</b>', '...', 32)
		FROM records_fts
		WHERE records_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
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

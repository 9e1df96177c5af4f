package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/sensorhub/internal/apperr"
	"github.com/starford/sensorhub/internal/checksum"
	"github.com/starford/sensorhub/internal/models"
)

// RecordRow is a record as stored in the ledger.
type RecordRow struct {
	Sensor   string
	Record   models.Record
	Checksum string
	SeenAt   time.Time
}

// SearchResult represents one search hit.
type SearchResult struct {
	Sensor  string     `json:"sensor"`
	K       models.Key `json:"k"`
	Caption string     `json:"caption"`
	Snippet string     `json:"snippet"`
}

// UpsertRecord stores rec for sensor. created is true only the first time a
// (sensor, k) pair is seen; later calls refresh the stored fields when the
// record content changed.
func (db *DB) UpsertRecord(sensor string, rec models.Record, seenAt time.Time) (bool, error) {
	if rec.K == "" {
		return false, fmt.Errorf("ledger: upsert %s: %w", sensor, apperr.ErrIncomplete)
	}
	cs := checksum.JSON(rec)

	tx, err := db.conn.Begin()
	if err != nil {
		return false, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	var existing string
	err = tx.QueryRow(`SELECT checksum FROM records WHERE sensor = ? AND k = ?`, sensor, string(rec.K)).Scan(&existing)
	created := errors.Is(err, sql.ErrNoRows)
	if err != nil && !created {
		return false, fmt.Errorf("ledger: lookup record: %w", err)
	}
	if !created && existing == cs {
		return false, nil
	}

	_, err = tx.Exec(`
		INSERT INTO records (sensor, k, date, caption, summary, story, img, origin, checksum, seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sensor, k) DO UPDATE SET
			date     = excluded.date,
			caption  = excluded.caption,
			summary  = excluded.summary,
			story    = excluded.story,
			img      = excluded.img,
			origin   = excluded.origin,
			checksum = excluded.checksum
	`, sensor, string(rec.K), rec.Date, rec.Caption, rec.Summary, rec.Story, rec.Img, rec.Origin, cs, seenAt.UTC())
	if err != nil {
		return false, fmt.Errorf("ledger: upsert record: %w", err)
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	if err := ftsUpsert(tx, sensor, rec); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("ledger: commit: %w", err)
	}
	return created, nil
}

// GetRecord returns one stored record or apperr.ErrNotFound.
func (db *DB) GetRecord(sensor string, k models.Key) (*RecordRow, error) {
	row := db.conn.QueryRow(`
		SELECT sensor, k, date, caption, summary, story, img, origin, checksum, seen_at
		FROM records WHERE sensor = ? AND k = ?
	`, sensor, string(k))
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger: record %s/%s: %w", sensor, k, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get record: %w", err)
	}
	return r, nil
}

// ListRecords returns a page of stored records, most recently seen first,
// plus the total count. An empty sensor lists every sensor.
func (db *DB) ListRecords(sensor string, limit, offset int) ([]RecordRow, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	where := ""
	var args []any
	if sensor != "" {
		where = "WHERE sensor = ?"
		args = append(args, sensor)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM records `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ledger: count records: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT sensor, k, date, caption, summary, story, img, origin, checksum, seen_at
		FROM records `+where+`
		ORDER BY seen_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger: list records: %w", err)
	}
	defer rows.Close()

	out := []RecordRow{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *r)
	}
	return out, total, rows.Err()
}

// DeleteSensor removes everything the ledger keeps for sensor.
func (db *DB) DeleteSensor(sensor string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDeleteSensor(tx, sensor)
	for _, table := range []string{"records", "publications", "announcements", "cursors", "buffers"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE sensor = ?`, sensor); err != nil {
			return fmt.Errorf("ledger: delete %s: %w", table, err)
		}
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*RecordRow, error) {
	var r RecordRow
	var k string
	err := s.Scan(&r.Sensor, &k, &r.Record.Date, &r.Record.Caption, &r.Record.Summary,
		&r.Record.Story, &r.Record.Img, &r.Record.Origin, &r.Checksum, &r.SeenAt)
	if err != nil {
		return nil, err
	}
	r.Record.K = models.Key(k)
	return &r, nil
}

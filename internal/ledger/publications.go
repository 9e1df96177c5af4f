package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starford/sensorhub/internal/apperr"
	"github.com/starford/sensorhub/internal/models"
)

// Publication records that a sensor record became a post downstream.
type Publication struct {
	ID          string     `json:"id"`
	Sensor      string     `json:"sensor"`
	K           models.Key `json:"k"`
	PostID      string     `json:"post_id"`
	PostURL     string     `json:"post_url,omitempty"`
	PublishedAt time.Time  `json:"published_at"`
}

// MarkPublished stores a publication. A second publication of the same
// (sensor, k) fails with apperr.ErrAlreadyExists.
func (db *DB) MarkPublished(sensor string, k models.Key, postID, postURL string) (*Publication, error) {
	p := &Publication{
		ID:          uuid.NewString(),
		Sensor:      sensor,
		K:           k,
		PostID:      postID,
		PostURL:     postURL,
		PublishedAt: time.Now().UTC(),
	}
	res, err := db.conn.Exec(`
		INSERT INTO publications (id, sensor, k, post_id, post_url, published_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(sensor, k) DO NOTHING
	`, p.ID, p.Sensor, string(p.K), p.PostID, p.PostURL, p.PublishedAt)
	if err != nil {
		return nil, fmt.Errorf("ledger: mark published: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("ledger: publication %s/%s: %w", sensor, k, apperr.ErrAlreadyExists)
	}
	return p, nil
}

// Publication returns the publication of (sensor, k) or apperr.ErrNotFound.
func (db *DB) Publication(sensor string, k models.Key) (*Publication, error) {
	row := db.conn.QueryRow(`
		SELECT id, sensor, k, post_id, post_url, published_at
		FROM publications WHERE sensor = ? AND k = ?
	`, sensor, string(k))
	p, err := scanPublication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger: publication %s/%s: %w", sensor, k, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get publication: %w", err)
	}
	return p, nil
}

// Publications lists a sensor's publications, oldest first.
func (db *DB) Publications(sensor string) ([]Publication, error) {
	rows, err := db.conn.Query(`
		SELECT id, sensor, k, post_id, post_url, published_at
		FROM publications WHERE sensor = ?
		ORDER BY published_at, rowid
	`, sensor)
	if err != nil {
		return nil, fmt.Errorf("ledger: list publications: %w", err)
	}
	defer rows.Close()

	var out []Publication
	for rows.Next() {
		p, err := scanPublication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// DeletePublications forgets every publication of sensor.
func (db *DB) DeletePublications(sensor string) error {
	if _, err := db.conn.Exec(`DELETE FROM publications WHERE sensor = ?`, sensor); err != nil {
		return fmt.Errorf("ledger: delete publications: %w", err)
	}
	return nil
}

func scanPublication(s scanner) (*Publication, error) {
	var p Publication
	var k string
	if err := s.Scan(&p.ID, &p.Sensor, &k, &p.PostID, &p.PostURL, &p.PublishedAt); err != nil {
		return nil, err
	}
	p.K = models.Key(k)
	return &p, nil
}

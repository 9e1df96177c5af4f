package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/sensorhub/internal/buffer"
	"github.com/starford/sensorhub/internal/models"
	"github.com/starford/sensorhub/internal/storage"
)

// Sync walks the buffer files in the data directory and brings the ledger
// up to date:
//   - buffers whose checksum changed since the last sync are re-read and
//     their records upserted
//   - buffer checksums of sensors whose file disappeared are forgotten
//
// Records are kept even when their buffer is gone; the ledger is history.
func Sync(db *DB, store storage.Provider, logger *slog.Logger) error {
	metas, err := store.List(buffer.Ext)
	if err != nil {
		return err
	}

	checksums, err := db.bufferChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		sensor := strings.TrimSuffix(m.Name, buffer.Ext)
		disk[sensor] = struct{}{}

		if checksums[sensor] == m.Checksum {
			continue
		}

		data, err := store.Read(m.Name)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("file", m.Name), slog.String("error", err.Error()))
			continue
		}
		n, err := indexBuffer(db, sensor, data, m.UpdatedAt)
		if err != nil {
			logger.Warn("sync: index failed", slog.String("file", m.Name), slog.String("error", err.Error()))
			continue
		}
		if err := db.setBufferChecksum(sensor, m.Checksum); err != nil {
			logger.Warn("sync: checksum failed", slog.String("sensor", sensor), slog.String("error", err.Error()))
		}
		logger.Debug("sync: indexed", slog.String("sensor", sensor), slog.Int("new", n))
	}

	for sensor := range checksums {
		if _, ok := disk[sensor]; ok {
			continue
		}
		if _, err := db.conn.Exec(`DELETE FROM buffers WHERE sensor = ?`, sensor); err != nil {
			logger.Warn("sync: forget buffer failed", slog.String("sensor", sensor), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: buffer removed", slog.String("sensor", sensor))
		}
	}

	return nil
}

// indexBuffer decodes a buffer file and upserts every keyed record.
func indexBuffer(db *DB, sensor string, data []byte, seenAt time.Time) (int, error) {
	var records []models.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return 0, fmt.Errorf("decode buffer: %w", err)
	}
	created := 0
	for _, rec := range records {
		if rec.K == "" {
			continue
		}
		ok, err := db.UpsertRecord(sensor, rec, seenAt)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func (db *DB) bufferChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT sensor, checksum FROM buffers`)
	if err != nil {
		return nil, fmt.Errorf("ledger: buffer checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var s, cs string
		if err := rows.Scan(&s, &cs); err != nil {
			return nil, err
		}
		out[s] = cs
	}
	return out, rows.Err()
}

func (db *DB) setBufferChecksum(sensor, cs string) error {
	_, err := db.conn.Exec(`
		INSERT INTO buffers (sensor, checksum) VALUES (?, ?)
		ON CONFLICT(sensor) DO UPDATE SET checksum = excluded.checksum
	`, sensor, cs)
	return err
}

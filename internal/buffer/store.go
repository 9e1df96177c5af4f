// Package buffer persists the last successfully fetched record list of each
// sensor. A buffer is always replaced wholesale, never appended to.
package buffer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/sensorhub/internal/models"
	"github.com/starford/sensorhub/internal/storage"
)

// Ext is the file extension of a buffer file.
const Ext = ".buf"

// Store reads and writes sensor buffers.
type Store struct {
	files  storage.Provider
	logger *slog.Logger
}

// NewStore creates a buffer store over files.
func NewStore(files storage.Provider, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{files: files, logger: logger}
}

// FileName returns the buffer file name for a sensor id.
func FileName(id string) string {
	return id + Ext
}

// Load returns the buffered records for id, oldest first. A missing,
// unreadable, or corrupt buffer yields an empty slice so callers can start
// cold.
func (s *Store) Load(id string) []models.Record {
	data, err := s.files.Read(FileName(id))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("buffer: read failed",
				slog.String("sensor", id),
				slog.String("error", err.Error()))
		}
		return []models.Record{}
	}
	var records []models.Record
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn("buffer: corrupt content, starting cold",
			slog.String("sensor", id),
			slog.String("error", err.Error()))
		return []models.Record{}
	}
	if records == nil {
		return []models.Record{}
	}
	return records
}

// Save replaces the buffer for id with records.
func (s *Store) Save(id string, records []models.Record) error {
	if records == nil {
		records = []models.Record{}
	}
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("buffer: encode %s: %w", id, err)
	}
	if err := s.files.Write(FileName(id), data); err != nil {
		return fmt.Errorf("buffer: save %s: %w", id, err)
	}
	return nil
}

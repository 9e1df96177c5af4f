// Package settings persists per-sensor configuration as flat JSON objects.
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/starford/sensorhub/internal/apperr"
	"github.com/starford/sensorhub/internal/checksum"
	"github.com/starford/sensorhub/internal/models"
	"github.com/starford/sensorhub/internal/storage"
)

// Ext is the file extension of a settings file.
const Ext = ".json"

// Store loads and saves sensor settings through a storage.Provider.
type Store struct {
	files storage.Provider

	mu      sync.Mutex
	written map[string]string // sensor id -> checksum of our last write
}

// NewStore creates a settings store over files.
func NewStore(files storage.Provider) *Store {
	return &Store{files: files, written: make(map[string]string)}
}

// FileName returns the settings file name for a sensor id.
func FileName(id string) string {
	return id + Ext
}

// Load reads the settings for id. It returns apperr.ErrNotFound when nothing
// was ever persisted and apperr.ErrCorrupt when the file is not a JSON object.
func (s *Store) Load(id string) (models.Settings, error) {
	data, err := s.files.Read(FileName(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("settings: %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("settings: %s: %w", id, err)
	}
	return decode(id, data)
}

// LoadOrDefault behaves like Load but returns a copy of defaults when the
// sensor has no settings file yet. Corrupt files still fail.
func (s *Store) LoadOrDefault(id string, defaults models.Settings) (models.Settings, error) {
	cfg, err := s.Load(id)
	if errors.Is(err, apperr.ErrNotFound) {
		if defaults == nil {
			return models.Settings{}, nil
		}
		return defaults.Clone(), nil
	}
	return cfg, err
}

// Save overwrites the whole settings file for id.
func (s *Store) Save(id string, cfg models.Settings) error {
	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return fmt.Errorf("settings: encode %s: %w", id, err)
	}
	if err := s.files.Write(FileName(id), data); err != nil {
		return fmt.Errorf("settings: save %s: %w", id, err)
	}
	s.mu.Lock()
	s.written[id] = checksum.Sum(data)
	s.mu.Unlock()
	return nil
}

// IsOwnWrite reports whether data is exactly what this store last wrote for
// id. The file watcher uses it to ignore its own saves.
func (s *Store) IsOwnWrite(id string, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.written[id]
	return ok && cs == checksum.Sum(data)
}

func decode(id string, data []byte) (models.Settings, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var cfg models.Settings
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("settings: %s: %w: %v", id, apperr.ErrCorrupt, err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("settings: %s: %w: not a JSON object", id, apperr.ErrCorrupt)
	}
	return cfg, nil
}

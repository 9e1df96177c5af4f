// Package sensorservice is the lookup and query layer shared by the HTTP
// API, the MCP server, and the CLI.
package sensorservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/starford/sensorhub/internal/apperr"
	"github.com/starford/sensorhub/internal/ledger"
	"github.com/starford/sensorhub/internal/models"
	"github.com/starford/sensorhub/internal/parser"
	"github.com/starford/sensorhub/internal/sensor"
	"github.com/starford/sensorhub/internal/storage"
)

// SensorDetail is a sensor's status plus its about document.
type SensorDetail struct {
	sensor.Status
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags"`
}

// HistoryItem is a ledger record in list responses.
type HistoryItem struct {
	Sensor string `json:"sensor"`
	models.Record
	SeenAt string `json:"seen_at"`
}

// Service coordinates the sensors and the ledger.
type Service struct {
	sensors map[string]*sensor.Sensor
	names   []string
	db      ledger.Ledger
	files   storage.Provider
	logger  *slog.Logger
}

// NewService creates a service over sensors. db and files may be nil, in
// which case history, search, and about documents are unavailable.
func NewService(sensors []*sensor.Sensor, db ledger.Ledger, files storage.Provider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		sensors: make(map[string]*sensor.Sensor, len(sensors)),
		db:      db,
		files:   files,
		logger:  logger,
	}
	for _, sn := range sensors {
		s.sensors[sn.Name()] = sn
		s.names = append(s.names, sn.Name())
	}
	sort.Strings(s.names)
	return s
}

// Names returns the sensor ids in sorted order.
func (s *Service) Names() []string {
	return append([]string(nil), s.names...)
}

// Sensor returns the sensor called name or apperr.ErrNotFound.
func (s *Service) Sensor(name string) (*sensor.Sensor, error) {
	sn, ok := s.sensors[name]
	if !ok {
		return nil, fmt.Errorf("sensor %q: %w", name, apperr.ErrNotFound)
	}
	return sn, nil
}

// ListSensors returns the status of every sensor.
func (s *Service) ListSensors(_ context.Context) []sensor.Status {
	out := make([]sensor.Status, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.sensors[name].Status())
	}
	return out
}

// GetSensor returns one sensor's status and about document.
func (s *Service) GetSensor(_ context.Context, name string) (*SensorDetail, error) {
	sn, err := s.Sensor(name)
	if err != nil {
		return nil, err
	}
	d := &SensorDetail{Status: sn.Status(), Tags: []string{}}
	if s.files == nil {
		return d, nil
	}
	about, err := parser.Load(s.files, name)
	switch {
	case err == nil:
		d.Title = about.Title
		d.Description = about.Description(500)
		if about.Tags != nil {
			d.Tags = about.Tags
		}
	case !errors.Is(err, apperr.ErrNotFound):
		s.logger.Warn("about document unreadable", slog.String("sensor", name), slog.String("error", err.Error()))
	}
	return d, nil
}

// Records returns fresh or buffered content.
func (s *Service) Records(ctx context.Context, name string) ([]models.Record, error) {
	sn, err := s.Sensor(name)
	if err != nil {
		return nil, err
	}
	return sn.GetAll(ctx), nil
}

// HasUpdates counts records after k.
func (s *Service) HasUpdates(ctx context.Context, name string, k models.Key) (int, error) {
	sn, err := s.Sensor(name)
	if err != nil {
		return 0, err
	}
	return sn.HasUpdates(ctx, k), nil
}

// Content returns records after k.
func (s *Service) Content(ctx context.Context, name string, k models.Key) ([]models.Record, error) {
	sn, err := s.Sensor(name)
	if err != nil {
		return nil, err
	}
	return sn.GetContent(ctx, k), nil
}

// Fetch asks the sensor for a remote fetch. Inside request_delta it returns
// a *sensor.RateLimitError and the upstream is not called.
func (s *Service) Fetch(ctx context.Context, name string) ([]models.Record, error) {
	sn, err := s.Sensor(name)
	if err != nil {
		return nil, err
	}
	return sn.Fetch(ctx)
}

// Reload re-reads the sensor's settings file.
func (s *Service) Reload(name string) error {
	sn, err := s.Sensor(name)
	if err != nil {
		return err
	}
	return sn.Reload()
}

// History pages through the ledger. An empty name covers every sensor.
func (s *Service) History(_ context.Context, name string, limit, offset int) ([]HistoryItem, int, error) {
	if s.db == nil {
		return []HistoryItem{}, 0, nil
	}
	if name != "" {
		if _, err := s.Sensor(name); err != nil {
			return nil, 0, err
		}
	}
	rows, total, err := s.db.ListRecords(name, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items := make([]HistoryItem, len(rows))
	for i, r := range rows {
		items[i] = HistoryItem{Sensor: r.Sensor, Record: r.Record, SeenAt: r.SeenAt.UTC().Format("2006-01-02T15:04:05Z07:00")}
	}
	return items, total, nil
}

// Search runs a full-text query over the ledger.
func (s *Service) Search(_ context.Context, query string, limit int) ([]ledger.SearchResult, error) {
	if s.db == nil {
		return []ledger.SearchResult{}, nil
	}
	results, err := s.db.Search(query, limit)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []ledger.SearchResult{}
	}
	return results, nil
}

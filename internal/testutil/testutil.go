// Package testutil provides shared test helpers for data directories,
// ledgers, and stub sensors.
package testutil

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/starford/sensorhub/internal/apperr"
	"github.com/starford/sensorhub/internal/buffer"
	"github.com/starford/sensorhub/internal/ledger"
	"github.com/starford/sensorhub/internal/models"
	"github.com/starford/sensorhub/internal/sensor"
	"github.com/starford/sensorhub/internal/settings"
	"github.com/starford/sensorhub/internal/storage"
)

// TestDB creates a temporary ledger database that is automatically cleaned up.
func TestDB(t *testing.T) *ledger.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "sensorhub-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := ledger.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestDataDir creates a temporary data directory with a storage.Provider.
func TestDataDir(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// QuietLogger only reports errors.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Upstream serves records as a JSON array on every request.
func Upstream(t *testing.T, records ...models.Record) *httptest.Server {
	t.Helper()
	body, err := json.Marshal(records)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// StubProvider decodes a JSON array of records. It stands in for the real
// providers where the payload shape does not matter.
type StubProvider struct {
	ID string
}

func (p StubProvider) Name() string { return p.ID }

func (p StubProvider) NewRequest(ctx context.Context, cfg models.Settings, _ time.Time) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, cfg.String(models.KeyServiceURL), nil)
}

func (p StubProvider) Decode(body []byte, _ models.Settings, _ time.Time) ([]models.Record, error) {
	var out []models.Record
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, apperr.ErrNoContent
	}
	return out, nil
}

func (p StubProvider) FeaturedImage(cfg models.Settings) string {
	return cfg.String(models.KeyFeaturedImage)
}

// StubSensor builds a sensor named name over files that fetches records from
// a fresh Upstream.
func StubSensor(t *testing.T, files storage.Provider, name string, records ...models.Record) *sensor.Sensor {
	t.Helper()
	srv := Upstream(t, records...)
	defaults := models.Settings{
		models.KeyServiceURL:   srv.URL,
		models.KeyRequestDelta: 600,
	}
	s, err := sensor.New(StubProvider{ID: name}, settings.NewStore(files), buffer.NewStore(files, QuietLogger()), defaults,
		sensor.WithClient(srv.Client()),
		sensor.WithLogger(QuietLogger()),
	)
	if err != nil {
		t.Fatalf("sensor.New: %v", err)
	}
	return s
}

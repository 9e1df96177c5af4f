// Package sensor implements the rate-limited fetch/cache/diff contract shared
// by every data source. A Sensor owns one settings file and one buffer; the
// source-specific parts (request shape and payload mapping) come from a
// Provider.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/starford/sensorhub/internal/apperr"
	"github.com/starford/sensorhub/internal/models"
)

const maxBodyBytes = 10 << 20 // 10 MB

// Provider adapts one third-party API to the Record shape.
type Provider interface {
	// Name is the sensor id; it names the settings and buffer files.
	Name() string
	// NewRequest builds the outbound GET for the current settings.
	NewRequest(ctx context.Context, cfg models.Settings, now time.Time) (*http.Request, error)
	// Decode maps a 200 response body into records, oldest first. It returns
	// apperr.ErrNoContent when the provider answered but had nothing to report.
	Decode(body []byte, cfg models.Settings, now time.Time) ([]models.Record, error)
	// FeaturedImage is the sensor's default illustrative image, or "".
	FeaturedImage(cfg models.Settings) string
}

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SettingsStore is the persistence the sensor needs for its configuration.
type SettingsStore interface {
	Load(id string) (models.Settings, error)
	LoadOrDefault(id string, defaults models.Settings) (models.Settings, error)
	Save(id string, cfg models.Settings) error
}

// BufferStore is the persistence the sensor needs for its last fetch.
type BufferStore interface {
	Load(id string) []models.Record
	Save(id string, records []models.Record) error
}

// Sensor guards a Provider with the last_used/request_delta admission check
// and keeps the last successful result in a buffer.
//
// All operations that may reach the network run under one mutex, so the
// admission check and the last_used update are atomic even when several
// goroutines poll the same sensor.
type Sensor struct {
	provider Provider
	settings SettingsStore
	buffer   BufferStore
	client   Doer
	now      func() time.Time
	logger   *slog.Logger

	mu  sync.Mutex
	cfg models.Settings
}

// Option configures a Sensor.
type Option func(*Sensor)

// WithClient sets the HTTP client used for remote fetches.
func WithClient(c Doer) Option {
	return func(s *Sensor) {
		s.client = c
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sensor) {
		s.now = now
	}
}

// WithLogger sets the logger; the sensor name is attached to every entry.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sensor) {
		s.logger = l
	}
}

// New loads the provider's settings (falling back to defaults when none are
// persisted or the file is corrupt) and returns a ready sensor.
func New(p Provider, settings SettingsStore, buffer BufferStore, defaults models.Settings, opts ...Option) (*Sensor, error) {
	if p == nil {
		return nil, errors.New("sensor: provider is required")
	}
	if settings == nil || buffer == nil {
		return nil, errors.New("sensor: settings and buffer stores are required")
	}
	s := &Sensor{
		provider: p,
		settings: settings,
		buffer:   buffer,
		client:   http.DefaultClient,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("sensor", p.Name()))

	cfg, err := settings.LoadOrDefault(p.Name(), defaults)
	if err != nil {
		s.logger.Warn("settings unreadable, using defaults", slog.String("error", err.Error()))
		cfg = defaults.Clone()
	}
	s.cfg = cfg
	s.logger.Info("sensor initialized", slog.String("service_url", cfg.String(models.KeyServiceURL)))
	return s, nil
}

// Name returns the sensor id.
func (s *Sensor) Name() string {
	return s.provider.Name()
}

// Settings returns a copy of the current configuration.
func (s *Sensor) Settings() models.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clone()
}

// IsFetchAllowed reports whether request_delta has elapsed since last_used.
func (s *Sensor) IsFetchAllowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowedLocked(s.now())
}

func (s *Sensor) allowedLocked(now time.Time) bool {
	last := s.cfg.LastUsed()
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= s.cfg.RequestDelta()
}

// RateLimitError is returned by Fetch when request_delta has not elapsed.
type RateLimitError struct {
	Sensor      string
	NextAllowed time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("sensor %s: %v until %s", e.Sensor, apperr.ErrRateLimited, e.NextAllowed.UTC().Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error { return apperr.ErrRateLimited }

// Fetch calls the provider when the admission check passes and returns a
// *RateLimitError without touching the network otherwise.
//
// On success last_used advances, settings are saved, and the buffer is
// replaced. Upstream and payload failures (apperr.ErrUpstream,
// apperr.ErrMalformed) leave everything untouched. Save failures are
// reported as apperr.ErrPersist alongside the fetched records.
func (s *Sensor) Fetch(ctx context.Context) ([]models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.allowedLocked(s.now()) {
		return nil, &RateLimitError{
			Sensor:      s.provider.Name(),
			NextAllowed: s.cfg.LastUsed().Add(s.cfg.RequestDelta()),
		}
	}
	return s.fetchLocked(ctx)
}

func (s *Sensor) fetchLocked(ctx context.Context) ([]models.Record, error) {
	now := s.now()
	name := s.provider.Name()

	body, err := s.requestLocked(ctx, now)
	if err != nil {
		s.logger.Warn("fetch failed", slog.String("error", err.Error()))
		return nil, err
	}

	records, err := s.provider.Decode(body, s.cfg.Clone(), now)
	switch {
	case errors.Is(err, apperr.ErrNoContent):
		s.logger.Info("provider returned no content")
		if perr := s.markUsedLocked(now); perr != nil {
			return nil, errors.Join(fmt.Errorf("sensor %s: %w", name, apperr.ErrNoContent), perr)
		}
		return nil, fmt.Errorf("sensor %s: %w", name, apperr.ErrNoContent)
	case err != nil:
		err = fmt.Errorf("sensor %s: decode: %w: %v", name, apperr.ErrMalformed, err)
		s.logger.Warn("fetch failed", slog.String("error", err.Error()))
		return nil, err
	}
	if records == nil {
		records = []models.Record{}
	}

	var errs []error
	if perr := s.markUsedLocked(now); perr != nil {
		errs = append(errs, perr)
	}
	if berr := s.buffer.Save(name, records); berr != nil {
		berr = fmt.Errorf("sensor %s: %w: %v", name, apperr.ErrPersist, berr)
		s.logger.Error("buffer save failed", slog.String("error", berr.Error()))
		errs = append(errs, berr)
	}
	s.logger.Info("fetched new content", slog.Int("records", len(records)))
	return records, errors.Join(errs...)
}

func (s *Sensor) requestLocked(ctx context.Context, now time.Time) ([]byte, error) {
	name := s.provider.Name()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout())
	defer cancel()

	req, err := s.provider.NewRequest(ctx, s.cfg.Clone(), now)
	if err != nil {
		return nil, fmt.Errorf("sensor %s: build request: %w", name, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sensor %s: %w: %v", name, apperr.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sensor %s: %w: HTTP %d", name, apperr.ErrUpstream, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("sensor %s: %w: read body: %v", name, apperr.ErrUpstream, err)
	}
	return body, nil
}

// markUsedLocked advances last_used in memory first so the rate limit holds
// for this process even if the save fails.
func (s *Sensor) markUsedLocked(now time.Time) error {
	s.cfg.SetLastUsed(now)
	if err := s.settings.Save(s.provider.Name(), s.cfg); err != nil {
		err = fmt.Errorf("sensor %s: %w: %v", s.provider.Name(), apperr.ErrPersist, err)
		s.logger.Error("settings save failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// GetAll returns freshly fetched records when a fetch is allowed and
// succeeds, and the buffered records otherwise. It never fails.
func (s *Sensor) GetAll(ctx context.Context) []models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.allowedLocked(s.now()) {
		records, err := s.fetchLocked(ctx)
		if records != nil && (err == nil || errors.Is(err, apperr.ErrPersist)) {
			return records
		}
	}
	return s.buffer.Load(s.provider.Name())
}

// HasUpdates counts the records after the one keyed k. When k is not in the
// current set the whole set counts as new.
func (s *Sensor) HasUpdates(ctx context.Context, k models.Key) int {
	content := s.GetAll(ctx)
	i := models.IndexOf(content, k)
	if i < 0 {
		return len(content)
	}
	return len(content) - (i + 1)
}

// GetContent returns the records after the one keyed k, or every record
// when k is not in the current set.
func (s *Sensor) GetContent(ctx context.Context, k models.Key) []models.Record {
	content := s.GetAll(ctx)
	i := models.IndexOf(content, k)
	if i < 0 {
		return content
	}
	out := make([]models.Record, len(content)-(i+1))
	copy(out, content[i+1:])
	return out
}

// GetFeaturedImage returns the provider's default image for this sensor.
func (s *Sensor) GetFeaturedImage() string {
	return s.provider.FeaturedImage(s.Settings())
}

// Reload re-reads the settings file, typically after an external edit.
// The current configuration is kept when the file is missing or corrupt.
func (s *Sensor) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.settings.Load(s.provider.Name())
	if err != nil {
		s.logger.Warn("settings reload failed", slog.String("error", err.Error()))
		return err
	}
	s.cfg = cfg
	s.logger.Info("settings reloaded")
	return nil
}

// Status is a point-in-time view of a sensor's rate-limit state.
type Status struct {
	Name          string        `json:"name"`
	LastUsed      time.Time     `json:"last_used"`
	RequestDelta  time.Duration `json:"request_delta"`
	NextAllowed   time.Time     `json:"next_allowed"`
	FetchAllowed  bool          `json:"fetch_allowed"`
	BufferedCount int           `json:"buffered_count"`
	FeaturedImage string        `json:"featured_image,omitempty"`
}

// Status reports the sensor's rate-limit state without touching the network.
func (s *Sensor) Status() Status {
	s.mu.Lock()
	now := s.now()
	last := s.cfg.LastUsed()
	delta := s.cfg.RequestDelta()
	allowed := s.allowedLocked(now)
	cfg := s.cfg.Clone()
	s.mu.Unlock()

	next := now
	if !last.IsZero() && !allowed {
		next = last.Add(delta)
	}
	return Status{
		Name:          s.provider.Name(),
		LastUsed:      last,
		RequestDelta:  delta,
		NextAllowed:   next,
		FetchAllowed:  allowed,
		BufferedCount: len(s.buffer.Load(s.provider.Name())),
		FeaturedImage: s.provider.FeaturedImage(cfg),
	}
}

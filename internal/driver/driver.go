// Package driver polls every sensor on a fixed interval and moves new
// records downstream: into the ledger, to the publisher, and out as events.
package driver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/starford/sensorhub/internal/apperr"
	"github.com/starford/sensorhub/internal/ledger"
	"github.com/starford/sensorhub/internal/models"
	"github.com/starford/sensorhub/internal/publisher"
)

// Sensor is the part of *sensor.Sensor the driver uses.
type Sensor interface {
	publisher.Source
	HasUpdates(ctx context.Context, k models.Key) int
	GetContent(ctx context.Context, k models.Key) []models.Record
}

// Store is where records and cursors are kept.
type Store interface {
	UpsertRecord(sensor string, rec models.Record, seenAt time.Time) (bool, error)
	MarkAnnounced(sensor string, k models.Key, at time.Time) (bool, error)
	Cursor(sensor string) (models.Key, bool, error)
	SetCursor(sensor string, k models.Key) error
}

// Publisher receives every new record when publishing is enabled.
type Publisher interface {
	Publish(ctx context.Context, src publisher.Source, rec models.Record) (*ledger.Publication, error)
}

// Events is notified once per record the driver hands downstream.
type Events interface {
	RecordCreated(sensor string, rec models.Record)
}

// Result summarizes one poll of one sensor.
type Result struct {
	Sensor    string     `json:"sensor"`
	Updates   int        `json:"updates"`
	Created   int        `json:"created"`
	Published int        `json:"published"`
	Cursor    models.Key `json:"cursor"`
}

// Driver runs the poll loop.
type Driver struct {
	sensors   []Sensor
	store     Store
	publisher Publisher
	events    Events
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithPublisher enables publishing of new records.
func WithPublisher(p Publisher) Option {
	return func(d *Driver) {
		d.publisher = p
	}
}

// WithEvents sets the record event sink.
func WithEvents(e Events) Option {
	return func(d *Driver) {
		d.events = e
	}
}

// WithInterval sets the poll interval.
func WithInterval(iv time.Duration) Option {
	return func(d *Driver) {
		d.interval = iv
	}
}

// WithLogger sets the driver logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = l
	}
}

// WithClock overrides the clock used for ledger timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		d.now = now
	}
}

// New creates a driver over sensors.
func New(sensors []Sensor, store Store, opts ...Option) *Driver {
	d := &Driver{
		sensors:  sensors,
		store:    store,
		interval: time.Minute,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.interval <= 0 {
		d.interval = time.Minute
	}
	return d
}

// Run polls immediately and then on every tick until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	d.logger.Info("driver: started",
		slog.Int("sensors", len(d.sensors)),
		slog.Duration("interval", d.interval))

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		d.Tick(ctx)
		select {
		case <-ctx.Done():
			d.logger.Info("driver: stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick polls every sensor once.
func (d *Driver) Tick(ctx context.Context) []Result {
	results := make([]Result, 0, len(d.sensors))
	for _, s := range d.sensors {
		if ctx.Err() != nil {
			break
		}
		res, err := d.Poll(ctx, s)
		if err != nil {
			d.logger.Warn("driver: poll failed",
				slog.String("sensor", s.Name()),
				slog.String("error", err.Error()))
		}
		results = append(results, res)
	}
	return results
}

// Poll asks one sensor for content after its cursor, records it, publishes
// it, and advances the cursor past every record it fully handled. A
// publish failure stops the cursor so the record is retried next time.
func (d *Driver) Poll(ctx context.Context, s Sensor) (Result, error) {
	name := s.Name()
	res := Result{Sensor: name}

	cursor, _, err := d.store.Cursor(name)
	if err != nil {
		return res, err
	}
	res.Cursor = cursor

	res.Updates = s.HasUpdates(ctx, cursor)
	if res.Updates == 0 {
		return res, nil
	}

	seenAt := d.now()
	for _, rec := range s.GetContent(ctx, cursor) {
		if rec.K == "" {
			continue
		}
		// The record may already be in the ledger from a buffer sync, so the
		// announcement is tracked separately from the insert.
		if _, err := d.store.UpsertRecord(name, rec, seenAt); err != nil {
			return res, err
		}
		announced, err := d.store.MarkAnnounced(name, rec.K, seenAt)
		if err != nil {
			return res, err
		}
		if announced {
			res.Created++
			if d.events != nil {
				d.events.RecordCreated(name, rec)
			}
		}

		if d.publisher != nil {
			_, err := d.publisher.Publish(ctx, s, rec)
			switch {
			case err == nil:
				res.Published++
			case errors.Is(err, apperr.ErrAlreadyExists), errors.Is(err, apperr.ErrIncomplete):
			default:
				return res, err
			}
		}

		if err := d.store.SetCursor(name, rec.K); err != nil {
			return res, err
		}
		res.Cursor = rec.K
	}

	d.logger.Info("driver: polled",
		slog.String("sensor", name),
		slog.Int("updates", res.Updates),
		slog.Int("created", res.Created),
		slog.Int("published", res.Published))
	return res, nil
}

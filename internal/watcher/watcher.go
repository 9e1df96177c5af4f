// Package watcher reacts to edits made to the data directory by anything
// other than this process.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/starford/sensorhub/internal/buffer"
	"github.com/starford/sensorhub/internal/settings"
	"github.com/starford/sensorhub/internal/storage"
)

const defaultDebounce = 200 * time.Millisecond

// Reloader re-reads a sensor's settings file.
type Reloader interface {
	Reload() error
}

// OwnWrites recognises settings files this process saved itself.
type OwnWrites interface {
	IsOwnWrite(id string, data []byte) bool
}

// Events receives notifications after a successful reload.
type Events interface {
	SensorReloaded(sensor string)
}

// Watcher watches the data directory with fsnotify.
//   - an external write to <Sensor>.json reloads that sensor
//   - any change to a .buf file triggers the reindex callback
//
// Bursts of events are coalesced by a single debounce timer.
type Watcher struct {
	root     string
	files    storage.Provider
	sensors  map[string]Reloader
	own      OwnWrites
	events   Events
	reindex  func() error
	debounce time.Duration
	logger   *slog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithEvents sets the reload notification sink.
func WithEvents(e Events) Option {
	return func(w *Watcher) {
		w.events = e
	}
}

// WithReindex sets the callback run after buffer files change.
func WithReindex(fn func() error) Option {
	return func(w *Watcher) {
		w.reindex = fn
	}
}

// WithDebounce sets how long the watcher waits for a burst to settle.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// New creates a watcher over root. sensors maps sensor ids to the objects
// that reload them.
func New(root string, files storage.Provider, sensors map[string]Reloader, own OwnWrites, opts ...Option) *Watcher {
	w := &Watcher{
		root:     root,
		files:    files,
		sensors:  sensors,
		own:      own,
		debounce: defaultDebounce,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.root); err != nil {
		return err
	}
	w.logger.Info("watcher: started", slog.String("root", w.root))

	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			fire = timer.C
		} else {
			timer.Reset(w.debounce)
		}
	}

	pending := make(map[string]struct{})
	reindex := false

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("watcher: stopped")
			return nil

		case <-fire:
			for name := range pending {
				w.reload(name)
			}
			clear(pending)
			if reindex && w.reindex != nil {
				if err := w.reindex(); err != nil {
					w.logger.Warn("watcher: reindex failed", slog.String("error", err.Error()))
				}
			}
			reindex = false

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			base := filepath.Base(ev.Name)
			switch filepath.Ext(base) {
			case settings.Ext:
				if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				name := strings.TrimSuffix(base, settings.Ext)
				if _, ok := w.sensors[name]; !ok {
					continue
				}
				pending[name] = struct{}{}
				schedule()
			case buffer.Ext:
				reindex = true
				schedule()
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// reload re-reads name's settings unless the file holds our own last save.
func (w *Watcher) reload(name string) {
	data, err := w.files.Read(settings.FileName(name))
	if err != nil {
		w.logger.Warn("watcher: read failed", slog.String("sensor", name), slog.String("error", err.Error()))
		return
	}
	if w.own != nil && w.own.IsOwnWrite(name, data) {
		w.logger.Debug("watcher: own write ignored", slog.String("sensor", name))
		return
	}
	if err := w.sensors[name].Reload(); err != nil {
		w.logger.Warn("watcher: reload failed", slog.String("sensor", name), slog.String("error", err.Error()))
		return
	}
	w.logger.Info("watcher: settings reloaded", slog.String("sensor", name))
	if w.events != nil {
		w.events.SensorReloaded(name)
	}
}

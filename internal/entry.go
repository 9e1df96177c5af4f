// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/sensorhub/internal/api"
	"github.com/starford/sensorhub/internal/buffer"
	"github.com/starford/sensorhub/internal/driver"
	"github.com/starford/sensorhub/internal/ledger"
	"github.com/starford/sensorhub/internal/provider"
	"github.com/starford/sensorhub/internal/publisher"
	"github.com/starford/sensorhub/internal/sensor"
	"github.com/starford/sensorhub/internal/sensorservice"
	"github.com/starford/sensorhub/internal/settings"
	"github.com/starford/sensorhub/internal/sse"
	"github.com/starford/sensorhub/internal/storage"
	"github.com/starford/sensorhub/internal/watcher"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{out: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger installs a structured JSON logger as the default.
func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// runtime holds the components every command shares.
type runtime struct {
	files    *storage.FS
	settings *settings.Store
	db       *ledger.DB
	sensors  []*sensor.Sensor
	svc      *sensorservice.Service
	client   *publisher.Client
	pub      *publisher.Publisher
}

// build opens the data directory and ledger and constructs every configured
// sensor. When connect is true and publishing is enabled the Ghost client is
// connected as well.
func build(ctx context.Context, cfg *Config, logger *slog.Logger, connect bool) (*runtime, error) {
	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	files, err := storage.NewFS(cfg.Data.Dir)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := ledger.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}

	rt := &runtime{files: files, settings: settings.NewStore(files), db: db}
	buffers := buffer.NewStore(files, logger)
	httpClient := &http.Client{}

	for _, sc := range cfg.Sensors {
		p, err := provider.New(sc.Kind, sc.Name)
		if err != nil {
			rt.close()
			return nil, err
		}
		s, err := sensor.New(p, rt.settings, buffers, sc.Settings,
			sensor.WithClient(httpClient),
			sensor.WithLogger(logger),
		)
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.sensors = append(rt.sensors, s)
	}
	rt.svc = sensorservice.NewService(rt.sensors, db, files, logger)

	if connect && cfg.Publisher.Enabled {
		client, err := publisher.NewClient(publisher.Config{
			URL:      cfg.Publisher.URL,
			AdminKey: cfg.Publisher.AdminKey,
			Timeout:  cfg.Publisher.Timeout,
		}, publisher.WithClientLogger(logger))
		if err != nil {
			rt.close()
			return nil, err
		}
		if err := client.Connect(ctx); err != nil {
			rt.close()
			return nil, err
		}
		rt.client = client
		rt.pub = publisher.New(client, db, files, logger)
	}
	return rt, nil
}

func (rt *runtime) close() {
	if rt.client != nil {
		_ = rt.client.Close()
	}
	if rt.db != nil {
		_ = rt.db.Close()
	}
}

// Run starts the HTTP server, driver loop, and file watcher.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := newLogger(cfg, os.Stdout)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("data_dir", cfg.Data.Dir),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Int("sensors", len(cfg.Sensors)),
		slog.Bool("publisher", cfg.Publisher.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	rt, err := build(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer rt.close()

	reindex := func() error { return ledger.Sync(rt.db, rt.files, logger) }
	if err := reindex(); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	broker := sse.NewBroker(cfg.Driver.UpdateThrottle)
	defer broker.Close()

	apiRouter := api.NewRouter(rt.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker, api.NewImageHandler(rt.files))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if cfg.Publisher.Enabled && (rt.client == nil || !rt.client.Connected()) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"publisher disconnected"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)
	r.Get("/images/{filename}", api.NewImageHandler(rt.files).ServeFile)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	reloaders := make(map[string]watcher.Reloader, len(rt.sensors))
	for _, s := range rt.sensors {
		reloaders[s.Name()] = s
	}
	fw := watcher.New(rt.files.Root(), rt.files, reloaders, rt.settings,
		watcher.WithEvents(broker),
		watcher.WithReindex(reindex),
		watcher.WithLogger(logger),
	)

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return fw.Run(gCtx)
	})

	if cfg.Driver.Enabled {
		dopts := []driver.Option{
			driver.WithEvents(broker),
			driver.WithInterval(cfg.Driver.Interval),
			driver.WithLogger(logger),
		}
		if rt.pub != nil {
			dopts = append(dopts, driver.WithPublisher(rt.pub))
		}
		srcs := make([]driver.Sensor, len(rt.sensors))
		for i, s := range rt.sensors {
			srcs[i] = s
		}
		d := driver.New(srcs, rt.db, dopts...)
		g.Go(func() error {
			return d.Run(gCtx)
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the driver and watcher stop with the
// HTTP server.
var errShutdown = errors.New("shutdown")

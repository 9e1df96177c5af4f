package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/starford/sensorhub/internal/apperr"
	"github.com/starford/sensorhub/internal/mcpserver"
	"github.com/starford/sensorhub/internal/sensor"
)

// Fetch fetches one sensor from its upstream and prints the records as JSON.
// It fails without a remote call while the sensor's request_delta is running.
func Fetch(ctx context.Context, name string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(app.config, os.Stderr)
	rt, err := build(ctx, app.config, logger, false)
	if err != nil {
		return err
	}
	defer rt.close()

	recs, err := rt.svc.Fetch(ctx, name)
	var rl *sensor.RateLimitError
	switch {
	case errors.As(err, &rl):
		return fmt.Errorf("%s was fetched recently; next fetch allowed %s", name, humanize.Time(rl.NextAllowed))
	case errors.Is(err, apperr.ErrNoContent):
		logger.Info("no content", slog.String("sensor", name))
	case err != nil && !errors.Is(err, apperr.ErrPersist):
		return err
	case err != nil:
		logger.Error("fetch persisted partially", slog.String("sensor", name), slog.String("error", err.Error()))
	}

	enc := json.NewEncoder(app.out)
	enc.SetIndent("", "  ")
	return enc.Encode(recs)
}

// Status prints each sensor's rate-limit state without touching the network.
func Status(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(app.config, os.Stderr)
	rt, err := build(ctx, app.config, logger, false)
	if err != nil {
		return err
	}
	defer rt.close()

	now := time.Now()
	tw := tabwriter.NewWriter(app.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SENSOR\tLAST FETCH\tNEXT FETCH\tBUFFERED\tSEEN")
	for _, st := range rt.svc.ListSensors(ctx) {
		last := "never"
		if !st.LastUsed.IsZero() {
			last = humanize.RelTime(st.LastUsed, now, "ago", "from now")
		}
		next := "now"
		if !st.FetchAllowed {
			next = humanize.RelTime(st.NextAllowed, now, "ago", "from now")
		}
		_, seen, err := rt.db.ListRecords(st.Name, 1, 0)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", st.Name, last, next,
			humanize.Comma(int64(st.BufferedCount)), humanize.Comma(int64(seen)))
	}
	return tw.Flush()
}

// ServeMCP serves the MCP tools on stdin/stdout. Logs go to stderr.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(app.config, os.Stderr)
	rt, err := build(ctx, app.config, logger, false)
	if err != nil {
		return err
	}
	defer rt.close()

	logger.Info("MCP server starting", slog.Int("sensors", len(rt.sensors)))
	return mcpserver.New(rt.svc, rt.files).ServeStdio()
}

// Purge deletes every post and the tag of one sensor from Ghost along with
// its publication rows. forget also drops the sensor's ledger history.
func Purge(ctx context.Context, name string, forget bool, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	if !app.config.Publisher.Enabled {
		return fmt.Errorf("purge: publisher is not enabled")
	}
	logger := newLogger(app.config, os.Stderr)
	rt, err := build(ctx, app.config, logger, true)
	if err != nil {
		return err
	}
	defer rt.close()

	if _, err := rt.svc.Sensor(name); err != nil {
		return err
	}
	if err := rt.pub.Purge(ctx, name); err != nil {
		return err
	}
	if forget {
		if err := rt.db.DeleteSensor(name); err != nil {
			return err
		}
	}
	fmt.Fprintf(app.out, "purged %s\n", name)
	return nil
}

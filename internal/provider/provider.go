// Package provider holds the concrete data sources behind each sensor:
// USGS earthquakes, OpenWeatherMap forecast and UV index, N2YO satellites,
// Google Places restaurants, and generic RSS/Atom feeds.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/starford/sensorhub/internal/models"
	"github.com/starford/sensorhub/internal/sensor"
)

// Provider kinds accepted in the sensors section of the config.
const (
	KindEarthquake  = "earthquake"
	KindOpenWeather = "openweather"
	KindUVIndex     = "uvindex"
	KindSatellite   = "satellite"
	KindPlaces      = "places"
	KindFeed        = "feed"
)

const userAgent = "sensorhub/1.0"

// Kinds lists every supported provider kind.
func Kinds() []string {
	return []string{KindEarthquake, KindOpenWeather, KindUVIndex, KindSatellite, KindPlaces, KindFeed}
}

// New returns the provider for kind. An empty name selects the kind's
// default sensor name.
func New(kind, name string) (sensor.Provider, error) {
	switch strings.ToLower(kind) {
	case KindEarthquake:
		return NewEarthquake(name), nil
	case KindOpenWeather:
		return NewOpenWeather(name), nil
	case KindUVIndex:
		return NewUVIndex(name), nil
	case KindSatellite:
		return NewSatellite(name), nil
	case KindPlaces:
		return NewPlaces(name), nil
	case KindFeed:
		if name == "" {
			return nil, fmt.Errorf("provider: feed sensors need a name")
		}
		return NewFeed(name), nil
	default:
		return nil, fmt.Errorf("provider: unknown kind %q", kind)
	}
}

// named is embedded by every provider to carry the sensor id.
type named struct {
	name string
}

func (n named) Name() string {
	return n.name
}

func nameOr(name, fallback string) named {
	if name == "" {
		name = fallback
	}
	return named{name: name}
}

// expand substitutes printf-style verbs (%s, %d, %f) in tmpl with args in
// order. Service URLs in settings files are written this way, e.g.
// "https://api.openweathermap.org/data/2.5/forecast?cnt=%d&q=%s,%s".
// "%%" yields a literal percent sign; unknown verbs are left untouched.
func expand(tmpl string, args ...string) string {
	var b strings.Builder
	next := 0
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c != '%' || i+1 >= len(tmpl) {
			b.WriteByte(c)
			continue
		}
		switch verb := tmpl[i+1]; verb {
		case '%':
			b.WriteByte('%')
			i++
		case 's', 'd', 'f':
			if next < len(args) {
				b.WriteString(args[next])
				next++
			}
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// settingOr returns the setting at key or fallback when it is empty.
func settingOr(cfg models.Settings, key, fallback string) string {
	if v := cfg.String(key); v != "" {
		return v
	}
	return fallback
}

// sortByTime orders records oldest first using the parallel times slice.
func sortByTime(records []models.Record, times []int64) {
	idx := make([]int, len(records))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return times[idx[a]] < times[idx[b]] })
	sorted := make([]models.Record, len(records))
	for i, j := range idx {
		sorted[i] = records[j]
	}
	copy(records, sorted)
}

// newGet builds a GET request carrying the sensorhub User-Agent.
func newGet(ctx context.Context, target string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

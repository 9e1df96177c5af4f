package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/starford/sensorhub/internal/models"
)

// usgsQueryKeys are copied from settings into the USGS FDSN event query.
var usgsQueryKeys = []string{
	"starttime",
	"minlongitude", "maxlongitude",
	"minlatitude", "maxlatitude",
	"minmagnitude", "maxmagnitude",
	"eventtype",
}

// Earthquake reports events from the USGS earthquake catalog (GeoJSON).
type Earthquake struct {
	named
}

// NewEarthquake creates the USGS provider.
func NewEarthquake(name string) *Earthquake {
	return &Earthquake{named: nameOr(name, "EarthQuakeSensor")}
}

type usgsCollection struct {
	Type     string        `json:"type"`
	Features []usgsFeature `json:"features"`
}

type usgsFeature struct {
	ID         string `json:"id"`
	Properties struct {
		Time  int64    `json:"time"`
		Title string   `json:"title"`
		Place string   `json:"place"`
		Mag   *float64 `json:"mag"`
		URL   string   `json:"url"`
	} `json:"properties"`
	Geometry struct {
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
}

func (e *Earthquake) NewRequest(ctx context.Context, cfg models.Settings, now time.Time) (*http.Request, error) {
	u, err := url.Parse(cfg.String(models.KeyServiceURL))
	if err != nil {
		return nil, fmt.Errorf("earthquake: service_url: %w", err)
	}
	q := u.Query()
	if q.Get("format") == "" {
		q.Set("format", "geojson")
	}
	for _, key := range usgsQueryKeys {
		if v := cfg.String(key); v != "" {
			q.Set(key, v)
		}
	}
	q.Set("endtime", now.UTC().Format("2006-01-02T15:04:05"))
	u.RawQuery = q.Encode()

	return newGet(ctx, u.String())
}

func (e *Earthquake) Decode(body []byte, cfg models.Settings, _ time.Time) ([]models.Record, error) {
	var fc usgsCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, fmt.Errorf("earthquake: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("earthquake: unexpected GeoJSON type %q", fc.Type)
	}

	records := make([]models.Record, 0, len(fc.Features))
	times := make([]int64, 0, len(fc.Features))
	for _, f := range fc.Features {
		p := f.Properties
		mag := "unknown"
		if p.Mag != nil {
			mag = strconv.FormatFloat(*p.Mag, 'f', -1, 64)
		}
		rec := models.Record{
			K:       models.Key(f.ID),
			Date:    time.UnixMilli(p.Time).UTC().Format(time.RFC3339),
			Caption: p.Title,
			Summary: fmt.Sprintf("----EarthQuake details----\nLocation: %s\nMagnitude: %s", quakeLocation(p.Place), mag),
			Origin:  p.URL,
		}
		if c := f.Geometry.Coordinates; len(c) >= 2 {
			rec.Img = mapImageURL(cfg, c[0], c[1])
		}
		records = append(records, rec)
		times = append(times, p.Time)
	}
	// USGS lists newest first.
	sortByTime(records, times)
	return records, nil
}

func (e *Earthquake) FeaturedImage(cfg models.Settings) string {
	return cfg.String(models.KeyFeaturedImage)
}

// quakeLocation keeps the part of a USGS place after "of", so
// "10km NW of Julian, CA" becomes "Julian, CA".
func quakeLocation(place string) string {
	if _, after, ok := strings.Cut(place, " of "); ok {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(place)
}

// mapImageURL builds a static map image centered on the epicenter, or ""
// when no map service is configured.
func mapImageURL(cfg models.Settings, lon, lat float64) string {
	base := cfg.String("map_service_url")
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	if v := cfg.String("map_app_id"); v != "" {
		q.Set("app_id", v)
	}
	if v := cfg.String("map_app_code"); v != "" {
		q.Set("app_code", v)
	}
	if v := cfg.String("map_terrain_type"); v != "" {
		q.Set("t", v)
	}
	// The map API reads c as latitude first.
	q.Set("c", strconv.FormatFloat(lat, 'f', -1, 64)+","+strconv.FormatFloat(lon, 'f', -1, 64))
	u.RawQuery = q.Encode()
	return u.String()
}

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/starford/sensorhub/internal/apperr"
	"github.com/starford/sensorhub/internal/models"
	"github.com/starford/sensorhub/internal/storage"
)

// forecastSlots is the cnt parameter sent to the 5 day / 3 hour forecast.
const forecastSlots = 50

// OpenWeather reports the warmest upcoming forecast slot from OpenWeatherMap.
type OpenWeather struct {
	named
}

// NewOpenWeather creates the OpenWeatherMap forecast provider.
func NewOpenWeather(name string) *OpenWeather {
	return &OpenWeather{named: nameOr(name, "OpenWeather")}
}

type owmForecast struct {
	Cod  models.Key `json:"cod"` // "200" on success, sometimes numeric on errors
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			TempMax float64 `json:"temp_max"`
		} `json:"main"`
	} `json:"list"`
}

func (o *OpenWeather) NewRequest(ctx context.Context, cfg models.Settings, _ time.Time) (*http.Request, error) {
	target := expand(cfg.String(models.KeyServiceURL),
		strconv.Itoa(forecastSlots),
		url.QueryEscape(cfg.String("city")),
		url.QueryEscape(cfg.String("countrycode")),
		cfg.String("units"),
		cfg.String("apikey"),
	)
	return newGet(ctx, target)
}

func (o *OpenWeather) Decode(body []byte, cfg models.Settings, now time.Time) ([]models.Record, error) {
	var fc owmForecast
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, fmt.Errorf("openweather: %w", err)
	}
	if fc.Cod != "200" {
		return nil, fmt.Errorf("openweather: cod %q", fc.Cod)
	}
	if len(fc.List) == 0 {
		return nil, apperr.ErrNoContent
	}

	warmest := fc.List[0]
	for _, slot := range fc.List[1:] {
		if int(slot.Main.TempMax) > int(warmest.Main.TempMax) {
			warmest = slot
		}
	}

	loc := location(cfg)
	at := time.Unix(warmest.Dt, 0).In(loc)
	place := settingOr(cfg, "location_name", "Grossmont College")
	rec := models.Record{
		K:       models.Key(at.Format(time.DateTime)),
		Date:    now.In(loc).Format("2006-01-02 03:04:05 PM"),
		Caption: "Temperature forecast for " + place,
		Summary: fmt.Sprintf("For %s, the warmest temperature of **%s %s** is forecast for %s",
			place,
			strconv.FormatFloat(warmest.Main.TempMax, 'f', -1, 64),
			unitLabel(cfg.String("units")),
			at.Format("Monday 03:04:05 PM")),
	}
	if img := cfg.String("post_image"); img != "" {
		rec.Img = imagePath(cfg, img)
	}
	return []models.Record{rec}, nil
}

func (o *OpenWeather) FeaturedImage(cfg models.Settings) string {
	if img := cfg.String(models.KeyFeaturedImage); img != "" {
		return imagePath(cfg, img)
	}
	return ""
}

func unitLabel(units string) string {
	switch units {
	case "imperial":
		return "F"
	case "metric":
		return "C"
	default:
		return "K"
	}
}

// imagePath resolves a local image name against the images_dir setting.
// URLs are returned unchanged.
func imagePath(cfg models.Settings, name string) string {
	if isURL(name) {
		return name
	}
	return filepath.Join(settingOr(cfg, "images_dir", storage.ImagesDir), name)
}

// location returns the timezone named by the "timezone" setting, or local time.
func location(cfg models.Settings) *time.Location {
	if tz := cfg.String("timezone"); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.Local
}

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/starford/sensorhub/internal/apperr"
	"github.com/starford/sensorhub/internal/models"
)

const (
	uvScaleURL   = "https://www.epa.gov/sunsafety/uv-index-scale-1"
	uvScaleImage = "https://www.epa.gov/sites/production/files/sunwise/images/uviscaleh_lg.gif"
)

// UVIndex reports the daily UV index forecast from OpenWeatherMap.
type UVIndex struct {
	named
}

// NewUVIndex creates the UV index forecast provider.
func NewUVIndex(name string) *UVIndex {
	return &UVIndex{named: nameOr(name, "UVIndex")}
}

type uvDay struct {
	Date  int64   `json:"date"`
	Value float64 `json:"value"`
}

func (u *UVIndex) NewRequest(ctx context.Context, cfg models.Settings, _ time.Time) (*http.Request, error) {
	return newGet(ctx, expand(cfg.String(models.KeyServiceURL),
		cfg.String("apikey"),
		cfg.String("lat"),
		cfg.String("lon"),
		cfg.String("days"),
	))
}

func (u *UVIndex) Decode(body []byte, cfg models.Settings, _ time.Time) ([]models.Record, error) {
	var days []uvDay
	if err := json.Unmarshal(body, &days); err != nil {
		return nil, fmt.Errorf("uvindex: %w", err)
	}
	if len(days) == 0 {
		return nil, apperr.ErrNoContent
	}

	loc := location(cfg)
	summary := fmt.Sprintf("%s day UV Index forecast for the %s local community. "+
		"UV Index ranges from 1 to 11+ (low to extreme). "+
		"If you would like to know more about UV Indexes please visit: %s",
		settingOr(cfg, "days", strconv.Itoa(len(days))),
		settingOr(cfg, "community", "GCCD"),
		uvScaleURL)

	records := make([]models.Record, 0, len(days))
	times := make([]int64, 0, len(days))
	for _, d := range days {
		at := time.Unix(d.Date, 0).In(loc)
		records = append(records, models.Record{
			K:       models.KeyFromInt(d.Date),
			Date:    at.Format(time.RFC3339),
			Caption: at.Format(time.DateOnly) + " | UV Index: " + strconv.FormatFloat(d.Value, 'f', -1, 64),
			Summary: summary,
			Img:     uvScaleImage,
		})
		times = append(times, d.Date)
	}
	sortByTime(records, times)
	return records, nil
}

func (u *UVIndex) FeaturedImage(cfg models.Settings) string {
	return settingOr(cfg, models.KeyFeaturedImage, uvScaleImage)
}

package provider

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/starford/sensorhub/internal/apperr"
	"github.com/starford/sensorhub/internal/models"
)

//go:embed templates/place.html
var templateFS embed.FS

var placeTmpl = template.Must(template.ParseFS(templateFS, "templates/place.html"))

// Places picks one nearby restaurant from a Google Places nearby search.
type Places struct {
	named
}

// NewPlaces creates the Google Places provider.
func NewPlaces(name string) *Places {
	return &Places{named: nameOr(name, "GoogleSensor")}
}

type placesResponse struct {
	Status  string  `json:"status"`
	Results []place `json:"results"`
}

type place struct {
	PlaceID  string   `json:"place_id"`
	Name     string   `json:"name"`
	Vicinity string   `json:"vicinity"`
	Rating   *float64 `json:"rating"`
	Photos   []struct {
		PhotoReference string `json:"photo_reference"`
	} `json:"photos"`
}

type placeView struct {
	Heading  string
	Name     string
	Vicinity string
	Rating   string
	MapURL   string
}

func (p *Places) NewRequest(ctx context.Context, cfg models.Settings, _ time.Time) (*http.Request, error) {
	return newGet(ctx, expand(cfg.String(models.KeyServiceURL), cfg.String("key")))
}

func (p *Places) Decode(body []byte, cfg models.Settings, now time.Time) ([]models.Record, error) {
	var resp placesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("places: %w", err)
	}
	switch resp.Status {
	case "OK", "":
	case "ZERO_RESULTS":
		return nil, apperr.ErrNoContent
	default:
		return nil, fmt.Errorf("places: status %s", resp.Status)
	}
	if len(resp.Results) == 0 {
		return nil, apperr.ErrNoContent
	}

	chosen := resp.Results[NewPicker(now, body).Pick(len(resp.Results))]
	heading := "Places to eat around " + settingOr(cfg, "location_name", "Grossmont College")
	key := cfg.String("key")

	view := placeView{
		Heading:  heading,
		Name:     chosen.Name,
		Vicinity: chosen.Vicinity,
	}
	if chosen.Rating != nil {
		view.Rating = strconv.FormatFloat(*chosen.Rating, 'f', -1, 64)
	}
	if tmpl := cfg.String("mapsEmbedURL"); tmpl != "" && chosen.PlaceID != "" {
		view.MapURL = expand(tmpl, key, chosen.PlaceID)
	}

	var story bytes.Buffer
	if err := placeTmpl.Execute(&story, view); err != nil {
		return nil, fmt.Errorf("places: render story: %w", err)
	}

	local := now.In(location(cfg))
	rec := models.Record{
		K:       models.Key(local.Format("2006-01-02 15:04:05.000000")),
		Date:    local.Format("2006-01-02 03:04:05 PM"),
		Caption: heading + ": " + chosen.Name,
		Summary: chosen.Name,
		Story:   story.String(),
	}
	if tmpl := cfg.String("photoEmbedURL"); tmpl != "" && len(chosen.Photos) > 0 {
		rec.Img = expand(tmpl, chosen.Photos[0].PhotoReference, key)
	}
	return []models.Record{rec}, nil
}

func (p *Places) FeaturedImage(cfg models.Settings) string {
	return cfg.String(models.KeyFeaturedImage)
}

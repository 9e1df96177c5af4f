package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/starford/sensorhub/internal/apperr"
	"github.com/starford/sensorhub/internal/models"
)

// satelliteImages maps N2YO category ids to an illustrative image.
var satelliteImages = map[string]string{
	"0":  "https://s3.amazonaws.com/content.satimagingcorp.com/media/cms_page_media/1601/TH-01.jpg",
	"1":  "https://spacenews.com/wp-content/uploads/2017/08/rsz_echostarJup3-879x485.jpg",
	"2":  "https://upload.wikimedia.org/wikipedia/commons/0/04/International_Space_Station_after_undocking_of_STS-132.jpg",
	"15": "http://www.davidiad.com/images/iridium/iridium_b.jpg",
	"18": "https://s3.amazonaws.com/content.satimagingcorp.com/media/cms_page_media/1601/TH-01.jpg",
}

// Satellite lists satellites currently above an observer using the N2YO
// "above" endpoint.
type Satellite struct {
	named
}

// NewSatellite creates the N2YO provider.
func NewSatellite(name string) *Satellite {
	return &Satellite{named: nameOr(name, "SatSensor")}
}

type n2yoAbove struct {
	Info *struct {
		SatCount int `json:"satcount"`
	} `json:"info"`
	Above []struct {
		SatName string `json:"satname"`
	} `json:"above"`
}

// NewRequest appends the observer path segments to service_url, which is
// expected to end in ".../above/".
func (s *Satellite) NewRequest(ctx context.Context, cfg models.Settings, _ time.Time) (*http.Request, error) {
	target := cfg.String(models.KeyServiceURL) + strings.Join([]string{
		cfg.String("location_lat"),
		cfg.String("location_lon"),
		cfg.String("location_alt"),
		cfg.String("search_arc"),
		cfg.String("sat_category"),
	}, "/") + "/&apiKey=" + cfg.String("api_key")
	return newGet(ctx, target)
}

func (s *Satellite) Decode(body []byte, cfg models.Settings, now time.Time) ([]models.Record, error) {
	var resp n2yoAbove
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("satellite: %w", err)
	}
	if resp.Info == nil {
		return nil, fmt.Errorf("satellite: response has no info block")
	}
	if resp.Info.SatCount <= 0 || len(resp.Above) == 0 {
		return nil, apperr.ErrNoContent
	}

	names := make([]string, 0, len(resp.Above))
	for _, sat := range resp.Above {
		names = append(names, sat.SatName)
	}
	place := settingOr(cfg, "location_name", "Grossmont")
	local := now.In(location(cfg))
	return []models.Record{{
		K:       models.KeyFromInt(now.Unix()),
		Date:    local.Format(time.RFC3339),
		Caption: "Satellites over " + place,
		Summary: fmt.Sprintf("Here are some of the satellites currently passing over %s right now!", place),
		Story: fmt.Sprintf("As of %s the following satellites are overhead: %s",
			local.Format("January 02, 2006 at 03:04:05 PM"), strings.Join(names, ", ")),
		Img: s.FeaturedImage(cfg),
	}}, nil
}

func (s *Satellite) FeaturedImage(cfg models.Settings) string {
	if img := cfg.String(models.KeyFeaturedImage); img != "" {
		return img
	}
	return satelliteImages[cfg.String("sat_category")]
}

package api

import (
	"github.com/starford/sensorhub/internal/ledger"
	"github.com/starford/sensorhub/internal/models"
	"github.com/starford/sensorhub/internal/sensor"
	"github.com/starford/sensorhub/internal/sensorservice"
)

// SensorDetail is the single-sensor response (aliased from the domain layer).
type SensorDetail = sensorservice.SensorDetail

// SensorListResponse wraps the sensor list.
type SensorListResponse struct {
	Sensors []sensor.Status `json:"sensors" validate:"required"`
}

// RecordsResponse wraps records returned by a sensor.
type RecordsResponse struct {
	Sensor  string          `json:"sensor" example:"EarthQuakeSensor" validate:"required"`
	Records []models.Record `json:"records" validate:"required"`
}

// UpdatesResponse reports how many records follow K.
type UpdatesResponse struct {
	Sensor string     `json:"sensor" example:"UVIndex" validate:"required"`
	K      models.Key `json:"k" example:"1710374400"`
	Count  int        `json:"count" example:"3" validate:"required"`
}

// HistoryResponse wraps paginated ledger records.
type HistoryResponse struct {
	Records []sensorservice.HistoryItem `json:"records" validate:"required"`
	Total   int                         `json:"total" example:"42" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []ledger.SearchResult `json:"results" validate:"required"`
}

// ImageUploadResponse is returned after a successful image upload.
type ImageUploadResponse struct {
	Filename string `json:"filename" example:"hot.png" validate:"required"`
	Size     int64  `json:"size" example:"12345" validate:"required"`
	URL      string `json:"url" example:"/images/hot.png" validate:"required"`
}

package api

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/starford/sensorhub/internal/apperr"
	"github.com/starford/sensorhub/internal/models"
	"github.com/starford/sensorhub/internal/sensor"
	"github.com/starford/sensorhub/internal/sensorservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *sensorservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *sensorservice.Service) *Handler {
	return &Handler{svc: svc}
}

// writeErr maps service errors onto status codes.
func writeErr(w http.ResponseWriter, op, name string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrCorrupt):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrRateLimited):
		var rl *sensor.RateLimitError
		if errors.As(err, &rl) {
			secs := int(math.Ceil(time.Until(rl.NextAllowed).Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		}
		writeJSON(w, http.StatusTooManyRequests, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrNoContent):
		writeJSON(w, http.StatusOK, RecordsResponse{Sensor: name, Records: []models.Record{}})
	case errors.Is(err, apperr.ErrUpstream), errors.Is(err, apperr.ErrMalformed):
		slog.Warn(op+" failed", slog.String("sensor", name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("sensor", name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ListSensors handles GET /api/sensors.
//
//	@Summary		List sensors and their rate-limit state
//	@Tags			sensors
//	@Produce		json
//	@Success		200	{object}	SensorListResponse
//	@Security		BearerAuth
//	@Router			/sensors [get]
func (h *Handler) ListSensors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SensorListResponse{Sensors: h.svc.ListSensors(r.Context())})
}

// GetSensor handles GET /api/sensors/{name}.
//
//	@Summary		Get one sensor
//	@Tags			sensors
//	@Produce		json
//	@Param			name	path		string	true	"Sensor id"
//	@Success		200		{object}	SensorDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sensors/{name} [get]
func (h *Handler) GetSensor(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	d, err := h.svc.GetSensor(r.Context(), name)
	if err != nil {
		writeErr(w, "get sensor", name, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Records handles GET /api/sensors/{name}/records.
//
//	@Summary		Fresh or buffered records
//	@Tags			records
//	@Produce		json
//	@Param			name	path		string	true	"Sensor id"
//	@Success		200		{object}	RecordsResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sensors/{name}/records [get]
func (h *Handler) Records(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	recs, err := h.svc.Records(r.Context(), name)
	if err != nil {
		writeErr(w, "records", name, err)
		return
	}
	writeJSON(w, http.StatusOK, RecordsResponse{Sensor: name, Records: recs})
}

// Updates handles GET /api/sensors/{name}/updates?k=.
//
//	@Summary		Count records after a key
//	@Tags			records
//	@Produce		json
//	@Param			name	path		string	true	"Sensor id"
//	@Param			k		query		string	false	"Last seen key"
//	@Success		200		{object}	UpdatesResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sensors/{name}/updates [get]
func (h *Handler) Updates(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	k := models.Key(r.URL.Query().Get("k"))
	n, err := h.svc.HasUpdates(r.Context(), name, k)
	if err != nil {
		writeErr(w, "has updates", name, err)
		return
	}
	writeJSON(w, http.StatusOK, UpdatesResponse{Sensor: name, K: k, Count: n})
}

// Content handles GET /api/sensors/{name}/content?k=.
//
//	@Summary		Records after a key
//	@Tags			records
//	@Produce		json
//	@Param			name	path		string	true	"Sensor id"
//	@Param			k		query		string	false	"Last seen key"
//	@Success		200		{object}	RecordsResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sensors/{name}/content [get]
func (h *Handler) Content(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	k := models.Key(r.URL.Query().Get("k"))
	recs, err := h.svc.Content(r.Context(), name, k)
	if err != nil {
		writeErr(w, "content", name, err)
		return
	}
	writeJSON(w, http.StatusOK, RecordsResponse{Sensor: name, Records: recs})
}

// Fetch handles POST /api/sensors/{name}/fetch.
//
//	@Summary		Fetch from the upstream when request_delta allows it
//	@Tags			sensors
//	@Produce		json
//	@Param			name	path		string	true	"Sensor id"
//	@Success		200		{object}	RecordsResponse
//	@Failure		404		{object}	errResponse
//	@Failure		429		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sensors/{name}/fetch [post]
func (h *Handler) Fetch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	recs, err := h.svc.Fetch(r.Context(), name)
	if err != nil && !errors.Is(err, apperr.ErrPersist) {
		writeErr(w, "fetch", name, err)
		return
	}
	if err != nil {
		slog.Error("fetch persisted partially", slog.String("sensor", name), slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, RecordsResponse{Sensor: name, Records: recs})
}

// Reload handles POST /api/sensors/{name}/reload.
//
//	@Summary		Re-read the settings file
//	@Tags			sensors
//	@Param			name	path	string	true	"Sensor id"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Failure		422	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sensors/{name}/reload [post]
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.svc.Reload(name); err != nil {
		writeErr(w, "reload", name, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /api/sensors/{name}/history and GET /api/history.
//
//	@Summary		Records seen by the driver, newest first
//	@Tags			records
//	@Produce		json
//	@Param			name	path		string	false	"Sensor id"
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	HistoryResponse
//	@Security		BearerAuth
//	@Router			/sensors/{name}/history [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if limit <= 0 {
		limit = 50
	}
	items, total, err := h.svc.History(r.Context(), name, limit, offset)
	if err != nil {
		writeErr(w, "history", name, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Records: items, Total: total})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search over seen records
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starford/sensorhub/internal/sensorservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// images, if non-nil, accepts uploads at POST /images.
func NewRouter(svc *sensorservice.Service, authEnabled bool, token string, sseHandler http.Handler, images *ImageHandler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/sensors", h.ListSensors)
	r.Route("/sensors/{name}", func(r chi.Router) {
		r.Get("/", h.GetSensor)
		r.Get("/records", h.Records)
		r.Get("/updates", h.Updates)
		r.Get("/content", h.Content)
		r.Get("/history", h.History)
		r.Post("/fetch", h.Fetch)
		r.Post("/reload", h.Reload)
	})

	r.Get("/history", h.History)
	r.Get("/search", h.Search)

	if images != nil {
		r.Post("/images", images.Upload)
	}

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

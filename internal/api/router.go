package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// scrapeLimit, if non-nil, throttles POST /scrape per client.
func NewRouter(h *Handler, authEnabled bool, token string, sseHandler http.Handler, scrapeLimit *LimiterPool) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Route("/board", func(r chi.Router) {
		r.Get("/", h.GetBoard)
		r.Get("/stats", h.GetStats)
		r.Post("/ingest", h.Ingest)
		r.Post("/move", h.Move)
		r.Post("/classification", h.ApplyClassification)
		r.Post("/classify", h.Classify)
		r.Post("/reset", h.Reset)
	})
	r.Get("/rawlog", h.GetRawLog)
	r.Get("/export", h.Export)

	r.With(RateLimit(scrapeLimit)).Post("/scrape", h.Scrape)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

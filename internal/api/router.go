package api

import (
	"net/http"

	"ms-buddycart/internal/auth"
	"ms-buddycart/internal/logger"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the service router: public health and metrics endpoints,
// everything under /api behind bearer authentication.
func NewRouter(h *Handler, verifier auth.Verifier, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		sendJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier, log))
		r.Route("/api", h.RegisterRoutes)
	})
	log.Info("ROUTER", "Club routes registered under /api/club, split payment under /api/split-payment")
	return r
}

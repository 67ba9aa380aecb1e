package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/aaron/tierhub/internal/metrics"
	"github.com/aaron/tierhub/internal/middleware"
)

// NewRouter wraps the API routes in the standard middleware stack. limiter
// may be nil to disable inbound rate limiting.
func NewRouter(h *Handler, limiter *middleware.Limiter, log logrus.FieldLogger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)
	if limiter != nil {
		r.Use(limiter.Middleware)
	}
	// Upstream fetches are bounded separately; this caps a stuck request.
	r.Use(chimw.Timeout(30 * time.Second))

	r.Mount("/", h.Routes())
	return r
}

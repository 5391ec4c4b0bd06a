package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LockTrip/b2b-integration/internal/service"
	"github.com/LockTrip/b2b-integration/pkg/health"
	"github.com/LockTrip/b2b-integration/pkg/middleware"
)

// NewRouter creates a chi router with all booking service routes registered.
func NewRouter(
	bookingService *service.BookingService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	pprofCIDRs []string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware. The request timeout has to outlast a full poll loop,
	// so it is generous compared to a plain CRUD service.
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(5 * time.Minute))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("booking"))
	r.Use(middleware.Tracing("booking"))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, pprofCIDRs, logger)

	// Booking run API endpoints
	runHandler := NewRunHandler(bookingService, logger)

	r.Route("/api/v1/runs", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/", runHandler.StartRun)
		r.Get("/", runHandler.ListRuns)
		r.Get("/{id}", runHandler.GetRun)
	})

	return r
}

// ContentTypeJSON enforces a JSON content type on write requests.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && ct != "application/json" && ct != "application/json; charset=utf-8" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnsupportedMediaType)
				_, _ = w.Write([]byte(`{"error":{"code":"UNSUPPORTED_MEDIA_TYPE","message":"Content-Type must be application/json"}}`))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	"sharp-job-service/internal/cache"
)

type RouterConfig struct {
	AllowedOrigins     []string
	RateLimiter        cache.Counter
	RateLimitPerMinute int
}

func Routes(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger)
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		// probes are not rate limited
		r.Get("/health", h.Health)
		r.Get("/queue", h.Queue)

		r.Group(func(r chi.Router) {
			r.Use(RateLimit(cfg.RateLimiter, cfg.RateLimitPerMinute))

			r.Post("/upload", h.Upload)
			r.Post("/generate", h.Generate)
			r.Get("/status/{jobId}", h.Status)
			r.Get("/download/{jobId}/{filename}", h.Download)
			r.Get("/usage", h.Usage)

			r.Route("/mesh", func(r chi.Router) {
				r.Get("/methods", h.MeshMethods)
				r.Post("/convert", h.MeshConvert)
				r.Get("/download/{filename}", h.MeshDownload)
			})
		})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}

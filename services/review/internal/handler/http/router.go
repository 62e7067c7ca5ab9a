package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/BookshelfGo/pkg/health"
	"github.com/utafrali/BookshelfGo/pkg/middleware"
	"github.com/utafrali/BookshelfGo/services/review/internal/service"
)

// ServiceName labels HTTP metrics and spans.
const ServiceName = "review-service"

// RouterConfig carries everything NewRouter wires together.
type RouterConfig struct {
	Reviews *service.ReviewService
	Votes   *service.VoteService
	Health  *health.Handler

	// TokenValidator verifies bearer tokens. Nil rejects every bearer token.
	TokenValidator middleware.TokenValidator
	TrustGateway   bool

	CORSOrigins []string
	PprofCIDRs  []string
	// CacheMaxAge is the Cache-Control max-age of anonymous reads.
	CacheMaxAge int
	// VoteLimiter throttles vote writes per user. Nil disables throttling.
	VoteLimiter *middleware.RateLimiter

	Logger *slog.Logger
}

// NewRouter creates a chi router with all review service routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.Tracing(ServiceName))
	r.Use(middleware.PrometheusMetrics(ServiceName))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins)))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	middleware.RegisterPprof(r, cfg.PprofCIDRs, cfg.Logger)

	reviewHandler := NewReviewHandler(cfg.Reviews, cfg.Logger)
	voteHandler := NewVoteHandler(cfg.Votes, cfg.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.OptionalAuth(cfg.TokenValidator, cfg.TrustGateway))
		r.Use(middleware.RequestLogger(cfg.Logger))

		// Public reads; anonymous responses are shared-cacheable.
		r.Group(func(r chi.Router) {
			r.Use(middleware.CacheControl(cfg.CacheMaxAge))

			r.Get("/books/{bookId}/reviews", reviewHandler.ListReviews)
			r.Get("/books/{bookId}/rating", reviewHandler.GetRating)
			r.Get("/reviews/votes", voteHandler.GetTallies)
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser)

			r.Put("/books/{bookId}/editions/{editionId}/review", reviewHandler.UpsertReview)
			r.Post("/books/{bookId}/editions/{editionId}/review", reviewHandler.UpsertReview)
			r.Delete("/books/{bookId}/reviews/{reviewId}", reviewHandler.DeleteReview)
			r.Get("/books/{bookId}/my-reviews", reviewHandler.ListMyReviews)
			r.Get("/editions/{editionId}/my-review", reviewHandler.GetMyReview)

			r.Group(func(r chi.Router) {
				if cfg.VoteLimiter != nil {
					r.Use(middleware.RateLimit(cfg.VoteLimiter))
				}
				r.Post("/reviews/{reviewId}/vote", voteHandler.Vote)
			})
		})
	})

	return r
}

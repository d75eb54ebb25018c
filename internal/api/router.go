package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/ragconverse/internal/api/handlers"
	"github.com/nikhilbhutani/ragconverse/internal/api/middleware"
	"github.com/nikhilbhutani/ragconverse/internal/config"
	"github.com/nikhilbhutani/ragconverse/internal/conversation"
	"github.com/nikhilbhutani/ragconverse/internal/rag"
)

// Deps are the handles the router serves from. Summarizer and Queue are
// optional; their routes are not mounted when nil.
type Deps struct {
	Orchestrator  *rag.Orchestrator
	Conversations conversation.Store
	Summarizer    *rag.Summarizer
	Sources       handlers.SourceLister
	Queue         handlers.Enqueuer
	Checks        map[string]handlers.Pinger
	Logger        *slog.Logger
}

type Router struct {
	mux  *chi.Mux
	cfg  config.ServerConfig
	auth config.AuthConfig
	deps Deps
}

func NewRouter(cfg *config.Config, deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Router{
		mux:  chi.NewRouter(),
		cfg:  cfg.Server,
		auth: cfg.Auth,
		deps: deps,
	}
}

// Setup mounts every route. The rate limiter's janitor stops with ctx.
func (rt *Router) Setup(ctx context.Context) http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(rt.deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.AllowedOrigins))

	// Health endpoints (no rate limit)
	health := handlers.NewHealthHandler(rt.deps.Checks)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	burst := rt.cfg.RateLimitBurst
	if burst <= 0 {
		burst = 20
	}
	rps := rt.cfg.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	rl := middleware.NewRateLimiter(ctx, rps, burst)

	r.Route("/api", func(r chi.Router) {
		r.Use(rl.Limit)

		ragH := handlers.NewRAGHandler(rt.deps.Orchestrator, rt.deps.Conversations, rt.deps.Logger)
		r.Post("/rag/query", ragH.Query)
		r.Post("/rag/answer", ragH.Answer)
		r.Get("/chat/history", ragH.History)

		if rt.deps.Summarizer != nil {
			summaryH := handlers.NewSummaryHandler(rt.deps.Summarizer)
			r.Get("/posts/{slug}/summary", summaryH.Get)
		}

		if rt.deps.Queue != nil && rt.deps.Sources != nil {
			adminH := handlers.NewAdminHandler(rt.deps.Sources, rt.deps.Queue, rt.deps.Logger)
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.AdminAuth(rt.auth.AdminJWTSecret))
				r.Post("/ingest", adminH.Ingest)
			})
		}
	})

	return r
}

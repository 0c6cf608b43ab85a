// Package api exposes the routing tree over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/banking-router-poc/server/internal/agent/metrics"
	"github.com/banking-router-poc/server/internal/agent/model"
	"github.com/banking-router-poc/server/internal/agent/taxonomy"
)

// Service is the part of the routing tree the handlers depend on.
type Service interface {
	Handle(ctx context.Context, q model.Query) (model.Reply, error)
	HandleDomain(ctx context.Context, domain string, q model.Query) (model.Reply, error)
	ResetSession(ctx context.Context, domain, sessionID string) error
	ClearMemory(ctx context.Context, domain, userID string) error
}

// Router wires the handlers, middleware and CORS policy.
type Router struct {
	svc       Service
	tax       *taxonomy.Taxonomy
	metrics   *metrics.Collector
	origins   []string
	directory AgentDirectory
}

func NewRouter(svc Service, tax *taxonomy.Taxonomy, m *metrics.Collector, cfg model.HTTPConfig) *Router {
	return &Router{
		svc:       svc,
		tax:       tax,
		metrics:   m,
		origins:   cfg.AllowedOrigins,
		directory: NewAgentDirectory(tax),
	}
}

// Setup builds the http.Handler.
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(Recoverer)
	router.Use(RequestLogger)
	router.Use(Metrics(rt.metrics))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/", rt.root)
	router.Get("/health", rt.health)
	router.Get("/agents", rt.agents)
	router.Method(http.MethodGet, "/metrics", rt.metrics.Handler())

	chat := NewChatHandler(rt.svc, rt.tax)
	router.Post("/chat", chat.Chat)
	router.Post("/{domain}/chat", chat.DomainChat)
	router.Delete("/sessions/{sessionID}", chat.ResetSession)
	router.Delete("/memory/{userID}", chat.ClearMemory)

	return router
}

func (rt *Router) root(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"message": "Banking Master Agents API is running"})
}

func (rt *Router) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy", "message": "All agents are ready"})
}

func (rt *Router) agents(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, rt.directory)
}

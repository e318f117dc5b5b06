package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/featmatch/internal/web/handlers"
	"github.com/kozaktomas/featmatch/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	matchHandler := handlers.NewMatchHandler(s.counter, s.config.Matcher.Params(), s.logger)
	resultsHandler := handlers.NewResultsHandler(s.lister)
	configHandler := handlers.NewConfigHandler(s.config)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)
		r.Get("/config", configHandler.Get)
		r.With(middleware.RateLimit(s.config.Web.RateLimit, s.config.Web.RateBurst)).Post("/match", matchHandler.Match)
		r.Get("/results", resultsHandler.List)
		r.Get("/results/stats", resultsHandler.Stats)
	})
}

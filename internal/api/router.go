package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) buildRouter(ctx context.Context) http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	if s.cfg.RateLimit.Enabled {
		r.Use(rateLimitMiddleware(ctx, s.cfg.RateLimit.RequestsPerMinute, s.cfg.RateLimit.Burst))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/device", func(r chi.Router) {
			r.Post("/connect", s.handleConnect)
			r.Post("/disconnect", s.handleDisconnect)
			r.Get("/badge", s.handleReadBadge)
			r.Post("/badge", s.handleWriteBadge)
			r.Post("/scan", s.handleScan)
			r.Post("/power-off", s.handlePowerOff)
		})

		r.Route("/codes", func(r chi.Router) {
			r.Get("/", s.handleListCodes)
			r.Post("/", s.handleAddCode)
			r.Delete("/", s.handleClearCodes)
		})

		r.Get("/commands", s.handleListCommands)
		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// SPDX-License-Identifier: MIT

// Package api exposes the daemon's HTTP surface: the completion stream,
// health, metrics and the inspection endpoints.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/taskstream/internal/buffer"
	"github.com/ManuGH/taskstream/internal/chat"
	"github.com/ManuGH/taskstream/internal/config"
	"github.com/ManuGH/taskstream/internal/jobstate"
	"github.com/ManuGH/taskstream/internal/log"
)

// Server wires the HTTP handlers to their collaborators.
type Server struct {
	completion *chat.Completion
	buffer     *buffer.Buffer
	jobs       *jobstate.Store
	cfg        config.ServerConfig
	logger     zerolog.Logger
}

// NewServer builds the HTTP surface. jobs may be nil; the job inspection
// endpoint then answers 404 for everything.
func NewServer(completion *chat.Completion, buf *buffer.Buffer, jobs *jobstate.Store, cfg config.ServerConfig) *Server {
	return &Server{
		completion: completion,
		buffer:     buf,
		jobs:       jobs,
		cfg:        cfg,
		logger:     log.WithComponent("api"),
	}
}

// Router assembles the middleware stack and routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(accessLog)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.With(rateLimit(s.cfg.RateLimit, s.cfg.RateLimitWindow)).
			Post("/chat/completions", s.handleCompletions)
		r.Get("/buffer/stats", s.handleBufferStats)
		r.Get("/jobs/{id}", s.handleJob)
	})
	return r
}

package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/voice-orchestrator/internal/config"
	"github.com/capitalize-ai/voice-orchestrator/internal/errorhandling"
	"github.com/capitalize-ai/voice-orchestrator/internal/handler"
	"github.com/capitalize-ai/voice-orchestrator/internal/middleware"
	"github.com/capitalize-ai/voice-orchestrator/internal/queue"
	"github.com/capitalize-ai/voice-orchestrator/internal/service"
	"github.com/capitalize-ai/voice-orchestrator/pkg/logger"
)

type routerDeps struct {
	cfg           *config.Config
	log           *logger.Logger
	conversations *service.ConversationService
	chat          *service.ChatService
	transcriber   *service.TranscriptionService
	errors        *errorhandling.Service
	events        handler.ConnectionChecker
	queues        []*queue.Queue
}

func newRouter(d routerDeps) http.Handler {
	healthHandler := handler.NewHealthHandler(d.events, d.queues...)
	conversationHandler := handler.NewConversationHandler(d.conversations, d.log)
	messageHandler := handler.NewMessageHandler(d.chat, d.log)
	transcriptionHandler := handler.NewTranscriptionHandler(d.transcriber, d.cfg.MaxUploadBytes, d.log)
	errorHandler := handler.NewErrorHandler(d.errors, d.log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(d.log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(d.cfg.CORSOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if d.cfg.AuthEnabled {
			r.Use(middleware.Auth(d.cfg.JWTSecret))
		}
		r.Use(middleware.RateLimit(d.cfg.RateLimitRequests, d.cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Delete("/", conversationHandler.Delete)
				r.Post("/messages", messageHandler.Send)
			})
		})

		r.Post("/transcriptions", transcriptionHandler.Create)

		r.Route("/errors", func(r chi.Router) {
			r.Get("/", errorHandler.List)
			r.Get("/metrics", errorHandler.Metrics)
			r.Get("/{id}", errorHandler.Get)
			r.Post("/{id}/actions/{action}", errorHandler.Recover)

			r.Group(func(r chi.Router) {
				if d.cfg.AuthEnabled {
					r.Use(middleware.RequireScope(middleware.ScopeErrorsAdmin))
				}
				r.Delete("/", errorHandler.Clear)
			})
		})
	})

	return r
}

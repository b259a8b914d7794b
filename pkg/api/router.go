package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/flashwear/internal/logger"
	"github.com/marmos91/flashwear/pkg/api/auth"
	"github.com/marmos91/flashwear/pkg/api/handlers"
	"github.com/marmos91/flashwear/pkg/api/middleware"
)

// NewRouter builds the chi router.
//
// Routes:
//   - GET  /health, /health/ready
//   - GET  /api/v1/stats, /api/v1/blocks, /api/v1/blocks/{id}, /api/v1/bad-blocks
//   - POST /api/v1/blocks/{id}/bad, /api/v1/maintenance, /api/v1/snapshot (operator token)
//
// A nil jwtService leaves the POST routes answering 503.
func NewRouter(rt handlers.Runtime, jwtService *auth.JWTService, requestTimeout time.Duration) http.Handler {
	if requestTimeout <= 0 {
		requestTimeout = 5 * time.Minute
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout))

	health := handlers.NewHealthHandler(rt)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", health.Liveness)
		r.Get("/ready", health.Readiness)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	if rt == nil {
		return r
	}

	engine := handlers.NewEngineHandler(rt)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", engine.Stats)
		r.Get("/blocks", engine.ListBlocks)
		r.Get("/blocks/{id}", engine.GetBlock)
		r.Get("/bad-blocks", engine.BadBlocks)

		r.Group(func(r chi.Router) {
			r.Use(middleware.JWTAuth(jwtService))
			r.With(middleware.RequireScope(auth.ScopeMarkBad)).Post("/blocks/{id}/bad", engine.MarkBad)
			r.With(middleware.RequireScope(auth.ScopeMaintain)).Post("/maintenance", engine.Maintain)
			r.With(middleware.RequireScope(auth.ScopeSnapshot)).Post("/snapshot", engine.Snapshot)
		})
	})

	return r
}

// requestLogger logs request start at DEBUG and completion at INFO.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimiddleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.DurationMs(start),
		)
	})
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/flashwear/internal/logger"
	"github.com/marmos91/flashwear/pkg/api/auth"
	"github.com/marmos91/flashwear/pkg/api/handlers"
)

// Server is the REST API HTTP server.
//
// It supports graceful shutdown; Stop is safe to call more than once.
type Server struct {
	server       *http.Server
	config       APIConfig
	shutdownOnce sync.Once
}

// NewServer creates a stopped server. Defaults are applied here too so that
// tests can build a server from a bare APIConfig. Operator routes are
// enabled only when config.JWT.Secret is set.
func NewServer(config APIConfig, rt handlers.Runtime) (*Server, error) {
	config.ApplyDefaults()

	var jwtService *auth.JWTService
	if config.JWT.Secret != "" {
		var err error
		jwtService, err = auth.NewJWTService(auth.JWTConfig{
			Secret:        config.JWT.Secret,
			Issuer:        config.JWT.Issuer,
			TokenDuration: config.JWT.TokenDuration,
		})
		if err != nil {
			return nil, fmt.Errorf("invalid API JWT config: %w", err)
		}
	} else {
		logger.Warn("API JWT secret not set, operator routes are disabled",
			"env", EnvJWTSecret)
	}

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			Handler:      NewRouter(rt, jwtService, config.RequestTimeout),
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		config: config,
	}, nil
}

// Start serves until ctx is cancelled or the listener fails. Cancellation
// triggers a graceful shutdown bounded by 5s.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("API server failed: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "port", s.config.Port)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		// The cancelled ctx would abort shutdown immediately.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("API server shutdown initiated")
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", logger.Err(err))
		} else {
			logger.Info("API server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the configured TCP port.
func (s *Server) Port() int {
	return s.config.Port
}

// Package api exposes the bot's operational state over a small REST
// surface.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/internal/config"
)

// Server is the REST status server
type Server struct {
	config      *config.ServerConfig
	logger      *zap.Logger
	server      *http.Server
	handlers    *Handlers
	rateLimiter *rateLimiter
}

// NewServer creates the API server around the component handlers
func NewServer(cfg *config.ServerConfig, logger *zap.Logger, handlers *Handlers) *Server {
	s := &Server{
		config:      cfg,
		logger:      logger.Named("api"),
		handlers:    handlers,
		rateLimiter: newRateLimiter(120, time.Minute),
	}
	s.setupServer()
	return s
}

// Start begins serving. Non-blocking; errors after startup are logged.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting API server",
		zap.String("host", s.config.Host),
		zap.Int("port", s.config.Port))

	go s.rateLimiter.cleanupLoop(ctx, 15*time.Minute)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}

// GetRouter returns the HTTP handler, mainly for tests
func (s *Server) GetRouter() http.Handler {
	return s.server.Handler
}

func (s *Server) setupServer() {
	router := mux.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	router.Use(s.loggingMiddleware)
	router.Use(s.rateLimiter.middleware)

	router.HandleFunc("/health", s.handlers.GetHealth).Methods("GET")
	router.Handle("/metrics", s.handlers.PrometheusHandler()).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handlers.GetStatus).Methods("GET")
	api.HandleFunc("/pool", s.handlers.GetPoolStats).Methods("GET")
	api.HandleFunc("/breakers", s.handlers.GetBreakers).Methods("GET")
	api.HandleFunc("/breakers/{strategy}/reset", s.handlers.ResetBreaker).Methods("POST")
	api.HandleFunc("/positions", s.handlers.GetPositions).Methods("GET")
	api.HandleFunc("/performance", s.handlers.GetPerformance).Methods("GET")
	api.HandleFunc("/trades/top", s.handlers.GetTopTrades).Methods("GET")

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      c.Handler(router),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("uri", r.RequestURI),
			zap.Int("status", wrapper.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", r.RemoteAddr))
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

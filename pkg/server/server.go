package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/memehubx/memedb/pkg/api"
	"github.com/memehubx/memedb/pkg/domain"
)

// Server holds references to storage, router, etc.
type Server struct {
	router          *mux.Router
	engine          domain.DatabaseEngine
	logger          zerolog.Logger
	shutdownTimeout time.Duration
}

// NewServer creates a new instance of Server around an opened engine.
// The caller owns the engine and closes it after the server stops.
func NewServer(engine domain.DatabaseEngine, logger zerolog.Logger) *Server {
	s := &Server{
		router:          mux.NewRouter(),
		engine:          engine,
		logger:          logger,
		shutdownTimeout: 30 * time.Second,
	}

	api.NewHandler(engine, engine, logger).RegisterRoutes(s.router)

	// Use the logging middleware for all routes
	s.router.Use(s.requestLoggerMiddleware)

	// Customize NotFoundHandler to log 404s
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Warn().Str("method", r.Method).Str("path", r.URL.Path).Msg("no route found")
		api.WriteJSONError(w, http.StatusNotFound, "no route for "+r.Method+" "+r.URL.Path)
	})

	return s
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLoggerMiddleware logs the method, URL path, status and duration for each request.
func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

// Router exposes the internal mux.Router.
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is canceled, then drains
// outstanding requests for up to the shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("starting memedb server")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

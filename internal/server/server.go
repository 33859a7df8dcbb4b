// Package server exposes one timebooth session over HTTP and streams its
// snapshots over a WebSocket.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/manash/timebooth/internal/capture"
	"github.com/manash/timebooth/internal/session"
	"github.com/manash/timebooth/internal/usage"
)

const shutdownTimeout = 10 * time.Second

type Config struct {
	Controller     *session.Controller
	Ledger         *usage.Ledger
	CaptureOpts    capture.Options
	AllowedOrigins []string
	Logger         *slog.Logger
}

type Server struct {
	controller     *session.Controller
	ledger         *usage.Ledger
	captureOpts    capture.Options
	allowedOrigins []string
	logger         *slog.Logger
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		controller:     cfg.Controller,
		ledger:         cfg.Ledger,
		captureOpts:    cfg.CaptureOpts,
		allowedOrigins: cfg.AllowedOrigins,
		logger:         logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(CORS(s.allowedOrigins))

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/eras", s.handleEras)
		r.Get("/presets", s.handlePresets)
		r.Get("/history", s.handleHistory)
		r.Get("/usage", s.handleUsage)

		r.Post("/photo", s.handlePhoto)
		r.Post("/era", s.handleEra)
		r.Post("/edit", s.handleEdit)
		r.Post("/preset", s.handlePreset)
		r.Post("/back", s.handleBack)
		r.Post("/reset", s.handleReset)
	})

	r.Get("/ws/state", s.handleStateStream)

	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Router(),
		ReadTimeout: 30 * time.Second,
		// Scene generation and the state stream both outlive any sensible
		// write deadline.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

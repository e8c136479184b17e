package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nvoss/typewriter/chat"
	"github.com/nvoss/typewriter/internal/profile"
	apiv1 "github.com/nvoss/typewriter/server/router/api/v1"
	"github.com/nvoss/typewriter/store"
)

// Server hosts the HTTP API and owns the generation scheduler lifecycle.
type Server struct {
	echoServer *echo.Echo
	profile    *profile.Profile
	store      *store.Store
	scheduler  *chat.Scheduler
}

// NewServer wires the API service into an echo instance.
func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store, conversations *chat.Conversations, scheduler *chat.Scheduler) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(requestLogger())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiService := apiv1.NewAPIV1Service(profile.Secret, profile, conversations)
	apiService.RegisterRoutes(e)

	return &Server{
		echoServer: e,
		profile:    profile,
		store:      store,
		scheduler:  scheduler,
	}, nil
}

// Start launches the scheduler and the HTTP listener.
func (s *Server) Start(ctx context.Context) error {
	s.scheduler.Start(ctx)

	// Re-enqueue generation jobs left incomplete by a previous run.
	if err := s.scheduler.RecoverPending(ctx, s.store); err != nil {
		slog.Error("Failed to recover pending jobs", "error", err)
	}

	address := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
	go func() {
		if err := s.echoServer.Start(address); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown drains the HTTP server, then the scheduler, then closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("Failed to shutdown http server", "error", err)
	}

	s.scheduler.Shutdown(ctx)

	if err := s.store.Close(); err != nil {
		slog.Error("Failed to close store", "error", err)
	}

	slog.Info("Typewriter stopped properly")
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				slog.Warn("request",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"error", v.Error,
				)
				return nil
			}
			slog.Debug("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
			)
			return nil
		},
	})
}

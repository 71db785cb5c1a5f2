// Package server exposes the email service and the scorer over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/JohnPlummer/sentimatrix/config"
	"github.com/JohnPlummer/sentimatrix/email"
	"github.com/JohnPlummer/sentimatrix/scorer"
)

// HealthCheck is one dependency checked by GET /health
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Server struct {
	Echo *echo.Echo

	service *email.Service
	scorer  scorer.Scorer
	checks  []HealthCheck
	cfg     config.ServerSettings
}

// Option configures a Server
type Option func(*Server)

// WithHealthCheck adds a dependency to the health report
func WithHealthCheck(name string, check func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.checks = append(s.checks, HealthCheck{Name: name, Check: check})
	}
}

// New builds the echo instance with middleware and every route bound
func New(cfg config.ServerSettings, svc *email.Service, sc scorer.Scorer, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		Echo:    e,
		service: svc,
		scorer:  sc,
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddlewares()
	e.HTTPErrorHandler = s.handleError
	s.bind()
	return s
}

func (s *Server) setupMiddlewares() {
	s.Echo.Use(middleware.RequestLoggerWithConfig(requestLoggerConfig()))
	s.Echo.Use(middleware.Recover())
	s.Echo.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))

	origins := s.cfg.CorsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.Echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
	}))
}

func requestLoggerConfig() middleware.RequestLoggerConfig {
	return middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogLatency:   true,
		LogURI:       true,
		LogMethod:    true,
		LogError:     true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}
			if v.Error == nil {
				slog.LogAttrs(c.Request().Context(), slog.LevelInfo, "REQUEST", attrs...)
				return nil
			}
			attrs = append(attrs, slog.String("err", v.Error.Error()))
			slog.LogAttrs(c.Request().Context(), slog.LevelError, "REQUEST_ERROR", attrs...)
			return nil
		},
	}
}

func (s *Server) bind() {
	s.Echo.GET("/health", s.health)
	s.Echo.GET("/metrics", echo.WrapHandler(scorer.GetMetricsHandler()))

	api := s.Echo.Group("/api")
	api.POST("/emailprocess", s.processEmail)
	api.POST("/classify", s.classify)

	g := api.Group("/email")
	g.GET("", s.listEmails)
	g.POST("/analyze", s.analyzeEmails)
	g.POST("/batch", s.processBatch)
	g.GET("/positive", s.emailsOfType(email.TypePositive))
	g.GET("/negative", s.emailsOfType(email.TypeNegative))
	g.GET("/stats", s.dashboardStats)
	g.GET("/dashboard-stats", s.dashboardStats)
	g.GET("/by-sentiment/:type", s.emailsBySentiment)
	g.GET("/sender/:sender", s.emailsBySender)
	g.GET("/by-date", s.emailsByDate)
	g.GET("/sentiment-trend", s.sentimentTrend)
	g.GET("/sentiment/:period", s.sentimentForPeriod)
	g.POST("/cleanup", s.cleanup)
	g.GET("/:id", s.getEmail)
	g.DELETE("/:id", s.deleteEmail)

	// Routes kept under the EmailProcess prefix used by existing dashboards
	ep := api.Group("/EmailProcess")
	ep.POST("", s.processEmail)
	ep.GET("/serious-tickets", s.emailsOfType(email.TypeNegative))
	ep.GET("/dashboard-stats", s.dashboardStats)
	ep.GET("/by-sentiment/:type", s.emailsBySentiment)
	ep.GET("/by-date", s.emailsByDate)
	ep.GET("/sentiment-trend", s.sentimentTrend)
	ep.POST("/cleanup", s.cleanup)
	ep.GET("/:id", s.getEmail)
}

// Run serves on the configured port until ctx ends, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "addr", s.cfg.Addr())
		if err := s.Echo.Start(s.cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.Echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

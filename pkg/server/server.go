// Package server exposes the identity services over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/routes/cat"
	"github.com/Ramsey-B/fern/pkg/routes/decision"
	"github.com/Ramsey-B/fern/pkg/routes/identity"
	"github.com/Ramsey-B/fern/pkg/routes/linking"
	"github.com/Ramsey-B/fern/pkg/routes/merge"
	"github.com/Ramsey-B/fern/pkg/routes/place"
	"github.com/Ramsey-B/fern/pkg/routes/pollution"
	"github.com/Ramsey-B/fern/pkg/routes/relationship"
)

type Server struct {
	echo   *echo.Echo
	http   *http.Server
	logger ectologger.Logger
}

// NewEcho builds the router. containerID names the ectoinject container the
// handlers resolve services from.
func NewEcho(cfg *config.Config, logger ectologger.Logger, containerID string, checker *health.Checker) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(echomiddleware.Recover())
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if checker != nil {
		checker.RegisterRoutes(e)
	}

	v1 := e.Group("/v1", middleware.Container(containerID))
	identity.Register(v1.Group("/identities"))
	decision.Register(v1.Group("/decisions"))
	cat.Register(v1.Group("/cats"))
	place.Register(v1.Group("/places"))
	relationship.Register(v1.Group("/relationships"))
	merge.Register(v1.Group("/merges"), v1.Group("/archive"))
	pollution.Register(v1.Group("/pollution"))
	linking.Register(v1.Group("/linking"))

	return e
}

func New(cfg *config.Config, logger ectologger.Logger, containerID string, checker *health.Checker) *Server {
	e := NewEcho(cfg, logger, containerID, checker)
	return &Server{
		echo:   e,
		logger: logger,
		http: &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.Port),
			Handler:           e,
			ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
			WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
			IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
			ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		},
	}
}

func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start blocks until the server stops. A graceful shutdown is not an error.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.http.Addr).Info("Starting HTTP server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.http.Shutdown(ctx)
}

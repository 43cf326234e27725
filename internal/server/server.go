// Package server wires configuration, storage, report assembly and the HTTP
// surface into a runnable metabolic panel service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/metabolic-panel/internal/config"
	"github.com/ehr/metabolic-panel/internal/domain/metabolic"
	"github.com/ehr/metabolic-panel/internal/platform/auth"
	"github.com/ehr/metabolic-panel/internal/platform/blobstore"
	"github.com/ehr/metabolic-panel/internal/platform/hipaa"
	"github.com/ehr/metabolic-panel/internal/platform/middleware"
	"github.com/ehr/metabolic-panel/internal/platform/openapi"
	"github.com/ehr/metabolic-panel/internal/platform/pdfreport"
	"github.com/ehr/metabolic-panel/internal/platform/telemetry"
)

// Version is reported by /health.
const Version = "0.1.0"

const shutdownTimeout = 10 * time.Second

// Server is a fully wired HTTP server plus its background retention loop.
type Server struct {
	Echo      *echo.Echo
	Service   *metabolic.Service
	Store     blobstore.BlobStore
	Retention *hipaa.RetentionService
	Metrics   *telemetry.Metrics

	cfg    *config.Config
	logger zerolog.Logger
}

// NewStore builds the artifact store selected by REPORT_STORE. Filesystem
// artifacts are sealed when HIPAA_ENCRYPTION_KEY is set.
func NewStore(cfg *config.Config) (blobstore.BlobStore, error) {
	switch cfg.ReportStore {
	case config.StoreMemory:
		return blobstore.NewInMemoryBlobStore(), nil
	case config.StoreFilesystem:
		key, err := cfg.EncryptionKey()
		if err != nil {
			return nil, err
		}
		if key == nil {
			return blobstore.NewFileSystemBlobStore(cfg.ReportDir, nil)
		}
		sealer, err := hipaa.NewArtifactSealer(key)
		if err != nil {
			return nil, fmt.Errorf("artifact sealer: %w", err)
		}
		return blobstore.NewFileSystemBlobStore(cfg.ReportDir, sealer)
	default:
		return nil, fmt.Errorf("unknown report store %q", cfg.ReportStore)
	}
}

// NewRetention builds the sweeper for store from the configured policy.
func NewRetention(cfg *config.Config, store hipaa.ArtifactSweeper, logger zerolog.Logger) (*hipaa.RetentionService, error) {
	return hipaa.NewRetentionService(store, hipaa.RetentionPolicy{
		MaxAge:   cfg.ReportRetention,
		Interval: cfg.SweepInterval,
	}, logger)
}

// New builds the server. cfg must already be validated.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	signingKey, err := cfg.SigningKey()
	if err != nil {
		return nil, err
	}
	signer, err := auth.NewTokenSigner(signingKey, cfg.DownloadTokenTTL)
	if err != nil {
		return nil, err
	}
	store, err := NewStore(cfg)
	if err != nil {
		return nil, err
	}
	retention, err := NewRetention(cfg, store, logger)
	if err != nil {
		return nil, err
	}
	renderer, err := metabolic.NewRenderer()
	if err != nil {
		return nil, err
	}

	metrics := telemetry.New()
	svc := metabolic.NewService(pdfreport.New(pdfreport.WithLocation(loc)), store, signer, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = renderer
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(metrics.Middleware())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.Sanitize())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": Version,
		})
	})
	e.GET("/metrics", metrics.PrometheusHandler())

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 || rateLimitCfg.BurstSize <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	reportMW := []echo.MiddlewareFunc{
		middleware.Audit(logger, metrics),
		middleware.RateLimit(rateLimitCfg),
	}

	apiV1 := e.Group("/api/v1")
	handler := metabolic.NewHandler(svc, loc, logger)
	handler.RegisterRoutes(e.Group(""), apiV1, reportMW...)
	openapi.NewGenerator(Version, "", apiFields()).RegisterRoutes(apiV1)

	return &Server{
		Echo:      e,
		Service:   svc,
		Store:     store,
		Retention: retention,
		Metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

func apiFields() []openapi.Field {
	labs := metabolic.LabFields()
	out := make([]openapi.Field, len(labs))
	for i, f := range labs {
		out[i] = openapi.Field{Name: f.Key, Description: f.Label}
	}
	return out
}

// Run serves until ctx is cancelled, then shuts down gracefully. The
// retention loop runs alongside the listener.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.Retention.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + s.cfg.Port
		s.logger.Info().Str("addr", addr).Str("store", s.cfg.ReportStore).Msg("starting server")
		if err := s.Echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := s.Echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info().Msg("server stopped")
	return nil
}

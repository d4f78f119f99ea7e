package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/eyesofbreath/xray-api/internal/config"
	"github.com/eyesofbreath/xray-api/internal/domain/diagnosis"
	"github.com/eyesofbreath/xray-api/internal/domain/identity"
	"github.com/eyesofbreath/xray-api/internal/domain/imaging"
	"github.com/eyesofbreath/xray-api/internal/domain/records"
	"github.com/eyesofbreath/xray-api/internal/platform/apperr"
	"github.com/eyesofbreath/xray-api/internal/platform/auth"
	"github.com/eyesofbreath/xray-api/internal/platform/blobstore"
	"github.com/eyesofbreath/xray-api/internal/platform/db"
	"github.com/eyesofbreath/xray-api/internal/platform/inference"
	"github.com/eyesofbreath/xray-api/internal/platform/metrics"
	"github.com/eyesofbreath/xray-api/internal/platform/middleware"
)

const version = "0.1.0"

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV") == "development")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	gateway, closeGateway, err := newGateway(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise image storage")
	}
	defer closeGateway()
	logger.Info().Str("mode", cfg.StorageMode).Str("bucket", cfg.StorageBucket).Msg("image storage ready")

	registry := metrics.NewRegistry()
	pipelineMetrics, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to register metrics")
	}

	e := newEcho(cfg, logger, registry)
	e.GET("/health/db", db.HealthHandler(pool))

	principals := identity.NewPrincipalRepo(pool)
	if cfg.IsDev() {
		if _, err := principals.Ensure(ctx, auth.DevSubject, "developer"); err != nil {
			logger.Fatal().Err(err).Msg("failed to provision development account")
		}
	}

	api := e.Group("/api/v1")
	if cfg.IsDev() {
		api.Use(auth.DevAuthMiddleware(jwtConfig(cfg)))
	} else {
		api.Use(auth.JWTMiddleware(jwtConfig(cfg)))
	}

	registerDomains(api, pool, cfg, gateway, pipelineMetrics, logger, principals)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	// Leave room for an in-flight inference call to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.InferenceReadTimeout+10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newEcho builds the server with global middleware and the unauthenticated
// operational routes.
func newEcho(cfg *config.Config, logger zerolog.Logger, registry *prometheus.Registry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit("1M", cfg.MaxUploadSize))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/metrics", metrics.Handler(registry))
	return e
}

func registerDomains(
	api *echo.Group,
	pool *pgxpool.Pool,
	cfg *config.Config,
	gateway blobstore.Gateway,
	pm *metrics.PipelineMetrics,
	logger zerolog.Logger,
	principals identity.PrincipalRepository,
) {
	guard := identity.NewGuard(principals, cfg.PrincipalCacheTTL)
	patients := identity.NewPatientRepo(pool)
	images := imaging.NewRepo(pool)
	results := diagnosis.NewResultRepo(pool)
	comments := diagnosis.NewCommentRepo(pool)
	tx := db.NewTransactor(pool)

	identity.NewHandler(guard).RegisterRoutes(api)

	diagnosisSvc := diagnosis.NewService(diagnosis.Dependencies{
		Patients:  patients,
		Images:    images,
		Results:   results,
		Comments:  comments,
		Gateway:   gateway,
		Predictor: newPredictor(cfg),
		// Explanation paths from the model point at the same storage domain as uploads.
		Normalizer: diagnosis.NewNormalizer(cfg.StoragePublicDomain),
		Tx:         tx,
		Guard:      guard,
		Metrics:    pm,
		Logger:     logger.With().Str("component", "diagnosis").Logger(),
	}, diagnosis.Options{
		ImagePrefix:             cfg.StoragePrefix,
		EnforcePatientOwnership: cfg.EnforcePatientOwnership,
	})
	diagnosis.NewHandler(diagnosisSvc, guard).RegisterRoutes(api)

	recordsSvc := records.NewService(patients, images, results, comments, tx, guard,
		logger.With().Str("component", "records").Logger())
	records.NewHandler(recordsSvc, guard).RegisterRoutes(api)
}

func newPredictor(cfg *config.Config) *inference.Client {
	return inference.NewClient(inference.Config{
		URL:            cfg.InferenceURL,
		ConnectTimeout: cfg.InferenceConnectTimeout,
		ReadTimeout:    cfg.InferenceReadTimeout,
	})
}

// newGateway selects the storage backend for STORAGE_MODE. The returned
// func releases it.
func newGateway(ctx context.Context, cfg *config.Config) (blobstore.Gateway, func(), error) {
	switch cfg.StorageMode {
	case config.StorageModeMemory:
		bucket := cfg.StorageBucket
		if bucket == "" {
			bucket = "local"
		}
		return blobstore.NewMemoryGateway(cfg.StoragePublicDomain, bucket), func() {}, nil
	case config.StorageModeGCS, config.StorageModeGCSEmulator:
		gcsCfg := blobstore.GCSConfig{
			Bucket:          cfg.StorageBucket,
			PublicDomain:    cfg.StoragePublicDomain,
			CredentialsFile: cfg.GoogleCredentials,
			CredentialsJSON: cfg.GoogleCredentialsJS,
		}
		if cfg.StorageMode == config.StorageModeGCSEmulator {
			gcsCfg.EmulatorHost = cfg.StorageEmulatorHost
		}
		g, err := blobstore.NewGCSGateway(ctx, gcsCfg)
		if err != nil {
			return nil, nil, err
		}
		return g, func() { _ = g.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage mode %q", cfg.StorageMode)
	}
}

package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"errors"
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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/pws/pws/internal/config"
	"github.com/pws/pws/internal/domain/analytics"
	"github.com/pws/pws/internal/domain/doctor"
	"github.com/pws/pws/internal/domain/identity"
	"github.com/pws/pws/internal/domain/medical"
	"github.com/pws/pws/internal/domain/scheduling"
	"github.com/pws/pws/internal/platform/audit"
	"github.com/pws/pws/internal/platform/auth"
	"github.com/pws/pws/internal/platform/cache"
	"github.com/pws/pws/internal/platform/db"
	"github.com/pws/pws/internal/platform/events"
	"github.com/pws/pws/internal/platform/middleware"
	"github.com/pws/pws/internal/platform/websocket"
)

const (
	requestTimeout       = 30 * time.Second
	shutdownTimeout      = 10 * time.Second
	wsRevalidateInterval = time.Minute
)

// deps are the process-scoped collaborators the router is built from.
type deps struct {
	cfg       *config.Config
	logger    zerolog.Logger
	pool      *pgxpool.Pool
	tokens    *auth.TokenService
	sink      audit.Sink
	auditLogs audit.Store
	publisher events.Publisher
	hub       *websocket.Hub
	cache     cache.Store
	registry  *prometheus.Registry
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := newLogger(nil)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	accessSecret, generated, err := resolveSecret(cfg.JWTSecret, cfg.IsDev())
	if err != nil {
		logger.Fatal().Err(err).Msg("JWT_SECRET")
	}
	if generated {
		logger.Warn().Msg("JWT_SECRET not set; using a random development key, sessions will not survive restarts")
	}
	refreshSecret, generated, err := resolveSecret(cfg.RefreshJWTSecret, cfg.IsDev())
	if err != nil {
		logger.Fatal().Err(err).Msg("REFRESH_JWT_SECRET")
	}
	if generated {
		logger.Warn().Msg("REFRESH_JWT_SECRET not set; using a random development key")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPool(ctx, cfg.PoolConfig())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Audit
	auditStore := audit.NewStorePG(pool)
	recorder := audit.NewRecorder(auditStore, audit.RecorderConfig{
		QueueSize:   cfg.AuditQueueSize,
		MaxAttempts: cfg.AuditMaxAttempts,
	}, logger, reg)
	sweeper := audit.NewSweeper(auditStore, cfg.AuditRetentionDays, cfg.AuditSweepInterval, logger)
	go sweeper.Run(ctx)

	// Events: WebSocket clients always, RabbitMQ when configured.
	hub := websocket.NewHub(logger)
	publishers := events.Multi{hub}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, events.DefaultQueue, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("rabbitmq unavailable, events go to websocket clients only")
		} else {
			defer amqpPub.Close()
			publishers = append(publishers, amqpPub)
			logger.Info().Str("queue", events.DefaultQueue).Msg("publishing events to rabbitmq")
		}
	}

	// Response cache
	var store cache.Store
	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, response cache disabled")
		} else {
			defer rdb.Close()
			store = cache.NewRedisStore(rdb)
			logger.Info().Msg("response cache enabled")
		}
	}

	e := newServer(ctx, deps{
		cfg:       cfg,
		logger:    logger,
		pool:      pool,
		tokens:    newTokenService(cfg, accessSecret, refreshSecret),
		sink:      recorder,
		auditLogs: auditStore,
		publisher: publishers,
		hub:       hub,
		cache:     store,
		registry:  reg,
	})

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	hub.Shutdown()
	cancel()
	if err := recorder.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("audit queue not drained")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newTokenService(cfg *config.Config, accessSecret, refreshSecret []byte) *auth.TokenService {
	return auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  accessSecret,
		RefreshSecret: refreshSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		Issuer:        cfg.JWTIssuer,
	})
}

// newServer wires middleware, domain services and routes onto a fresh echo
// instance. Background work started here stops when ctx is cancelled.
func newServer(ctx context.Context, d deps) *echo.Echo {
	cfg := d.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(d.logger)

	ipExtractor, err := middleware.ClientIP(cfg.TrustedProxies)
	if err != nil {
		d.logger.Warn().Err(err).Msg("ignoring TRUSTED_PROXIES, using peer address")
		ipExtractor = echo.ExtractIPDirect()
	}
	e.IPExtractor = ipExtractor

	metrics := middleware.NewMetrics(d.registry)

	// Global middleware
	e.Use(middleware.Recovery(d.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(d.logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.OriginCheck(cfg.CORSOrigins, auth.AccessCookieName))
	e.Use(middleware.RateLimit(ctx, middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           5 * time.Minute,
	}))
	e.Use(middleware.RequestTimeout(requestTimeout))
	e.Use(audit.Capture())

	cacheCfg := cache.DefaultConfig()
	if cfg.CacheTTL > 0 {
		cacheCfg.TTL = cfg.CacheTTL
	}
	e.Use(cache.Middleware(d.cache, cacheCfg, d.logger))

	// Operational endpoints
	e.GET("/healthz", db.LivenessHandler())
	e.GET("/health/db", db.HealthHandler(d.pool))
	e.GET("/metrics", middleware.MetricsHandler(d.registry))

	// Repositories
	tx := db.NewTransactor(d.pool)
	userRepo := identity.NewUserRepo(d.pool)
	doctorRepo := doctor.NewRepo(d.pool)
	scheduleRepo := scheduling.NewScheduleRepo(d.pool)
	appointmentRepo := scheduling.NewAppointmentRepo(d.pool)
	recordRepo := medical.NewRepo(d.pool)
	analyticsRepo := analytics.NewRepo(d.pool)

	// Services
	identitySvc := identity.NewService(userRepo, d.sink)
	doctorSvc := doctor.NewService(doctorRepo, userRepo, tx, d.sink, doctor.Config{
		AllowDoctorProfileUpdate: cfg.AllowDoctorProfileUpdate,
	})
	schedulingSvc := scheduling.NewService(scheduleRepo, appointmentRepo, d.sink, d.publisher, scheduling.Config{
		AllowDoctorAppointmentStatusUpdate: cfg.AllowDoctorAppointmentStatusUpdate,
	}, d.logger)
	medicalSvc := medical.NewService(recordRepo, appointmentRepo, d.sink, d.publisher, medical.Config{
		AllowAdminMedicalRecordWrite: cfg.AllowAdminMedicalRecordWrite,
	}, d.logger)
	analyticsSvc := analytics.NewService(analyticsRepo)

	cookies := auth.NewCookies(auth.CookieConfig{
		Secure:     cfg.CookieSecure,
		SameSite:   auth.ParseSameSite(cfg.CookieSameSite),
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})
	session := auth.OptionalSession(d.tokens, identitySvc)

	// WebSocket: accounts are re-checked on subscribe and periodically.
	websocket.NewHandler(d.hub, cfg.CORSOrigins, d.logger).
		WithIdentityLoader(identitySvc).
		RegisterRoutes(e, session)
	go d.hub.RunRevalidation(ctx, identitySvc, wsRevalidateInterval)

	// API
	apiV1 := e.Group("/api/v1", session)
	identity.NewHandler(identitySvc, d.tokens, cookies).RegisterRoutes(apiV1)
	doctor.NewHandler(doctorSvc).RegisterRoutes(apiV1)
	scheduling.NewHandler(schedulingSvc).RegisterRoutes(apiV1)
	medical.NewHandler(medicalSvc).RegisterRoutes(apiV1)
	analytics.NewHandler(analyticsSvc).RegisterRoutes(apiV1)
	audit.NewHandler(d.auditLogs).RegisterRoutes(apiV1)

	return e
}

// resolveSecret returns the configured secret, or a random one in
// development. The second return value is true when a key was generated.
func resolveSecret(value string, dev bool) ([]byte, bool, error) {
	if value != "" {
		return []byte(value), false, nil
	}
	if !dev {
		return nil, false, fmt.Errorf("secret is required outside development")
	}
	key := make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate random signing key: %w", err)
	}
	return []byte(hex.EncodeToString(key)), true, nil
}

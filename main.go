package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/keygate/keygate-server/src/config"
	"github.com/keygate/keygate-server/src/database"
	"github.com/keygate/keygate-server/src/handlers"
	"github.com/keygate/keygate-server/src/logging"
	"github.com/keygate/keygate-server/src/middleware"
	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/repositories"
	"github.com/keygate/keygate-server/src/repositories/memory"
	"github.com/keygate/keygate-server/src/repositories/postgres"
	"github.com/keygate/keygate-server/src/services"
)

const version = "1.0.0"

// stores bundles one backend's repositories
type stores struct {
	name     string
	keys     repositories.KeyStore
	tokens   repositories.TokenIndex
	audit    repositories.AuditLog
	events   repositories.EventLog
	funnel   repositories.FunnelConfigStore
	settings repositories.SettingsStore
	scripts  repositories.ScriptStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	log.Info().
		Int("port", cfg.Port).
		Str("log_level", cfg.LogLevel).
		Bool("memory_mode", cfg.MemoryMode()).
		Msg("starting server")

	// Storage
	var db *database.Database
	var st stores
	if cfg.MemoryMode() {
		st = stores{
			name:     "memory",
			keys:     memory.NewKeyStore(),
			tokens:   memory.NewTokenIndex(),
			audit:    memory.NewAuditLog(cfg.AuditLogCapacity),
			events:   memory.NewEventLog(cfg.EventLogCapacity),
			funnel:   memory.NewFunnelConfigStore(),
			settings: memory.NewSettingsStore(),
			scripts:  memory.NewScriptStore(),
		}
		log.Warn().Msg("DATABASE_URL not set, state is kept in memory and lost on restart")
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		db, err = database.New(ctx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize database")
		}
		defer db.Close()

		pool := db.GetPool()
		st = stores{
			name:     "postgres",
			keys:     postgres.NewKeyStore(pool),
			tokens:   postgres.NewTokenIndex(pool),
			audit:    postgres.NewAuditLog(pool),
			events:   postgres.NewEventLog(pool),
			funnel:   postgres.NewFunnelConfigStore(pool),
			settings: postgres.NewSettingsStore(pool),
			scripts:  postgres.NewScriptStore(pool),
		}
		log.Info().Msg("database connected")
	}

	// Rate limiting state
	var counter middleware.WindowCounter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		client := redis.NewClient(opts)
		defer client.Close()
		counter = middleware.NewRedisWindowCounter(client)
		log.Info().Str("addr", opts.Addr).Msg("rate limiting backed by redis")
	} else {
		mc := middleware.NewMemoryWindowCounter()
		defer mc.Stop()
		counter = mc
	}

	adminAuth, err := middleware.NewAdminAuth(cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize admin sessions")
	}
	adminService, err := services.NewAdminService(cfg.AdminUsername, cfg.AdminPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize admin credentials")
	}
	if !adminService.Enabled() {
		log.Warn().Msg("ADMIN_PASSWORD not set, admin login disabled")
	}

	analyticsService, err := services.NewAnalyticsService(services.AnalyticsConfig{
		PostHogAPIKey: cfg.PostHogAPIKey,
		PostHogHost:   cfg.PostHogHost,
		Enabled:       cfg.PostHogEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize analytics service")
	}
	defer analyticsService.Close()

	if analyticsService.Enabled() {
		log.Info().Str("host", cfg.PostHogHost).Msg("PostHog analytics enabled")
	} else {
		log.Info().Msg("PostHog analytics disabled")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// The webhook target can change at runtime, so the worker always runs.
	notifier := services.NewWebhookNotifier(cfg.DiscordWebhookURL, 100)
	notifier.Start(ctx)
	defer notifier.Stop()

	var fixedDefaults []models.StepGroup
	if cfg.CheckpointsJSON != "" {
		fixedDefaults, err = services.ParseConfig([]byte(cfg.CheckpointsJSON))
		if err != nil {
			log.Fatal().Err(err).Msg("invalid checkpoint configuration")
		}
	}

	// Services
	keyService := services.NewKeyService(st.keys, st.tokens, st.audit, st.events)
	funnelService := services.NewFunnelService(st.funnel, st.events, fixedDefaults)
	scriptService := services.NewScriptService(st.scripts)
	settingsService := services.NewSettingsService(st.settings, models.RuntimeSettings{
		WorkinkLink:       cfg.WorkinkLink,
		YouTubeChannel:    cfg.YouTubeChannel,
		DiscordWebhookURL: cfg.DiscordWebhookURL,
	})
	settingsService.OnChange(func(s models.RuntimeSettings) {
		notifier.SetURL(s.DiscordWebhookURL)
		if fixedDefaults == nil {
			funnelService.SetDefaults(services.DefaultGroups(s.YouTubeChannel, s.WorkinkLink))
		}
	})
	loadCtx, cancelLoad := context.WithTimeout(ctx, 10*time.Second)
	err = settingsService.Load(loadCtx)
	cancelLoad()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load runtime settings")
	}
	issuanceService := services.NewIssuanceService(st.keys, st.tokens, st.events,
		services.NewWorkinkVerifier(cfg.WorkinkVerifyURL), notifier, analyticsService, cfg.KeyTTL)
	validationService := services.NewValidationService(st.keys, st.tokens, st.audit, st.events, analyticsService)
	statsService := services.NewStatsService(st.name, st.keys, st.audit, st.events)
	cleanupService := services.NewCleanupService(keyService, cfg.EnableExpirySweep, cfg.SweepInterval)

	cleanupService.Start(ctx)

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Fatal().Err(err).Msg("invalid TRUSTED_PROXIES")
	}

	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware())
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	var health handlers.HealthChecker
	if db != nil {
		health = db
	}

	setupRoutes(router, routeDeps{
		health:    handlers.NewHealthHandler(health, st.name, version),
		check:     handlers.NewCheckHandler(validationService),
		funnel:    handlers.NewFunnelHandler(funnelService, issuanceService, analyticsService, settingsService),
		admin:     handlers.NewAdminHandler(keyService, issuanceService, funnelService, adminService, adminAuth),
		stats:     handlers.NewStatsHandler(statsService),
		scripts:   handlers.NewScriptHandler(scriptService),
		settings:  handlers.NewSettingsHandler(settingsService),
		adminAuth: adminAuth,
		counter:   counter,
		cfg:       cfg,
	})

	srv := &http.Server{
		Addr:              ":" + formatPort(cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	cleanupService.Stop()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server shut down successfully")
}

type routeDeps struct {
	health    *handlers.HealthHandler
	check     *handlers.CheckHandler
	funnel    *handlers.FunnelHandler
	admin     *handlers.AdminHandler
	stats     *handlers.StatsHandler
	scripts   *handlers.ScriptHandler
	settings  *handlers.SettingsHandler
	adminAuth *middleware.AdminAuth
	counter   middleware.WindowCounter
	cfg       *config.Config
}

func setupRoutes(router *gin.Engine, d routeDeps) {
	limit := func(route string, n int) gin.HandlerFunc {
		return middleware.NewRateLimitingMiddleware(d.counter, middleware.RateLimitConfig{
			Route:  route,
			Limit:  n,
			Window: d.cfg.RateLimitWindow,
		})
	}
	defaultLimit := d.cfg.RateLimitDefault
	strictLimit := d.cfg.RateLimitStrict

	// Health and metrics
	router.GET("/health", d.health.HandleHealth)
	router.GET("/ready", d.health.HandleReady)
	router.GET("/info", d.health.HandleInfo)
	router.GET("/stats", d.stats.HandleSummary)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Funnel
	router.GET("/gate", limit("gate", defaultLimit), d.funnel.HandleGate)
	router.GET("/get-key", limit("get-key", strictLimit), d.funnel.HandleGetKey)
	router.POST("/funnel/advance", limit("funnel-advance", strictLimit), d.funnel.HandleAdvance)
	router.GET("/workink-return", limit("workink-return", strictLimit), d.funnel.HandleWorkinkReturn)

	// Validation
	router.GET("/check", limit("check", defaultLimit), d.check.HandleCheck)

	// Hosted scripts
	router.GET("/script.lua", limit("script", defaultLimit), d.scripts.HandleActiveScript)
	router.GET("/s/:token", limit("script-token", defaultLimit), d.scripts.HandleScriptByToken)

	// Admin session
	router.POST("/admin/login", limit("admin-login", strictLimit), d.admin.HandleAdminLogin)
	router.POST("/admin/logout", d.admin.HandleAdminLogout)
	router.GET("/admin/status", d.admin.HandleAdminStatus)

	admin := router.Group("/admin")
	admin.Use(d.adminAuth.Middleware())
	{
		admin.GET("/keys", d.admin.HandleListKeys)
		admin.POST("/keys", d.admin.HandleCreateKey)
		admin.POST("/keys/delete-expired", d.admin.HandleDeleteExpired)
		admin.GET("/keys/:key", d.admin.HandleGetKey)
		admin.POST("/keys/:key/deactivate", d.admin.HandleDeactivateKey)
		admin.POST("/keys/:key/extend", d.admin.HandleExtendKey)
		admin.DELETE("/keys/:key", d.admin.HandleDeleteKey)

		admin.GET("/funnel", d.admin.HandleGetFunnel)
		admin.PUT("/funnel", d.admin.HandleUpdateFunnel)

		admin.GET("/logs", d.admin.HandleLogs)
		admin.POST("/clear-logs", d.admin.HandleClearLogs)
		admin.POST("/clear-all", d.admin.HandleClearAll)
		admin.GET("/stats", d.stats.HandleAdminStats)

		admin.GET("/config", d.settings.HandleGetConfig)
		admin.PUT("/config", d.settings.HandleUpdateConfig)

		admin.GET("/scripts", d.scripts.HandleListScripts)
		admin.POST("/scripts", d.scripts.HandleCreateScript)
		admin.POST("/scripts/deactivate", d.scripts.HandleDeactivateScripts)
		admin.GET("/scripts/:id", d.scripts.HandleGetScript)
		admin.PUT("/scripts/:id", d.scripts.HandleUpdateScript)
		admin.DELETE("/scripts/:id", d.scripts.HandleDeleteScript)
		admin.POST("/scripts/:id/activate", d.scripts.HandleActivateScript)
		admin.GET("/download-script", d.scripts.HandleDownloadScript)
	}
}

// corsConfig allows the configured admin UI origins. An empty list allows
// same-origin requests only.
func corsConfig(allowed string) cors.Config {
	origins := map[string]bool{}
	for _, o := range strings.Split(allowed, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = true
		}
	}
	return cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return origins[origin]
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
}

func formatPort(port int) string {
	return fmt.Sprintf("%d", port)
}

package main

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/linkos-dev/linkos/internal/analytics"
	"github.com/linkos-dev/linkos/internal/auth"
	"github.com/linkos-dev/linkos/internal/binding"
	"github.com/linkos-dev/linkos/internal/config"
	"github.com/linkos-dev/linkos/internal/database"
	"github.com/linkos-dev/linkos/internal/domainpool"
	poolapi "github.com/linkos-dev/linkos/internal/domainpool/api"
	"github.com/linkos-dev/linkos/internal/healthcheck"
	"github.com/linkos-dev/linkos/internal/livecode"
	lcapi "github.com/linkos-dev/linkos/internal/livecode/api"
	"github.com/linkos-dev/linkos/internal/metrics"
	"github.com/linkos-dev/linkos/internal/middleware"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setLogLevel(cfg.Logging.Level)

	ctx := context.Background()

	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure database schema")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	var visits *analytics.Recorder
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, visit analytics disabled")
	} else {
		visits = analytics.NewRecorder(rdb)
	}

	bindings := binding.NewPgStore(db)
	pool := domainpool.NewManager(domainpool.NewPgStore(db)).WithBindingCleaner(bindings)
	if cfg.Pool.SeedFile != "" {
		if err := pool.SeedFromFile(ctx, cfg.Pool.SeedFile); err != nil {
			log.Error().Err(err).Str("file", cfg.Pool.SeedFile).Msg("failed to seed domain pool")
		}
	}

	codes := livecode.NewService(livecode.NewPgStore(db), pool, bindings,
		cfg.Pool.AdminDomain, cfg.Auth.UnbindConfirmCode)
	if visits != nil {
		codes.WithVisitRecorder(visits)
	}

	scheduler := healthcheck.NewScheduler(pool, healthcheck.NewProber())
	schedCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go scheduler.Run(schedCtx)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	requireAuth := middleware.RequireAuth(cfg.Auth.JWTSecret)
	auth.NewAuthApi(router, &cfg.Auth)
	poolapi.NewDomainPoolApi(router, requireAuth, pool, scheduler, bindings)
	lcapi.NewLiveCodeApi(router, requireAuth, codes)

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/health", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(503, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	log.Info().Str("addr", cfg.Server.BindAddr).Msg("linkos server starting")
	if err := router.Run(cfg.Server.BindAddr); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

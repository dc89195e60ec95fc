package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/dronexam-api/api/swagger"
	"github.com/noah-isme/dronexam-api/internal/handler"
	"github.com/noah-isme/dronexam-api/internal/middleware"
	"github.com/noah-isme/dronexam-api/internal/models"
	"github.com/noah-isme/dronexam-api/internal/repository"
	"github.com/noah-isme/dronexam-api/internal/service"
	"github.com/noah-isme/dronexam-api/pkg/cache"
	"github.com/noah-isme/dronexam-api/pkg/clock"
	"github.com/noah-isme/dronexam-api/pkg/config"
	"github.com/noah-isme/dronexam-api/pkg/database"
	"github.com/noah-isme/dronexam-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/dronexam-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/dronexam-api/pkg/middleware/requestid"
	"github.com/noah-isme/dronexam-api/pkg/qrtoken"
)

// @title Drone-Pilot Examination API
// @version 1.0.0
// @description Scheduling and check-in engine of the drone-pilot examination center.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 10 * time.Second

// appContext holds the long-lived collaborators of the server.
type appContext struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sqlx.DB
	cache  *repository.CacheRepository

	metrics    *service.MetricsService
	dispatcher *service.EventDispatcher
	hub        *service.BoardHub
	sweeper    *service.NoShowSweeper

	verifier  *service.PrincipalVerifier
	scheduler *handler.SchedulerHandler
	checkin   *handler.CheckInHandler
	venues    *handler.VenueHandler
	probes    *handler.MetricsHandler
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newAppContext(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("failed to initialise application", zap.Error(err))
	}
	defer app.close()

	app.dispatcher.Start(ctx)
	go app.hub.Run(ctx)
	if err := app.sweeper.Start(); err != nil {
		logr.Fatal("failed to start no-show sweeper", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server shutdown failed", zap.Error(err))
	}
	app.sweeper.Stop()
	app.dispatcher.Stop()
}

func newAppContext(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*appContext, error) {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	app := &appContext{cfg: cfg, logger: logr, db: db}

	var relay service.BoardRelay
	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, board cache and relay disabled", zap.Error(err))
		app.cache = repository.NewCacheRepository(nil, logr)
	} else {
		app.cache = repository.NewCacheRepository(redisClient, logr)
		relay = app.cache
	}

	ring, err := qrtoken.NewRing(cfg.Token.Secret, cfg.Token.PreviousSecrets...)
	if err != nil {
		return nil, fmt.Errorf("token key ring: %w", err)
	}
	codec, err := qrtoken.NewCodec(ring, cfg.Token.TTL, cfg.Token.ClockSkew)
	if err != nil {
		return nil, fmt.Errorf("token codec: %w", err)
	}

	clk := clock.Real()
	store := repository.NewPostgresStore(db)
	validate := validator.New()

	app.metrics = service.NewMetricsService()
	app.dispatcher = service.NewEventDispatcher(service.EventDispatcherConfig{Workers: cfg.Events.Workers}, app.metrics, logr.Named("events"))
	boardCache := service.NewCacheService(app.cache, app.metrics, cfg.Board.CacheTTL, logr, cfg.Board.CacheEnabled && app.cache.Enabled())
	app.hub = service.NewBoardHub(relay, logr.Named("board"))

	app.dispatcher.Subscribe("metrics", func(_ context.Context, event models.Event) error {
		app.metrics.HandleEvent(event)
		return nil
	})
	// Streams refetch on notice, so the cached snapshot must be gone first.
	app.dispatcher.Subscribe("board", func(ctx context.Context, event models.Event) error {
		if err := boardCache.InvalidateLanes(ctx, event.Lanes()...); err != nil {
			logr.Warn("board cache invalidation failed", zap.String("event", string(event.Type)), zap.Error(err))
		}
		return app.hub.HandleEvent(ctx, event)
	})

	retry := service.RetryPolicy{MaxRetries: cfg.Engine.MaxRetries, BaseDelay: cfg.Engine.RetryBaseDelay, Logger: logr}
	guard := service.NewAccessGuard(nil, app.dispatcher, clk, logr)
	scheduler := service.NewSchedulerService(store, guard, app.dispatcher, clk, retry, validate, logr)
	checkin := service.NewCheckInService(store, codec, guard, app.dispatcher, clk, retry, service.CheckInConfig{EarlyWindow: cfg.Engine.CheckInEarlyWindow}, logr)
	queries := service.NewScheduleQueryService(store, guard, validate, logr)
	boards := service.NewQueueView(store, guard, boardCache, clk, logr)
	rosters := service.NewRosterService(store, guard, logr)

	sweepSpec := cfg.Sweeper.Cron
	if sweepSpec == "" {
		sweepSpec = "off"
	}
	app.sweeper = service.NewNoShowSweeper(store, checkin, clk, sweepSpec, logr)

	app.verifier = service.NewPrincipalVerifier(cfg.JWT.Secret, cfg.JWT.Issuer)
	app.scheduler = handler.NewSchedulerHandler(scheduler, queries)
	app.checkin = handler.NewCheckInHandler(checkin)
	app.venues = handler.NewVenueHandler(boards, rosters, app.hub, corsmiddleware.Origins(cfg.CORS.AllowedOrigins), logr.Named("stream"))
	app.probes = handler.NewMetricsHandler(app.metrics, map[string]handler.Pinger{
		"database": store,
		"redis":    app.cache,
	})
	return app, nil
}

func (a *appContext) router() *gin.Engine {
	if a.cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(a.logger))
	r.Use(corsmiddleware.New(a.cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(a.metrics))

	r.GET("/health", a.probes.Health)
	r.GET("/ready", a.probes.Ready)
	r.GET("/metrics", a.probes.Prometheus)
	if a.cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(a.cfg.APIPrefix)
	api.Use(middleware.JWT(a.verifier), middleware.Audit(a.logger))

	// Long-lived websocket, outside the per-request deadline.
	api.GET("/venues/:id/board/stream", a.venues.Stream)

	timed := api.Group("")
	timed.Use(middleware.Timeout(a.cfg.Engine.RequestTimeout))

	timed.POST("/schedules/batch", a.scheduler.Batch)
	timed.GET("/schedules", a.scheduler.List)
	timed.GET("/schedules/:id", a.scheduler.Get)
	timed.POST("/schedules/:id/in-progress", a.checkin.InProgress)
	timed.POST("/schedules/:id/complete", a.checkin.Complete)
	timed.POST("/schedules/:id/no-show", a.checkin.NoShow)
	timed.POST("/schedules/:id/cancel", a.checkin.CancelSchedule)
	timed.GET("/schedules/:id/token", a.checkin.Token)
	timed.GET("/schedules/:id/qr", a.checkin.QR)

	timed.GET("/candidates/pending", a.scheduler.Pending)
	timed.POST("/candidates/:id/cancel", a.checkin.CancelCandidate)

	timed.POST("/checkin/scan", a.checkin.Scan)
	timed.POST("/checkin/batch-scan", a.checkin.BatchScan)

	timed.GET("/venues/:id/board", a.venues.Board)
	timed.GET("/venues/:id/roster", a.venues.Roster)

	return r
}

func (a *appContext) close() {
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("failed to close redis", zap.Error(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
}

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"campus-election-backend/auth"
	"campus-election-backend/cache"
	"campus-election-backend/config"
	"campus-election-backend/database"
	"campus-election-backend/handlers"
	"campus-election-backend/logger"
	"campus-election-backend/migrations"
	"campus-election-backend/mq"
	"campus-election-backend/repository"
	"campus-election-backend/routes"
	"campus-election-backend/scheduler"
	"campus-election-backend/service"
	"campus-election-backend/websocket"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	l, err := logger.New(cfg.Log, cfg.IsDevelopment())
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = l.Sync() }()
	zap.ReplaceGlobals(l)

	db, err := database.Open(cfg.DB, logger.Gorm(l.Named("gorm"), cfg.DB.LogLevel))
	if err != nil {
		l.Fatal("open database", zap.Error(err))
	}
	if err := migrations.Run(db); err != nil {
		l.Fatal("migrate database", zap.Error(err))
	}
	l.Info("database ready", zap.String("driver", cfg.DB.Driver))

	_ = cache.InitRedis(cfg.Redis)
	var client *redis.Client
	if !cache.MockMode() {
		client, _ = cache.GetClient()
	}

	// Redis-only collaborators stay untyped nil without a client
	var (
		filter      repository.ExistenceFilter
		resetter    handlers.FilterResetter
		limiterRDB  cache.RedisClient
		locker      scheduler.Locker
		statusStore scheduler.StatusStore = scheduler.NewMemoryStatusStore()
	)
	if client != nil {
		bloom := cache.NewElectionFilter(client)
		filter, resetter, limiterRDB = bloom, bloom, client
		locker = cache.NewLockService(client)
		statusStore = scheduler.NewRedisStatusStore(client)
	}

	bus, err := mq.NewEventBus(cfg.MQ, cfg.RocketMQ, client, mq.StoreSink(
		repository.NewNotificationRepository(db),
		repository.NewAuditRepository(db),
	))
	if err != nil {
		l.Fatal("start event bus", zap.Error(err))
	}

	hub := websocket.NewHub(l.Named("hub"))
	go hub.Run()

	dispatcher := service.NewDispatcher(bus, bus, hub, l.Named("dispatcher"))
	deps := service.NewDeps(db, filter, nil, dispatcher, l)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := deps.Elections.WarmFilter(ctx); err != nil {
		l.Warn("warming election filter failed, lookups bypass it", zap.Error(err))
	}
	cancel()

	registry := service.NewElectionRegistry(deps)
	router := routes.SetupRouter(cfg, routes.Dependencies{
		Registry: registry,
		Gate:     service.NewCandidacyGate(deps),
		Box:      service.NewBallotBox(deps),
		Results:  service.NewResultsPublisher(deps),
		Notices:  service.NewNoticeBoard(deps),
		Trail:    service.NewAuditTrail(deps),
		Tokens:   auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL),
		Hub:      hub,
		Health:   handlers.NewHealth(db, bus, func() bool { return !cache.MockMode() }, version),
		Limiter:  handlers.NewRateLimiter(cfg.RateLimit, limiterRDB, l.Named("ratelimit")),
		Cache:    handlers.NewCache(resetter, deps.Elections, l.Named("cache")),
		Logger:   l,
	})

	sched := scheduler.New(l.Named("scheduler"))
	sweep := scheduler.NewLifecycleSweep(registry, statusStore, dispatcher, deps.Clock, locker, cfg.Scheduler.LockExpiry, l.Named("lifecycle"))
	jobs := []scheduler.Job{
		{Name: "lifecycle_sweep", Schedule: cfg.Scheduler.LifecycleSpec, Timeout: cfg.Scheduler.LockExpiry, Run: sweep.Run},
		{Name: "dead_letter_retry", Schedule: cfg.Scheduler.DeadLetterSpec, Run: scheduler.RetryDeadLetters(bus, l.Named("dead_letters"))},
	}
	for _, j := range jobs {
		if err := sched.Add(j); err != nil {
			l.Fatal("schedule job", zap.Error(err))
		}
	}
	sched.Start()

	srv := routes.StartServer(cfg.Server, router, l)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	l.Info("shutting down")

	if err := srv.Stop(cfg.Server.ShutdownTimeout); err != nil {
		l.Error("server forced to stop", zap.Error(err))
	}
	sched.Stop()
	hub.Stop()
	bus.Close()
	cache.CloseRedis()
	database.Close(db)
	l.Info("shutdown complete")
}

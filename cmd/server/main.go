package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"identity-gateway/internal/auth"
	"identity-gateway/internal/config"
	apphttp "identity-gateway/internal/http"
	"identity-gateway/internal/metrics"
	"identity-gateway/internal/repository/sqlite"
	"identity-gateway/internal/scheduler"
	"identity-gateway/internal/service"
	"identity-gateway/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.SetLevel(cfg.LogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	accountRepo := sqlite.NewAccountRepository(db)
	changeRepo := sqlite.NewUserChangeRepository(db)

	if err := accountRepo.Init(ctx); err != nil {
		logger.Fatalf("init account repository: %v", err)
	}
	if err := changeRepo.Init(ctx); err != nil {
		logger.Fatalf("init user change repository: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		Secret: []byte(cfg.Auth.JWTSecret),
		TTL:    cfg.TokenTTL(),
	})
	if err != nil {
		logger.Fatalf("setup token codec: %v", err)
	}
	gate := auth.NewGate(codec, accountRepo, logger, m)

	storageSvc, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}

	sched := scheduler.New(scheduler.Config{
		Workers:  cfg.Scheduler.Workers,
		Logger:   logger,
		Observer: m,
	})
	if err := sched.Start(ctx); err != nil {
		logger.Fatalf("start scheduler: %v", err)
	}

	locks := service.NewAccountLocks()
	auditService := service.NewAuditService(accountRepo, changeRepo, storageSvc, service.ArchiveOptions{
		Bucket:    cfg.Storage.Bucket,
		KeyPrefix: cfg.Storage.KeyPrefix,
	}, m)

	lifecycleOpts := []service.LifecycleOption{
		service.WithLifecycleLogger(logger),
		service.WithLifecycleObserver(m),
	}
	if unit, ok := service.ParseTimeUnit(cfg.Timeout.DefaultUnit); ok {
		lifecycleOpts = append(lifecycleOpts, service.WithDefaultTimeout(cfg.Timeout.DefaultDuration, unit))
	} else {
		logger.Warnf("unknown default timeout unit %q, keeping built-in default", cfg.Timeout.DefaultUnit)
	}
	lifecycleService := service.NewLifecycleService(accountRepo, auditService, locks, sched, lifecycleOpts...)
	accountService := service.NewAccountService(accountRepo, auditService, codec, locks)

	if _, err := lifecycleService.Resume(ctx); err != nil {
		logger.Warnf("resume account timeouts: %v", err)
	}

	sweeper, err := scheduler.NewSweeper(cfg.Scheduler.SweepSpec, lifecycleService.ReenableExpired, logger)
	if err != nil {
		logger.Fatalf("setup sweeper: %v", err)
	}
	sweeper.RunOnce(ctx)
	if err := sweeper.Start(ctx); err != nil {
		logger.Fatalf("start sweeper: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(
		accountService,
		lifecycleService,
		auditService,
		gate,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		logger,
	)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	sweeper.Stop()
	sched.Shutdown()

	logger.Info("bye")
}

// buildStorage returns nil when no bucket is configured; audit exports are then disabled.
func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		logger.Info("storage bucket not configured, audit archive disabled")
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}

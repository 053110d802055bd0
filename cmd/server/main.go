// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/checkout-backend/internal/config"
	"github.com/javajoker/checkout-backend/internal/database"
	"github.com/javajoker/checkout-backend/internal/i18n"
	"github.com/javajoker/checkout-backend/internal/lock"
	"github.com/javajoker/checkout-backend/internal/metrics"
	"github.com/javajoker/checkout-backend/internal/provider"
	"github.com/javajoker/checkout-backend/internal/repository"
	"github.com/javajoker/checkout-backend/internal/router"
	"github.com/javajoker/checkout-backend/internal/services"
)

func main() {
	log := logrus.New()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	configureLogger(log, cfg.Log)

	// Initialize i18n
	if err := i18n.Initialize(cfg.I18n.DefaultLocale); err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	store, closeStore, err := openStore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize store")
	}
	defer closeStore()

	locker, closeLocker, err := openLocker(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize locker")
	}
	defer closeLocker()

	archive, err := services.NewEventArchive(cfg.AWS)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize event archive")
	}

	paymentProvider := newProvider(cfg)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Initialize services
	caches := services.NewPurchaseCaches(cfg.Cache)
	metrics.RegisterCache(registry, "purchases", caches.Purchases.Stats)
	metrics.RegisterCache(registry, "products", caches.Products.Stats)
	purchaseService := services.NewPurchaseService(store, caches, log)
	couponService := services.NewCouponService(store, purchaseService, log)
	reconciler := services.NewReconcilerService(store, purchaseService, couponService, paymentProvider, archive, m, cfg.Reconciler, log)
	paymentService := services.NewPaymentService(store, purchaseService, couponService, reconciler, paymentProvider, locker, m, cfg, log)

	sweeper, err := services.NewSweeper(reconciler, cfg.Reconciler.SweepInterval(), locker, m, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize sweeper")
	}
	sweeper.Start()

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize router
	r := router.Initialize(router.Dependencies{
		Config:       cfg,
		Audit:        store,
		Purchases:    purchaseService,
		Coupons:      couponService,
		Payments:     paymentService,
		Reconciler:   reconciler,
		Admin:        services.NewAdminService(store, sweeper, purchaseService),
		ProviderName: paymentProvider.Name(),
		Gatherer:     registry,
		Log:          log,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// Create a deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sweeper.Shutdown(); err != nil {
		log.WithError(err).Warn("Sweeper did not stop cleanly")
	}

	// Shutdown server
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Server exited")
}

func configureLogger(log *logrus.Logger, cfg config.LogConfig) {
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		log.WithField("level", cfg.Level).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
}

func openStore(cfg *config.Config, log *logrus.Logger) (repository.Store, func(), error) {
	if cfg.Database.Driver == "memory" {
		log.Warn("Using the in-memory store; data is lost on restart")
		return repository.NewMemoryStore(), func() {}, nil
	}

	// Initialize database
	db, err := database.Initialize(cfg.Database, log)
	if err != nil {
		return nil, nil, err
	}

	// Run database migrations
	if err := database.RunMigrations(db, log); err != nil {
		database.Close(db, log)
		return nil, nil, err
	}
	return repository.NewGormStore(db), func() { database.Close(db, log) }, nil
}

func openLocker(cfg *config.Config, log *logrus.Logger) (lock.Locker, func(), error) {
	opts := lock.Options{WaitFor: time.Duration(cfg.Payment.CreationWaitMillis) * time.Millisecond}
	if !cfg.Redis.Enabled {
		log.Info("Redis disabled; creation locks are process-local")
		return lock.NewLocalLocker(opts), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return lock.NewRedisLocker(client, "checkout:lock:", opts), func() { client.Close() }, nil
}

func newProvider(cfg *config.Config) provider.Provider {
	if cfg.Payment.Provider == "stripe" {
		return provider.NewStripe(provider.StripeConfig{
			TestSecretKey: cfg.Payment.StripeTestSecretKey,
			LiveSecretKey: cfg.Payment.StripeLiveSecretKey,
			WebhookSecret: cfg.Payment.StripeWebhookSecret,
		})
	}
	return provider.NewSandbox(cfg.Frontend.BaseURL+"/sandbox", cfg.Payment.SandboxSecret)
}

// internal/router/router.go
package router

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/javajoker/checkout-backend/internal/config"
	"github.com/javajoker/checkout-backend/internal/handlers"
	"github.com/javajoker/checkout-backend/internal/middleware"
	"github.com/javajoker/checkout-backend/internal/services"
	"github.com/javajoker/checkout-backend/internal/signals"
	"github.com/javajoker/checkout-backend/internal/utils"
)

// Dependencies is everything the HTTP surface needs, built once in main.
type Dependencies struct {
	Config       *config.Config
	Audit        middleware.AuditWriter
	Purchases    *services.PurchaseService
	Coupons      *services.CouponService
	Payments     *services.PaymentService
	Reconciler   *services.ReconcilerService
	Admin        *services.AdminService
	ProviderName string
	Gatherer     prometheus.Gatherer
	Log          logrus.FieldLogger
}

func Initialize(deps Dependencies) *gin.Engine {
	cfg := deps.Config

	// Initialize handlers
	cartHandler := handlers.NewCartHandler(deps.Purchases)
	couponHandler := handlers.NewCouponHandler(deps.Coupons)
	paymentHandler := handlers.NewPaymentHandler(deps.Payments, signals.NewDispatcher(deps.Reconciler, deps.Log), deps.Log)
	webhookHandler := handlers.NewWebhookHandler(deps.Reconciler, deps.ProviderName)
	adminHandler := handlers.NewAdminHandler(deps.Admin)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	limiter := middleware.NewRateLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(deps.Log))
	r.Use(cors.New(corsConfig(cfg)))
	r.Use(middleware.I18nMiddleware(cfg.I18n.DefaultLocale))
	r.Use(middleware.AuditLogMiddleware(deps.Audit, deps.Log))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Provider callbacks carry their own signature and no user
		v1.POST("/webhooks/:provider", webhookHandler.HandleProviderCallback)

		owned := v1.Group("")
		owned.Use(middleware.ResolveOwner(), limiter.Middleware())

		cart := owned.Group("/cart")
		{
			cart.GET("", cartHandler.GetCart)
			cart.POST("", cartHandler.AddToCart)
			cart.DELETE("/:id", cartHandler.RemoveFromCart)
		}
		owned.GET("/purchases", cartHandler.GetPurchases)

		owned.POST("/coupons/apply", couponHandler.ApplyCoupon)

		payments := owned.Group("/payments")
		{
			payments.POST("/intent", paymentHandler.CreatePaymentIntent)
			payments.POST("/confirm/:transactionId", paymentHandler.ConfirmPayment)
			payments.POST("/update-status", paymentHandler.UpdateStatus)
			payments.POST("/refund", middleware.AdminRequired(), paymentHandler.ProcessRefund)
			payments.GET("/:transactionId", paymentHandler.GetPaymentStatus)
			payments.POST("/:transactionId/surface-events", paymentHandler.SurfaceEvent)
		}

		admin := owned.Group("/admin")
		admin.Use(middleware.AdminRequired())
		{
			admin.GET("/audit-logs", adminHandler.GetAuditLogs)
			admin.GET("/payments/pending", adminHandler.GetPendingPayments)
			admin.POST("/sweeps", adminHandler.RunSweep)
			admin.DELETE("/cache/products", adminHandler.FlushProductCache)
		}
	}

	return r
}

func corsConfig(cfg *config.Config) cors.Config {
	c := cors.DefaultConfig()
	c.AllowOrigins = []string{strings.TrimRight(cfg.Frontend.BaseURL, "/")}
	c.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "Accept-Language"}
	c.ExposeHeaders = []string{"X-Total-Count", "X-Page", "X-Per-Page", "X-Total-Pages"}
	c.AllowCredentials = true
	c.MaxAge = 12 * time.Hour
	return c
}

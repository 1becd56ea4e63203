package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/upshift01/upshift-sub003/config"
	"github.com/upshift01/upshift-sub003/handler"
	"github.com/upshift01/upshift-sub003/job"
	"github.com/upshift01/upshift-sub003/middleware"
	"github.com/upshift01/upshift-sub003/pkg/logger"
	"github.com/upshift01/upshift-sub003/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully")

	// Pick the store: Postgres when a DSN is configured, in-memory otherwise.
	var store service.Store
	if cfg.Database.DSN != "" {
		pg, err := service.NewPostgresStore(cfg.Database.DSN)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		store = pg
		slog.Info("using postgres store")
	} else {
		store = service.NewMemoryStore()
		slog.Warn("no database configured, using in-memory store")
	}

	// Deliverable storage is optional; without it the deliverable endpoints
	// report 503.
	var storage *service.DeliverableStorage
	if cfg.Minio.Endpoint != "" {
		storage, err = service.NewDeliverableStorage(&cfg.Minio)
		if err != nil {
			slog.Error("failed to initialize deliverable storage", "error", err)
			os.Exit(1)
		}
		if err := storage.EnsureBucket(context.Background()); err != nil {
			slog.Error("failed to ensure deliverable bucket", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("no object storage configured, deliverable endpoints disabled")
	}

	// Initialize services
	checkout := service.NewCheckoutClient(&cfg.Payments)
	payments := service.NewPaymentService(store, checkout, &cfg.Payments)
	contracts := service.NewContractService(store, payments)
	milestones := service.NewMilestoneService(store, payments)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(cfg)
	contractHandler := handler.NewContractHandler(contracts)
	milestoneHandler := handler.NewMilestoneHandler(milestones, contracts, storage)
	paymentHandler := handler.NewPaymentHandler(payments, checkout)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New() // Use New() instead of Default() to avoid default middleware

	// Add custom middleware
	router.Use(middleware.RequestID())                 // Request ID for tracing
	router.Use(middleware.Recovery())                  // Panic recovery
	router.Use(middleware.RequestLogger())             // Access logging
	router.Use(corsMiddleware())                       // CORS
	router.Use(middleware.RateLimit(100, time.Minute)) // Rate limiting: 100 requests per minute

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Public routes
	api := router.Group("/api")
	{
		api.POST("/auth/login", authHandler.Login)
		api.POST("/payments/webhook", paymentHandler.Webhook)
		api.GET("/payments/return", paymentHandler.Return)
	}

	// Protected routes
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)

		protected.POST("/contracts", contractHandler.Create)
		protected.GET("/contracts", contractHandler.List)
		protected.GET("/contracts/:id", contractHandler.Get)
		protected.POST("/contracts/:id/sign", contractHandler.Sign)
		protected.POST("/contracts/:id/complete", contractHandler.Complete)
		protected.POST("/contracts/:id/cancel", contractHandler.Cancel)
		protected.POST("/contracts/:id/pay", contractHandler.Pay)

		protected.POST("/contracts/:id/milestones/:mid/submit", milestoneHandler.Submit)
		protected.POST("/contracts/:id/milestones/:mid/approve", milestoneHandler.Approve)
		protected.POST("/contracts/:id/milestones/:mid/reject", milestoneHandler.Reject)
		protected.POST("/contracts/:id/milestones/:mid/pay", milestoneHandler.Pay)
		protected.POST("/contracts/:id/milestones/:mid/deliverable", milestoneHandler.UploadDeliverable)
		protected.GET("/contracts/:id/milestones/:mid/deliverable", milestoneHandler.GetDeliverable)

		protected.GET("/payments/status/:session_id", paymentHandler.Status)
	}

	// Background re-verification of pending payment sessions
	sweeper, err := job.StartPaymentSweep(payments, cfg.Payments.SweepIntervalMinutes)
	if err != nil {
		slog.Error("failed to start payment sweep", "error", err)
		os.Exit(1)
	}

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	sweepCtx := sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Let an in-flight sweep finish before exiting.
	select {
	case <-sweepCtx.Done():
	case <-ctx.Done():
	}

	slog.Info("server exited gracefully")
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

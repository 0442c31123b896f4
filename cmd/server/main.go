package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/swiftdrop/fulfillment-api/internal/audit"
	"github.com/swiftdrop/fulfillment-api/internal/auth"
	"github.com/swiftdrop/fulfillment-api/internal/compliance"
	"github.com/swiftdrop/fulfillment-api/internal/database"
	"github.com/swiftdrop/fulfillment-api/internal/inventory"
	"github.com/swiftdrop/fulfillment-api/internal/orders"
	"github.com/swiftdrop/fulfillment-api/internal/otp"
	"github.com/swiftdrop/fulfillment-api/internal/payment"
	"github.com/swiftdrop/fulfillment-api/internal/sms"
	"github.com/swiftdrop/fulfillment-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the fulfillment API server with graceful
// shutdown support. It sets up the payment, OTP, compliance and
// inventory services, database connection, and API routes.
func main() {
	// Initialize database
	db, err := database.NewDatabase()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "fulfillment-secret-key"
	}

	// Initialize services and handlers
	authService := auth.NewService(jwtSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	recorder := audit.NewRecorder()
	auditHandlers := audit.NewGinHandlers(db, recorder)

	ordersService := orders.NewService(db)
	ordersHandlers := orders.NewGinHandlers(ordersService)

	complianceService := compliance.NewService(db, recorder)
	complianceHandlers := compliance.NewGinHandlers(complianceService)

	otpService := otp.NewService(db, ordersService.GetDB(), complianceService, sms.SenderFromEnv(), recorder)
	otpHandlers := otp.NewGinHandlers(otpService)

	paymentService := payment.NewService(db, ordersService.GetDB(), complianceService, otpService, recorder, payment.LogNotifier{})
	paymentHandlers := payment.NewGinHandlers(paymentService)

	inventoryService := inventory.NewService(db, ordersService.GetDB(), complianceService, recorder)
	inventoryHandlers := inventory.NewGinHandlers(inventoryService)

	// Create and start the OTP expiry processor
	otpProcessor := otp.NewProcessor(otpService.GetDB())
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go otpProcessor.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, paymentHandlers, otpHandlers, complianceHandlers, inventoryHandlers, ordersHandlers, auditHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Webhook routes: Protected by the gateway HMAC signature
// - OTP routes: Customer-facing, rate limited
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	paymentHandlers *payment.GinHandlers,
	otpHandlers *otp.GinHandlers,
	complianceHandlers *compliance.GinHandlers,
	inventoryHandlers *inventory.GinHandlers,
	ordersHandlers *orders.GinHandlers,
	auditHandlers *audit.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Payment gateway webhook
		webhooks := v1.Group("/webhooks")
		webhooks.Use(middleware.WebhookAuth())
		{
			webhooks.POST("/payment", paymentHandlers.PaymentWebhookHandler())
		}

		// Customer-facing OTP routes
		otpGroup := v1.Group("/otp")
		{
			otpGroup.POST("/:order_number/verify", otpHandlers.VerifyOtpHandler())
			otpGroup.POST("/:order_number/resend", otpHandlers.ResendOtpHandler())
			otpGroup.GET("/:order_number/status", middleware.JWTAuth(), otpHandlers.OtpStatusHandler())
		}

		// Order and compliance reads
		ordersGroup := v1.Group("/orders")
		ordersGroup.Use(middleware.JWTAuth())
		{
			ordersGroup.GET("/:order_number", ordersHandlers.GetOrderHandler())
		}

		complianceGroup := v1.Group("/compliance")
		complianceGroup.Use(middleware.JWTAuth())
		{
			complianceGroup.GET("/:order_number", complianceHandlers.GetComplianceHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth())
		{
			internal.POST("/orders", ordersHandlers.CreateOrderHandler())
			internal.POST("/compliance/:order_number/photo-approval", complianceHandlers.PhotoApprovalHandler())
			internal.POST("/inventory/:order_number/deduct", inventoryHandlers.DeductHandler())
			internal.GET("/inventory/:order_number/audits", inventoryHandlers.ListAuditsHandler())
			internal.POST("/inventory/stock", inventoryHandlers.UpsertStockHandler())
			internal.GET("/inventory/stock", inventoryHandlers.ListStockHandler())
			internal.GET("/mismatches", paymentHandlers.ListMismatchesHandler())
			internal.GET("/mismatches/:mismatch_id", paymentHandlers.GetMismatchHandler())
			internal.GET("/audit/:order_number", auditHandlers.GetOrderTrailHandler())
		}
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/paper-api/internal/accounts"
	"github.com/ksred/paper-api/internal/auth"
	"github.com/ksred/paper-api/internal/config"
	"github.com/ksred/paper-api/internal/database"
	"github.com/ksred/paper-api/internal/engine"
	"github.com/ksred/paper-api/internal/notify"
	"github.com/ksred/paper-api/internal/oracle"
	"github.com/ksred/paper-api/internal/positions"
	"github.com/ksred/paper-api/pkg/middleware"

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

// main initializes and runs the paper trading API server with graceful
// shutdown support. It wires the ledger store, price oracle,
// notification sinks and the execution engine, then exposes the API.
func main() {
	cfgPath := "config/paper.yaml"
	if p := os.Getenv("PAPER_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Storage.SQLitePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.Auth.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	accountService := accounts.NewService(db)
	accountHandlers := accounts.NewGinHandlers(accountService)

	book := positions.NewBook(db)

	commissionRate := decimal.NewFromFloat(cfg.Trading.CommissionRate)
	var priceOracle oracle.Oracle
	if cfg.Alpaca.APIKey != "" {
		priceOracle = oracle.NewAlpacaOracle(
			cfg.Alpaca.APIKey, cfg.Alpaca.APISecret,
			cfg.Alpaca.BaseURL, cfg.Alpaca.DataURL,
			commissionRate,
		)
		zlog.Info().Msg("Using Alpaca price oracle")
	} else {
		priceOracle = oracle.NewSimulatedOracle(commissionRate)
		zlog.Info().Msg("Using simulated price oracle")
	}

	hub := notify.NewHub()
	go hub.Run()
	sink := notify.Fanout{notify.NewLogSink(), hub}

	eng := engine.NewEngine(db, accountService, book, priceOracle, sink,
		commissionRate, cfg.OracleTimeout())
	engineHandlers := engine.NewGinHandlers(eng)

	// Create and start background equity refresher
	refresher := engine.NewRefresher(eng, cfg.RefreshInterval())
	refresherCtx, refresherCancel := context.WithCancel(context.Background())
	defer refresherCancel()

	go refresher.Start(refresherCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg, authHandlers, accountHandlers, engineHandlers, hub)

	// Create server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
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
// - Account routes: Protected by JWT authentication
// - Order and position routes: Protected by JWT authentication
// - /ws: WebSocket event stream for observers
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authHandlers *auth.GinHandlers,
	accountHandlers *accounts.GinHandlers,
	engineHandlers *engine.GinHandlers,
	hub *notify.Hub,
) {
	jwtSecret := []byte(cfg.Auth.JWTSecret)

	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Account routes
		accountGroup := v1.Group("/accounts")
		accountGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			accountGroup.POST("", accountHandlers.CreateAccountHandler())
			accountGroup.GET("/:account_id", accountHandlers.GetAccountHandler())
			accountGroup.GET("/:account_id/orders", engineHandlers.ListOrdersHandler())
			accountGroup.GET("/:account_id/positions", engineHandlers.ListPositionsHandler())
		}

		// Order routes
		orderGroup := v1.Group("/orders")
		orderGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			orderGroup.POST("", engineHandlers.PlaceOrderHandler())
			orderGroup.GET("/:order_id", engineHandlers.GetOrderHandler())
			orderGroup.DELETE("/:order_id", engineHandlers.CancelOrderHandler())
		}

		// Position routes
		positionGroup := v1.Group("/positions")
		positionGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			positionGroup.POST("/:position_id/close", engineHandlers.ClosePositionHandler())
		}
	}

	// Event stream for dashboards and other observers
	router.GET("/ws", hub.HandleWebSocket())
}

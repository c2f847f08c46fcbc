package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/PAFGYM/k-quant-system-sub002/internal/auth"
	"github.com/PAFGYM/k-quant-system-sub002/internal/config"
	"github.com/PAFGYM/k-quant-system-sub002/internal/core"
	"github.com/PAFGYM/k-quant-system-sub002/internal/database"
	"github.com/PAFGYM/k-quant-system-sub002/internal/events"
	"github.com/PAFGYM/k-quant-system-sub002/internal/execution"
	"github.com/PAFGYM/k-quant-system-sub002/internal/limits"
	"github.com/PAFGYM/k-quant-system-sub002/internal/orders"
	"github.com/PAFGYM/k-quant-system-sub002/internal/reconciliation"
	"github.com/PAFGYM/k-quant-system-sub002/internal/safety"
	"github.com/PAFGYM/k-quant-system-sub002/pkg/middleware"
)

// setupLogging uses pretty console output outside production
func setupLogging(cfg *config.Config) {
	if !cfg.Production() {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the trading safety core and its operational API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			setupLogging(cfg)
			serve(cfg)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a config file (or KQUANT_CONFIG)")

	if err := cmd.Execute(); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to start server")
	}
}

func serve(cfg *config.Config) {
	db, err := database.NewDatabase(cfg.DBPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	c := core.New(cfg, db)

	authService := auth.NewService(cfg.JWTSecret, cfg.TokenTTL)
	authService.RegisterOperator(cfg.OperatorKey, cfg.OperatorSecret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Processor.Start(ctx)

	limiter := middleware.NewRateLimiter()
	go limiter.Cleanup(ctx)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(), limiter.Handler())
	setupRoutes(router, authService, c)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		zlog.Info().Str("port", cfg.Port).Msg("Trading core listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	zlog.Info().Msg("Server exiting")
}

// setupRoutes registers the operational API. Everything except token issuing
// requires an operator JWT.
func setupRoutes(router *gin.Engine, authService *auth.Service, c *core.Core) {
	authHandlers := auth.NewGinHandlers(authService)
	orderHandlers := orders.NewGinHandlers(c.Ledger)
	executionHandlers := execution.NewGinHandlers(c.Executor)
	safetyHandlers := safety.NewGinHandlers(c.Safety)
	limitHandlers := limits.NewGinHandlers(c.Limits)
	reconHandlers := reconciliation.NewGinHandlers(c.Processor, c.Reports)
	eventHandlers := events.NewGinHandlers(c.Bus)

	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok", "safety_level": c.Safety.Level().String()})
	})

	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		protected := v1.Group("")
		protected.Use(middleware.JWTAuth(authService))

		orderGroup := protected.Group("/orders")
		{
			orderGroup.POST("", orderHandlers.CreateOrderHandler())
			orderGroup.GET("", orderHandlers.ListOrdersHandler())
			orderGroup.GET("/stats", orderHandlers.StatsHandler())
			orderGroup.GET("/active", orderHandlers.ActiveOrdersHandler())
			orderGroup.GET("/today", orderHandlers.TodayOrdersHandler())
			orderGroup.GET("/:order_id", orderHandlers.GetOrderHandler())
			orderGroup.POST("/:order_id/cancel", orderHandlers.CancelOrderHandler())
			orderGroup.POST("/:order_id/execute", executionHandlers.ExecuteOrderHandler())
		}

		safetyGroup := protected.Group("/safety")
		{
			safetyGroup.GET("", safetyHandlers.GetStatusHandler())
			safetyGroup.POST("/level", safetyHandlers.SetLevelHandler())
			safetyGroup.POST("/kill-switch", safetyHandlers.ActivateKillSwitchHandler())
			safetyGroup.DELETE("/kill-switch", safetyHandlers.DeactivateKillSwitchHandler())
			safetyGroup.GET("/limits", limitHandlers.SnapshotHandler())
			safetyGroup.POST("/limits/pnl", limitHandlers.SetDailyPnLHandler())
			safetyGroup.DELETE("/limits", limitHandlers.ResetHandler())
		}

		reconGroup := protected.Group("/reconciliation")
		{
			reconGroup.GET("/latest", reconHandlers.LatestReportHandler())
			reconGroup.POST("/run", reconHandlers.RunHandler())
		}

		protected.GET("/events/ws", eventHandlers.StreamHandler())
	}
}

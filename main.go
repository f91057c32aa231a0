package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/nicedev/wekan-github-sync/api"
	"github.com/nicedev/wekan-github-sync/boardsync"
	"github.com/nicedev/wekan-github-sync/database"
	"github.com/nicedev/wekan-github-sync/integrations"
	"github.com/nicedev/wekan-github-sync/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))
	if levelStr == "" {
		levelStr = "info"
	}
	level, err := zapcore.ParseLevel(levelStr)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      true,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, _ := logConfig.Build()
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Invalid configuration", zap.Error(err))
	}

	db := database.Init(cfg.DatabasePath)
	sqlDB, _ := db.DB()
	store := database.NewDeliveryStore(db)

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	session := integrations.NewSession(cfg.WekanURL, cfg.WekanUsername, cfg.WekanPassword, cfg.SessionTTL, httpClient, logger)

	// Fail fast when WeKan is unreachable or the credentials are wrong,
	// matching the startup contract of the webhook receiver.
	authCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
	if err := session.Authenticate(authCtx); err != nil {
		cancel()
		zap.L().Fatal("Failed to authenticate with WeKan", zap.Error(err))
	}
	cancel()

	retryPolicy := integrations.NewRetryPolicy(cfg.RetryAttempts, cfg.RetryDelay)
	client := integrations.NewWekanClient(cfg.WekanURL, session, retryPolicy, cfg.HTTPTimeout, cfg.BoardColor, cfg.BoardPermission, logger)
	engine := boardsync.New(client, logger)

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	api.Register(router, &api.Handler{
		Secret:  cfg.WebhookSecret,
		Engine:  engine,
		Session: session,
		Store:   store,
		Log:     logger,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	zap.L().Info("Starting server",
		zap.String("port", cfg.ServerPort),
		zap.String("wekan_url", cfg.WekanURL))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("Server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	sig := <-sigCh
	zap.L().Info("Shutdown initiated", zap.String("reason", sig.String()))

	// if a second signal is caught, exit immediately
	go func() {
		<-sigCh
		zap.L().Info("Second interrupt signal received. Exiting immediately.")
		os.Exit(1)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zap.L().Error("Error shutting down server", zap.Error(err))
	} else {
		zap.L().Info("HTTP server shut down gracefully.")
	}

	if sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			zap.L().Error("Error closing database", zap.Error(err))
		} else {
			zap.L().Info("Database connection closed.")
		}
	}

	zap.L().Info("Exiting...")
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relay-backend/internal/app"
	"relay-backend/internal/config"
	"relay-backend/internal/db"
	"relay-backend/internal/router"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(level)
	}

	if err := config.LoadConfig(os.Getenv("CONFIG_PATH")); err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	db.InitDB()

	container, err := app.InitializeContainer(logger)
	if err != nil {
		logger.Fatalf("Failed to initialize services: %v", err)
	}
	defer container.Shutdown()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := router.SetupRouter(container, logger)

	addr := fmt.Sprintf("%s:%d", config.AppConfig.Server.Host, config.AppConfig.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"addr": addr,
		}).Info("🚀 Relay backend listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Forced shutdown: %v", err)
	}

	logger.Info("✅ Server stopped")
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"go.temporal.io/sdk/client"

	"dev/bravebird/debug-ui-verifier/pkg/api"
	"dev/bravebird/debug-ui-verifier/pkg/config"
	"dev/bravebird/debug-ui-verifier/pkg/database"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	if _, ok := os.LookupEnv("LOG_LEVEL"); !ok {
		cfg.LogLevel = "info"
	}
	logger := cfg.NewLogger()
	logger.Info("Starting Debug UI Verification API Server")

	// Initialize database
	var store api.RunStore
	if cfg.MySQLDSN != "" {
		db, err := database.New(cfg.MySQLDSN)
		if err != nil {
			logger.WithError(err).Warn("Failed to connect to database, running without run history")
		} else {
			defer db.Close()
			if err := db.EnsureSchema(context.Background()); err != nil {
				logger.WithError(err).Fatal("Failed to create schema")
			}
			store = db
		}
	} else {
		logger.Warn("MYSQL_DSN not set, running without run history")
	}

	// Initialize Temporal client
	temporalClient, err := client.Dial(client.Options{
		HostPort: cfg.TemporalHost,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Temporal client")
	}
	defer temporalClient.Close()

	handlers := api.NewHandlers(store, temporalClient, cfg.ScreenshotDir, logger)
	router := api.NewRouter(handlers)

	// Setup CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	// No WriteTimeout: run streams stay open until the run finishes.
	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     c.Handler(router),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.Port).Info("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server stopped")
}

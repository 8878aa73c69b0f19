package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"dev/bravebird/debug-ui-verifier/pkg/testapp"
)

func main() {
	cfg, err := testapp.LoadConfigFromEnv()
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      testapp.New(cfg.Options()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logrus.Infof("Fixture app listening on http://%s/", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logrus.Fatalf("Server forced to shutdown: %v", err)
	}
}

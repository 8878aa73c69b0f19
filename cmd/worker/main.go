package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"dev/bravebird/debug-ui-verifier/pkg/config"
	"dev/bravebird/debug-ui-verifier/pkg/database"
	"dev/bravebird/debug-ui-verifier/pkg/temporal/activities"
	"dev/bravebird/debug-ui-verifier/pkg/temporal/workflows"
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

	// Create Temporal client
	c, err := client.Dial(client.Options{
		HostPort: cfg.TemporalHost,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Temporal client")
	}
	defer c.Close()

	var recorder activities.RunRecorder
	if cfg.MySQLDSN != "" {
		db, err := database.New(cfg.MySQLDSN)
		if err != nil {
			logger.WithError(err).Warn("Failed to connect to database, results will not be recorded")
		} else {
			defer db.Close()
			recorder = db
		}
	}

	if err := os.MkdirAll(cfg.ScreenshotDir, 0o755); err != nil {
		logger.WithError(err).Fatal("Failed to create screenshot directory")
	}

	acts := activities.NewActivities(cfg, recorder, logger)

	// Each activity owns a browser.
	w := worker.New(c, workflows.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     2,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})

	w.RegisterWorkflow(workflows.DebugUIVerificationWorkflow)
	w.RegisterActivity(acts.RunVerificationActivity)

	logger.WithFields(logrus.Fields{
		"task_queue":     workflows.TaskQueue,
		"temporal_host":  cfg.TemporalHost,
		"screenshot_dir": cfg.ScreenshotDir,
		"recording":      recorder != nil,
	}).Info("Starting Temporal worker")

	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.WithError(err).Fatal("Worker failed")
	}
}

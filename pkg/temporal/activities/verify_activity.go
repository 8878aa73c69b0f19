package activities

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.temporal.io/sdk/activity"

	"dev/bravebird/debug-ui-verifier/pkg/browser"
	"dev/bravebird/debug-ui-verifier/pkg/config"
	"dev/bravebird/debug-ui-verifier/pkg/models"
	"dev/bravebird/debug-ui-verifier/pkg/verify"
)

// RunRecorder persists verification progress. *database.DB implements it.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *models.VerificationRun) error
	UpdateRunState(ctx context.Context, id string, state models.RunState) error
	CompleteRun(ctx context.Context, id string, result models.VerificationResult) error
	SaveAssertions(ctx context.Context, runID string, results []models.AssertionResult) error
}

// Activities holds activity implementations
type Activities struct {
	Config   config.Config
	Recorder RunRecorder // optional
	Logger   logrus.FieldLogger

	// NewOpener builds the browser opener for a run; replaced in tests.
	NewOpener func(opts browser.Options) browser.Opener

	// HeartbeatInterval paces heartbeats while a step is blocked in the browser.
	HeartbeatInterval time.Duration
	// Heartbeat records activity liveness; replaced in tests.
	Heartbeat func(ctx context.Context, details ...interface{})
}

// DefaultHeartbeatInterval stays well under the workflow's heartbeat timeout.
const DefaultHeartbeatInterval = 5 * time.Second

// NewActivities creates new activities
func NewActivities(cfg config.Config, recorder RunRecorder, logger logrus.FieldLogger) *Activities {
	return &Activities{
		Config:    cfg,
		Recorder:  recorder,
		Logger:    logger,
		NewOpener:         browser.NewOpener,
		HeartbeatInterval: DefaultHeartbeatInterval,
		Heartbeat:         activity.RecordHeartbeat,
	}
}

// RunVerificationActivity runs the debug UI verification once. Assertion
// failures are returned inside the result with a nil error.
func (a *Activities) RunVerificationActivity(ctx context.Context, input models.VerificationInput) (models.VerificationResult, error) {
	logger := activity.GetLogger(ctx)

	if input.RunID == "" {
		input.RunID = uuid.New().String()
	}
	plan := a.planFor(input)
	logger.Info("Running debug UI verification", "runID", input.RunID, "url", plan.URL, "screenshot", plan.ScreenshotPath)

	opts := a.Config.BrowserOptions()
	if input.Headless != nil {
		opts.Headless = *input.Headless
	}

	if a.Recorder != nil {
		now := time.Now()
		err := a.Recorder.CreateRun(ctx, &models.VerificationRun{
			ID:        input.RunID,
			Status:    models.StatusRunning,
			State:     models.StateNotNavigated,
			TargetURL: plan.URL,
			StartedAt: &now,
		})
		if err != nil {
			logger.Warn("Failed to record run start", "runID", input.RunID, "error", err)
		}
	}

	var mu sync.Mutex
	lastState := models.StateNotNavigated
	stopHeartbeat := a.keepAlive(ctx, func() models.RunState {
		mu.Lock()
		defer mu.Unlock()
		return lastState
	})
	defer stopHeartbeat()

	progress := func(res models.VerificationResult) {
		a.Heartbeat(ctx, res.State)
		mu.Lock()
		changed := res.State != lastState
		lastState = res.State
		mu.Unlock()
		if !changed {
			return
		}
		if a.Recorder != nil {
			if err := a.Recorder.UpdateRunState(ctx, input.RunID, res.State); err != nil {
				logger.Warn("Failed to record run state", "runID", input.RunID, "state", res.State, "error", err)
			}
		}
	}

	runner := verify.NewRunner(plan, a.NewOpener(opts),
		verify.WithLogger(a.logger().WithField("run_id", input.RunID)),
		verify.WithProgress(progress),
	)
	result, err := runner.Run(ctx)
	stopHeartbeat()
	result.RunID = input.RunID
	if err != nil {
		logger.Warn("Debug UI verification failed", "runID", input.RunID, "step", result.FailedStep, "error", err)
	} else {
		logger.Info("Debug UI verification passed", "runID", input.RunID, "duration", result.TotalDuration)
	}

	if a.Recorder != nil {
		if err := a.Recorder.SaveAssertions(ctx, input.RunID, result.Assertions); err != nil {
			logger.Warn("Failed to record assertions", "runID", input.RunID, "error", err)
		}
		if err := a.Recorder.CompleteRun(ctx, input.RunID, result); err != nil {
			logger.Warn("Failed to record run result", "runID", input.RunID, "error", err)
		}
	}

	return result, nil
}

// keepAlive heartbeats on a ticker until the returned stop func is called.
// Launch, navigation and the screenshot can each block longer than the
// heartbeat timeout without producing a progress event.
func (a *Activities) keepAlive(ctx context.Context, state func() models.RunState) func() {
	interval := a.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.Heartbeat(ctx, state())
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

// planFor applies the per-run overrides. Each run writes its own screenshot
// file under the screenshot directory.
func (a *Activities) planFor(input models.VerificationInput) models.Plan {
	plan := a.Config.Plan()
	if input.TargetURL != "" {
		plan.URL = input.TargetURL
	}
	if input.FullPage {
		plan.FullPage = true
	}
	plan.ScreenshotPath = filepath.Join(a.Config.ScreenshotDir, ScreenshotFilename(input.RunID))
	return plan
}

func (a *Activities) logger() logrus.FieldLogger {
	if a.Logger == nil {
		return logrus.StandardLogger()
	}
	return a.Logger
}

// ScreenshotFilename is the file name a run's screenshot is stored under.
func ScreenshotFilename(runID string) string {
	return fmt.Sprintf("debug_ui_%s.png", runID)
}

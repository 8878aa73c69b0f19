package activities

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"dev/bravebird/debug-ui-verifier/pkg/browser"
	"dev/bravebird/debug-ui-verifier/pkg/config"
	"dev/bravebird/debug-ui-verifier/pkg/models"
)

type stubDriver struct {
	url        string
	hidden     map[string]bool
	checked    bool
	closeCount int
	navDelay   time.Duration
}

func (d *stubDriver) Navigate(ctx context.Context, url string) error {
	d.url = url
	if d.navDelay > 0 {
		select {
		case <-time.After(d.navDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (d *stubDriver) Click(ctx context.Context, selector string) error {
	if selector == "#debugModeInput" {
		d.checked = true
	}
	return nil
}

func (d *stubDriver) Checked(ctx context.Context, selector string) (bool, error) {
	return d.checked, nil
}

func (d *stubDriver) WaitVisible(ctx context.Context, selector string) error {
	if d.hidden[selector] {
		return fmt.Errorf("%w: %s", browser.ErrNotVisible, selector)
	}
	return nil
}

func (d *stubDriver) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return []byte("png"), nil
}

func (d *stubDriver) Close() error {
	d.closeCount++
	return nil
}

type memoryRecorder struct {
	mu         sync.Mutex
	runs       map[string]*models.VerificationRun
	states     []models.RunState
	assertions map[string][]models.AssertionResult
	failCreate bool
}

func newMemoryRecorder() *memoryRecorder {
	return &memoryRecorder{
		runs:       map[string]*models.VerificationRun{},
		assertions: map[string][]models.AssertionResult{},
	}
}

func (m *memoryRecorder) CreateRun(ctx context.Context, run *models.VerificationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate {
		return errors.New("database is down")
	}
	copied := *run
	m.runs[run.ID] = &copied
	return nil
}

func (m *memoryRecorder) UpdateRunState(ctx context.Context, id string, state models.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, state)
	if run, ok := m.runs[id]; ok {
		run.State = state
	}
	return nil
}

func (m *memoryRecorder) CompleteRun(ctx context.Context, id string, result models.VerificationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return errors.New("run not found")
	}
	run.Status = result.Status
	run.State = result.State
	run.ErrorMessage = result.ErrorMessage
	run.ScreenshotPath = result.ScreenshotPath
	return nil
}

func (m *memoryRecorder) SaveAssertions(ctx context.Context, runID string, results []models.AssertionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assertions[runID] = results
	return nil
}

func newTestActivities(t *testing.T, drv *stubDriver, recorder RunRecorder) (*Activities, *browser.Options) {
	cfg := config.Default()
	cfg.ScreenshotDir = t.TempDir()

	logger, _ := logtest.NewNullLogger()
	acts := NewActivities(cfg, recorder, logger)

	var used browser.Options
	acts.NewOpener = func(opts browser.Options) browser.Opener {
		used = opts
		return func(ctx context.Context) (browser.Driver, error) {
			return drv, nil
		}
	}
	return acts, &used
}

func runActivity(t *testing.T, acts *Activities, input models.VerificationInput) models.VerificationResult {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(acts)

	val, err := env.ExecuteActivity(acts.RunVerificationActivity, input)
	require.NoError(t, err)

	var result models.VerificationResult
	require.NoError(t, val.Get(&result))
	return result
}

func TestRunVerificationActivitySuccess(t *testing.T) {
	drv := &stubDriver{}
	recorder := newMemoryRecorder()
	acts, used := newTestActivities(t, drv, recorder)

	headful := false
	result := runActivity(t, acts, models.VerificationInput{
		RunID:     "run-ok",
		TargetURL: "http://app.internal:5173/",
		Headless:  &headful,
	})

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, "run-ok", result.RunID)
	assert.Equal(t, "http://app.internal:5173/", drv.url)
	assert.False(t, used.Headless)
	assert.Equal(t, 1, drv.closeCount)

	wantPath := filepath.Join(acts.Config.ScreenshotDir, "debug_ui_run-ok.png")
	assert.Equal(t, wantPath, result.ScreenshotPath)
	_, err := os.Stat(wantPath)
	assert.NoError(t, err)

	run := recorder.runs["run-ok"]
	require.NotNil(t, run)
	assert.Equal(t, models.StatusSuccess, run.Status)
	assert.Equal(t, models.StateScreenshotCaptured, run.State)
	assert.Len(t, recorder.assertions["run-ok"], 4)
	assert.Equal(t, []models.RunState{
		models.StateNavigated,
		models.StateSettingsOpen,
		models.StateDebugEnabled,
		models.StateVerified,
		models.StateScreenshotCaptured,
	}, recorder.states)
}

func TestRunVerificationActivityReportsFailureInResult(t *testing.T) {
	drv := &stubDriver{hidden: map[string]bool{"#debugArea": true}}
	recorder := newMemoryRecorder()
	acts, _ := newTestActivities(t, drv, recorder)

	result := runActivity(t, acts, models.VerificationInput{RunID: "run-bad"})

	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, "assert-debug-area", result.FailedStep)
	assert.Equal(t, "#debugArea", result.FailedSelector)
	assert.Equal(t, models.DefaultTargetURL, drv.url)
	assert.Equal(t, 1, drv.closeCount)

	run := recorder.runs["run-bad"]
	require.NotNil(t, run)
	assert.Equal(t, models.StatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "#debugArea")
}

func TestRunVerificationActivityWithoutRecorder(t *testing.T) {
	drv := &stubDriver{}
	acts, _ := newTestActivities(t, drv, nil)

	result := runActivity(t, acts, models.VerificationInput{})
	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.NotEmpty(t, result.RunID, "a run id is assigned when none is given")
}

func TestRunVerificationActivityRecorderErrorsAreNotFatal(t *testing.T) {
	drv := &stubDriver{}
	recorder := newMemoryRecorder()
	recorder.failCreate = true
	acts, _ := newTestActivities(t, drv, recorder)

	result := runActivity(t, acts, models.VerificationInput{RunID: "run-nodb"})
	assert.Equal(t, models.StatusSuccess, result.Status)
}

func TestRunVerificationActivityHeartbeatsDuringSlowSteps(t *testing.T) {
	drv := &stubDriver{navDelay: 200 * time.Millisecond}
	acts, _ := newTestActivities(t, drv, nil)

	var mu sync.Mutex
	var beats []interface{}
	acts.HeartbeatInterval = 10 * time.Millisecond
	acts.Heartbeat = func(ctx context.Context, details ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		beats = append(beats, details...)
	}

	result := runActivity(t, acts, models.VerificationInput{RunID: "run-slow"})
	assert.Equal(t, models.StatusSuccess, result.Status)

	mu.Lock()
	defer mu.Unlock()
	notNavigated := 0
	for _, b := range beats {
		if b == models.StateNotNavigated {
			notNavigated++
		}
	}
	assert.GreaterOrEqual(t, notNavigated, 3, "heartbeats while navigation is still blocked")
}

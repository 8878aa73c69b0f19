package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/utils"
	"github.com/sirupsen/logrus"

	"dev/bravebird/debug-ui-verifier/pkg/browser"
	"dev/bravebird/debug-ui-verifier/pkg/models"
)

// Runner executes the debug UI verification procedure against a target application.
type Runner struct {
	plan     models.Plan
	open     browser.Opener
	logger   logrus.FieldLogger
	progress func(models.VerificationResult)
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger used for step-level diagnostics.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithProgress registers fn to receive a snapshot of the result after every
// state transition and assertion.
func WithProgress(fn func(models.VerificationResult)) Option {
	return func(r *Runner) {
		r.progress = fn
	}
}

// NewRunner creates a runner for plan. open is called once per Run.
func NewRunner(plan models.Plan, open browser.Opener, opts ...Option) *Runner {
	r := &Runner{
		plan:   plan,
		open:   open,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.plan.Timeout <= 0 {
		r.plan.Timeout = models.DefaultTimeout
	}
	if r.plan.NavigationTimeout <= 0 {
		r.plan.NavigationTimeout = models.DefaultNavigationTimeout
	}
	return r
}

// Run performs the verification. It returns a nil error only when every
// assertion passed and the screenshot was written. The browser session is
// closed before Run returns on every path.
func (r *Runner) Run(ctx context.Context) (models.VerificationResult, error) {
	start := time.Now()
	res := &models.VerificationResult{
		Status:     models.StatusRunning,
		State:      models.StateNotNavigated,
		TargetURL:  r.plan.URL,
		Assertions: make([]models.AssertionResult, 0, len(r.plan.SubElements)+1),
	}

	err := r.run(ctx, res)

	res.TotalDuration = time.Since(start).Milliseconds()
	if err != nil {
		res.Status = models.StatusFailed
		res.ErrorMessage = err.Error()
		var stepErr *StepError
		if errors.As(err, &stepErr) {
			res.FailedStep = stepErr.Step
			res.FailedSelector = stepErr.Selector
		}
		r.logger.WithFields(logrus.Fields{
			"state": res.State,
			"step":  res.FailedStep,
		}).WithError(err).Debug("Verification failed")
	} else {
		res.Status = models.StatusSuccess
		r.logger.WithField("duration_ms", res.TotalDuration).Debug("Verification passed")
	}
	r.notify(res)
	return *res, err
}

func (r *Runner) run(ctx context.Context, res *models.VerificationResult) error {
	drv, err := r.open(ctx)
	if err != nil {
		return &StepError{Step: StepLaunch, Condition: "a running browser", Err: err}
	}
	defer func() {
		if cerr := drv.Close(); cerr != nil {
			r.logger.WithError(cerr).Warn("Failed to close browser session")
		}
	}()

	if err := r.navigate(ctx, drv); err != nil {
		return err
	}
	r.advance(res, models.StateNavigated)

	if err := r.openSettings(ctx, drv); err != nil {
		return err
	}
	r.advance(res, models.StateSettingsOpen)

	toggled, err := r.enableDebugMode(ctx, drv)
	if err != nil {
		return err
	}
	res.Toggled = toggled
	r.advance(res, models.StateDebugEnabled)

	if err := r.assertVisible(ctx, drv, res, StepAssertDebug, r.plan.DebugArea); err != nil {
		return err
	}

	// Every sub-pane is asserted so the result shows each one that failed.
	var errs []error
	for _, el := range r.plan.SubElements {
		if err := r.assertVisible(ctx, drv, res, StepAssertSubPanes, el); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	r.advance(res, models.StateVerified)

	size, err := r.screenshot(ctx, drv)
	if err != nil {
		return err
	}
	res.ScreenshotPath = r.plan.ScreenshotPath
	res.ScreenshotBytes = size
	r.advance(res, models.StateScreenshotCaptured)
	return nil
}

func (r *Runner) navigate(ctx context.Context, drv browser.Driver) error {
	ctx, cancel := context.WithTimeout(ctx, r.plan.NavigationTimeout)
	defer cancel()

	r.logger.WithField("url", r.plan.URL).Debug("Navigating")
	if err := drv.Navigate(ctx, r.plan.URL); err != nil {
		return &StepError{Step: StepNavigate, Condition: r.plan.URL + " to load", Err: err}
	}
	return nil
}

func (r *Runner) openSettings(ctx context.Context, drv browser.Driver) error {
	ctx, cancel := context.WithTimeout(ctx, r.plan.Timeout)
	defer cancel()

	sel := r.plan.SettingsButton.Selector()
	r.logger.WithField("selector", sel).Debug("Opening settings")
	if err := drv.Click(ctx, sel); err != nil {
		return &StepError{Step: StepOpenSettings, Selector: sel, Condition: "clickable", Err: err}
	}
	return nil
}

// enableDebugMode checks the debug mode box unless it already is, and reports
// whether it had to click.
func (r *Runner) enableDebugMode(ctx context.Context, drv browser.Driver) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.plan.Timeout)
	defer cancel()

	sel := r.plan.DebugModeInput.Selector()
	checked, err := drv.Checked(ctx, sel)
	if err != nil {
		return false, &StepError{Step: StepEnableDebug, Selector: sel, Condition: "present", Err: err}
	}
	if checked {
		r.logger.WithField("selector", sel).Debug("Debug mode already enabled")
		return false, nil
	}

	r.logger.WithField("selector", sel).Debug("Enabling debug mode")
	if err := drv.Click(ctx, sel); err != nil {
		return false, &StepError{Step: StepEnableDebug, Selector: sel, Condition: "clickable", Err: err}
	}
	checked, err = drv.Checked(ctx, sel)
	if err != nil {
		return true, &StepError{Step: StepEnableDebug, Selector: sel, Condition: "checked", Err: err}
	}
	if !checked {
		return true, &StepError{Step: StepEnableDebug, Selector: sel, Condition: "checked", Err: ErrNotChecked}
	}
	return true, nil
}

func (r *Runner) assertVisible(ctx context.Context, drv browser.Driver, res *models.VerificationResult, step string, el models.Element) error {
	ctx, cancel := context.WithTimeout(ctx, r.plan.Timeout)
	defer cancel()

	sel := el.Selector()
	start := time.Now()
	err := drv.WaitVisible(ctx, sel)

	assertion := models.AssertionResult{
		Name:      el.Name,
		Selector:  sel,
		Condition: "visible",
		Passed:    err == nil,
		Duration:  time.Since(start).Milliseconds(),
	}
	if err != nil {
		assertion.ErrorMessage = err.Error()
	}
	res.Assertions = append(res.Assertions, assertion)
	r.notify(res)

	r.logger.WithFields(logrus.Fields{
		"selector": sel,
		"passed":   assertion.Passed,
	}).Debug("Visibility assertion")

	if err != nil {
		return &StepError{Step: step, Selector: sel, Condition: "visible", Err: err}
	}
	return nil
}

func (r *Runner) screenshot(ctx context.Context, drv browser.Driver) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.plan.NavigationTimeout)
	defer cancel()

	data, err := drv.Screenshot(ctx, r.plan.FullPage)
	if err != nil {
		return 0, &StepError{Step: StepScreenshot, Condition: "a captured screenshot", Err: fmt.Errorf("%w: %w", ErrScreenshot, err)}
	}
	if len(data) == 0 {
		return 0, &StepError{Step: StepScreenshot, Condition: "a captured screenshot", Err: fmt.Errorf("%w: empty image", ErrScreenshot)}
	}
	if err := utils.OutputFile(r.plan.ScreenshotPath, data); err != nil {
		return 0, &StepError{
			Step:      StepScreenshot,
			Condition: "a writable " + r.plan.ScreenshotPath,
			Err:       fmt.Errorf("%w: %w", ErrScreenshot, err),
		}
	}
	r.logger.WithFields(logrus.Fields{
		"path":  r.plan.ScreenshotPath,
		"bytes": len(data),
	}).Debug("Screenshot saved")
	return len(data), nil
}

func (r *Runner) advance(res *models.VerificationResult, state models.RunState) {
	res.State = state
	r.notify(res)
}

// notify hands out a copy so observers never alias the runner's slice.
func (r *Runner) notify(res *models.VerificationResult) {
	if r.progress == nil {
		return
	}
	snapshot := *res
	snapshot.Assertions = append([]models.AssertionResult(nil), res.Assertions...)
	r.progress(snapshot)
}

// FailedSelectors lists the selectors of every failed assertion in res.
func FailedSelectors(res models.VerificationResult) []string {
	var out []string
	for _, a := range res.Assertions {
		if !a.Passed {
			out = append(out, a.Selector)
		}
	}
	return out
}

// Summary renders a one-line description of res.
func Summary(res models.VerificationResult) string {
	if res.Status == models.StatusSuccess {
		return fmt.Sprintf("debug UI verified at %s, screenshot %s (%d bytes)", res.TargetURL, res.ScreenshotPath, res.ScreenshotBytes)
	}
	failed := FailedSelectors(res)
	if len(failed) == 0 {
		return fmt.Sprintf("debug UI verification failed at %s (state %s): %s", res.FailedStep, res.State, res.ErrorMessage)
	}
	return fmt.Sprintf("debug UI verification failed at %s (state %s): not visible: %s", res.FailedStep, res.State, strings.Join(failed, ", "))
}

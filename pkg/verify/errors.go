package verify

import (
	"errors"
	"fmt"
)

// Step names reported in errors and results.
const (
	StepLaunch         = "launch"
	StepNavigate       = "navigate"
	StepOpenSettings   = "open-settings"
	StepEnableDebug    = "enable-debug-mode"
	StepAssertDebug    = "assert-debug-area"
	StepAssertSubPanes = "assert-debug-panels"
	StepScreenshot     = "screenshot"
)

var (
	// ErrNotChecked means the debug mode checkbox stayed unchecked after clicking it.
	ErrNotChecked = errors.New("checkbox not checked")
	// ErrScreenshot means the screenshot could not be captured or written.
	ErrScreenshot = errors.New("screenshot failed")
)

// StepError reports which step failed, on which element, and what was expected.
type StepError struct {
	Step      string
	Selector  string
	Condition string
	Err       error
}

func (e *StepError) Error() string {
	if e.Selector == "" {
		return fmt.Sprintf("%s failed: expected %s: %v", e.Step, e.Condition, e.Err)
	}
	return fmt.Sprintf("%s failed: expected %s to be %s: %v", e.Step, e.Selector, e.Condition, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

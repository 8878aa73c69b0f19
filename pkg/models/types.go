package models

import (
	"time"
)

// ==================== UI Element Contract ====================

// Element identifiers served by the target application. Renaming any of these
// in the application is a breaking change for the verifier.
const (
	IDSettingsButton   = "settingsButton"
	IDDebugModeInput   = "debugModeInput"
	IDDebugArea        = "debugArea"
	IDDebugCallStack   = "debugCallStack"
	IDDebugConsoleArea = "debugConsoleArea"
	IDDebugMemoryArea  = "debugMemoryArea"
)

// Defaults for the verification target and artifact.
const (
	DefaultTargetURL         = "http://localhost:5173/"
	DefaultScreenshotPath    = "verification/debug_ui.png"
	DefaultTimeout           = 5 * time.Second
	DefaultNavigationTimeout = 30 * time.Second
)

// Element is a named reference to a page element, resolved by id on every use.
type Element struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Selector returns the CSS id selector for the element.
func (e Element) Selector() string {
	return "#" + e.ID
}

// Plan describes one verification procedure.
type Plan struct {
	URL               string        `json:"url"`
	SettingsButton    Element       `json:"settings_button"`
	DebugModeInput    Element       `json:"debug_mode_input"`
	DebugArea         Element       `json:"debug_area"`
	SubElements       []Element     `json:"sub_elements"`
	ScreenshotPath    string        `json:"screenshot_path"`
	FullPage          bool          `json:"full_page"`
	Timeout           time.Duration `json:"timeout"`
	NavigationTimeout time.Duration `json:"navigation_timeout"`
}

// DefaultPlan returns the debug UI verification procedure against the local dev server.
func DefaultPlan() Plan {
	return Plan{
		URL:            DefaultTargetURL,
		SettingsButton: Element{Name: "settings button", ID: IDSettingsButton},
		DebugModeInput: Element{Name: "debug mode checkbox", ID: IDDebugModeInput},
		DebugArea:      Element{Name: "debug area", ID: IDDebugArea},
		SubElements: []Element{
			{Name: "call stack", ID: IDDebugCallStack},
			{Name: "console", ID: IDDebugConsoleArea},
			{Name: "memory", ID: IDDebugMemoryArea},
		},
		ScreenshotPath:    DefaultScreenshotPath,
		Timeout:           DefaultTimeout,
		NavigationTimeout: DefaultNavigationTimeout,
	}
}

// ==================== Run State ====================

// RunState is the last step a verification run reached.
type RunState string

const (
	StateNotNavigated       RunState = "not-navigated"
	StateNavigated          RunState = "navigated"
	StateSettingsOpen       RunState = "settings-open"
	StateDebugEnabled       RunState = "debug-enabled"
	StateVerified           RunState = "verified"
	StateScreenshotCaptured RunState = "screenshot-captured"
)

// RunStatus represents the status of a verification run
type RunStatus string

const (
	StatusPending  RunStatus = "pending"
	StatusRunning  RunStatus = "running"
	StatusSuccess  RunStatus = "success"
	StatusFailed   RunStatus = "failed"
	StatusCanceled RunStatus = "canceled"
)

// Terminal reports whether no further updates are expected for the status.
func (s RunStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCanceled
}

// ==================== Results ====================

// AssertionResult is the outcome of a single visibility assertion
type AssertionResult struct {
	Name         string `json:"name" db:"name"`
	Selector     string `json:"selector" db:"selector"`
	Condition    string `json:"condition" db:"expectation"`
	Passed       bool   `json:"passed" db:"passed"`
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`
	Duration     int64  `json:"duration_ms" db:"duration_ms"`
}

// VerificationResult represents the result of a verification run
type VerificationResult struct {
	RunID           string            `json:"run_id"`
	Status          RunStatus         `json:"status"`
	State           RunState          `json:"state"`
	TargetURL       string            `json:"target_url"`
	Toggled         bool              `json:"toggled"` // debug mode was switched on by this run
	Assertions      []AssertionResult `json:"assertions"`
	ScreenshotPath  string            `json:"screenshot_path,omitempty"`
	ScreenshotBytes int               `json:"screenshot_bytes,omitempty"`
	FailedStep      string            `json:"failed_step,omitempty"`
	FailedSelector  string            `json:"failed_selector,omitempty"`
	TotalDuration   int64             `json:"total_duration_ms"`
	ErrorMessage    string            `json:"error_message,omitempty"`
}

// ==================== Run History ====================

// VerificationRun represents a stored verification run
type VerificationRun struct {
	ID                 string     `json:"id" db:"id"`
	TemporalWorkflowID string     `json:"temporal_workflow_id" db:"temporal_workflow_id"`
	TemporalRunID      string     `json:"temporal_run_id" db:"temporal_run_id"`
	Status             RunStatus  `json:"status" db:"status"`
	State              RunState   `json:"state" db:"state"`
	TargetURL          string     `json:"target_url" db:"target_url"`
	ScreenshotPath     string     `json:"screenshot_path,omitempty" db:"screenshot_path"`
	Toggled            bool       `json:"toggled" db:"toggled"`
	FailedStep         string     `json:"failed_step,omitempty" db:"failed_step"`
	FailedSelector     string     `json:"failed_selector,omitempty" db:"failed_selector"`
	ErrorMessage       string     `json:"error_message,omitempty" db:"error_message"`
	Duration           int64      `json:"duration_ms" db:"duration_ms"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	StartedAt          *time.Time `json:"started_at" db:"started_at"`
	CompletedAt        *time.Time `json:"completed_at" db:"completed_at"`

	// Computed fields
	Assertions []AssertionResult `json:"assertions,omitempty"`
}

// ==================== Workflow / API Types ====================

// VerificationInput represents input for a verification workflow
type VerificationInput struct {
	RunID          string `json:"run_id"`
	TargetURL      string `json:"target_url,omitempty"`
	FullPage       bool   `json:"full_page"`
	Headless       *bool  `json:"headless,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// VerifyRequest represents a request to start a verification run
type VerifyRequest struct {
	TargetURL string `json:"target_url"`
	FullPage  bool   `json:"full_page"`
	Headless  *bool  `json:"headless"`
}

// WSMessage represents a WebSocket message for real-time updates
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"dev/bravebird/debug-ui-verifier/pkg/models"
)

const (
	// TaskQueue is the queue the verification worker polls.
	TaskQueue = "debug-ui-verification"
	// WorkflowName is the registered name of DebugUIVerificationWorkflow.
	WorkflowName = "DebugUIVerificationWorkflow"
	// RunVerificationActivityName is the registered name of the verification activity.
	RunVerificationActivityName = "RunVerificationActivity"
	// ProgressQuery returns the workflow's models.VerificationResult. It reads
	// running/not-navigated until the activity returns; step progress while a
	// run is in flight lives in the run history store.
	ProgressQuery = "getProgress"

	defaultRunTimeout = 2 * time.Minute
	heartbeatTimeout  = 30 * time.Second
)

// DebugUIVerificationWorkflow runs one debug UI verification on a worker.
// A failed verification is reported in the result, not as a workflow error.
func DebugUIVerificationWorkflow(ctx workflow.Context, input models.VerificationInput) (models.VerificationResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting debug UI verification workflow", "runID", input.RunID, "targetURL", input.TargetURL)

	result := models.VerificationResult{
		RunID:     input.RunID,
		Status:    models.StatusRunning,
		State:     models.StateNotNavigated,
		TargetURL: input.TargetURL,
	}

	// Register query handler for the run outcome
	err := workflow.SetQueryHandler(ctx, ProgressQuery, func() (models.VerificationResult, error) {
		return result, nil
	})
	if err != nil {
		logger.Error("Failed to register query handler", "error", err)
	}

	timeout := time.Duration(input.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}

	// Single attempt, no retries.
	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    heartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	startTime := workflow.Now(ctx)

	var activityResult models.VerificationResult
	err = workflow.ExecuteActivity(ctx, RunVerificationActivityName, input).Get(ctx, &activityResult)
	if err != nil {
		result.Status = models.StatusFailed
		result.ErrorMessage = "Verification activity failed: " + err.Error()
		result.TotalDuration = workflow.Now(ctx).Sub(startTime).Milliseconds()
		logger.Warn("Verification activity failed", "runID", input.RunID, "error", err)
		return result, nil
	}

	result = activityResult
	result.RunID = input.RunID

	logger.Info("Workflow completed", "status", result.Status, "state", result.State, "duration", result.TotalDuration)
	return result, nil
}

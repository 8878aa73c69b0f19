package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"

	"dev/bravebird/debug-ui-verifier/pkg/models"
	"dev/bravebird/debug-ui-verifier/pkg/temporal/workflows"
)

// RunStore is the run history the handlers read and write. *database.DB implements it.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.VerificationRun) error
	SetTemporalIDs(ctx context.Context, id, workflowID, runID string) error
	UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errorMsg string) error
	GetRun(ctx context.Context, id string) (*models.VerificationRun, error)
	ListRuns(ctx context.Context, limit int) ([]models.VerificationRun, error)
	GetAssertions(ctx context.Context, runID string) ([]models.AssertionResult, error)
}

// WorkflowClient is the subset of the Temporal client the handlers use.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	CancelWorkflow(ctx context.Context, workflowID string, runID string) error
	QueryWorkflow(ctx context.Context, workflowID string, runID string, queryType string, args ...interface{}) (converter.EncodedValue, error)
}

// Handlers contains API handlers
type Handlers struct {
	store          RunStore
	temporalClient WorkflowClient
	screenshotDir  string
	logger         logrus.FieldLogger
	upgrader       websocket.Upgrader
	pollInterval   time.Duration
}

// NewHandlers creates new API handlers. store may be nil when no database is configured.
func NewHandlers(store RunStore, temporalClient WorkflowClient, screenshotDir string, logger logrus.FieldLogger) *Handlers {
	return &Handlers{
		store:          store,
		temporalClient: temporalClient,
		screenshotDir:  screenshotDir,
		logger:         logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pollInterval: 500 * time.Millisecond,
	}
}

// NewRouter wires the handlers under /api plus a health check.
func NewRouter(h *Handlers) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]string{"status": "ok"})
	}).Methods("GET")

	apiRouter := router.PathPrefix("/api").Subrouter()

	apiRouter.HandleFunc("/verifications", h.StartVerification).Methods("POST")
	apiRouter.HandleFunc("/verifications", h.ListVerifications).Methods("GET")
	apiRouter.HandleFunc("/verifications/{id}", h.GetVerification).Methods("GET")
	apiRouter.HandleFunc("/verifications/{id}/cancel", h.CancelVerification).Methods("POST")
	apiRouter.HandleFunc("/verifications/{id}/stream", h.StreamVerification).Methods("GET")

	apiRouter.HandleFunc("/screenshots/{filename}", h.ServeScreenshot).Methods("GET")

	return router
}

// ==================== Verification Handlers ====================

// StartVerification creates a run and starts the verification workflow
func (h *Handlers) StartVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.store == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	var req models.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	runID := uuid.New().String()
	run := &models.VerificationRun{
		ID:        runID,
		Status:    models.StatusPending,
		TargetURL: req.TargetURL,
	}
	if err := h.store.CreateRun(ctx, run); err != nil {
		http.Error(w, "Failed to create run: "+err.Error(), http.StatusInternalServerError)
		return
	}

	input := models.VerificationInput{
		RunID:          runID,
		TargetURL:      req.TargetURL,
		FullPage:       req.FullPage,
		Headless:       req.Headless,
		TimeoutSeconds: 120,
	}

	workflowOptions := client.StartWorkflowOptions{
		ID:        fmt.Sprintf("debug-ui-verification-%s", runID),
		TaskQueue: workflows.TaskQueue,
	}

	we, err := h.temporalClient.ExecuteWorkflow(ctx, workflowOptions, workflows.WorkflowName, input)
	if err != nil {
		if uerr := h.store.UpdateRunStatus(ctx, runID, models.StatusFailed, err.Error()); uerr != nil {
			h.logger.WithError(uerr).Warn("Failed to mark run as failed")
		}
		http.Error(w, "Failed to start workflow: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if err := h.store.SetTemporalIDs(ctx, runID, we.GetID(), we.GetRunID()); err != nil {
		h.logger.WithError(err).WithField("run_id", runID).Warn("Failed to store temporal ids")
	}
	if err := h.store.UpdateRunStatus(ctx, runID, models.StatusRunning, ""); err != nil {
		h.logger.WithError(err).WithField("run_id", runID).Warn("Failed to mark run as running")
	}

	w.WriteHeader(http.StatusAccepted)
	respondJSON(w, map[string]interface{}{
		"run_id":               runID,
		"temporal_workflow_id": we.GetID(),
		"temporal_run_id":      we.GetRunID(),
		"status":               models.StatusRunning,
	})
}

// ListVerifications lists recent runs
func (h *Handlers) ListVerifications(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, runs)
}

// GetVerification retrieves a run with its assertions
func (h *Handlers) GetVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if h.store == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	run, err := h.store.GetRun(ctx, id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	assertions, err := h.store.GetAssertions(ctx, id)
	if err != nil {
		h.logger.WithError(err).WithField("run_id", id).Warn("Failed to load assertions")
	}
	run.Assertions = assertions

	respondJSON(w, run)
}

// CancelVerification cancels a running verification
func (h *Handlers) CancelVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if h.store == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	run, err := h.store.GetRun(ctx, id)
	if err != nil || run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if run.Status.Terminal() {
		http.Error(w, "Run already finished", http.StatusConflict)
		return
	}

	if run.TemporalWorkflowID != "" {
		if err := h.temporalClient.CancelWorkflow(ctx, run.TemporalWorkflowID, run.TemporalRunID); err != nil {
			http.Error(w, "Failed to cancel workflow: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}

	if err := h.store.UpdateRunStatus(ctx, id, models.StatusCanceled, "Cancelled by user"); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]string{"status": string(models.StatusCanceled)})
}

// StreamVerification streams run updates via WebSocket
func (h *Handlers) StreamVerification(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	if h.store == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// A hijacked connection's request context outlives the client, so watch
	// the read side for the close.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	var lastStatus models.RunStatus
	var lastState models.RunState
	lastAssertions := -1

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			progress, ok := h.progress(ctx, runID)
			if !ok {
				continue
			}

			if progress.Status == lastStatus && progress.State == lastState && len(progress.Assertions) == lastAssertions {
				continue
			}

			msg := models.WSMessage{
				Type:    "run_update",
				Payload: progress,
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}

			lastStatus = progress.Status
			lastState = progress.State
			lastAssertions = len(progress.Assertions)

			if progress.Status.Terminal() {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(progress.Status)))
				return
			}
		}
	}
}

// progress reads the run from the database. The Temporal query only carries
// the outcome once the activity has returned, so it is used to pick up a
// terminal result the database has not recorded yet.
func (h *Handlers) progress(ctx context.Context, runID string) (models.VerificationResult, bool) {
	run, err := h.store.GetRun(ctx, runID)
	if err != nil || run == nil {
		return models.VerificationResult{}, false
	}

	if h.temporalClient != nil && run.TemporalWorkflowID != "" && !run.Status.Terminal() {
		resp, err := h.temporalClient.QueryWorkflow(ctx, run.TemporalWorkflowID, run.TemporalRunID, workflows.ProgressQuery)
		if err == nil {
			var result models.VerificationResult
			if resp.Get(&result) == nil && result.Status.Terminal() {
				return result, true
			}
		}
	}

	assertions, _ := h.store.GetAssertions(ctx, runID)
	return models.VerificationResult{
		RunID:          run.ID,
		Status:         run.Status,
		State:          run.State,
		TargetURL:      run.TargetURL,
		Toggled:        run.Toggled,
		Assertions:     assertions,
		ScreenshotPath: run.ScreenshotPath,
		FailedStep:     run.FailedStep,
		FailedSelector: run.FailedSelector,
		TotalDuration:  run.Duration,
		ErrorMessage:   run.ErrorMessage,
	}, true
}

// ==================== Screenshot Handlers ====================

// ServeScreenshot serves a screenshot file
func (h *Handlers) ServeScreenshot(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]

	// Only files directly inside the screenshot directory are served.
	filePath := filepath.Join(h.screenshotDir, filepath.Base(filename))

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.Error(w, "Screenshot not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, filePath)
}

// ==================== Helpers ====================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

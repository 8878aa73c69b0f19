package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"

	"dev/bravebird/debug-ui-verifier/pkg/models"
	"dev/bravebird/debug-ui-verifier/pkg/temporal/workflows"
)

type memoryStore struct {
	mu         sync.Mutex
	runs       map[string]*models.VerificationRun
	assertions map[string][]models.AssertionResult
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		runs:       map[string]*models.VerificationRun{},
		assertions: map[string][]models.AssertionResult{},
	}
}

func (s *memoryStore) CreateRun(ctx context.Context, run *models.VerificationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *run
	s.runs[run.ID] = &copied
	return nil
}

func (s *memoryStore) SetTemporalIDs(ctx context.Context, id, workflowID, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return errors.New("run not found")
	}
	run.TemporalWorkflowID = workflowID
	run.TemporalRunID = runID
	return nil
}

func (s *memoryStore) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return errors.New("run not found")
	}
	run.Status = status
	run.ErrorMessage = errorMsg
	return nil
}

func (s *memoryStore) GetRun(ctx context.Context, id string) (*models.VerificationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	copied := *run
	return &copied, nil
}

func (s *memoryStore) ListRuns(ctx context.Context, limit int) ([]models.VerificationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := []models.VerificationRun{}
	for _, run := range s.runs {
		if len(runs) == limit {
			break
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

func (s *memoryStore) GetAssertions(ctx context.Context, runID string) ([]models.AssertionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assertions[runID], nil
}

func (s *memoryStore) set(run models.VerificationRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = &run
}

func newTestServer(t *testing.T, store RunStore, temporalClient WorkflowClient) (*Handlers, *httptest.Server) {
	logger, _ := logtest.NewNullLogger()
	h := NewHandlers(store, temporalClient, t.TempDir(), logger)
	h.pollInterval = 10 * time.Millisecond

	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return h, srv
}

func TestHealth(t *testing.T) {
	_, srv := newTestServer(t, nil, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestStoreUnavailable(t *testing.T) {
	_, srv := newTestServer(t, nil, nil)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/verifications"},
		{http.MethodGet, "/api/verifications"},
		{http.MethodGet, "/api/verifications/abc"},
		{http.MethodPost, "/api/verifications/abc/cancel"},
		{http.MethodGet, "/api/verifications/abc/stream"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		})
	}
}

func TestStartVerification(t *testing.T) {
	store := newMemoryStore()

	run := &mocks.WorkflowRun{}
	run.On("GetID").Return("debug-ui-verification-wf")
	run.On("GetRunID").Return("temporal-run-1")

	var started models.VerificationInput
	var options client.StartWorkflowOptions
	temporalClient := &mocks.Client{}
	temporalClient.On("ExecuteWorkflow", mock.Anything, mock.Anything, workflows.WorkflowName, mock.Anything).
		Run(func(args mock.Arguments) {
			options = args.Get(1).(client.StartWorkflowOptions)
			started = args.Get(3).(models.VerificationInput)
		}).
		Return(run, nil)

	_, srv := newTestServer(t, store, temporalClient)

	body := `{"target_url": "http://staging.internal:5173/", "full_page": true}`
	resp, err := http.Post(srv.URL+"/api/verifications", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	runID, _ := out["run_id"].(string)
	require.NotEmpty(t, runID)
	assert.Equal(t, "temporal-run-1", out["temporal_run_id"])

	assert.Equal(t, workflows.TaskQueue, options.TaskQueue)
	assert.Equal(t, "debug-ui-verification-"+runID, options.ID)
	assert.Equal(t, runID, started.RunID)
	assert.Equal(t, "http://staging.internal:5173/", started.TargetURL)
	assert.True(t, started.FullPage)

	stored, err := store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.StatusRunning, stored.Status)
	assert.Equal(t, "debug-ui-verification-wf", stored.TemporalWorkflowID)
	assert.Equal(t, "temporal-run-1", stored.TemporalRunID)

	temporalClient.AssertExpectations(t)
}

func TestStartVerificationWorkflowError(t *testing.T) {
	store := newMemoryStore()

	temporalClient := &mocks.Client{}
	temporalClient.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("temporal unavailable"))

	_, srv := newTestServer(t, store, temporalClient)

	resp, err := http.Post(srv.URL+"/api/verifications", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	runs, err := store.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].ErrorMessage, "temporal unavailable")
}

func TestStartVerificationBadBody(t *testing.T) {
	_, srv := newTestServer(t, newMemoryStore(), &mocks.Client{})

	resp, err := http.Post(srv.URL+"/api/verifications", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetVerification(t *testing.T) {
	store := newMemoryStore()
	store.set(models.VerificationRun{
		ID:             "run-1",
		Status:         models.StatusFailed,
		State:          models.StateDebugEnabled,
		FailedStep:     "assert-debug-area",
		FailedSelector: "#debugArea",
	})
	store.assertions["run-1"] = []models.AssertionResult{
		{Name: "debug area", Selector: "#debugArea", Condition: "visible", Passed: false},
	}

	_, srv := newTestServer(t, store, nil)

	resp, err := http.Get(srv.URL + "/api/verifications/run-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var run models.VerificationRun
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	assert.Equal(t, "#debugArea", run.FailedSelector)
	require.Len(t, run.Assertions, 1)
	assert.False(t, run.Assertions[0].Passed)

	missing, err := http.Get(srv.URL + "/api/verifications/nope")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestListVerifications(t *testing.T) {
	store := newMemoryStore()
	store.set(models.VerificationRun{ID: "a", Status: models.StatusSuccess})
	store.set(models.VerificationRun{ID: "b", Status: models.StatusRunning})

	_, srv := newTestServer(t, store, nil)

	resp, err := http.Get(srv.URL + "/api/verifications?limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var runs []models.VerificationRun
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	assert.Len(t, runs, 2)

	bad, err := http.Get(srv.URL + "/api/verifications?limit=zero")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestCancelVerification(t *testing.T) {
	store := newMemoryStore()
	store.set(models.VerificationRun{
		ID:                 "running",
		Status:             models.StatusRunning,
		TemporalWorkflowID: "debug-ui-verification-running",
		TemporalRunID:      "r1",
	})
	store.set(models.VerificationRun{ID: "done", Status: models.StatusSuccess})

	temporalClient := &mocks.Client{}
	temporalClient.On("CancelWorkflow", mock.Anything, "debug-ui-verification-running", "r1").Return(nil)

	_, srv := newTestServer(t, store, temporalClient)

	resp, err := http.Post(srv.URL+"/api/verifications/running/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	run, _ := store.GetRun(context.Background(), "running")
	assert.Equal(t, models.StatusCanceled, run.Status)
	temporalClient.AssertExpectations(t)

	finished, err := http.Post(srv.URL+"/api/verifications/done/cancel", "application/json", nil)
	require.NoError(t, err)
	finished.Body.Close()
	assert.Equal(t, http.StatusConflict, finished.StatusCode)

	unknown, err := http.Post(srv.URL+"/api/verifications/nope/cancel", "application/json", nil)
	require.NoError(t, err)
	unknown.Body.Close()
	assert.Equal(t, http.StatusNotFound, unknown.StatusCode)
}

func TestStreamVerification(t *testing.T) {
	store := newMemoryStore()
	store.set(models.VerificationRun{ID: "live", Status: models.StatusRunning, State: models.StateNavigated})

	_, srv := newTestServer(t, store, nil)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/verifications/live/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first struct {
		Type    string                    `json:"type"`
		Payload models.VerificationResult `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "run_update", first.Type)
	assert.Equal(t, models.StateNavigated, first.Payload.State)

	store.set(models.VerificationRun{
		ID:     "live",
		Status: models.StatusSuccess,
		State:  models.StateScreenshotCaptured,
	})

	var last struct {
		Type    string                    `json:"type"`
		Payload models.VerificationResult `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&last))
	assert.Equal(t, models.StatusSuccess, last.Payload.Status)
	assert.Equal(t, models.StateScreenshotCaptured, last.Payload.State)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "stream closes after a terminal status: %v", err)
}

func TestStreamVerificationUnknownRun(t *testing.T) {
	_, srv := newTestServer(t, newMemoryStore(), nil)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/verifications/nope/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if conn != nil {
		conn.Close()
	}
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamVerificationStopsWhenClientLeaves(t *testing.T) {
	store := newMemoryStore()
	store.set(models.VerificationRun{ID: "live", Status: models.StatusRunning, State: models.StateNavigated})

	done := make(chan struct{})
	logger, _ := logtest.NewNullLogger()
	h := NewHandlers(store, nil, t.TempDir(), logger)
	h.pollInterval = 10 * time.Millisecond
	router := NewRouter(h)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		router.ServeHTTP(w, r)
		if strings.HasSuffix(r.URL.Path, "/stream") {
			close(done)
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/verifications/live/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first models.WSMessage
	require.NoError(t, conn.ReadJSON(&first))
	conn.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream handler still running after the client disconnected")
	}
}

func TestServeScreenshot(t *testing.T) {
	h, srv := newTestServer(t, nil, nil)
	require.NoError(t, os.WriteFile(filepath.Join(h.screenshotDir, "debug_ui_run-1.png"), []byte("\x89PNG"), 0o644))

	resp, err := http.Get(srv.URL + "/api/screenshots/debug_ui_run-1.png")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	missing, err := http.Get(srv.URL + "/api/screenshots/other.png")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

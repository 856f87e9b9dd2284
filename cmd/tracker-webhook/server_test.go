package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"

	"github.com/fyrsmithlabs/specd/internal/automation"
	"github.com/fyrsmithlabs/specd/internal/config"
	"github.com/fyrsmithlabs/specd/internal/logging"
	"github.com/fyrsmithlabs/specd/internal/pipeline"
)

const testSecret = "webhook-test-secret"

// fakeRunService records trigger calls without a Temporal cluster.
type fakeRunService struct {
	startCalls  []pipeline.StartRequest
	startHandle *pipeline.RunHandle
	startErr    error

	statusRun *pipeline.WorkflowRun
	statusErr error

	cancelled []string
	cancelErr error
}

func (f *fakeRunService) Start(ctx context.Context, req pipeline.StartRequest) (*pipeline.RunHandle, error) {
	f.startCalls = append(f.startCalls, req)
	if f.startErr != nil {
		return nil, f.startErr
	}
	if f.startHandle != nil {
		return f.startHandle, nil
	}
	return &pipeline.RunHandle{
		WorkflowID: pipeline.WorkflowID(req.ProjectID, req.TaskID),
		RunID:      "run-1",
	}, nil
}

func (f *fakeRunService) GetStatus(ctx context.Context, workflowID string) (*pipeline.WorkflowRun, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.statusRun, nil
}

func (f *fakeRunService) Cancel(ctx context.Context, workflowID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, workflowID)
	return nil
}

func newTestServer(t *testing.T, runs runService) *Server {
	t.Helper()
	s, err := newServer(runs, config.Secret(testSecret), logging.NewTestLogger().Logger)
	require.NoError(t, err)
	return s
}

func perform(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, target string, body any) *http.Request {
	data, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func webhookRequest(t *testing.T, event trackerEvent, secret string) *http.Request {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook/tracker", bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(signatureHeader, signPayload(secret, payload))
	return req
}

func TestNewServer(t *testing.T) {
	t.Run("requires run service", func(t *testing.T) {
		_, err := newServer(nil, "secret", logging.NewTestLogger().Logger)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "run service")
	})

	t.Run("requires logger", func(t *testing.T) {
		_, err := newServer(&fakeRunService{}, "secret", nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})
}

func TestHandleHealth(t *testing.T) {
	server := newTestServer(t, &fakeRunService{})

	rec := perform(server, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleStartRun(t *testing.T) {
	fake := &fakeRunService{}
	server := newTestServer(t, fake)

	rec := perform(server, jsonRequest(http.MethodPost, "/api/v1/runs", startRunRequest{
		TaskID:         "TASK-42",
		ProjectID:      "proj-1",
		OrganizationID: "org-7",
	}))

	require.Equal(t, http.StatusCreated, rec.Code)

	var handle pipeline.RunHandle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &handle))
	assert.Equal(t, "pipeline-proj-1-TASK-42", handle.WorkflowID)
	assert.Equal(t, "run-1", handle.RunID)

	require.Len(t, fake.startCalls, 1)
	assert.Equal(t, "TASK-42", fake.startCalls[0].TaskID)
	assert.Equal(t, "proj-1", fake.startCalls[0].ProjectID)
	assert.Equal(t, "org-7", fake.startCalls[0].OrganizationID)
	assert.Empty(t, fake.startCalls[0].Phase)
}

func TestHandleStartRun_Validation(t *testing.T) {
	cases := []struct {
		name string
		req  startRunRequest
	}{
		{
			name: "missing task",
			req:  startRunRequest{ProjectID: "proj-1"},
		},
		{
			name: "missing project",
			req:  startRunRequest{TaskID: "TASK-1"},
		},
		{
			name: "unknown phase",
			req:  startRunRequest{TaskID: "TASK-1", ProjectID: "proj-1", Phase: "deploy"},
		},
		{
			name: "council without models",
			req: startRunRequest{
				TaskID:    "TASK-1",
				ProjectID: "proj-1",
				Config: &automation.Config{
					Phases: map[automation.Phase]automation.PhaseConfig{
						automation.PhaseRefinement: {
							Enabled: true,
							Features: map[string]bool{
								automation.FeatureCouncil: true,
							},
						},
					},
				},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeRunService{}
			server := newTestServer(t, fake)

			rec := perform(server, jsonRequest(http.MethodPost, "/api/v1/runs", tc.req))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, fake.startCalls, "invalid requests must not reach the cluster")
		})
	}
}

func TestHandleStartRun_ActiveRunConflict(t *testing.T) {
	fake := &fakeRunService{startErr: pipeline.ErrRunActive}
	server := newTestServer(t, fake)

	rec := perform(server, jsonRequest(http.MethodPost, "/api/v1/runs", startRunRequest{
		TaskID:    "TASK-42",
		ProjectID: "proj-1",
	}))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already active")
}

func TestHandleGetRun(t *testing.T) {
	t.Run("returns snapshot", func(t *testing.T) {
		fake := &fakeRunService{
			statusRun: &pipeline.WorkflowRun{
				TaskID:     "TASK-42",
				ProjectID:  "proj-1",
				WorkflowID: "pipeline-proj-1-TASK-42",
				Status:     pipeline.StatusRunning,
				StartedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			},
		}
		server := newTestServer(t, fake)

		rec := perform(server, httptest.NewRequest(http.MethodGet, "/api/v1/runs/pipeline-proj-1-TASK-42", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var run pipeline.WorkflowRun
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
		assert.Equal(t, "TASK-42", run.TaskID)
		assert.Equal(t, pipeline.StatusRunning, run.Status)
	})

	t.Run("unknown run is 404", func(t *testing.T) {
		fake := &fakeRunService{
			statusErr: fmt.Errorf("query pipeline status: %w", serviceerror.NewNotFound("workflow not found")),
		}
		server := newTestServer(t, fake)

		rec := perform(server, httptest.NewRequest(http.MethodGet, "/api/v1/runs/pipeline-x-y", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleCancelRun(t *testing.T) {
	t.Run("accepts cancellation", func(t *testing.T) {
		fake := &fakeRunService{}
		server := newTestServer(t, fake)

		rec := perform(server, httptest.NewRequest(http.MethodDelete, "/api/v1/runs/pipeline-proj-1-TASK-42", nil))

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, []string{"pipeline-proj-1-TASK-42"}, fake.cancelled)
	})

	t.Run("unknown run is 404", func(t *testing.T) {
		fake := &fakeRunService{
			cancelErr: fmt.Errorf("cancel pipeline run: %w", serviceerror.NewNotFound("workflow not found")),
		}
		server := newTestServer(t, fake)

		rec := perform(server, httptest.NewRequest(http.MethodDelete, "/api/v1/runs/pipeline-x-y", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleTrackerWebhook(t *testing.T) {
	t.Run("automation event starts full run", func(t *testing.T) {
		fake := &fakeRunService{}
		server := newTestServer(t, fake)

		rec := perform(server, webhookRequest(t, trackerEvent{
			Event:          "task.automation_requested",
			TaskID:         "TASK-42",
			ProjectID:      "proj-1",
			OrganizationID: "org-7",
		}, testSecret))

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, rec.Body.String(), "accepted")

		require.Len(t, fake.startCalls, 1)
		assert.Equal(t, "TASK-42", fake.startCalls[0].TaskID)
		assert.Equal(t, "org-7", fake.startCalls[0].OrganizationID)
		assert.Empty(t, fake.startCalls[0].Phase)
	})

	t.Run("phase event starts single phase", func(t *testing.T) {
		fake := &fakeRunService{}
		server := newTestServer(t, fake)

		rec := perform(server, webhookRequest(t, trackerEvent{
			Event:     "task.phase_requested",
			TaskID:    "TASK-42",
			ProjectID: "proj-1",
			Phase:     "user_story",
		}, testSecret))

		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, fake.startCalls, 1)
		assert.Equal(t, "user_story", fake.startCalls[0].Phase)
	})

	t.Run("phase event without phase is rejected", func(t *testing.T) {
		fake := &fakeRunService{}
		server := newTestServer(t, fake)

		rec := perform(server, webhookRequest(t, trackerEvent{
			Event:     "task.phase_requested",
			TaskID:    "TASK-42",
			ProjectID: "proj-1",
		}, testSecret))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, fake.startCalls)
	})

	t.Run("wrong secret is unauthorized", func(t *testing.T) {
		fake := &fakeRunService{}
		server := newTestServer(t, fake)

		rec := perform(server, webhookRequest(t, trackerEvent{
			Event:     "task.automation_requested",
			TaskID:    "TASK-42",
			ProjectID: "proj-1",
		}, "not-the-secret"))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, fake.startCalls)
	})

	t.Run("missing signature is unauthorized", func(t *testing.T) {
		fake := &fakeRunService{}
		server := newTestServer(t, fake)

		payload, err := json.Marshal(trackerEvent{
			Event:     "task.automation_requested",
			TaskID:    "TASK-42",
			ProjectID: "proj-1",
		})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/webhook/tracker", bytes.NewReader(payload))
		rec := perform(server, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, fake.startCalls)
	})

	t.Run("unrelated events are ignored", func(t *testing.T) {
		fake := &fakeRunService{}
		server := newTestServer(t, fake)

		rec := perform(server, webhookRequest(t, trackerEvent{
			Event:     "task.comment_added",
			TaskID:    "TASK-42",
			ProjectID: "proj-1",
		}, testSecret))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "ignored")
		assert.Empty(t, fake.startCalls)
	})

	t.Run("duplicate delivery answers 200", func(t *testing.T) {
		fake := &fakeRunService{startErr: pipeline.ErrRunActive}
		server := newTestServer(t, fake)

		rec := perform(server, webhookRequest(t, trackerEvent{
			Event:     "task.automation_requested",
			TaskID:    "TASK-42",
			ProjectID: "proj-1",
		}, testSecret))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "duplicate")
	})

	t.Run("garbage payload with valid signature is rejected", func(t *testing.T) {
		fake := &fakeRunService{}
		server := newTestServer(t, fake)

		payload := []byte("{not json")
		req := httptest.NewRequest(http.MethodPost, "/webhook/tracker", bytes.NewReader(payload))
		req.Header.Set(signatureHeader, signPayload(testSecret, payload))

		rec := perform(server, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, fake.startCalls)
	})
}

func TestRateLimit(t *testing.T) {
	fake := &fakeRunService{
		statusRun: &pipeline.WorkflowRun{TaskID: "TASK-1", Status: pipeline.StatusRunning},
	}
	server := newTestServer(t, fake)

	var rejected int
	for i := 0; i < 15; i++ {
		rec := perform(server, httptest.NewRequest(http.MethodGet, "/api/v1/runs/pipeline-p-t", nil))
		if rec.Code == http.StatusTooManyRequests {
			rejected++
		} else {
			require.Equal(t, http.StatusOK, rec.Code)
		}
	}

	assert.GreaterOrEqual(t, rejected, 1, "burst budget exhausted within a single second")
}

func TestRateLimitExemptsProbes(t *testing.T) {
	server := newTestServer(t, &fakeRunService{})

	for i := 0; i < 30; i++ {
		rec := perform(server, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestVerifySignature(t *testing.T) {
	server := newTestServer(t, &fakeRunService{})
	payload := []byte(`{"event":"task.automation_requested"}`)

	assert.True(t, server.verifySignature(payload, signPayload(testSecret, payload)))
	assert.False(t, server.verifySignature(payload, signPayload("other", payload)))
	assert.False(t, server.verifySignature(payload, "sha256=zz"))
	assert.False(t, server.verifySignature(payload, ""))
	assert.False(t, server.verifySignature(payload, hex.EncodeToString([]byte("raw-no-prefix"))))
}

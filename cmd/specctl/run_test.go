package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/specd/internal/automation"
	"github.com/fyrsmithlabs/specd/internal/pipeline"
)

func TestRunStart_TriggersRun(t *testing.T) {
	var got startRunRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/runs", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(pipeline.RunHandle{
			WorkflowID: "pipeline-proj-1-TASK-42",
			RunID:      "run-1",
		})
	}))
	defer server.Close()

	serverURL = server.URL
	runTaskID = "TASK-42"
	runProjectID = "proj-1"
	runOrgID = "org-7"
	runPhase = "user_story"
	runConfigPath = ""

	require.NoError(t, runStart(nil, nil))

	assert.Equal(t, "TASK-42", got.TaskID)
	assert.Equal(t, "proj-1", got.ProjectID)
	assert.Equal(t, "org-7", got.OrganizationID)
	assert.Equal(t, "user_story", got.Phase)
	assert.Nil(t, got.Config)
}

func TestRunStart_ActiveRunConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"a run for this task is already active"}`))
	}))
	defer server.Close()

	serverURL = server.URL
	runTaskID = "TASK-42"
	runProjectID = "proj-1"
	runOrgID = ""
	runPhase = ""
	runConfigPath = ""

	err := runStart(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already active")
}

func TestRunStart_SendsConfigFile(t *testing.T) {
	var got startRunRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(pipeline.RunHandle{WorkflowID: "w", RunID: "r"})
	}))
	defer server.Close()

	configPath := filepath.Join(t.TempDir(), "automation.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
version: 1
phases:
  refinement:
    enabled: true
    ai_model: claude-3-5-haiku-20241022
  technical_plan:
    enabled: true
    features:
      enableCouncilAI: true
    council_models:
      - claude-3-5-sonnet-20241022
      - gpt-4o
`), 0o600))

	serverURL = server.URL
	runTaskID = "TASK-42"
	runProjectID = "proj-1"
	runOrgID = ""
	runPhase = ""
	runConfigPath = configPath

	require.NoError(t, runStart(nil, nil))

	require.NotNil(t, got.Config)
	assert.Equal(t, "claude-3-5-haiku-20241022", got.Config.Phase(automation.PhaseRefinement).AIModel)
	plan := got.Config.Phase(automation.PhaseTechnicalPlan)
	assert.True(t, plan.Feature(automation.FeatureCouncil))
	assert.Equal(t, []string{"claude-3-5-sonnet-20241022", "gpt-4o"}, plan.CouncilModels)
}

func TestRunStatus(t *testing.T) {
	t.Run("fetches by derived workflow ID", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/api/v1/runs/pipeline-proj-1-TASK-42", r.URL.Path)

			_ = json.NewEncoder(w).Encode(pipeline.WorkflowRun{
				TaskID:     "TASK-42",
				ProjectID:  "proj-1",
				WorkflowID: "pipeline-proj-1-TASK-42",
				Status:     pipeline.StatusCompleted,
				StartedAt:  time.Now().Add(-2 * time.Minute),
				FinishedAt: time.Now(),
				Completed: []pipeline.PhaseRecord{
					{Phase: automation.PhaseRefinement, Model: "claude-3-5-sonnet-20241022"},
				},
			})
		}))
		defer server.Close()

		serverURL = server.URL
		runTaskID = "TASK-42"
		runProjectID = "proj-1"
		outputJSON = false

		require.NoError(t, runStatus(nil, nil))
	})

	t.Run("missing run reports task and project", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"run not found"}`))
		}))
		defer server.Close()

		serverURL = server.URL
		runTaskID = "TASK-9"
		runProjectID = "proj-2"
		outputJSON = false

		err := runStatus(nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "TASK-9")
		assert.Contains(t, err.Error(), "proj-2")
	})
}

func TestRunCancel(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"cancelling"}`))
	}))
	defer server.Close()

	serverURL = server.URL
	runTaskID = "TASK-42"
	runProjectID = "proj-1"

	require.NoError(t, runCancel(nil, nil))
	assert.Equal(t, "/api/v1/runs/pipeline-proj-1-TASK-42", gotPath)
}

func TestRunHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
	}))
	defer server.Close()

	serverURL = server.URL
	require.NoError(t, runHealth(nil, nil))
}

func TestLoadAutomationConfig(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := loadAutomationConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("invalid council config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "automation.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
phases:
  refinement:
    enabled: true
    features:
      enableCouncilAI: true
`), 0o600))

		_, err := loadAutomationConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid automation config")
	})

	t.Run("normalizes defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "automation.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
phases:
  user_story:
    enabled: true
`), 0o600))

		cfg, err := loadAutomationConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 1, cfg.Version)
		assert.Equal(t, automation.DefaultModel, cfg.Phase(automation.PhaseUserStory).AIModel)
	})
}

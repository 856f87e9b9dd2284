package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specd/internal/automation"
)

// TaskQueue is the default Temporal task queue pipeline workers poll.
const TaskQueue = "specd-pipeline"

// Starter triggers, inspects, and cancels pipeline runs against a Temporal
// cluster. The webhook server fronts it; the CLI reaches it over the
// server's HTTP API.
type Starter struct {
	tc        client.Client
	taskQueue string
	logger    *zap.Logger
}

// NewStarter wraps a Temporal client. An empty task queue falls back to
// TaskQueue; a nil logger falls back to a no-op logger.
func NewStarter(tc client.Client, taskQueue string, logger *zap.Logger) *Starter {
	if taskQueue == "" {
		taskQueue = TaskQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Starter{tc: tc, taskQueue: taskQueue, logger: logger}
}

// StartRequest describes one pipeline trigger.
type StartRequest struct {
	TaskID         string
	ProjectID      string
	OrganizationID string

	// Phase restricts the run to a single phase. Empty runs every enabled
	// phase in order.
	Phase string

	// Config carries the project's automation settings for this run. Nil
	// means defaults.
	Config *automation.Config
}

// RunHandle identifies a started run.
type RunHandle struct {
	WorkflowID string `json:"workflowId"`
	RunID      string `json:"runId"`
}

// Start triggers a pipeline run for a task. While a run for the same
// (project, task) pair is open, Start returns ErrRunActive; once that run
// closes, a new one may start.
func (s *Starter) Start(ctx context.Context, req StartRequest) (*RunHandle, error) {
	if req.TaskID == "" {
		return nil, fmt.Errorf("task ID is required")
	}
	if req.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}

	var phase automation.Phase
	if req.Phase != "" {
		p, err := automation.ParsePhase(req.Phase)
		if err != nil {
			return nil, err
		}
		phase = p
	}
	if req.Config != nil {
		req.Config.Normalize()
		if err := req.Config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid automation config: %w", err)
		}
	}

	workflowID := WorkflowID(req.ProjectID, req.TaskID)
	we, err := s.tc.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: s.taskQueue,
	}, SpecificationPipelineWorkflow, PipelineInput{
		TaskID:         req.TaskID,
		ProjectID:      req.ProjectID,
		OrganizationID: req.OrganizationID,
		Phase:          phase,
		Config:         req.Config,
	})
	if err != nil {
		var already *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &already) {
			runsRejected.Add(ctx, 1)
			s.logger.Info("pipeline run already active",
				zap.String("workflow_id", workflowID),
				zap.String("project_id", req.ProjectID),
				zap.String("task_id", req.TaskID))
			return nil, ErrRunActive
		}
		return nil, fmt.Errorf("start pipeline workflow: %w", err)
	}

	runsStarted.Add(ctx, 1)
	s.logger.Info("pipeline run started",
		zap.String("workflow_id", we.GetID()),
		zap.String("run_id", we.GetRunID()),
		zap.String("project_id", req.ProjectID),
		zap.String("task_id", req.TaskID),
		zap.String("phase", req.Phase))
	return &RunHandle{WorkflowID: we.GetID(), RunID: we.GetRunID()}, nil
}

// GetStatus returns the live snapshot of the run with the given workflow
// ID. Closed runs answer from history for as long as the cluster retains
// them.
func (s *Starter) GetStatus(ctx context.Context, workflowID string) (*WorkflowRun, error) {
	resp, err := s.tc.QueryWorkflow(ctx, workflowID, "", QueryStatus)
	if err != nil {
		return nil, fmt.Errorf("query pipeline status: %w", err)
	}
	var run WorkflowRun
	if err := resp.Get(&run); err != nil {
		return nil, fmt.Errorf("decode pipeline status: %w", err)
	}
	return &run, nil
}

// Cancel requests cancellation of the run with the given workflow ID. The
// workflow observes it at the next activity boundary and finishes with a
// cancelled snapshot.
func (s *Starter) Cancel(ctx context.Context, workflowID string) error {
	if err := s.tc.CancelWorkflow(ctx, workflowID, ""); err != nil {
		return fmt.Errorf("cancel pipeline run: %w", err)
	}
	s.logger.Info("pipeline run cancellation requested",
		zap.String("workflow_id", workflowID))
	return nil
}

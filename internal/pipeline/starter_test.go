package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/specd/internal/automation"
)

// fakeTemporalClient embeds the client interface so only the methods the
// starter touches need implementations.
type fakeTemporalClient struct {
	client.Client

	startErr  error
	lastOpts  client.StartWorkflowOptions
	lastInput PipelineInput
	cancelled []string
	queryRun  *WorkflowRun
	queryErr  error
}

func (f *fakeTemporalClient) ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error) {
	f.lastOpts = options
	if len(args) == 1 {
		if in, ok := args[0].(PipelineInput); ok {
			f.lastInput = in
		}
	}
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &fakeWorkflowRun{id: options.ID, runID: "run-1"}, nil
}

func (f *fakeTemporalClient) QueryWorkflow(ctx context.Context, workflowID, runID, queryType string, args ...interface{}) (converter.EncodedValue, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &fakeEncodedValue{run: f.queryRun}, nil
}

func (f *fakeTemporalClient) CancelWorkflow(ctx context.Context, workflowID, runID string) error {
	f.cancelled = append(f.cancelled, workflowID)
	return nil
}

type fakeWorkflowRun struct {
	client.WorkflowRun
	id, runID string
}

func (f *fakeWorkflowRun) GetID() string    { return f.id }
func (f *fakeWorkflowRun) GetRunID() string { return f.runID }

type fakeEncodedValue struct {
	run *WorkflowRun
}

func (f *fakeEncodedValue) HasValue() bool { return f.run != nil }

func (f *fakeEncodedValue) Get(valuePtr interface{}) error {
	out, ok := valuePtr.(*WorkflowRun)
	if !ok {
		return errors.New("unexpected query result target")
	}
	*out = *f.run
	return nil
}

func TestStarter_Start(t *testing.T) {
	fc := &fakeTemporalClient{}
	s := NewStarter(fc, "", zaptest.NewLogger(t))

	handle, err := s.Start(context.Background(), StartRequest{
		TaskID:         "task-1",
		ProjectID:      "proj-1",
		OrganizationID: "org-42",
		Phase:          "user_story",
	})
	require.NoError(t, err)
	require.Equal(t, "pipeline-proj-1-task-1", handle.WorkflowID)
	require.Equal(t, "run-1", handle.RunID)

	require.Equal(t, "pipeline-proj-1-task-1", fc.lastOpts.ID)
	require.Equal(t, TaskQueue, fc.lastOpts.TaskQueue)
	require.Equal(t, automation.PhaseUserStory, fc.lastInput.Phase)
	require.Equal(t, "org-42", fc.lastInput.OrganizationID)
}

func TestStarter_StartNormalizesConfig(t *testing.T) {
	fc := &fakeTemporalClient{}
	s := NewStarter(fc, "specd-pipeline-dev", nil)

	cfg := &automation.Config{
		Phases: map[automation.Phase]automation.PhaseConfig{
			automation.PhaseTechnicalPlan: {Enabled: true},
		},
	}
	_, err := s.Start(context.Background(), StartRequest{
		TaskID:    "task-2",
		ProjectID: "proj-1",
		Config:    cfg,
	})
	require.NoError(t, err)

	require.Equal(t, "specd-pipeline-dev", fc.lastOpts.TaskQueue)
	require.Equal(t, automation.DefaultModel,
		fc.lastInput.Config.Phases[automation.PhaseTechnicalPlan].AIModel)
}

func TestStarter_StartValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     StartRequest
		wantErr string
	}{
		{
			name:    "missing task",
			req:     StartRequest{ProjectID: "proj-1"},
			wantErr: "task ID is required",
		},
		{
			name:    "missing project",
			req:     StartRequest{TaskID: "task-1"},
			wantErr: "project ID is required",
		},
		{
			name:    "unknown phase",
			req:     StartRequest{TaskID: "task-1", ProjectID: "proj-1", Phase: "deploy"},
			wantErr: "unknown phase",
		},
		{
			name: "invalid config",
			req: StartRequest{
				TaskID:    "task-1",
				ProjectID: "proj-1",
				Config: &automation.Config{
					Phases: map[automation.Phase]automation.PhaseConfig{
						automation.PhaseTechnicalPlan: {
							Enabled:  true,
							Features: map[string]bool{automation.FeatureCouncil: true},
						},
					},
				},
			},
			wantErr: "council enabled with no council models",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeTemporalClient{}
			s := NewStarter(fc, "", nil)

			_, err := s.Start(context.Background(), tt.req)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
			require.Empty(t, fc.lastOpts.ID, "invalid requests must not reach the cluster")
		})
	}
}

func TestStarter_StartWhileRunActive(t *testing.T) {
	fc := &fakeTemporalClient{
		startErr: serviceerror.NewWorkflowExecutionAlreadyStarted("already started", "req-1", "run-0"),
	}
	s := NewStarter(fc, "", zaptest.NewLogger(t))

	_, err := s.Start(context.Background(), StartRequest{TaskID: "task-1", ProjectID: "proj-1"})
	require.ErrorIs(t, err, ErrRunActive)
}

func TestStarter_GetStatus(t *testing.T) {
	fc := &fakeTemporalClient{
		queryRun: &WorkflowRun{
			TaskID:    "task-1",
			ProjectID: "proj-1",
			Status:    StatusRunning,
			Phase:     automation.PhaseTechnicalPlan,
		},
	}
	s := NewStarter(fc, "", nil)

	run, err := s.GetStatus(context.Background(), WorkflowID("proj-1", "task-1"))
	require.NoError(t, err)
	require.Equal(t, StatusRunning, run.Status)
	require.Equal(t, automation.PhaseTechnicalPlan, run.Phase)
}

func TestStarter_GetStatusError(t *testing.T) {
	fc := &fakeTemporalClient{queryErr: errors.New("workflow not found")}
	s := NewStarter(fc, "", nil)

	_, err := s.GetStatus(context.Background(), WorkflowID("proj-1", "task-1"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "query pipeline status")
}

func TestStarter_Cancel(t *testing.T) {
	fc := &fakeTemporalClient{}
	s := NewStarter(fc, "", zaptest.NewLogger(t))

	require.NoError(t, s.Cancel(context.Background(), WorkflowID("proj-1", "task-1")))
	require.Equal(t, []string{"pipeline-proj-1-task-1"}, fc.cancelled)
}

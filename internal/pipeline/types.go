package pipeline

import (
	"time"

	"github.com/fyrsmithlabs/specd/internal/automation"
	"github.com/fyrsmithlabs/specd/internal/llm"
	"github.com/fyrsmithlabs/specd/internal/phasedoc"
	"github.com/fyrsmithlabs/specd/internal/prompts"
)

// RunStatus is the lifecycle state of one pipeline run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// PipelineInput starts one run of the specification pipeline.
type PipelineInput struct {
	// TaskID is the tracker task the run works on.
	TaskID string

	// ProjectID owns the task and its documents.
	ProjectID string

	// OrganizationID attributes usage for billing. Empty means the run
	// resolves it from the project's billing metadata.
	OrganizationID string

	// Phase restricts the run to a single phase. Empty runs every enabled
	// phase in order.
	Phase automation.Phase

	// Config is the automation configuration resolved at trigger time.
	// Nil applies automation.DefaultConfig.
	Config *automation.Config
}

// PhaseRecord is one completed phase in the run snapshot.
type PhaseRecord struct {
	Phase       automation.Phase `json:"phase"`
	Model       string           `json:"model"`
	StartedAt   time.Time        `json:"startedAt"`
	CompletedAt time.Time        `json:"completedAt"`
}

// WorkflowRun is the queryable snapshot of one pipeline run. It is mutated
// only by the workflow and is terminal once completed, failed, or cancelled.
type WorkflowRun struct {
	TaskID     string           `json:"taskId"`
	ProjectID  string           `json:"projectId"`
	WorkflowID string           `json:"workflowId"`
	Phase      automation.Phase `json:"phase,omitempty"`
	Status     RunStatus        `json:"status"`
	Error      string           `json:"error,omitempty"`
	Completed  []PhaseRecord    `json:"completed,omitempty"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt,omitempty"`
}

// Activity input/output types. Activities take whole-value inputs so a
// retried attempt replays the identical operation.

type SyncTaskInput struct {
	TaskID    string
	ProjectID string
}

type UpdateStatusInput struct {
	ProjectID string
	TaskID    string
	Status    string
}

type FetchDocumentInput struct {
	ProjectID string
	TaskID    string
	Kind      phasedoc.DocumentKind
}

type SaveDocumentInput struct {
	ProjectID string
	TaskID    string
	Kind      phasedoc.DocumentKind
	Content   string
}

type AppendResultInput struct {
	ProjectID string
	TaskID    string
	Phase     automation.Phase
	Markdown  string
}

// GenerateInput drives one AI generation activity: a prompt template plus
// the variables the phase assembled for it.
type GenerateInput struct {
	ProjectID string
	TaskID    string
	Phase     automation.Phase
	Model     string
	Prompt    string
	Vars      prompts.Vars
}

// GenerateOutput is one completed AI generation. Document is the canonical
// re-encoding of the model's response, not the raw completion, so stored
// documents stay on the codec's schema regardless of model formatting drift.
type GenerateOutput struct {
	Phase     automation.Phase
	Model     string
	Document  string
	Rationale string
	Usage     llm.Usage
	LatencyMS int64
}

type RecordUsageInput struct {
	OrganizationID string
	WorkflowID     string
	ProjectID      string
	TaskID         string
	Phase          automation.Phase
	Model          string
	Usage          llm.Usage
}

type ResolveOrganizationInput struct {
	ProjectID string
}

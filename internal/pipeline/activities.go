package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specd/internal/automation"
	"github.com/fyrsmithlabs/specd/internal/docstore"
	"github.com/fyrsmithlabs/specd/internal/events"
	"github.com/fyrsmithlabs/specd/internal/llm"
	"github.com/fyrsmithlabs/specd/internal/metering"
	"github.com/fyrsmithlabs/specd/internal/phasedoc"
	"github.com/fyrsmithlabs/specd/internal/prompts"
	"github.com/fyrsmithlabs/specd/internal/tracker"
)

// noPracticesSentinel is the best practices prompt's "nothing grounded to
// say" response.
const noPracticesSentinel = "NONE"

// Activities holds the dependencies the pipeline's activities execute
// against. One instance is registered per worker.
type Activities struct {
	Tracker  tracker.Client
	Docs     docstore.Client
	Models   *llm.Registry
	Metering metering.Service
	Events   events.Publisher
	Logger   *zap.Logger
}

// NewActivities wires the activity dependencies. A nil logger is replaced
// with a no-op logger.
func NewActivities(trackerClient tracker.Client, docs docstore.Client, models *llm.Registry, meter metering.Service, pub events.Publisher, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pub == nil {
		pub = events.NewNopPublisher()
	}
	return &Activities{
		Tracker:  trackerClient,
		Docs:     docs,
		Models:   models,
		Metering: meter,
		Events:   pub,
		Logger:   logger,
	}
}

// SyncTask fetches the current task state from the tracker.
func (a *Activities) SyncTask(ctx context.Context, in SyncTaskInput) (*tracker.Task, error) {
	task, err := a.Tracker.SyncTask(ctx, in.TaskID, in.ProjectID)
	if err != nil {
		if errors.Is(err, tracker.ErrTaskNotFound) {
			return nil, temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("task %s not found in project %s", in.TaskID, in.ProjectID),
				"TaskNotFound", err)
		}
		return nil, err
	}
	return task, nil
}

// UpdateTaskStatus moves the task to the named workflow status.
func (a *Activities) UpdateTaskStatus(ctx context.Context, in UpdateStatusInput) error {
	return a.Tracker.UpdateTaskStatus(ctx, in.ProjectID, in.TaskID, in.Status)
}

// AppendPhaseResult posts a phase's output on the task's activity feed.
func (a *Activities) AppendPhaseResult(ctx context.Context, in AppendResultInput) error {
	return a.Tracker.AppendPhaseResult(ctx, in.ProjectID, in.TaskID, in.Phase, in.Markdown)
}

// FetchPhaseDocument loads a stored phase document. A missing document is a
// normal nil result, not an error.
func (a *Activities) FetchPhaseDocument(ctx context.Context, in FetchDocumentInput) (*docstore.Document, error) {
	return a.Docs.GetPhaseDocument(ctx, in.ProjectID, in.TaskID, in.Kind)
}

// SavePhaseDocument stores a phase document, replacing any previous version.
func (a *Activities) SavePhaseDocument(ctx context.Context, in SaveDocumentInput) error {
	return a.Docs.SavePhaseDocument(ctx, in.ProjectID, in.TaskID, in.Kind, in.Content)
}

// GeneratePhase runs one AI generation: render the prompt, call the model,
// decode the response into the phase's structure, and re-encode it as a
// canonical document. Responses that fail validation are permanent
// failures; retrying the same prompt burns budget the transport may need.
func (a *Activities) GeneratePhase(ctx context.Context, in GenerateInput) (*GenerateOutput, error) {
	resp, err := a.generate(ctx, in)
	if err != nil {
		return nil, err
	}

	doc, err := decodePhaseResponse(in.Phase, resp.Content)
	if err != nil {
		a.observeGeneration(ctx, in, resp.Latency, "invalid")
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidResponse", err)
	}

	out := &GenerateOutput{
		Phase:     in.Phase,
		Model:     in.Model,
		Document:  doc,
		Usage:     resp.Usage,
		LatencyMS: resp.Latency.Milliseconds(),
	}
	if in.Prompt == prompts.Chairman {
		out.Rationale = strings.TrimSpace(phasedoc.Section(resp.Content, "Rationale"))
	}

	a.observeGeneration(ctx, in, resp.Latency, "ok")
	a.Logger.Info("phase generation complete",
		zap.String("project", in.ProjectID),
		zap.String("task", in.TaskID),
		zap.String("phase", string(in.Phase)),
		zap.String("model", in.Model),
		zap.String("prompt", in.Prompt),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("latency", resp.Latency),
	)
	return out, nil
}

// QueryBestPractices runs the enrichment prompt. An empty Document means
// the model had nothing grounded to contribute; callers skip persisting it.
func (a *Activities) QueryBestPractices(ctx context.Context, in GenerateInput) (*GenerateOutput, error) {
	resp, err := a.generate(ctx, in)
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(resp.Content)
	if content == noPracticesSentinel {
		content = ""
	}

	a.observeGeneration(ctx, in, resp.Latency, "ok")
	return &GenerateOutput{
		Phase:     in.Phase,
		Model:     in.Model,
		Document:  content,
		Usage:     resp.Usage,
		LatencyMS: resp.Latency.Milliseconds(),
	}, nil
}

// RecordUsage appends billing ledger rows for one AI call. The metering
// service swallows its own failures; this never blocks a phase.
func (a *Activities) RecordUsage(ctx context.Context, in RecordUsageInput) error {
	a.Metering.Record(ctx, metering.RecordRequest{
		OrganizationID: in.OrganizationID,
		WorkflowID:     in.WorkflowID,
		ProjectID:      in.ProjectID,
		TaskID:         in.TaskID,
		Phase:          in.Phase,
		Model:          in.Model,
		Usage:          in.Usage,
	})
	return nil
}

// ResolveOrganization maps a project to its billing organization.
func (a *Activities) ResolveOrganization(ctx context.Context, in ResolveOrganizationInput) (string, error) {
	orgID, err := a.Metering.ResolveOrganization(ctx, in.ProjectID)
	if err != nil {
		if errors.Is(err, metering.ErrOrganizationNotFound) {
			return "", temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("no organization owns project %s", in.ProjectID),
				"OrganizationNotFound", err)
		}
		return "", err
	}
	return orgID, nil
}

// PublishRunEvent emits one lifecycle event. The publisher drops failures.
func (a *Activities) PublishRunEvent(ctx context.Context, event events.Event) error {
	a.Events.Publish(event)
	return nil
}

// generate renders the prompt and calls the model, classifying transport
// failures as retryable and everything else as permanent.
func (a *Activities) generate(ctx context.Context, in GenerateInput) (*llm.Response, error) {
	resolveStoryVar(in.Prompt, &in.Vars)

	prompt, err := prompts.Render(in.Prompt, in.Vars)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidPrompt", err)
	}

	client, err := a.Models.ForModel(in.Model)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "UnknownModel", err)
	}

	resp, err := client.Generate(ctx, llm.Request{
		Model:  in.Model,
		Prompt: prompt,
	})
	if err != nil {
		a.observeGeneration(ctx, in, 0, "error")
		if llm.IsRetryable(err) {
			return nil, err
		}
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "GenerationFailed", err)
	}
	return resp, nil
}

func (a *Activities) observeGeneration(ctx context.Context, in GenerateInput, latency time.Duration, outcome string) {
	attrs := metric.WithAttributes(
		attribute.String("phase", string(in.Phase)),
		attribute.String("model", in.Model),
		attribute.String("outcome", outcome),
	)
	generationCounter.Add(ctx, 1, attrs)
	if latency > 0 {
		generationDuration.Record(ctx, latency.Seconds(), metric.WithAttributes(
			attribute.String("phase", string(in.Phase)),
			attribute.String("model", in.Model),
		))
	}
}

// resolveStoryVar recovers the user story from the task description for
// prompts that consume a story when no story document was loaded. This is
// the legacy half of the codec's primary-then-legacy order: the primary
// source is the stored user story document the workflow fetches.
func resolveStoryVar(prompt string, vars *prompts.Vars) {
	if vars.UserStory != "" {
		return
	}
	switch prompt {
	case prompts.TechnicalPlan, prompts.CodeGeneration, prompts.BestPractices:
	default:
		return
	}
	story := phasedoc.DecodeUserStory(vars.Description)
	if story.Complete() {
		vars.UserStory = phasedoc.EncodeUserStory(story)
	}
}

// decodePhaseResponse validates a model response against the phase's schema
// and returns its canonical encoding. The codec itself never fails; the
// checks here reject responses whose required core is missing.
func decodePhaseResponse(phase automation.Phase, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", errors.New("model returned an empty response")
	}

	switch phase {
	case automation.PhaseRefinement:
		r := phasedoc.DecodeRefinement(content)
		if r.ProblemStatement == "" && r.RefinedDescription == "" {
			return "", errors.New("refinement response has neither problem statement nor refined description")
		}
		return phasedoc.EncodeRefinement(r), nil

	case automation.PhaseUserStory:
		s := phasedoc.DecodeUserStory(content)
		if !s.Complete() {
			return "", errors.New("story response is missing actor, goal, or benefit")
		}
		return phasedoc.EncodeUserStory(s), nil

	case automation.PhaseTechnicalPlan:
		p := phasedoc.DecodeTechnicalPlan(content)
		if len(p.ImplementationSteps) == 0 {
			return "", errors.New("plan response has no implementation steps")
		}
		return phasedoc.EncodeTechnicalPlan(p), nil

	case automation.PhaseCodeGeneration:
		g := phasedoc.DecodeCodeGeneration(content)
		if g.Summary == "" && len(g.Files) == 0 {
			return "", errors.New("code generation response has neither summary nor files")
		}
		return phasedoc.EncodeCodeGeneration(g), nil
	}

	return "", fmt.Errorf("no decoder for phase %q", phase)
}

// Package pipeline runs the specification pipeline as a durable Temporal
// workflow: refinement, user story, technical plan, and code generation
// phases executed in order against a tracker task, each phase assembling
// its context from prior phase documents, generating through one model or
// a council of models, and committing the result to the document store and
// the tracker. Worker crashes resume from history; AI calls retry on a
// bounded budget; billing and progress events ride side channels that
// never fail a run.
package pipeline

import (
	"fmt"
	"strings"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/specd/internal/automation"
	"github.com/fyrsmithlabs/specd/internal/docstore"
	"github.com/fyrsmithlabs/specd/internal/events"
	"github.com/fyrsmithlabs/specd/internal/phasedoc"
	"github.com/fyrsmithlabs/specd/internal/prompts"
	"github.com/fyrsmithlabs/specd/internal/tracker"
)

// QueryStatus is the query name serving the live run snapshot.
const QueryStatus = "getStatus"

// WorkflowID derives the deterministic workflow identifier for a task.
// Reusing the identifier makes Temporal the arbiter of the one-open-run
// rule: a second start for the same pair is rejected while the first run
// is open.
func WorkflowID(projectID, taskID string) string {
	return fmt.Sprintf("pipeline-%s-%s", projectID, taskID)
}

// runMeta carries run identity into activity inputs.
type runMeta struct {
	WorkflowID     string
	ProjectID      string
	TaskID         string
	OrganizationID string
}

// SpecificationPipelineWorkflow drives one pipeline run. Input.Phase
// restricts the run to a single phase; otherwise every enabled phase runs
// in pipeline order. The returned WorkflowRun is also served live through
// the getStatus query.
func SpecificationPipelineWorkflow(ctx workflow.Context, input PipelineInput) (*WorkflowRun, error) {
	logger := workflow.GetLogger(ctx)

	cfg := input.Config
	if cfg == nil {
		cfg = automation.DefaultConfig()
	}
	cfg.Normalize()

	run := &WorkflowRun{
		TaskID:     input.TaskID,
		ProjectID:  input.ProjectID,
		WorkflowID: workflow.GetInfo(ctx).WorkflowExecution.ID,
		Status:     StatusPending,
		StartedAt:  workflow.Now(ctx),
	}
	if err := workflow.SetQueryHandler(ctx, QueryStatus, func() (*WorkflowRun, error) {
		return run, nil
	}); err != nil {
		return run, err
	}

	if err := validateInput(input, cfg); err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		run.FinishedAt = workflow.Now(ctx)
		return run, err
	}

	phases := cfg.EnabledPhases()
	if input.Phase != "" {
		phases = []automation.Phase{input.Phase}
	}
	if len(phases) == 0 {
		logger.Info("no phases enabled, nothing to run", "task", input.TaskID)
		run.Status = StatusCompleted
		run.FinishedAt = workflow.Now(ctx)
		return run, nil
	}

	var act *Activities
	sideCtx := workflow.WithActivityOptions(ctx, sideEffectActivityOptions())

	meta := runMeta{
		WorkflowID:     run.WorkflowID,
		ProjectID:      input.ProjectID,
		TaskID:         input.TaskID,
		OrganizationID: input.OrganizationID,
	}
	if meta.OrganizationID == "" {
		// Resolve the billing organization once per run. A miss degrades
		// to unattributed usage rows, never a failed run.
		var orgID string
		if err := workflow.ExecuteActivity(sideCtx, act.ResolveOrganization,
			ResolveOrganizationInput{ProjectID: input.ProjectID}).Get(sideCtx, &orgID); err != nil {
			logger.Warn("organization resolution failed, usage will be unattributed",
				"project", input.ProjectID, "error", err)
		}
		meta.OrganizationID = orgID
	}

	run.Status = StatusRunning
	logger.Info("pipeline run starting",
		"task", input.TaskID, "project", input.ProjectID, "phases", len(phases))
	publishEvent(sideCtx, act, events.Event{
		Type:       events.RunStarted,
		WorkflowID: meta.WorkflowID,
		ProjectID:  meta.ProjectID,
		TaskID:     meta.TaskID,
		Timestamp:  workflow.Now(ctx),
	})

	for _, phase := range phases {
		run.Phase = phase
		pc := cfg.Phase(phase)
		phaseStart := workflow.Now(ctx)

		gen, err := executePhase(ctx, act, meta, phase, pc)
		if err != nil {
			if ctx.Err() != nil {
				return finishCancelled(ctx, act, run, meta)
			}
			return finishFailed(ctx, act, run, meta, phase, pc, err)
		}

		run.Completed = append(run.Completed, PhaseRecord{
			Phase:       phase,
			Model:       gen.Model,
			StartedAt:   phaseStart,
			CompletedAt: workflow.Now(ctx),
		})
	}

	run.Status = StatusCompleted
	run.FinishedAt = workflow.Now(ctx)
	publishEvent(sideCtx, act, events.Event{
		Type:       events.RunCompleted,
		WorkflowID: meta.WorkflowID,
		ProjectID:  meta.ProjectID,
		TaskID:     meta.TaskID,
		Timestamp:  workflow.Now(ctx),
	})
	logger.Info("pipeline run complete", "task", input.TaskID, "phases", len(run.Completed))
	return run, nil
}

func validateInput(input PipelineInput, cfg *automation.Config) error {
	if input.TaskID == "" {
		return fmt.Errorf("task ID is required")
	}
	if input.ProjectID == "" {
		return fmt.Errorf("project ID is required")
	}
	if input.Phase != "" && !input.Phase.Valid() {
		return fmt.Errorf("unknown phase: %q", input.Phase)
	}
	return cfg.Validate()
}

// executePhase runs one phase end to end: sync the task, mark it in
// progress, assemble the prompt context, generate, and commit the document
// and tracker record. It returns the authoritative generation so the
// caller can record which model carried the phase.
func executePhase(ctx workflow.Context, act *Activities, meta runMeta, phase automation.Phase, pc automation.PhaseConfig) (*GenerateOutput, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("phase starting", "phase", phase, "task", meta.TaskID)

	statusCtx := workflow.WithActivityOptions(ctx, statusActivityOptions())
	docCtx := workflow.WithActivityOptions(ctx, documentActivityOptions())
	aiCtx := workflow.WithActivityOptions(ctx, aiActivityOptions())
	sideCtx := workflow.WithActivityOptions(ctx, sideEffectActivityOptions())

	publishEvent(sideCtx, act, events.Event{
		Type:       events.PhaseStarted,
		WorkflowID: meta.WorkflowID,
		ProjectID:  meta.ProjectID,
		TaskID:     meta.TaskID,
		Phase:      string(phase),
		Timestamp:  workflow.Now(ctx),
	})

	// The tracker owns the task's title, description, and status; every
	// phase starts from its current view, not the trigger's.
	var task tracker.Task
	if err := workflow.ExecuteActivity(statusCtx, act.SyncTask,
		SyncTaskInput{TaskID: meta.TaskID, ProjectID: meta.ProjectID}).Get(statusCtx, &task); err != nil {
		return nil, stepError("sync task", err)
	}

	autoStatus := pc.Feature(automation.FeatureAutoStatusUpdate)
	if autoStatus {
		if err := updateStatus(statusCtx, act, meta, tracker.InProgressStatus(phase)); err != nil {
			return nil, err
		}
	}

	vars, err := assemblePhaseVars(docCtx, act, meta, phase, pc, &task)
	if err != nil {
		return nil, err
	}

	model := pc.AIModel
	if model == "" {
		// Single-phase triggers may name a phase the config never
		// mentions; the default model carries it.
		model = automation.DefaultModel
	}
	base := GenerateInput{
		ProjectID: meta.ProjectID,
		TaskID:    meta.TaskID,
		Phase:     phase,
		Model:     model,
		Prompt:    promptFor(phase),
		Vars:      vars,
	}

	if pc.Feature(automation.FeatureBestPracticesQuery) {
		enrichBestPractices(aiCtx, docCtx, sideCtx, act, meta, &base)
	}

	gen, err := generatePhaseResult(aiCtx, sideCtx, act, meta, pc, base)
	if err != nil {
		return nil, err
	}

	// Commit. The stored document and the tracker record are one unit;
	// the phase is not done until both writes land.
	if err := workflow.ExecuteActivity(docCtx, act.SavePhaseDocument, SaveDocumentInput{
		ProjectID: meta.ProjectID,
		TaskID:    meta.TaskID,
		Kind:      documentKind(phase),
		Content:   gen.Document,
	}).Get(docCtx, nil); err != nil {
		return nil, stepError(fmt.Sprintf("save %s document", phase), err)
	}
	if err := workflow.ExecuteActivity(statusCtx, act.AppendPhaseResult, AppendResultInput{
		ProjectID: meta.ProjectID,
		TaskID:    meta.TaskID,
		Phase:     phase,
		Markdown:  appendBody(gen),
	}).Get(statusCtx, nil); err != nil {
		return nil, stepError(fmt.Sprintf("append %s result", phase), err)
	}

	if autoStatus {
		if err := updateStatus(statusCtx, act, meta, tracker.ReadyStatus(phase)); err != nil {
			return nil, err
		}
	}

	publishEvent(sideCtx, act, events.Event{
		Type:       events.PhaseCompleted,
		WorkflowID: meta.WorkflowID,
		ProjectID:  meta.ProjectID,
		TaskID:     meta.TaskID,
		Phase:      string(phase),
		Timestamp:  workflow.Now(ctx),
	})
	logger.Info("phase complete", "phase", phase, "model", gen.Model)
	return gen, nil
}

// assemblePhaseVars builds the prompt variables for a phase: the task
// core, the reuse-gated context documents, and the prior phase's output.
// A disabled reuse flag means the fetch is never scheduled.
func assemblePhaseVars(docCtx workflow.Context, act *Activities, meta runMeta, phase automation.Phase, pc automation.PhaseConfig, task *tracker.Task) (prompts.Vars, error) {
	vars := prompts.Vars{
		Title:       task.Title,
		Identifier:  task.Identifier,
		Description: task.Description,
	}

	if pc.Feature(automation.FeatureReuseCodebaseContext) {
		doc, err := fetchDocument(docCtx, act, meta, phasedoc.KindCodebaseContext)
		if err != nil {
			return vars, err
		}
		if doc != nil {
			vars.CodebaseContext = doc.Content
		}
	}
	if pc.Feature(automation.FeatureReuseDocumentContext) {
		doc, err := fetchDocument(docCtx, act, meta, phasedoc.KindDocumentationContext)
		if err != nil {
			return vars, err
		}
		if doc != nil {
			vars.DocumentationContext = doc.Content
		}
	}

	switch phase {
	case automation.PhaseUserStory:
		// The refinement document is the primary context; without one the
		// raw description carries the phase.
		doc, err := fetchDocument(docCtx, act, meta, phasedoc.KindRefinement)
		if err != nil {
			return vars, err
		}
		if doc != nil {
			vars.Refinement = doc.Content
		}

	case automation.PhaseTechnicalPlan, automation.PhaseCodeGeneration:
		if pc.Feature(automation.FeatureReuseUserStory) {
			doc, err := fetchDocument(docCtx, act, meta, phasedoc.KindUserStory)
			if err != nil {
				return vars, err
			}
			if doc != nil {
				vars.UserStory = doc.Content
			}
		}
		// When no story document loads, the generation activity recovers
		// the story from its inline form in the description.

		if phase == automation.PhaseCodeGeneration {
			doc, err := fetchDocument(docCtx, act, meta, phasedoc.KindTechnicalPlan)
			if err != nil {
				return vars, err
			}
			if doc != nil {
				vars.TechnicalPlan = doc.Content
			}
		}
	}

	return vars, nil
}

// enrichBestPractices runs the best practices lookup and folds usable
// content into the prompt variables, persisting it as its own document.
// Enrichment is best effort: its failure degrades the prompt, never the
// phase.
func enrichBestPractices(aiCtx, docCtx, sideCtx workflow.Context, act *Activities, meta runMeta, base *GenerateInput) {
	logger := workflow.GetLogger(aiCtx)

	in := *base
	in.Prompt = prompts.BestPractices

	var out GenerateOutput
	if err := workflow.ExecuteActivity(aiCtx, act.QueryBestPractices, in).Get(aiCtx, &out); err != nil {
		logger.Warn("best practices query failed, continuing without enrichment",
			"phase", base.Phase, "error", err)
		return
	}
	// Tokens were consumed even when the model grounded nothing.
	recordUsage(sideCtx, act, meta, &out)
	if out.Document == "" {
		return
	}

	base.Vars.BestPractices = out.Document
	if err := workflow.ExecuteActivity(docCtx, act.SavePhaseDocument, SaveDocumentInput{
		ProjectID: meta.ProjectID,
		TaskID:    meta.TaskID,
		Kind:      phasedoc.KindBestPractices,
		Content:   out.Document,
	}).Get(docCtx, nil); err != nil {
		logger.Warn("best practices document save failed", "phase", base.Phase, "error", err)
	}
}

func fetchDocument(ctx workflow.Context, act *Activities, meta runMeta, kind phasedoc.DocumentKind) (*docstore.Document, error) {
	var doc *docstore.Document
	if err := workflow.ExecuteActivity(ctx, act.FetchPhaseDocument,
		FetchDocumentInput{ProjectID: meta.ProjectID, TaskID: meta.TaskID, Kind: kind}).Get(ctx, &doc); err != nil {
		return nil, stepError(fmt.Sprintf("fetch %s document", kind), err)
	}
	return doc, nil
}

func updateStatus(ctx workflow.Context, act *Activities, meta runMeta, status string) error {
	if err := workflow.ExecuteActivity(ctx, act.UpdateTaskStatus,
		UpdateStatusInput{ProjectID: meta.ProjectID, TaskID: meta.TaskID, Status: status}).Get(ctx, nil); err != nil {
		return stepError(fmt.Sprintf("update status to %s", status), err)
	}
	return nil
}

// markPhaseFailed moves the task to the phase's failed marker on its own
// short retry budget. Its failure is logged and discarded so it never
// masks the failure that brought the phase down.
func markPhaseFailed(ctx workflow.Context, act *Activities, meta runMeta, phase automation.Phase) {
	fctx := workflow.WithActivityOptions(ctx, failedStatusActivityOptions())
	in := UpdateStatusInput{
		ProjectID: meta.ProjectID,
		TaskID:    meta.TaskID,
		Status:    tracker.FailedStatus(phase),
	}
	if err := workflow.ExecuteActivity(fctx, act.UpdateTaskStatus, in).Get(fctx, nil); err != nil {
		workflow.GetLogger(ctx).Error("failed-status update did not land",
			"phase", phase, "status", in.Status, "error", err)
	}
}

// publishEvent emits a lifecycle event through the publishing activity.
// Progress events are advisory; failures are logged and dropped.
func publishEvent(ctx workflow.Context, act *Activities, event events.Event) {
	if err := workflow.ExecuteActivity(ctx, act.PublishRunEvent, event).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("run event dropped", "type", event.Type, "error", err)
	}
}

// recordUsage appends a billing row for one successful generation.
// Metering is a side channel; its errors are logged and dropped.
func recordUsage(ctx workflow.Context, act *Activities, meta runMeta, out *GenerateOutput) {
	in := RecordUsageInput{
		OrganizationID: meta.OrganizationID,
		WorkflowID:     meta.WorkflowID,
		ProjectID:      meta.ProjectID,
		TaskID:         meta.TaskID,
		Phase:          out.Phase,
		Model:          out.Model,
		Usage:          out.Usage,
	}
	if err := workflow.ExecuteActivity(ctx, act.RecordUsage, in).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("usage metering failed",
			"phase", out.Phase, "model", out.Model, "error", err)
	}
}

func finishCancelled(ctx workflow.Context, act *Activities, run *WorkflowRun, meta runMeta) (*WorkflowRun, error) {
	run.Status = StatusCancelled
	run.FinishedAt = workflow.Now(ctx)

	// The workflow context is already dead; a detached context lets the
	// cancellation notice out.
	dctx := workflow.WithActivityOptions(workflow.NewDisconnectedContext(ctx), sideEffectActivityOptions())
	publishEvent(dctx, act, events.Event{
		Type:       events.RunCancelled,
		WorkflowID: meta.WorkflowID,
		ProjectID:  meta.ProjectID,
		TaskID:     meta.TaskID,
		Phase:      string(run.Phase),
		Timestamp:  workflow.Now(ctx),
	})
	workflow.GetLogger(ctx).Info("pipeline run cancelled", "task", meta.TaskID, "phase", run.Phase)
	return run, temporal.NewCanceledError()
}

func finishFailed(ctx workflow.Context, act *Activities, run *WorkflowRun, meta runMeta, phase automation.Phase, pc automation.PhaseConfig, cause error) (*WorkflowRun, error) {
	failure := newPhaseFailure(phase, cause)
	run.Status = StatusFailed
	run.Error = failure.Cause
	run.FinishedAt = workflow.Now(ctx)

	if pc.Feature(automation.FeatureAutoStatusUpdate) {
		markPhaseFailed(ctx, act, meta, phase)
	}

	sideCtx := workflow.WithActivityOptions(ctx, sideEffectActivityOptions())
	publishEvent(sideCtx, act, events.Event{
		Type:       events.PhaseFailed,
		WorkflowID: meta.WorkflowID,
		ProjectID:  meta.ProjectID,
		TaskID:     meta.TaskID,
		Phase:      string(phase),
		Error:      failure.Cause,
		Timestamp:  workflow.Now(ctx),
	})
	publishEvent(sideCtx, act, events.Event{
		Type:       events.RunFailed,
		WorkflowID: meta.WorkflowID,
		ProjectID:  meta.ProjectID,
		TaskID:     meta.TaskID,
		Phase:      string(phase),
		Error:      failure.Cause,
		Timestamp:  workflow.Now(ctx),
	})

	workflow.GetLogger(ctx).Error("pipeline run failed",
		"task", meta.TaskID, "phase", phase, "error", failure.Cause)
	return run, failure
}

func promptFor(phase automation.Phase) string {
	switch phase {
	case automation.PhaseRefinement:
		return prompts.Refinement
	case automation.PhaseUserStory:
		return prompts.UserStory
	case automation.PhaseTechnicalPlan:
		return prompts.TechnicalPlan
	case automation.PhaseCodeGeneration:
		return prompts.CodeGeneration
	}
	return string(phase)
}

func documentKind(phase automation.Phase) phasedoc.DocumentKind {
	switch phase {
	case automation.PhaseRefinement:
		return phasedoc.KindRefinement
	case automation.PhaseUserStory:
		return phasedoc.KindUserStory
	case automation.PhaseTechnicalPlan:
		return phasedoc.KindTechnicalPlan
	case automation.PhaseCodeGeneration:
		return phasedoc.KindCodeGeneration
	}
	return phasedoc.DocumentKind(phase)
}

// appendBody is the tracker-facing rendering of a generation: the phase
// document plus the council's rationale when a chairman synthesized it.
func appendBody(gen *GenerateOutput) string {
	if gen.Rationale == "" {
		return gen.Document
	}
	return strings.TrimRight(gen.Document, "\n") + "\n\n## Council Rationale\n\n" + gen.Rationale + "\n"
}

package pipeline

import (
	"fmt"

	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/specd/internal/automation"
	"github.com/fyrsmithlabs/specd/internal/prompts"
)

// generatePhaseResult produces the phase's authoritative output. A phase
// with the council feature fans out across its council models and
// synthesizes through the chairman; without it the same path degenerates to
// one direct call against the phase model.
func generatePhaseResult(aiCtx, sideCtx workflow.Context, act *Activities, meta runMeta, pc automation.PhaseConfig, base GenerateInput) (*GenerateOutput, error) {
	models := []string{base.Model}
	chairman := ""
	if pc.Feature(automation.FeatureCouncil) {
		models = pc.CouncilModels
		chairman = pc.Chairman()
	}
	return runCouncil(aiCtx, sideCtx, act, meta, base, models, chairman)
}

// runCouncil fans one generation activity out per model concurrently and
// collects the survivors. Individual candidate failures are tolerated as
// long as one candidate succeeds; the chairman then merges the survivors
// into the authoritative result.
func runCouncil(aiCtx, sideCtx workflow.Context, act *Activities, meta runMeta, base GenerateInput, models []string, chairman string) (*GenerateOutput, error) {
	logger := workflow.GetLogger(aiCtx)

	futures := make([]workflow.Future, len(models))
	for i, model := range models {
		in := base
		in.Model = model
		futures[i] = workflow.ExecuteActivity(aiCtx, act.GeneratePhase, in)
	}

	outputs := make([]*GenerateOutput, 0, len(models))
	for i, f := range futures {
		var out GenerateOutput
		if err := f.Get(aiCtx, &out); err != nil {
			if len(models) == 1 {
				// A council of one has no failure to tolerate.
				return nil, stepError(fmt.Sprintf("generate %s", base.Phase), err)
			}
			logger.Warn("council candidate failed",
				"phase", base.Phase, "model", models[i], "error", err)
			continue
		}
		recordUsage(sideCtx, act, meta, &out)
		outputs = append(outputs, &out)
	}

	if len(outputs) == 0 {
		return nil, fmt.Errorf("generate %s: all %d council models failed", base.Phase, len(models))
	}

	if chairman == "" {
		return outputs[0], nil
	}

	candidates := make([]prompts.Candidate, len(outputs))
	for i, out := range outputs {
		candidates[i] = prompts.Candidate{Model: out.Model, Content: out.Document}
	}
	logger.Info("council synthesis starting",
		"phase", base.Phase, "chairman", chairman,
		"candidates", len(candidates), "failed", len(models)-len(candidates))

	in := base
	in.Model = chairman
	in.Prompt = prompts.Chairman
	in.Vars.Candidates = candidates

	var out GenerateOutput
	if err := workflow.ExecuteActivity(aiCtx, act.GeneratePhase, in).Get(aiCtx, &out); err != nil {
		return nil, stepError("chairman synthesis", err)
	}
	recordUsage(sideCtx, act, meta, &out)
	return &out, nil
}

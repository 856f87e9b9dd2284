package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/specd/internal/automation"
	"github.com/fyrsmithlabs/specd/internal/phasedoc"
	"github.com/fyrsmithlabs/specd/internal/prompts"
)

func TestActivityOptionsCatalog(t *testing.T) {
	ai := aiActivityOptions()
	require.Equal(t, 10*time.Minute, ai.StartToCloseTimeout)
	require.EqualValues(t, 3, ai.RetryPolicy.MaximumAttempts)
	require.True(t, ai.WaitForCancellation, "a cancelled run must drain the in-flight generation")

	status := statusActivityOptions()
	require.Equal(t, 2*time.Minute, status.StartToCloseTimeout)
	require.EqualValues(t, 3, status.RetryPolicy.MaximumAttempts)
	require.False(t, status.WaitForCancellation)

	doc := documentActivityOptions()
	require.Equal(t, time.Minute, doc.StartToCloseTimeout)
	require.EqualValues(t, 3, doc.RetryPolicy.MaximumAttempts)

	side := sideEffectActivityOptions()
	require.Equal(t, 30*time.Second, side.StartToCloseTimeout)
	require.EqualValues(t, 2, side.RetryPolicy.MaximumAttempts)

	failed := failedStatusActivityOptions()
	require.Equal(t, 30*time.Second, failed.StartToCloseTimeout)
	require.EqualValues(t, 2, failed.RetryPolicy.MaximumAttempts)
}

func TestPhaseMappings(t *testing.T) {
	wantPrompt := map[automation.Phase]string{
		automation.PhaseRefinement:     prompts.Refinement,
		automation.PhaseUserStory:      prompts.UserStory,
		automation.PhaseTechnicalPlan:  prompts.TechnicalPlan,
		automation.PhaseCodeGeneration: prompts.CodeGeneration,
	}
	wantKind := map[automation.Phase]phasedoc.DocumentKind{
		automation.PhaseRefinement:     phasedoc.KindRefinement,
		automation.PhaseUserStory:      phasedoc.KindUserStory,
		automation.PhaseTechnicalPlan:  phasedoc.KindTechnicalPlan,
		automation.PhaseCodeGeneration: phasedoc.KindCodeGeneration,
	}

	for _, phase := range automation.Phases() {
		require.Equal(t, wantPrompt[phase], promptFor(phase))
		require.Equal(t, wantKind[phase], documentKind(phase))
	}
}

func TestAppendBody(t *testing.T) {
	plain := &GenerateOutput{Document: "## Overview\n\nPlan.\n"}
	require.Equal(t, "## Overview\n\nPlan.\n", appendBody(plain))

	synthesized := &GenerateOutput{
		Document:  "## Overview\n\nPlan.\n",
		Rationale: "Candidate B's plan was the most incremental.",
	}
	body := appendBody(synthesized)
	require.Contains(t, body, "## Overview")
	require.Contains(t, body, "## Council Rationale")
	require.Contains(t, body, "Candidate B's plan was the most incremental.")
}

func TestWorkflowID(t *testing.T) {
	require.Equal(t, "pipeline-proj-1-task-9", WorkflowID("proj-1", "task-9"))
}

package pipeline

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Activity options catalog, one per activity class. StartToCloseTimeout is
// per attempt: every retry gets a fresh window.

// aiActivityOptions covers AI generation. WaitForCancellation makes a
// cancelled run await the in-flight attempt instead of abandoning it, so
// cancellation never leaves a torn document behind.
func aiActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		WaitForCancellation: true,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
}

// statusActivityOptions covers tracker sync, status transitions, and phase
// result appends.
func statusActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
}

// documentActivityOptions covers document store reads and writes.
func documentActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 1 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
}

// sideEffectActivityOptions covers usage metering, organization resolution,
// and event publishing. These are fire-and-forget: the workflow ignores
// their errors.
func sideEffectActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 2,
		},
	}
}

// failedStatusActivityOptions covers the best-effort move to a phase's
// failed marker. The budget is short so a broken tracker cannot stall a run
// that is already failing.
func failedStatusActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 2,
		},
	}
}

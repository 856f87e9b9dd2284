package pipeline

import (
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/specd/internal/automation"
)

// ErrRunActive is returned by Starter.Start when a run for the same
// (project, task) pair is still open. A new run is permitted once the open
// run completes, fails, or is cancelled.
var ErrRunActive = errors.New("a pipeline run for this task is already active")

// PhaseFailure is the only error kind the workflow returns: the phase that
// failed plus a human-readable cause. Temporal surfaces it to clients as an
// application error with type "PhaseFailure".
type PhaseFailure struct {
	Phase automation.Phase `json:"phase"`
	Cause string           `json:"cause"`
}

func (e *PhaseFailure) Error() string {
	return fmt.Sprintf("phase %s failed: %s", e.Phase, e.Cause)
}

func newPhaseFailure(phase automation.Phase, err error) *PhaseFailure {
	return &PhaseFailure{Phase: phase, Cause: failureCause(err)}
}

// failureCause extracts the application message from an activity error,
// dropping the SDK's event-ID wrapping. Errors built inside the workflow
// pass through unchanged.
func failureCause(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Message()
	}
	return err.Error()
}

// stepError flattens an activity error into "step: cause". The flattened
// form is what lands in PhaseFailure and the tracker, so it carries the
// pipeline step instead of activity scheduling metadata.
func stepError(step string, err error) error {
	return fmt.Errorf("%s: %s", step, failureCause(err))
}

// Package tracker is the client for the external issue tracker's GraphQL
// API. The pipeline treats the tracker as the source of truth for task
// title, description, and status, and as the human-facing record each
// phase appends its output to.
package tracker

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/specd/internal/automation"
)

// ErrTaskNotFound is returned when the tracker has no task for the
// requested identifier.
var ErrTaskNotFound = errors.New("task not found")

// Task is the tracker's view of a work item.
type Task struct {
	// ID is the tracker's opaque task identifier.
	ID string `json:"id"`

	// Identifier is the human-readable key, e.g. "ENG-142".
	Identifier string `json:"identifier"`

	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Priority    int    `json:"priority"`
}

// Client is the tracker surface the pipeline depends on.
type Client interface {
	// SyncTask fetches the current task state.
	SyncTask(ctx context.Context, taskID, projectID string) (*Task, error)

	// UpdateTaskStatus moves the task to the named workflow status.
	UpdateTaskStatus(ctx context.Context, projectID, taskID, status string) error

	// AppendPhaseResult posts a phase's output as a comment on the task.
	AppendPhaseResult(ctx context.Context, projectID, taskID string, phase automation.Phase, markdown string) error
}

// Status markers the pipeline drives on the tracker, one triple per phase.
// The tracker's workflow states are provisioned with these names when a
// project is connected.

// InProgressStatus is the marker set when a phase starts.
func InProgressStatus(p automation.Phase) string { return string(p) + "_in_progress" }

// ReadyStatus is the marker set after a phase's output is committed.
func ReadyStatus(p automation.Phase) string { return string(p) + "_ready" }

// FailedStatus is the marker set when a phase fails.
func FailedStatus(p automation.Phase) string { return string(p) + "_failed" }

package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specd/internal/automation"
	"github.com/fyrsmithlabs/specd/internal/llm"
	"github.com/fyrsmithlabs/specd/internal/metering"
)

func seedLedger(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "usage.db")

	svc, err := metering.NewService(metering.Config{Path: path}, zap.NewNop())
	require.NoError(t, err)

	svc.Record(context.Background(), metering.RecordRequest{
		OrganizationID: "org-1",
		WorkflowID:     "pipeline-proj-1-TASK-1",
		ProjectID:      "proj-1",
		TaskID:         "TASK-1",
		Phase:          automation.PhaseRefinement,
		Model:          "claude-3-5-sonnet-20241022",
		Usage:          llm.Usage{InputTokens: 1200, OutputTokens: 400},
	})
	require.NoError(t, svc.Close())

	return path
}

func usageCommand(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return cmd
}

func TestRunUsage(t *testing.T) {
	t.Run("reports recorded usage", func(t *testing.T) {
		usageDB = seedLedger(t)
		usageOrg = ""
		usageSince = 0
		usageJSON = false

		require.NoError(t, runUsage(usageCommand(t), nil))
	})

	t.Run("json output", func(t *testing.T) {
		usageDB = seedLedger(t)
		usageOrg = "org-1"
		usageSince = 0
		usageJSON = true

		require.NoError(t, runUsage(usageCommand(t), nil))
	})

	t.Run("missing ledger", func(t *testing.T) {
		usageDB = filepath.Join(t.TempDir(), "absent.db")
		usageOrg = ""
		usageSince = 0
		usageJSON = false

		err := runUsage(usageCommand(t), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "usage ledger not found")
	})
}

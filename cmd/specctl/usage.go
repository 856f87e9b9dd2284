package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/specd/internal/config"
	"github.com/fyrsmithlabs/specd/internal/metering"
)

var (
	// usage command flags
	usageDB    string
	usageOrg   string
	usageSince time.Duration
	usageJSON  bool
)

func init() {
	usageCmd.Flags().StringVar(&usageDB, "db", "", "Usage ledger path (defaults to the configured metering path)")
	usageCmd.Flags().StringVar(&usageOrg, "org", "", "Restrict the report to one organization")
	usageCmd.Flags().DurationVar(&usageSince, "since", 0, "Only count usage newer than this, e.g. 168h (default: everything)")
	usageCmd.Flags().BoolVar(&usageJSON, "json", false, "Output the report as JSON")
}

// usageCmd reports AI usage totals from the billing ledger
var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Report AI usage totals from the billing ledger",
	Long: `Report AI usage totals from the worker's billing ledger.

The report reads the SQLite ledger directly, so it runs on the worker host
(or against a copied ledger file) rather than through the trigger server.

Examples:
  # Everything, grouped by organization and model
  specctl usage

  # One organization, last seven days
  specctl usage --org org-7 --since 168h

  # A ledger copied from a worker host
  specctl usage --db /tmp/usage.db --json`,
	RunE: runUsage,
}

// runUsage handles the usage command
func runUsage(cmd *cobra.Command, args []string) error {
	path := usageDB
	if path == "" {
		cfg, err := config.LoadWithFile("")
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		path = cfg.Metering.Path
	}

	var since time.Time
	if usageSince > 0 {
		since = time.Now().Add(-usageSince)
	}

	summaries, err := metering.Summarize(cmd.Context(), path, usageOrg, since)
	if err != nil {
		return err
	}

	if usageJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}

	if len(summaries) == 0 {
		fmt.Println("No usage recorded.")
		return nil
	}

	var calls, inputTokens, outputTokens int64
	var cost float64

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ORGANIZATION\tMODEL\tCALLS\tINPUT\tOUTPUT\tCOST")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t$%.4f\n",
			s.OrganizationID, s.Model, s.Calls, s.InputTokens, s.OutputTokens, s.TotalCost)
		calls += s.Calls
		inputTokens += s.InputTokens
		outputTokens += s.OutputTokens
		cost += s.TotalCost
	}
	fmt.Fprintf(w, "TOTAL\t\t%d\t%d\t%d\t$%.4f\n", calls, inputTokens, outputTokens, cost)
	return w.Flush()
}

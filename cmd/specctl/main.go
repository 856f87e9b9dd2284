// Package main implements the specctl CLI for operating the specification
// pipeline.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the tracker-webhook trigger server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "specctl",
	Short: "CLI for specification pipeline operations",
	Long: `specctl is a command-line interface for the specification pipeline.
It starts, inspects, and cancels pipeline runs through the trigger server,
and reports AI usage totals from the worker's billing ledger.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "trigger server URL")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(healthCmd)
}

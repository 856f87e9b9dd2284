package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/specd/internal/automation"
	"github.com/fyrsmithlabs/specd/internal/pipeline"
)

var (
	// run command flags
	runTaskID     string
	runProjectID  string
	runOrgID      string
	runPhase      string
	runConfigPath string
	outputJSON    bool
)

func init() {
	startCmd.Flags().StringVar(&runTaskID, "task", "", "Tracker task identifier (required)")
	startCmd.Flags().StringVar(&runProjectID, "project", "", "Tracker project identifier (required)")
	startCmd.Flags().StringVar(&runOrgID, "org", "", "Billing organization (resolved from the project when empty)")
	startCmd.Flags().StringVar(&runPhase, "phase", "", "Run a single phase instead of the full pipeline")
	startCmd.Flags().StringVar(&runConfigPath, "config", "", "YAML automation config overriding project defaults")
	_ = startCmd.MarkFlagRequired("task")
	_ = startCmd.MarkFlagRequired("project")

	statusCmd.Flags().StringVar(&runTaskID, "task", "", "Tracker task identifier (required)")
	statusCmd.Flags().StringVar(&runProjectID, "project", "", "Tracker project identifier (required)")
	statusCmd.Flags().BoolVar(&outputJSON, "json", false, "Output the raw status snapshot as JSON")
	_ = statusCmd.MarkFlagRequired("task")
	_ = statusCmd.MarkFlagRequired("project")

	cancelCmd.Flags().StringVar(&runTaskID, "task", "", "Tracker task identifier (required)")
	cancelCmd.Flags().StringVar(&runProjectID, "project", "", "Tracker project identifier (required)")
	_ = cancelCmd.MarkFlagRequired("task")
	_ = cancelCmd.MarkFlagRequired("project")
}

// startCmd triggers a pipeline run
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a pipeline run for a tracker task",
	Long: `Start a pipeline run for a tracker task.

Examples:
  # Run every enabled phase
  specctl start --task TASK-42 --project proj-1

  # Run a single phase with an explicit billing organization
  specctl start --task TASK-42 --project proj-1 --phase user_story --org org-7

  # Override the automation config for this run
  specctl start --task TASK-42 --project proj-1 --config automation.yaml`,
	RunE: runStart,
}

// statusCmd queries a run's live status snapshot
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a task's pipeline run",
	Long: `Show the status of a task's pipeline run.

Examples:
  # Human-readable summary
  specctl status --task TASK-42 --project proj-1

  # Raw snapshot for scripting
  specctl status --task TASK-42 --project proj-1 --json`,
	RunE: runStatus,
}

// cancelCmd requests cancellation of a running pipeline
var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a task's running pipeline",
	Long: `Cancel a task's running pipeline.

The run stops after the phase step in flight; completed phase documents
stay in the document store.

Examples:
  specctl cancel --task TASK-42 --project proj-1`,
	RunE: runCancel,
}

// healthCmd checks trigger server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check trigger server health",
	Long: `Check the health status of the tracker-webhook trigger server.

Examples:
  # Check health
  specctl health

  # Check health on a different server
  specctl health --server http://localhost:8080`,
	RunE: runHealth,
}

// startRunRequest matches cmd/tracker-webhook server.go startRunRequest
type startRunRequest struct {
	TaskID         string             `json:"taskId"`
	ProjectID      string             `json:"projectId"`
	OrganizationID string             `json:"organizationId,omitempty"`
	Phase          string             `json:"phase,omitempty"`
	Config         *automation.Config `json:"config,omitempty"`
}

// HealthResponse matches cmd/tracker-webhook server.go HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

// serverRequest performs one JSON API call against the trigger server and
// decodes the response into out when out is non-nil. The returned status
// code is valid whenever the request reached the server, including error
// statuses.
func serverRequest(method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := serverURL + path
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return resp.StatusCode, nil
}

// runStart handles the start command
func runStart(cmd *cobra.Command, args []string) error {
	req := startRunRequest{
		TaskID:         runTaskID,
		ProjectID:      runProjectID,
		OrganizationID: runOrgID,
		Phase:          runPhase,
	}

	if runConfigPath != "" {
		cfg, err := loadAutomationConfig(runConfigPath)
		if err != nil {
			return err
		}
		req.Config = cfg
	}

	var handle pipeline.RunHandle
	status, err := serverRequest(http.MethodPost, "/api/v1/runs", req, &handle)
	if err != nil {
		if status == http.StatusConflict {
			return fmt.Errorf("a run for task %s is already active; cancel it first or wait for it to finish", runTaskID)
		}
		return err
	}

	fmt.Printf("Started run %s\n", handle.WorkflowID)
	fmt.Printf("Run ID: %s\n", handle.RunID)
	return nil
}

// runStatus handles the status command
func runStatus(cmd *cobra.Command, args []string) error {
	workflowID := pipeline.WorkflowID(runProjectID, runTaskID)

	var run pipeline.WorkflowRun
	status, err := serverRequest(http.MethodGet, "/api/v1/runs/"+workflowID, nil, &run)
	if err != nil {
		if status == http.StatusNotFound {
			return fmt.Errorf("no run found for task %s in project %s", runTaskID, runProjectID)
		}
		return err
	}

	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(&run)
	}

	printRun(&run)
	return nil
}

// runCancel handles the cancel command
func runCancel(cmd *cobra.Command, args []string) error {
	workflowID := pipeline.WorkflowID(runProjectID, runTaskID)

	status, err := serverRequest(http.MethodDelete, "/api/v1/runs/"+workflowID, nil, nil)
	if err != nil {
		if status == http.StatusNotFound {
			return fmt.Errorf("no run found for task %s in project %s", runTaskID, runProjectID)
		}
		return err
	}

	fmt.Printf("Cancellation requested for run %s\n", workflowID)
	return nil
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	var health HealthResponse
	if _, err := serverRequest(http.MethodGet, "/health", nil, &health); err != nil {
		return err
	}

	fmt.Printf("Server Status: %s\n", health.Status)
	fmt.Printf("Server URL: %s\n", serverURL)
	return nil
}

// loadAutomationConfig reads a YAML automation config from disk.
func loadAutomationConfig(path string) (*automation.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var cfg automation.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid automation config %s: %w", path, err)
	}

	return &cfg, nil
}

// printRun renders a human-readable run summary.
func printRun(run *pipeline.WorkflowRun) {
	fmt.Printf("Run:      %s\n", run.WorkflowID)
	fmt.Printf("Task:     %s (project %s)\n", run.TaskID, run.ProjectID)
	fmt.Printf("Status:   %s\n", run.Status)
	if run.Status == pipeline.StatusRunning && run.Phase != "" {
		fmt.Printf("Phase:    %s\n", run.Phase)
	}
	if run.Error != "" {
		fmt.Printf("Error:    %s\n", run.Error)
	}
	fmt.Printf("Started:  %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if !run.FinishedAt.IsZero() {
		fmt.Printf("Finished: %s\n", run.FinishedAt.Local().Format("2006-01-02 15:04:05"))
	}

	if len(run.Completed) == 0 {
		return
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PHASE\tMODEL\tDURATION")
	for _, pr := range run.Completed {
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			pr.Phase,
			pr.Model,
			pr.CompletedAt.Sub(pr.StartedAt).Round(time.Second),
		)
	}
	_ = w.Flush()
}

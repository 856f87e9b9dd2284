package metering

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"
)

// UsageSummary aggregates ledger rows for one organization and model.
type UsageSummary struct {
	OrganizationID string  `json:"organizationId"`
	Model          string  `json:"model"`
	Calls          int64   `json:"calls"`
	InputTokens    int64   `json:"inputTokens"`
	OutputTokens   int64   `json:"outputTokens"`
	TotalCost      float64 `json:"totalCost"`
}

// Summarize reads the ledger and aggregates usage per organization and
// model. A non-empty organizationID narrows to one organization; a zero
// since covers the full ledger. The database opens read-only, so reports
// run against a live worker's ledger without contending for the writer.
func Summarize(ctx context.Context, path, organizationID string, since time.Time) ([]UsageSummary, error) {
	if path == "" {
		return nil, fmt.Errorf("metering database path required")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("usage ledger not found at %s: %w", path, err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("open usage ledger: %w", err)
	}
	defer db.Close()

	// created_at is RFC3339 text, so lexicographic comparison orders
	// correctly and the zero time's empty string matches every row.
	sinceText := ""
	if !since.IsZero() {
		sinceText = since.UTC().Format(time.RFC3339)
	}

	rows, err := db.QueryContext(ctx, `
SELECT organization_id,
       resource_id,
       SUM(CASE WHEN type=? THEN 1 ELSE 0 END),
       SUM(CASE WHEN type=? THEN quantity ELSE 0 END),
       SUM(CASE WHEN type=? THEN quantity ELSE 0 END),
       SUM(total_cost)
FROM usage_records
WHERE (?='' OR organization_id=?) AND created_at>=?
GROUP BY organization_id, resource_id
ORDER BY organization_id, resource_id`,
		UsageTypeInput, UsageTypeInput, UsageTypeOutput,
		organizationID, organizationID, sinceText)
	if err != nil {
		return nil, fmt.Errorf("query usage ledger: %w", err)
	}
	defer rows.Close()

	var summaries []UsageSummary
	for rows.Next() {
		var s UsageSummary
		if err := rows.Scan(&s.OrganizationID, &s.Model, &s.Calls, &s.InputTokens, &s.OutputTokens, &s.TotalCost); err != nil {
			return nil, fmt.Errorf("scan usage summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read usage ledger: %w", err)
	}

	return summaries, nil
}

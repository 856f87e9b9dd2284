package pipeline

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/specd/internal/pipeline"

// Metrics are recorded from activities and the starter, never from workflow
// code: workflow code replays on every worker recovery and status query,
// which would inflate counters.
var (
	runsStarted        metric.Int64Counter
	runsRejected       metric.Int64Counter
	generationCounter  metric.Int64Counter
	generationDuration metric.Float64Histogram
)

func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	runsStarted, err = meter.Int64Counter(
		"specd.pipeline.runs.started",
		metric.WithDescription("Pipeline runs submitted to Temporal"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create runs started counter: %v", err))
	}

	runsRejected, err = meter.Int64Counter(
		"specd.pipeline.runs.rejected",
		metric.WithDescription("Pipeline starts rejected because a run was already active"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create runs rejected counter: %v", err))
	}

	generationCounter, err = meter.Int64Counter(
		"specd.pipeline.generations",
		metric.WithDescription("AI generation activity executions by outcome"),
		metric.WithUnit("{generation}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create generation counter: %v", err))
	}

	generationDuration, err = meter.Float64Histogram(
		"specd.pipeline.generation.duration",
		metric.WithDescription("Duration of AI generation activity executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create generation duration histogram: %v", err))
	}
}

func init() {
	initMetrics()
}

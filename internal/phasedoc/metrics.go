package phasedoc

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/specd/internal/phasedoc"

// Parse-coverage instruments. Decode tolerates any input, so schema drift is
// invisible at the call site; these counters make it visible on a dashboard
// (missing fields per kind) instead.
var (
	metricsOnce   sync.Once
	decodesTotal  metric.Int64Counter
	fieldsMatched metric.Int64Counter
	fieldsMissing metric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter(instrumentationName)

	decodesTotal, _ = meter.Int64Counter(
		"specd.phasedoc.decodes_total",
		metric.WithDescription("Total number of documents decoded"),
		metric.WithUnit("{document}"),
	)
	fieldsMatched, _ = meter.Int64Counter(
		"specd.phasedoc.fields_matched_total",
		metric.WithDescription("Schema fields found while decoding"),
		metric.WithUnit("{field}"),
	)
	fieldsMissing, _ = meter.Int64Counter(
		"specd.phasedoc.fields_missing_total",
		metric.WithDescription("Schema fields absent while decoding"),
		metric.WithUnit("{field}"),
	)
}

// coverage accumulates which schema fields a single decode found.
type coverage struct {
	kind    DocumentKind
	matched []string
	missing []string
}

func newCoverage(kind DocumentKind) *coverage {
	metricsOnce.Do(initMetrics)
	return &coverage{kind: kind}
}

func (c *coverage) field(name string, found bool) {
	if found {
		c.matched = append(c.matched, name)
		return
	}
	c.missing = append(c.missing, name)
}

func (c *coverage) record() {
	ctx := context.Background()
	kind := attribute.String("kind", string(c.kind))

	if decodesTotal != nil {
		decodesTotal.Add(ctx, 1, metric.WithAttributes(kind))
	}
	if fieldsMatched != nil {
		for _, f := range c.matched {
			fieldsMatched.Add(ctx, 1, metric.WithAttributes(kind, attribute.String("field", f)))
		}
	}
	if fieldsMissing != nil {
		for _, f := range c.missing {
			fieldsMissing.Add(ctx, 1, metric.WithAttributes(kind, attribute.String("field", f)))
		}
	}
}

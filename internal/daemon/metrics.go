package daemon

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records whole-run measurements.
type Metrics struct {
	runs        metric.Int64Counter
	runDuration metric.Float64Histogram
}

// NewMetrics creates the run instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFrom(otel.Meter("github.com/yairfalse/lassie/daemon"))
}

// NewMetricsFrom creates the run instruments on meter.
func NewMetricsFrom(meter metric.Meter) (*Metrics, error) {
	runs, err := meter.Int64Counter(
		"lassie_runs_total",
		metric.WithDescription("Reconciliation runs by status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"lassie_run_duration_seconds",
		metric.WithDescription("Duration of a whole reconciliation run"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{runs: runs, runDuration: runDuration}, nil
}

// RecordRun records one run. status is ok, failed or error.
func (m *Metrics) RecordRun(ctx context.Context, status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.runs.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, d.Seconds(), attrs)
}

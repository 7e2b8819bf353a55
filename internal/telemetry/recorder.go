package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
)

// Recorder publishes round summaries to Prometheus and OpenTelemetry
type Recorder struct {
	accuracy    metric.Float64Histogram
	loss        metric.Float64Histogram
	discrepancy metric.Float64Histogram
	rounds      metric.Int64Counter
	migrations  metric.Int64Counter
}

// NewRecorder creates the flsim round instruments on meter
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	var (
		r   Recorder
		err error
	)
	if r.accuracy, err = meter.Float64Histogram("flsim.round.accuracy",
		metric.WithDescription("Weighted test accuracy per evaluated round"),
	); err != nil {
		return nil, fmt.Errorf("failed to create accuracy instrument: %w", err)
	}
	if r.loss, err = meter.Float64Histogram("flsim.round.loss",
		metric.WithDescription("Weighted test loss per evaluated round"),
	); err != nil {
		return nil, fmt.Errorf("failed to create loss instrument: %w", err)
	}
	if r.discrepancy, err = meter.Float64Histogram("flsim.round.discrepancy",
		metric.WithDescription("Mean client to group distance per evaluated round"),
	); err != nil {
		return nil, fmt.Errorf("failed to create discrepancy instrument: %w", err)
	}
	if r.rounds, err = meter.Int64Counter("flsim.rounds",
		metric.WithDescription("Evaluated rounds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create rounds instrument: %w", err)
	}
	if r.migrations, err = meter.Int64Counter("flsim.migrations",
		metric.WithDescription("Clients that changed group in evaluated rounds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create migrations instrument: %w", err)
	}
	return &r, nil
}

func (r *Recorder) RecordRound(ctx context.Context, summary models.RoundSummary) error {
	groups := make(map[string]float64, len(summary.Groups))
	for _, g := range summary.Groups {
		groups[g.Group.String()] = g.Accuracy
	}
	RecordAccuracy(summary.TestAccuracy, groups)

	attrs := metric.WithAttributes(
		attribute.String("trainer", summary.Trainer),
		attribute.String("simulation_id", summary.SimulationID.String()),
	)
	r.accuracy.Record(ctx, summary.TestAccuracy, attrs)
	r.loss.Record(ctx, summary.TestLoss, attrs)
	r.discrepancy.Record(ctx, summary.Discrepancy, attrs)
	r.rounds.Add(ctx, 1, attrs)
	r.migrations.Add(ctx, int64(summary.Migrations), attrs)
	return nil
}

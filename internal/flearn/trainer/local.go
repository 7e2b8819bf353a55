package trainer

import (
	"context"
	"fmt"
	"time"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/internal/flearn"
)

// TrainLocally is the local-only baseline: every client trains on its own
// data for num_rounds * local_epochs epochs without any synchronisation.
// The result is the test accuracy weighted by test samples.
func (t *Trainer) TrainLocally(ctx context.Context) (models.TestResult, error) {
	ctx, span := t.tracer.Start(ctx, "train_locally")
	defer span.End()

	if err := t.Setup(ctx); err != nil {
		return models.TestResult{}, err
	}

	tc := t.cfg.TrainerConfig
	opts := flearn.TrainOptions{
		Epochs:    tc.NumRounds * tc.LocalEpochs,
		BatchSize: tc.BatchSize,
	}
	clients := t.registry.Clients()

	start := time.Now()
	t.setState(0, models.RoundStateLocalTrain)
	if _, err := flearn.TrainClients(ctx, clients, t.registry.Server().LatestParams(), opts, t.runtime.Workers); err != nil {
		return models.TestResult{}, fmt.Errorf("local training failed: %w", err)
	}

	t.setState(0, models.RoundStateEvaluate)
	var result models.TestResult
	for _, c := range clients {
		r, err := c.Test(ctx)
		if err != nil {
			return models.TestResult{}, err
		}
		result.NumSamples += r.NumSamples
		result.Accuracy += r.Accuracy * float64(r.NumSamples)
		result.Loss += r.Loss * float64(r.NumSamples)
	}
	if result.NumSamples > 0 {
		result.Accuracy /= float64(result.NumSamples)
		result.Loss /= float64(result.NumSamples)
	}
	t.setState(0, models.RoundStateDone)

	t.log.Info().
		Int("clients", len(clients)).
		Int("epochs", opts.Epochs).
		Float64("accuracy", result.Accuracy).
		Float64("loss", result.Loss).
		Dur("duration", time.Since(start)).
		Msg("Local training finished")
	return result, nil
}

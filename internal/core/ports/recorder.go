package ports

import (
	"context"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
)

// RoundRecorder receives a summary for every evaluated round
type RoundRecorder interface {
	RecordRound(ctx context.Context, summary models.RoundSummary) error
}

// CheckpointSink persists model params after evaluation
type CheckpointSink interface {
	SaveCheckpoint(ctx context.Context, checkpoint models.Checkpoint) error
}

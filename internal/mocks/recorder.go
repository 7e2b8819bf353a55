package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/theblitlabs/parity-flsim/internal/core/models"
)

type MockRoundRecorder struct {
	mock.Mock
}

func (m *MockRoundRecorder) RecordRound(ctx context.Context, summary models.RoundSummary) error {
	args := m.Called(ctx, summary)
	return args.Error(0)
}

type MockCheckpointSink struct {
	mock.Mock
}

func (m *MockCheckpointSink) SaveCheckpoint(ctx context.Context, checkpoint models.Checkpoint) error {
	args := m.Called(ctx, checkpoint)
	return args.Error(0)
}

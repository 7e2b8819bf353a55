package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/theblitlabs/parity-flsim/internal/core/ports"
	"github.com/theblitlabs/parity-flsim/pkg/tensor"
)

type MockModel struct {
	mock.Mock
}

func (m *MockModel) Weights() tensor.Params {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(tensor.Params)
}

func (m *MockModel) SetWeights(weights tensor.Params) error {
	args := m.Called(weights)
	return args.Error(0)
}

func (m *MockModel) Fit(ctx context.Context, x [][]float64, y []int, batchSize, epochs int) (ports.History, error) {
	args := m.Called(ctx, x, y, batchSize, epochs)
	return args.Get(0).(ports.History), args.Error(1)
}

func (m *MockModel) Evaluate(ctx context.Context, x [][]float64, y []int) (float64, float64, error) {
	args := m.Called(ctx, x, y)
	return args.Get(0).(float64), args.Get(1).(float64), args.Error(2)
}

func (m *MockModel) Gradients(ctx context.Context, x [][]float64, y []int) (tensor.Params, error) {
	args := m.Called(ctx, x, y)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(tensor.Params), args.Error(1)
}

package training

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theblitlabs/parity-flsim/pkg/tensor"
)

func blobs(n int, seed int64) ([][]float64, []int) {
	centers := [][]float64{{-1, -1}, {1, -1}, {0, 1.5}}
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, n)
	y := make([]int, n)
	for i := range x {
		label := i % 3
		x[i] = []float64{
			centers[label][0] + 0.1*rng.NormFloat64(),
			centers[label][1] + 0.1*rng.NormFloat64(),
		}
		y[i] = label
	}
	return x, y
}

func newTestMLP(t *testing.T, hidden ...int) *MLP {
	t.Helper()
	m, err := NewMLP(ModelConfig{
		InputSize:    2,
		OutputSize:   3,
		Hidden:       hidden,
		LearningRate: 0.1,
		Seed:         42,
	})
	require.NoError(t, err)
	return m
}

func TestNewMLP(t *testing.T) {
	t.Run("weight layout", func(t *testing.T) {
		m := newTestMLP(t, 8)
		assert.Equal(t, [][]int{{2, 8}, {8}, {8, 3}, {3}}, m.Weights().Shapes())
	})

	t.Run("same seed same weights", func(t *testing.T) {
		assert.Equal(t, newTestMLP(t, 4).Weights(), newTestMLP(t, 4).Weights())
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := NewMLP(ModelConfig{InputSize: 0, OutputSize: 3, LearningRate: 0.1})
		assert.Error(t, err)
		_, err = NewMLP(ModelConfig{InputSize: 2, OutputSize: 3, LearningRate: 0})
		assert.Error(t, err)
		_, err = NewMLP(ModelConfig{InputSize: 2, OutputSize: 3, LearningRate: 2})
		assert.Error(t, err)
		_, err = NewMLP(ModelConfig{InputSize: 2, OutputSize: 3, Hidden: []int{0}, LearningRate: 0.1})
		assert.Error(t, err)
	})
}

func TestMLPFitLearns(t *testing.T) {
	m := newTestMLP(t, 16)
	x, y := blobs(150, 1)
	ctx := context.Background()

	lossBefore, _, err := m.Evaluate(ctx, x, y)
	require.NoError(t, err)

	history, err := m.Fit(ctx, x, y, 10, 20)
	require.NoError(t, err)
	assert.Len(t, history.Loss, 20)
	assert.Len(t, history.Accuracy, 20)

	lossAfter, acc, err := m.Evaluate(ctx, x, y)
	require.NoError(t, err)
	assert.Less(t, lossAfter, lossBefore)
	assert.Greater(t, acc, 0.9)
}

func TestMCLRFit(t *testing.T) {
	m := newTestMLP(t)
	x, y := blobs(90, 2)

	_, err := m.Fit(context.Background(), x, y, 10, 30)
	require.NoError(t, err)

	_, acc, err := m.Evaluate(context.Background(), x, y)
	require.NoError(t, err)
	assert.Greater(t, acc, 0.8)
}

func TestMLPSetWeights(t *testing.T) {
	m := newTestMLP(t, 4)
	w := m.Weights()
	w[0].Data[0] = 7
	require.NoError(t, m.SetWeights(w))
	assert.Equal(t, 7.0, m.Weights()[0].Data[0])

	// Weights hands out copies
	got := m.Weights()
	got[0].Data[0] = 1
	assert.Equal(t, 7.0, m.Weights()[0].Data[0])

	err := m.SetWeights(tensor.Params{tensor.New(1)})
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestMLPGradients(t *testing.T) {
	m := newTestMLP(t, 4)
	x, y := blobs(30, 3)
	before := m.Weights()

	grads, err := m.Gradients(context.Background(), x, y)
	require.NoError(t, err)
	assert.Equal(t, before.Shapes(), grads.Shapes())
	assert.Equal(t, before, m.Weights())
	assert.Greater(t, tensor.Norm(grads), 0.0)

	// a small step against the gradient lowers the loss
	lossBefore, _, err := m.Evaluate(context.Background(), x, y)
	require.NoError(t, err)
	stepped, err := tensor.AddScaled(before, -0.05, grads)
	require.NoError(t, err)
	require.NoError(t, m.SetWeights(stepped))
	lossAfter, _, err := m.Evaluate(context.Background(), x, y)
	require.NoError(t, err)
	assert.Less(t, lossAfter, lossBefore)
}

func TestMLPValidation(t *testing.T) {
	m := newTestMLP(t, 4)
	ctx := context.Background()

	_, err := m.Fit(ctx, nil, nil, 10, 1)
	assert.ErrorIs(t, err, ErrEmptyData)

	_, _, err = m.Evaluate(ctx, [][]float64{{1, 2}}, []int{5})
	assert.Error(t, err)

	_, err = m.Gradients(ctx, [][]float64{{1, 2, 3}}, []int{0})
	assert.Error(t, err)

	_, err = m.Fit(ctx, [][]float64{{1, 2}}, []int{0, 1}, 10, 1)
	assert.Error(t, err)
}

func TestMLPFitHonoursContext(t *testing.T) {
	m := newTestMLP(t, 4)
	x, y := blobs(30, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Fit(ctx, x, y, 10, 5)
	assert.ErrorIs(t, err, context.Canceled)
}

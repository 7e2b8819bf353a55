package flearn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/internal/execution/training"
	"github.com/theblitlabs/parity-flsim/internal/mocks"
	"github.com/theblitlabs/parity-flsim/pkg/tensor"
)

func newTestClient(t *testing.T, train, test models.Dataset, step float64) (*Client, *stepModel) {
	t.Helper()
	reg := NewRegistry()
	m := newStepModel(step)
	c, err := reg.NewClient(0, train, test, m)
	require.NoError(t, err)
	return c, m
}

func TestActorNoModelFailsFast(t *testing.T) {
	reg := NewRegistry()
	c, err := reg.NewClient(0, dataset(4), models.Dataset{}, nil)
	require.NoError(t, err)

	_, err = c.Params()
	assert.ErrorIs(t, err, ErrNoModel)
	assert.ErrorIs(t, c.SetParams(tensor.Params{}), ErrNoModel)

	_, err = c.SolveInner(context.Background(), 1, 10)
	assert.ErrorIs(t, err, ErrNoModel)

	_, err = c.ApplyUpdate(tensor.Params{})
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestSolveInnerEmptyData(t *testing.T) {
	c, m := newTestClient(t, models.Dataset{}, models.Dataset{}, 0.1)

	inner, err := c.SolveInner(context.Background(), 3, 10)
	require.NoError(t, err)

	assert.Equal(t, 0, inner.NumSamples)
	assert.Equal(t, []float64{0}, inner.Accuracy)
	assert.Equal(t, []float64{0}, inner.Loss)
	assert.Equal(t, m.params.Shapes(), inner.Update.Shapes())
	assert.Zero(t, tensor.Norm(inner.Update))
	assert.Zero(t, m.calls)
}

func TestSolveInnerRollsBack(t *testing.T) {
	c, m := newTestClient(t, dataset(20), models.Dataset{}, 0.1)
	t0 := m.Weights()

	inner, err := c.SolveInner(context.Background(), 2, 10)
	require.NoError(t, err)

	assert.Equal(t, 20, inner.NumSamples)
	assert.Len(t, inner.Accuracy, 2)
	assert.Equal(t, t0, m.Weights())
	for _, ts := range inner.Update {
		for _, v := range ts.Data {
			assert.InDelta(t, 0.2, v, 1e-12)
		}
	}
}

func TestSolveInnerRollsBackOnError(t *testing.T) {
	c, m := newTestClient(t, dataset(20), models.Dataset{}, 0.1)
	m.fitErr = errFit
	t0 := m.Weights()

	_, err := c.SolveInner(context.Background(), 2, 10)
	assert.ErrorIs(t, err, errFit)
	assert.Equal(t, t0, m.Weights())
}

func TestSolveGradients(t *testing.T) {
	c, m := newTestClient(t, dataset(5), models.Dataset{}, 0.1)
	t0 := m.Weights()

	n, grads, err := c.SolveGradients(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, t0.Shapes(), grads.Shapes())
	assert.Equal(t, t0, m.Weights())

	empty, _ := newTestClient(t, models.Dataset{}, models.Dataset{}, 0.1)
	n, grads, err = empty.SolveGradients(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, tensor.Norm(grads))
}

func TestApplyUpdate(t *testing.T) {
	c, m := newTestClient(t, dataset(4), models.Dataset{}, 0.1)
	t0 := m.Weights()
	u := tensor.ZerosLike(t0)
	u[0].Data[0] = 1.5
	u[1].Data[1] = -2

	t1, err := c.ApplyUpdate(u)
	require.NoError(t, err)

	want, err := tensor.Add(t0, u)
	require.NoError(t, err)
	assert.Equal(t, want, t1)
	assert.Equal(t, want, m.Weights())
	assert.Equal(t, want, c.LatestParams())
	assert.Equal(t, u, c.LatestUpdates())

	// latest updates must not alias the caller's slice
	u[0].Data[0] = 99
	assert.Equal(t, 1.5, c.LatestUpdates()[0].Data[0])
}

func TestApplyUpdateSequential(t *testing.T) {
	c, m := newTestClient(t, dataset(4), models.Dataset{}, 0.1)
	t0 := m.Weights()

	d1 := tensor.ZerosLike(t0)
	d1[0].Data[1] = 0.5
	d2 := tensor.ZerosLike(t0)
	d2[0].Data[1] = 0.25
	d2[1].Data[0] = 1

	_, err := c.ApplyUpdate(d1)
	require.NoError(t, err)
	_, err = c.ApplyUpdate(d2)
	require.NoError(t, err)

	want, _ := tensor.Add(t0, d1)
	want, _ = tensor.Add(want, d2)
	assert.Equal(t, want, c.LatestParams())
	assert.Equal(t, d2, c.LatestUpdates())
}

func TestApplyUpdateShapeMismatch(t *testing.T) {
	c, _ := newTestClient(t, dataset(4), models.Dataset{}, 0.1)

	_, err := c.ApplyUpdate(tensor.Params{tensor.New(3)})
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestRefreshLatest(t *testing.T) {
	c, m := newTestClient(t, dataset(4), models.Dataset{}, 0.1)
	t0 := c.LatestParams().Clone()

	m.params[0].Data[0] += 3
	require.NoError(t, c.RefreshLatest())

	assert.Equal(t, m.Weights(), c.LatestParams())
	diff, _ := tensor.Sub(m.Weights(), t0)
	assert.Equal(t, diff, c.LatestUpdates())
}

func TestTestLocally(t *testing.T) {
	c, _ := newTestClient(t, dataset(4), models.Dataset{}, 0.1)
	r, err := c.TestLocally(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TestResult{}, r)

	c.SetData(dataset(4), dataset(6))
	r, err = c.TestLocally(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, r.NumSamples)
	assert.Equal(t, 0.75, r.Accuracy)
	assert.Equal(t, 0.25, r.Loss)
}

func TestAggregate(t *testing.T) {
	c, m := newTestClient(t, dataset(4), models.Dataset{}, 0.1)
	shape := m.Weights()

	u1 := tensor.ZerosLike(shape)
	u1[0].Data[0] = 1
	u2 := tensor.ZerosLike(shape)
	u2[0].Data[0] = 4

	agg, err := c.Aggregate([]models.TrainResult{
		{NumSamples: 1, Accuracy: 0.2, Loss: 2, Update: u1},
		{NumSamples: 3, Accuracy: 0.6, Loss: 1, Update: u2},
		{NumSamples: 0, Accuracy: 1, Loss: 100, Update: tensor.Params{tensor.New(9)}},
	})
	require.NoError(t, err)

	assert.Equal(t, 4, agg.NumSamples)
	assert.InDelta(t, 0.5, agg.Accuracy, 1e-12)
	assert.InDelta(t, 1.25, agg.Loss, 1e-12)
	assert.InDelta(t, 3.25, agg.Update[0].Data[0], 1e-12)
}

func TestAggregateAllEmpty(t *testing.T) {
	c, m := newTestClient(t, dataset(4), models.Dataset{}, 0.1)

	agg, err := c.Aggregate([]models.TrainResult{{NumSamples: 0}})
	require.NoError(t, err)
	assert.Zero(t, agg.NumSamples)
	assert.Equal(t, m.Weights().Shapes(), agg.Update.Shapes())
	assert.Zero(t, tensor.Norm(agg.Update))
}

func TestAggregateShapeMismatch(t *testing.T) {
	c, _ := newTestClient(t, dataset(4), models.Dataset{}, 0.1)

	_, err := c.Aggregate([]models.TrainResult{
		{NumSamples: 2, Update: tensor.Params{tensor.New(3)}},
	})
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestSolveInnerWithMLP(t *testing.T) {
	model, err := training.NewMLP(training.ModelConfig{
		InputSize:    2,
		OutputSize:   2,
		Hidden:       []int{4},
		LearningRate: 0.03,
		Seed:         1,
	})
	require.NoError(t, err)

	train := models.Dataset{}
	for i := 0; i < 100; i++ {
		train.X = append(train.X, []float64{float64(i%10) / 10, float64(i%3) / 3})
		train.Y = append(train.Y, i%2)
	}

	reg := NewRegistry()
	c, err := reg.NewClient(0, train, models.Dataset{}, model)
	require.NoError(t, err)
	t0 := model.Weights()

	inner, err := c.SolveInner(context.Background(), 1, 10)
	require.NoError(t, err)

	assert.Equal(t, 100, inner.NumSamples)
	assert.Len(t, inner.Loss, 1)
	assert.Equal(t, t0.Shapes(), inner.Update.Shapes())
	assert.Equal(t, t0, model.Weights())
	assert.True(t, tensor.IsFinite(inner.Update))
}

func TestActorWrapsModelErrors(t *testing.T) {
	weights := tensor.Params{{Shape: []int{2}, Data: []float64{1, 2}}}
	modelErr := errors.New("device lost")

	m := &mocks.MockModel{}
	m.On("Weights").Return(weights)
	m.On("Evaluate", mock.Anything, mock.Anything, mock.Anything).Return(0.0, 0.0, modelErr)
	m.On("Gradients", mock.Anything, mock.Anything, mock.Anything).Return(nil, modelErr)
	m.On("SetWeights", mock.Anything).Return(modelErr)

	reg := NewRegistry()
	c, err := reg.NewClient(0, dataset(4), dataset(2), m)
	require.NoError(t, err)

	_, err = c.TestLocally(context.Background())
	assert.ErrorIs(t, err, modelErr)

	_, _, err = c.SolveGradients(context.Background(), 1, 10)
	assert.ErrorIs(t, err, modelErr)

	_, err = c.ApplyUpdate(tensor.Params{{Shape: []int{2}, Data: []float64{1, 1}}})
	assert.ErrorIs(t, err, modelErr)
	assert.Equal(t, weights, c.LatestParams())

	m.AssertExpectations(t)
}

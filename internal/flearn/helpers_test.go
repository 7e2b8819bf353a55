package flearn

import (
	"context"
	"errors"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/internal/core/ports"
	"github.com/theblitlabs/parity-flsim/pkg/tensor"
)

// stepModel moves every weight by step per epoch, which makes updates easy
// to predict
type stepModel struct {
	params tensor.Params
	step   float64
	fitErr error
	calls  int
}

func newStepModel(step float64) *stepModel {
	w, _ := tensor.FromData([]float64{0.1, 0.2, 0.3, 0.4}, 2, 2)
	b, _ := tensor.FromData([]float64{0, 0}, 2)
	return &stepModel{params: tensor.Params{w, b}, step: step}
}

func (m *stepModel) Weights() tensor.Params {
	return m.params.Clone()
}

func (m *stepModel) SetWeights(weights tensor.Params) error {
	if err := tensor.SameShape(m.params, weights); err != nil {
		return err
	}
	m.params = weights.Clone()
	return nil
}

func (m *stepModel) Fit(ctx context.Context, x [][]float64, y []int, batchSize, epochs int) (ports.History, error) {
	m.calls++
	var h ports.History
	for e := 0; e < epochs; e++ {
		for i := range m.params {
			for j := range m.params[i].Data {
				m.params[i].Data[j] += m.step
			}
		}
		if m.fitErr != nil && e == epochs-1 {
			return h, m.fitErr
		}
		h.Accuracy = append(h.Accuracy, 0.5+0.1*float64(e))
		h.Loss = append(h.Loss, 1.0/float64(e+1))
	}
	return h, nil
}

func (m *stepModel) Evaluate(ctx context.Context, x [][]float64, y []int) (float64, float64, error) {
	return 0.25, 0.75, nil
}

func (m *stepModel) Gradients(ctx context.Context, x [][]float64, y []int) (tensor.Params, error) {
	g := tensor.ZerosLike(m.params)
	for i := range g {
		for j := range g[i].Data {
			g[i].Data[j] = 1
		}
	}
	return g, nil
}

var errFit = errors.New("fit exploded")

func dataset(n int) models.Dataset {
	ds := models.Dataset{}
	for i := 0; i < n; i++ {
		ds.X = append(ds.X, []float64{float64(i), float64(i % 3)})
		ds.Y = append(ds.Y, i%2)
	}
	return ds
}

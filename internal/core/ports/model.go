package ports

import (
	"context"

	"github.com/theblitlabs/parity-flsim/pkg/tensor"
)

// History is the per-epoch record of a Fit call
type History struct {
	Accuracy []float64
	Loss     []float64
}

// Model is a trainable model handle. Implementations are not safe for
// concurrent use; every actor owns its own instance.
type Model interface {
	// Weights returns a copy of the current weights
	Weights() tensor.Params

	// SetWeights installs weights, which must match the model's shapes
	SetWeights(weights tensor.Params) error

	// Fit runs mini-batch optimization for the given number of epochs
	Fit(ctx context.Context, x [][]float64, y []int, batchSize, epochs int) (History, error)

	// Evaluate returns loss and accuracy on the given data
	Evaluate(ctx context.Context, x [][]float64, y []int) (loss float64, accuracy float64, err error)

	// Gradients returns the loss gradients on the given data without
	// changing the weights
	Gradients(ctx context.Context, x [][]float64, y []int) (tensor.Params, error)
}

// ModelFactory builds a fresh model instance
type ModelFactory func() (Model, error)

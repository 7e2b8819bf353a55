package training

import (
	"errors"
	"fmt"
	"strings"

	"github.com/theblitlabs/parity-flsim/internal/core/ports"
)

var (
	ErrUnknownModel = errors.New("unknown model")
	ErrEmptyData    = errors.New("empty training data")
)

const (
	ModelMLP  = "mlp"
	ModelMCLR = "mclr"
)

// ModelConfig describes the architecture and optimizer of a model
type ModelConfig struct {
	InputSize    int     `json:"input_size"`
	OutputSize   int     `json:"output_size"`
	Hidden       []int   `json:"hidden"`
	LearningRate float64 `json:"learning_rate"`
	L2           float64 `json:"l2"`
	Seed         int64   `json:"seed"`
}

// ArchitectureFor returns the layer layout used for a dataset. Unknown
// datasets get a single hidden layer of 128 units.
func ArchitectureFor(dataset, model string, inputSize, outputSize int, learningRate float64) (ModelConfig, error) {
	cfg := ModelConfig{
		InputSize:    inputSize,
		OutputSize:   outputSize,
		LearningRate: learningRate,
	}

	switch strings.ToLower(model) {
	case ModelMCLR:
		return cfg, nil
	case ModelMLP:
	default:
		return ModelConfig{}, fmt.Errorf("%s: %w", model, ErrUnknownModel)
	}

	switch strings.ToLower(dataset) {
	case "mnist":
		cfg.Hidden = []int{128}
		cfg.L2 = 0.001
	case "fmnist":
		cfg.Hidden = []int{512, 512}
	default:
		cfg.Hidden = []int{128}
	}
	return cfg, nil
}

// NewModel creates a model instance based on model type
func NewModel(name string, cfg ModelConfig) (ports.Model, error) {
	switch strings.ToLower(name) {
	case ModelMLP:
		return NewMLP(cfg)
	case ModelMCLR:
		cfg.Hidden = nil
		return NewMLP(cfg)
	default:
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownModel)
	}
}

// Factory returns a ports.ModelFactory producing independently seeded
// instances, so that every actor owns its own weights
func Factory(name string, cfg ModelConfig) ports.ModelFactory {
	next := cfg.Seed
	return func() (ports.Model, error) {
		c := cfg
		c.Seed = next
		next++
		return NewModel(name, c)
	}
}

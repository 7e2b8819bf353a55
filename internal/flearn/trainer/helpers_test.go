package trainer

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/theblitlabs/parity-flsim/internal/config"
	"github.com/theblitlabs/parity-flsim/internal/core/ports"
	"github.com/theblitlabs/parity-flsim/internal/execution/training"
	"github.com/theblitlabs/parity-flsim/pkg/logger"
)

func init() {
	logger.Init(logger.Config{Level: logger.LogLevelDisabled})
}

const (
	testClients = 8
	testClasses = 3
	testDim     = 4
)

func testPartitions(t *testing.T) []training.Partition {
	t.Helper()
	parts, err := training.Synthetic(training.SyntheticConfig{
		NumClients:   testClients,
		NumClasses:   testClasses,
		Dim:          testDim,
		MinSamples:   20,
		MaxSamples:   30,
		NumClusters:  2,
		TestFraction: 0.25,
	}, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	return parts
}

func testFactory() ports.ModelFactory {
	return training.Factory(training.ModelMCLR, training.ModelConfig{
		InputSize:    testDim,
		OutputSize:   testClasses,
		LearningRate: 0.03,
		Seed:         1,
	})
}

func testConfig(trainer string) config.TrainConfig {
	cfg := config.NewTrainConfig("synthetic", training.ModelMCLR, trainer)
	cfg.TrainerConfig.NumRounds = 3
	cfg.TrainerConfig.ClientsPerRound = 4
	cfg.TrainerConfig.LocalEpochs = 1
	cfg.TrainerConfig.NumGroup = 2
	cfg.TrainerConfig.PretrainScale = 2
	return cfg
}

func testRuntime() config.RuntimeConfig {
	return config.RuntimeConfig{Device: config.DeviceCPU, Workers: 2, Seed: 3}
}

func newTestTrainer(t *testing.T, cfg config.TrainConfig, opts ...Option) *Trainer {
	t.Helper()
	tr, err := New(cfg, testRuntime(), testPartitions(t), testFactory(), opts...)
	require.NoError(t, err)
	return tr
}

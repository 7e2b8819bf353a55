package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTrainConfig(t *testing.T) {
	tests := []struct {
		trainer  string
		numGroup int
	}{
		{TrainerFedAvg, 1},
		{TrainerIFCA, 3},
		{TrainerFeSEM, 3},
		{"FedGroup", 5},
	}

	for _, tt := range tests {
		t.Run(tt.trainer, func(t *testing.T) {
			tc := NewTrainConfig("mnist", "mlp", tt.trainer)
			assert.Equal(t, tt.numGroup, tc.TrainerConfig.NumGroup)
			assert.Equal(t, 200, tc.TrainerConfig.NumRounds)
			assert.Equal(t, 20, tc.TrainerConfig.ClientsPerRound)
			assert.Equal(t, 0.03, tc.TrainerConfig.LearningRate)
			assert.NoError(t, tc.Validate())
		})
	}
}

func TestTrainerConfigSet(t *testing.T) {
	tc := NewTrainConfig("mnist", "mlp", TrainerFedGroup)
	c := &tc.TrainerConfig

	require.NoError(t, c.Set("dynamic", true))
	require.NoError(t, c.Set("num_rounds", "50"))
	require.NoError(t, c.Set("shift_type", ShiftPart))
	require.NoError(t, c.Set("swap_p", 0.05))
	require.NoError(t, c.Set("shift_rounds", []interface{}{10, "20"}))
	require.NoError(t, c.Set("measure", "madc"))

	assert.True(t, c.Dynamic)
	assert.Equal(t, 50, c.NumRounds)
	assert.Equal(t, ShiftPart, c.ShiftType)
	assert.Equal(t, 0.05, c.SwapP)
	assert.Equal(t, []int{10, 20}, c.ShiftRounds)
	assert.Equal(t, MeasureMADC, c.Measure)

	assert.ErrorIs(t, c.Set("unknown", 1), ErrInvalidConfig)
	assert.ErrorIs(t, c.Set("num_rounds", "many"), ErrInvalidConfig)
}

func TestTrainConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TrainConfig)
	}{
		{"unknown trainer", func(tc *TrainConfig) { tc.Trainer = "fedprox" }},
		{"zero rounds", func(tc *TrainConfig) { tc.TrainerConfig.NumRounds = 0 }},
		{"swap_p above one", func(tc *TrainConfig) { tc.TrainerConfig.SwapP = 1.5 }},
		{"negative swap_p", func(tc *TrainConfig) { tc.TrainerConfig.SwapP = -0.1 }},
		{"unknown shift", func(tc *TrainConfig) { tc.TrainerConfig.ShiftType = "random" }},
		{"unknown measure", func(tc *TrainConfig) { tc.TrainerConfig.Measure = "L2" }},
		{"zero groups", func(tc *TrainConfig) { tc.TrainerConfig.NumGroup = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := NewTrainConfig("mnist", "mlp", TrainerIFCA)
			tt.mutate(&tc)
			assert.ErrorIs(t, tc.Validate(), ErrInvalidConfig)
		})
	}
}

func TestRuntimeValidate(t *testing.T) {
	assert.NoError(t, RuntimeConfig{Device: "CPU", Workers: 2}.Validate())
	assert.ErrorIs(t, RuntimeConfig{Device: "cuda:0", Workers: 1}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, RuntimeConfig{Device: "cpu", Workers: 0}.Validate(), ErrInvalidConfig)
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults only", func(t *testing.T) {
		cfg, err := LoadConfig("")
		require.NoError(t, err)

		assert.Equal(t, TrainerFedGroup, cfg.Train.Trainer)
		assert.Equal(t, 5, cfg.Train.TrainerConfig.NumGroup)
		assert.Equal(t, DeviceCPU, cfg.Runtime.Device)
		assert.Equal(t, 1, cfg.Runtime.Workers)
		assert.Equal(t, 15*time.Second, cfg.Telemetry.Metrics.Interval)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("valid configuration", func(t *testing.T) {
		content := `
train:
  dataset: mnist
  model: mlp
  trainer: IFCA
  trainer_config:
    num_rounds: 30
    dynamic: true
    shift_type: increment
    swap_p: 0.1
    shift_rounds: [10, 20]
runtime:
  workers: 4
  seed: 7
storage:
  checkpoint_dir: /tmp/ckpt
`
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, "mnist", cfg.Train.Dataset)
		assert.Equal(t, TrainerIFCA, cfg.Train.Trainer)
		assert.Equal(t, 3, cfg.Train.TrainerConfig.NumGroup)
		assert.Equal(t, 30, cfg.Train.TrainerConfig.NumRounds)
		assert.True(t, cfg.Train.TrainerConfig.Dynamic)
		assert.Equal(t, ShiftIncrement, cfg.Train.TrainerConfig.ShiftType)
		assert.Equal(t, []int{10, 20}, cfg.Train.TrainerConfig.ShiftRounds)
		assert.Equal(t, 20, cfg.Train.TrainerConfig.LocalEpochs)
		assert.Equal(t, 4, cfg.Runtime.Workers)
		assert.Equal(t, int64(7), cfg.Runtime.Seed)
		assert.Equal(t, "/tmp/ckpt", cfg.Storage.CheckpointDir)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("environment override", func(t *testing.T) {
		t.Setenv("FLSIM_RUNTIME_WORKERS", "8")
		t.Setenv("FLSIM_TRAIN_TRAINER", "fesem")

		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.Runtime.Workers)
		assert.Equal(t, TrainerFeSEM, cfg.Train.Trainer)
		assert.Equal(t, 3, cfg.Train.TrainerConfig.NumGroup)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}

func TestConfigManager(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("train:\n  trainer: fedavg\n"), 0o644))

	cm := GetConfigManager()
	cm.SetConfigPath(path)
	assert.Equal(t, path, cm.GetConfigPath())

	cfg, err := cm.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, TrainerFedAvg, cfg.Train.Trainer)
	assert.Equal(t, 1, cfg.Train.TrainerConfig.NumGroup)

	again, err := cm.GetConfig()
	require.NoError(t, err)
	assert.Same(t, cfg, again)
}

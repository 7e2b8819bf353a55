package cli

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/theblitlabs/parity-flsim/internal/config"
	"github.com/theblitlabs/parity-flsim/internal/core/ports"
	"github.com/theblitlabs/parity-flsim/internal/execution/training"
	"github.com/theblitlabs/parity-flsim/pkg/ipfs"
)

const datasetSynthetic = "synthetic"

// loadConfig reads the --config file and applies every flag the user set
// explicitly on top of it
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cm := config.GetConfigManager()
	cm.SetConfigPath(path)
	cfg, err := cm.GetConfig()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	stringFlag := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}

	stringFlag("dataset", &cfg.Train.Dataset)
	stringFlag("model", &cfg.Train.Model)
	stringFlag("data", &cfg.Data.Path)
	stringFlag("device", &cfg.Runtime.Device)
	stringFlag("db", &cfg.Storage.DatabaseURL)
	stringFlag("checkpoint-dir", &cfg.Storage.CheckpointDir)
	stringFlag("webhook", &cfg.Webhook.URL)
	stringFlag("mqtt", &cfg.MQTT.Broker)

	if flags.Changed("trainer") {
		trainer, _ := flags.GetString("trainer")
		cfg.Train.Trainer = strings.ToLower(trainer)
		if !flags.Changed("num-group") {
			cfg.Train.TrainerConfig.NumGroup = config.DefaultNumGroup(cfg.Train.Trainer)
		}
	}
	if flags.Changed("workers") {
		cfg.Runtime.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("seed") {
		cfg.Runtime.Seed, _ = flags.GetInt64("seed")
	}

	// trainer options map one to one onto their config keys
	for flag, key := range map[string]string{
		"rounds":     "num_rounds",
		"dynamic":    "dynamic",
		"shift-type": "shift_type",
		"swap-p":     "swap_p",
		"num-group":  "num_group",
		"measure":    "measure",
	} {
		if !flags.Changed(flag) {
			continue
		}
		value := flags.Lookup(flag).Value.String()
		if err := cfg.Train.TrainerConfig.Set(key, value); err != nil {
			return nil, err
		}
	}

	opts, _ := flags.GetStringSlice("set")
	for _, kv := range opts {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid option %q, expected key=value: %w", kv, config.ErrInvalidConfig)
		}
		if err := cfg.Train.TrainerConfig.Set(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadPartitions builds the client partitions: synthetic data when no path
// is configured, a LEAF tree for directories, otherwise a single file split
// by label
func loadPartitions(ctx context.Context, cfg *config.Config) ([]training.Partition, error) {
	rng := rand.New(rand.NewSource(cfg.Runtime.Seed))
	path := cfg.Data.Path

	if path == "" {
		if cfg.Train.Dataset != datasetSynthetic {
			return nil, fmt.Errorf("dataset %q needs a data path: %w", cfg.Train.Dataset, config.ErrInvalidConfig)
		}
		sc := training.DefaultSyntheticConfig()
		if cfg.Data.NumClients > 0 {
			sc.NumClients = cfg.Data.NumClients
		}
		if cfg.Data.TestFraction > 0 {
			sc.TestFraction = cfg.Data.TestFraction
		}
		return training.Synthetic(sc, rng)
	}

	var fetcher training.Fetcher
	if strings.HasPrefix(path, "ipfs://") {
		fetcher = ipfs.New(ipfs.Config{APIEndpoint: cfg.IPFS.APIURL, Timeout: 5 * time.Minute})
	}
	loader := training.NewDataLoader(fetcher)

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return loader.LoadLEAF(ctx, path)
	}

	ds, err := loader.LoadFile(ctx, path, cfg.Data.Format)
	if err != nil {
		return nil, err
	}
	return training.PartitionByLabel(ds, cfg.Data.NumClients, cfg.Data.ClassesPerClient, cfg.Data.TestFraction, rng)
}

// modelFactory sizes the model after the loaded partitions
func modelFactory(cfg *config.Config, parts []training.Partition) (ports.ModelFactory, error) {
	features, classes := training.Shape(parts)
	mc, err := training.ArchitectureFor(cfg.Train.Dataset, cfg.Train.Model, features, classes, cfg.Train.TrainerConfig.LearningRate)
	if err != nil {
		return nil, err
	}
	mc.Seed = cfg.Runtime.Seed
	return training.Factory(cfg.Train.Model, mc), nil
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/theblitlabs/parity-flsim/internal/api"
	"github.com/theblitlabs/parity-flsim/internal/api/handlers"
	"github.com/theblitlabs/parity-flsim/internal/config"
	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/internal/flearn/trainer"
	"github.com/theblitlabs/parity-flsim/internal/messaging/mqtt"
	"github.com/theblitlabs/parity-flsim/internal/messaging/webhook"
	"github.com/theblitlabs/parity-flsim/internal/monitoring/health"
	"github.com/theblitlabs/parity-flsim/internal/monitoring/metrics"
	"github.com/theblitlabs/parity-flsim/internal/storage/checkpoint"
	"github.com/theblitlabs/parity-flsim/internal/storage/repository"
	"github.com/theblitlabs/parity-flsim/internal/telemetry"
	"github.com/theblitlabs/parity-flsim/pkg/database"
	"github.com/theblitlabs/parity-flsim/pkg/ipfs"
	"github.com/theblitlabs/parity-flsim/pkg/logger"
)

// RunSimulation runs a full federated simulation with the configured trainer
func RunSimulation(cmd *cobra.Command) error {
	log := logger.WithComponent("cli")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.InitTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}()

	parts, err := loadPartitions(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to load data: %w", err)
	}
	factory, err := modelFactory(cfg, parts)
	if err != nil {
		return err
	}

	simID := uuid.New()
	opts := []trainer.Option{trainer.WithSimulationID(simID)}

	opts = append(opts, trainer.WithRecorder(tel.Recorder()))

	var (
		repo *repository.RoundRepository
		db   *sqlx.DB
	)
	if cfg.Storage.DatabaseURL != "" {
		db, err = database.Connect(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		repo = repository.NewRoundRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		trainCfg, err := json.Marshal(cfg.Train)
		if err != nil {
			return fmt.Errorf("failed to marshal train config: %w", err)
		}
		if err := repo.CreateSimulation(ctx, &repository.Simulation{
			ID:        simID,
			Trainer:   cfg.Train.Trainer,
			Dataset:   cfg.Train.Dataset,
			Model:     cfg.Train.Model,
			Config:    trainCfg,
			BestRound: -1,
			CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
		opts = append(opts, trainer.WithRecorder(repo))
	}

	if cfg.Storage.CheckpointDir != "" {
		store, err := checkpoint.NewStore(cfg.Storage.CheckpointDir)
		if err != nil {
			return err
		}
		opts = append(opts, trainer.WithCheckpointSink(store))
	}

	if cfg.Webhook.URL != "" {
		notifier := webhook.NewNotifier(cfg.Webhook)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Webhook.Timeout+time.Second)
			defer cancel()
			if err := notifier.Close(sctx); err != nil {
				log.Warn().Err(err).Msg("Pending round notifications dropped")
			}
		}()
		opts = append(opts, trainer.WithRecorder(notifier))
	}

	if cfg.MQTT.Broker != "" {
		publisher, err := mqtt.NewPublisher(cfg.MQTT)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			publisher.Close(sctx)
		}()
		opts = append(opts, trainer.WithRecorder(publisher))
	}

	serve, _ := cmd.Flags().GetBool("serve")
	var hub *handlers.Hub
	if serve {
		hub = handlers.NewHub()
		defer hub.Close()
		opts = append(opts, trainer.WithRecorder(hub))
	}

	tr, err := trainer.New(cfg.Train, cfg.Runtime, parts, factory, opts...)
	if err != nil {
		return err
	}

	if serve {
		checker := health.NewHealthChecker(30 * time.Second)
		checker.Register("system", metrics.NewSystemMetricsCollector(0).Check)
		if db != nil {
			checker.Register("database", func(ctx context.Context) (string, error) {
				if err := db.PingContext(ctx); err != nil {
					return "", err
				}
				return "reachable", nil
			})
		}
		checker.Start(ctx)
		defer checker.Stop()

		router := api.NewRouter(
			handlers.NewSimulationHandler(tr),
			hub,
			handlers.NewHealthHandler(checker),
			cfg.Server.Endpoint,
		)
		server := api.NewServer(cfg.Server, router)
		errCh := server.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Stop(sctx); err != nil {
				log.Warn().Err(err).Msg("Server shutdown failed")
			}
		}()
		go func() {
			if err := <-errCh; err != nil {
				log.Error().Err(err).Str("addr", server.Addr()).Msg("HTTP server failed")
			}
		}()
	}

	log.Info().
		Str("simulation_id", simID.String()).
		Str("trainer", cfg.Train.Trainer).
		Str("dataset", cfg.Train.Dataset).
		Str("model", cfg.Train.Model).
		Int("clients", len(parts)).
		Int("rounds", cfg.Train.TrainerConfig.NumRounds).
		Bool("dynamic", cfg.Train.TrainerConfig.Dynamic).
		Int("workers", cfg.Runtime.Workers).
		Msg("Starting simulation")

	result, err := tr.Train(ctx)
	if err != nil {
		return err
	}

	if repo != nil {
		if err := repo.CompleteSimulation(ctx, result); err != nil {
			log.Warn().Err(err).Msg("Failed to store simulation result")
		}
	}

	if publish, _ := cmd.Flags().GetBool("publish"); publish {
		cid, err := ipfs.New(ipfs.Config{APIEndpoint: cfg.IPFS.APIURL}).PublishJSON(result)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to publish simulation result")
		} else {
			log.Info().Str("cid", cid).Msg("Simulation result published")
		}
	}

	printResult(result)
	return nil
}

func printResult(result models.SimulationResult) {
	fmt.Printf("\nSimulation %s (%s)\n", result.SimulationID, result.Trainer)
	fmt.Printf("%-6s %-10s %-10s %-10s %-11s\n", "round", "train_acc", "test_acc", "test_loss", "migrations")
	for _, r := range result.Rounds {
		fmt.Printf("%-6d %-10.4f %-10.4f %-10.4f %-11d\n", r.Round, r.TrainAccuracy, r.TestAccuracy, r.TestLoss, r.Migrations)
	}
	fmt.Printf("\nbest accuracy %.4f at round %d, %d migrations, took %s\n",
		result.BestAccuracy, result.BestRound, result.TotalMigrations,
		result.CompletedAt.Sub(result.StartedAt).Round(time.Millisecond))
}

// RunLocal trains every client on its own data as a baseline
func RunLocal(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	parts, err := loadPartitions(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to load data: %w", err)
	}
	factory, err := modelFactory(cfg, parts)
	if err != nil {
		return err
	}

	tr, err := trainer.New(cfg.Train, cfg.Runtime, parts, factory)
	if err != nil {
		return err
	}
	result, err := tr.TrainLocally(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("local training: %d test samples, accuracy %.4f, loss %.4f\n",
		result.NumSamples, result.Accuracy, result.Loss)
	return nil
}

// PrintConfig writes the resolved configuration as JSON
func PrintConfig(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return printJSON(cfg)
}

func printJSON(cfg *config.Config) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

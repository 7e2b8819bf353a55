package trainer

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/theblitlabs/parity-flsim/internal/config"
	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/internal/core/ports"
	"github.com/theblitlabs/parity-flsim/internal/execution/training"
	"github.com/theblitlabs/parity-flsim/internal/flearn"
	"github.com/theblitlabs/parity-flsim/internal/telemetry"
	"github.com/theblitlabs/parity-flsim/pkg/logger"
	"github.com/theblitlabs/parity-flsim/pkg/tensor"
)

// convergenceEpsilon is the accuracy gain below which a round counts as stalled
const convergenceEpsilon = 1e-4

var now = time.Now

type Option func(*Trainer)

func WithRecorder(r ports.RoundRecorder) Option {
	return func(t *Trainer) {
		t.recorders = append(t.recorders, r)
	}
}

func WithCheckpointSink(s ports.CheckpointSink) Option {
	return func(t *Trainer) {
		t.checkpoints = s
	}
}

func WithSimulationID(id uuid.UUID) Option {
	return func(t *Trainer) {
		t.id = id
	}
}

// Trainer drives the round state machine shared by every strategy:
// select, local train, aggregate, migrate when dynamic, evaluate.
type Trainer struct {
	id       uuid.UUID
	cfg      config.TrainConfig
	runtime  config.RuntimeConfig
	strategy Strategy

	registry   *flearn.Registry
	factory    ports.ModelFactory
	partitions []training.Partition
	numClasses int
	rng        *rand.Rand

	recorders   []ports.RoundRecorder
	checkpoints ports.CheckpointSink
	tracer      trace.Tracer
	log         zerolog.Logger

	// per round state, touched only by the goroutine running Train
	results    map[models.ActorID]models.TrainResult
	groupAggs  map[models.ActorID]models.TrainResult
	shiftedSet map[models.ActorID]bool

	mu        sync.RWMutex
	status    models.SimulationStatus
	summaries []models.RoundSummary
	best      float64
	bestRound int
	stalled   int
	migrated  int
	setupDone bool
}

// New validates the configuration and prepares a trainer over the given
// client partitions. factory must yield a fresh model for every call.
func New(cfg config.TrainConfig, runtime config.RuntimeConfig, partitions []training.Partition, factory ports.ModelFactory, opts ...Option) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := runtime.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, flearn.ErrNoModel
	}
	if len(partitions) == 0 {
		return nil, ErrNoClients
	}

	strategy, err := newStrategy(cfg.Trainer)
	if err != nil {
		return nil, err
	}

	_, numClasses := training.Shape(partitions)
	t := &Trainer{
		id:         uuid.New(),
		cfg:        cfg,
		runtime:    runtime,
		strategy:   strategy,
		registry:   flearn.NewRegistry(),
		factory:    factory,
		partitions: partitions,
		numClasses: numClasses,
		rng:        rand.New(rand.NewSource(runtime.Seed)),
		tracer:     otel.Tracer("parity-flsim/trainer"),
		log:        logger.WithComponent("trainer"),
		bestRound:  -1,
	}
	for _, opt := range opts {
		opt(t)
	}

	t.status = models.SimulationStatus{
		SimulationID: t.id,
		Trainer:      cfg.Trainer,
		Dataset:      cfg.Dataset,
		TotalRounds:  cfg.TrainerConfig.NumRounds,
		UpdatedAt:    time.Now(),
	}
	return t, nil
}

func (t *Trainer) ID() uuid.UUID {
	return t.id
}

func (t *Trainer) Registry() *flearn.Registry {
	return t.registry
}

func (t *Trainer) Config() config.TrainConfig {
	return t.cfg
}

func (t *Trainer) options() flearn.TrainOptions {
	return flearn.TrainOptions{
		Epochs:    t.cfg.TrainerConfig.LocalEpochs,
		BatchSize: t.cfg.TrainerConfig.BatchSize,
	}
}

// Status returns a snapshot of the simulation progress
func (t *Trainer) Status() models.SimulationStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Rounds returns the summaries of all evaluated rounds so far
func (t *Trainer) Rounds() []models.RoundSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]models.RoundSummary(nil), t.summaries...)
}

func (t *Trainer) setState(round int, state models.RoundState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Round = round
	t.status.State = state
	t.status.UpdatedAt = time.Now()
}

// Setup creates the server and one client per partition, all starting from
// the server weights, then lets the strategy build its groups. It is run
// by Train when not called explicitly.
func (t *Trainer) Setup(ctx context.Context) error {
	if t.setupDone {
		return nil
	}

	serverModel, err := t.newModel(nil)
	if err != nil {
		return fmt.Errorf("failed to create server model: %w", err)
	}
	server, err := t.registry.NewServer(serverModel)
	if err != nil {
		return err
	}

	for i, part := range t.partitions {
		m, err := t.newModel(server.LatestParams())
		if err != nil {
			return fmt.Errorf("failed to create model for client %d: %w", i, err)
		}
		if _, err := t.registry.NewClient(i, part.Train, part.Test, m); err != nil {
			return err
		}
	}

	if err := t.strategy.Setup(ctx, t); err != nil {
		return fmt.Errorf("%s setup failed: %w", t.strategy.Name(), err)
	}
	t.setupDone = true

	t.log.Info().
		Str("simulation_id", t.id.String()).
		Str("trainer", t.strategy.Name()).
		Int("clients", len(t.partitions)).
		Int("groups", len(t.registry.Groups())).
		Int("classes", t.numClasses).
		Msg("Simulation set up")
	return nil
}

// newModel creates a model and installs weights into it when given
func (t *Trainer) newModel(weights tensor.Params) (ports.Model, error) {
	m, err := t.factory()
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, flearn.ErrNoModel
	}
	if weights != nil {
		if err := m.SetWeights(weights); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Train runs every round and returns the collected summaries. The first
// error aborts the simulation.
func (t *Trainer) Train(ctx context.Context) (models.SimulationResult, error) {
	started := time.Now()
	ctx, span := t.tracer.Start(ctx, "simulation",
		trace.WithAttributes(
			attribute.String("simulation_id", t.id.String()),
			attribute.String("trainer", t.cfg.Trainer),
		),
	)
	defer span.End()

	if err := t.Setup(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.SimulationResult{}, err
	}

	numRounds := t.cfg.TrainerConfig.NumRounds
	for round := 0; round < numRounds; round++ {
		if err := ctx.Err(); err != nil {
			return t.result(started), err
		}
		if err := t.runRound(ctx, round); err != nil {
			telemetry.RecordError("round", "trainer")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			t.log.Error().Err(err).Int("round", round).Msg("Round failed, aborting simulation")
			return t.result(started), fmt.Errorf("round %d: %w", round, err)
		}
	}

	t.setState(numRounds, models.RoundStateDone)
	result := t.result(started)
	t.log.Info().
		Str("simulation_id", t.id.String()).
		Float64("best_accuracy", result.BestAccuracy).
		Int("best_round", result.BestRound).
		Int("migrations", result.TotalMigrations).
		Dur("duration", result.CompletedAt.Sub(started)).
		Msg("Simulation finished")
	return result, nil
}

func (t *Trainer) result(started time.Time) models.SimulationResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return models.SimulationResult{
		SimulationID:    t.id,
		Trainer:         t.cfg.Trainer,
		Rounds:          append([]models.RoundSummary(nil), t.summaries...),
		BestAccuracy:    t.best,
		BestRound:       t.bestRound,
		TotalMigrations: t.migrated,
		StalledRounds:   t.stalled,
		StartedAt:       started,
		CompletedAt:     time.Now(),
	}
}

func (t *Trainer) runRound(ctx context.Context, round int) error {
	start := time.Now()
	ctx, span := t.tracer.Start(ctx, "round", trace.WithAttributes(attribute.Int("round", round)))
	defer span.End()

	// SELECT
	t.setState(round, models.RoundStateSelect)
	shifted := 0
	if t.cfg.TrainerConfig.Dynamic && t.isShiftRound(round) {
		shifted = t.shiftData(round)
	}
	selected := t.selectClients()
	migrations, err := t.strategy.Assign(ctx, t, round, selected)
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}

	// LOCAL_TRAIN
	t.setState(round, models.RoundStateLocalTrain)
	trainStart := time.Now()
	if err := t.localTrain(ctx, selected); err != nil {
		return fmt.Errorf("local train: %w", err)
	}
	telemetry.RecordLocalTrain(t.cfg.Trainer, time.Since(trainStart))

	// AGGREGATE
	t.setState(round, models.RoundStateAggregate)
	if err := t.aggregate(ctx); err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}

	// MIGRATE
	if t.cfg.TrainerConfig.Dynamic {
		t.setState(round, models.RoundStateMigrate)
		n, err := t.migrate(ctx)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		migrations += n
	}
	t.recordMigrations(migrations)

	// EVALUATE
	last := round == t.cfg.TrainerConfig.NumRounds-1
	if round%max(t.cfg.TrainerConfig.EvalEvery, 1) == 0 || last {
		t.setState(round, models.RoundStateEvaluate)
		summary, err := t.evaluate(ctx, round, selected, migrations, shifted)
		if err != nil {
			return fmt.Errorf("evaluate: %w", err)
		}
		summary.Duration = time.Since(start)
		t.publish(ctx, summary)
	}

	telemetry.RecordRound(t.cfg.Trainer, time.Since(start))
	return nil
}

func (t *Trainer) recordMigrations(n int) {
	telemetry.RecordMigrations(t.cfg.Trainer, n)
	t.mu.Lock()
	t.migrated += n
	t.mu.Unlock()
}

// publish tracks convergence and hands the summary to recorders and the
// checkpoint sink. Sink failures are logged, they never abort training.
func (t *Trainer) publish(ctx context.Context, summary models.RoundSummary) {
	t.mu.Lock()
	if summary.TestAccuracy > t.best+convergenceEpsilon || t.bestRound < 0 {
		t.best = summary.TestAccuracy
		t.bestRound = summary.Round
		t.stalled = 0
	} else {
		t.stalled++
	}
	t.summaries = append(t.summaries, summary)
	t.status.BestAccuracy = t.best
	t.mu.Unlock()

	t.log.Info().
		Int("round", summary.Round).
		Int("participants", summary.Participants).
		Float64("train_accuracy", summary.TrainAccuracy).
		Float64("test_accuracy", summary.TestAccuracy).
		Float64("test_loss", summary.TestLoss).
		Float64("discrepancy", summary.Discrepancy).
		Int("migrations", summary.Migrations).
		Int("shifted", summary.Shifted).
		Msg("Round evaluated")

	for _, r := range t.recorders {
		if err := r.RecordRound(ctx, summary); err != nil {
			telemetry.RecordError("record", "trainer")
			t.log.Warn().Err(err).Int("round", summary.Round).Msg("Failed to record round")
		}
	}

	if t.checkpoints != nil {
		if err := t.checkpoints.SaveCheckpoint(ctx, t.checkpoint(summary.Round)); err != nil {
			telemetry.RecordError("checkpoint", "trainer")
			t.log.Warn().Err(err).Int("round", summary.Round).Msg("Failed to save checkpoint")
		}
	}
}

func (t *Trainer) checkpoint(round int) models.Checkpoint {
	params := make(map[string]tensor.Params)
	if s := t.registry.Server(); s != nil {
		params[s.Name()] = s.LatestParams().Clone()
	}
	for _, g := range t.registry.Groups() {
		params[g.Name()] = g.LatestParams().Clone()
	}
	return models.Checkpoint{
		SimulationID: t.id,
		Round:        round,
		Params:       params,
		CreatedAt:    time.Now(),
	}
}

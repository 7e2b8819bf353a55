package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/internal/core/ports"
	"github.com/theblitlabs/parity-flsim/pkg/logger"
)

var (
	ErrRoundNotFound      = errors.New("round not found")
	ErrSimulationNotFound = errors.New("simulation not found")
)

const schema = `
CREATE TABLE IF NOT EXISTS simulations (
	id            UUID PRIMARY KEY,
	trainer       TEXT NOT NULL,
	dataset       TEXT NOT NULL,
	model         TEXT NOT NULL,
	config        JSONB NOT NULL,
	best_accuracy DOUBLE PRECISION NOT NULL DEFAULT 0,
	best_round    INTEGER NOT NULL DEFAULT -1,
	migrations    INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS rounds (
	simulation_id  UUID NOT NULL REFERENCES simulations(id) ON DELETE CASCADE,
	round          INTEGER NOT NULL,
	participants   INTEGER NOT NULL,
	train_accuracy DOUBLE PRECISION NOT NULL,
	train_loss     DOUBLE PRECISION NOT NULL,
	test_accuracy  DOUBLE PRECISION NOT NULL,
	test_loss      DOUBLE PRECISION NOT NULL,
	discrepancy    DOUBLE PRECISION NOT NULL,
	migrations     INTEGER NOT NULL,
	shifted        INTEGER NOT NULL,
	groups         JSONB,
	duration_ms    BIGINT NOT NULL,
	completed_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (simulation_id, round)
);`

// Simulation is the row describing one simulation run
type Simulation struct {
	ID           uuid.UUID  `db:"id"`
	Trainer      string     `db:"trainer"`
	Dataset      string     `db:"dataset"`
	Model        string     `db:"model"`
	Config       []byte     `db:"config"`
	BestAccuracy float64    `db:"best_accuracy"`
	BestRound    int        `db:"best_round"`
	Migrations   int        `db:"migrations"`
	CreatedAt    time.Time  `db:"created_at"`
	CompletedAt  *time.Time `db:"completed_at"`
}

type dbRound struct {
	SimulationID  uuid.UUID `db:"simulation_id"`
	Round         int       `db:"round"`
	Participants  int       `db:"participants"`
	TrainAccuracy float64   `db:"train_accuracy"`
	TrainLoss     float64   `db:"train_loss"`
	TestAccuracy  float64   `db:"test_accuracy"`
	TestLoss      float64   `db:"test_loss"`
	Discrepancy   float64   `db:"discrepancy"`
	Migrations    int       `db:"migrations"`
	Shifted       int       `db:"shifted"`
	Groups        []byte    `db:"groups"`
	DurationMS    int64     `db:"duration_ms"`
	CompletedAt   time.Time `db:"completed_at"`
}

// RoundRepository stores simulations and their round summaries in Postgres
type RoundRepository struct {
	db *sqlx.DB
}

var _ ports.RoundRecorder = (*RoundRepository)(nil)

func NewRoundRepository(db *sqlx.DB) *RoundRepository {
	return &RoundRepository{db: db}
}

// EnsureSchema creates the tables when they do not exist yet
func (r *RoundRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (r *RoundRepository) CreateSimulation(ctx context.Context, sim *Simulation) error {
	if sim.Config == nil {
		sim.Config = []byte("{}")
	}
	query := `
		INSERT INTO simulations (
			id, trainer, dataset, model, config, best_round, created_at
		) VALUES (
			:id, :trainer, :dataset, :model, :config, :best_round, :created_at
		)
	`
	if _, err := r.db.NamedExecContext(ctx, query, sim); err != nil {
		return fmt.Errorf("failed to create simulation: %w", err)
	}
	return nil
}

func (r *RoundRepository) GetSimulation(ctx context.Context, id uuid.UUID) (*Simulation, error) {
	var sim Simulation
	err := r.db.GetContext(ctx, &sim, `SELECT * FROM simulations WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSimulationNotFound
		}
		return nil, err
	}
	return &sim, nil
}

// SaveRound upserts the summary of an evaluated round
func (r *RoundRepository) SaveRound(ctx context.Context, summary models.RoundSummary) error {
	groups, err := json.Marshal(summary.Groups)
	if err != nil {
		return fmt.Errorf("failed to marshal group metrics: %w", err)
	}

	row := dbRound{
		SimulationID:  summary.SimulationID,
		Round:         summary.Round,
		Participants:  summary.Participants,
		TrainAccuracy: summary.TrainAccuracy,
		TrainLoss:     summary.TrainLoss,
		TestAccuracy:  summary.TestAccuracy,
		TestLoss:      summary.TestLoss,
		Discrepancy:   summary.Discrepancy,
		Migrations:    summary.Migrations,
		Shifted:       summary.Shifted,
		Groups:        groups,
		DurationMS:    summary.Duration.Milliseconds(),
		CompletedAt:   summary.CompletedAt,
	}

	query := `
		INSERT INTO rounds (
			simulation_id, round, participants, train_accuracy, train_loss,
			test_accuracy, test_loss, discrepancy, migrations, shifted,
			groups, duration_ms, completed_at
		) VALUES (
			:simulation_id, :round, :participants, :train_accuracy, :train_loss,
			:test_accuracy, :test_loss, :discrepancy, :migrations, :shifted,
			:groups, :duration_ms, :completed_at
		)
		ON CONFLICT (simulation_id, round) DO UPDATE SET
			participants = EXCLUDED.participants,
			train_accuracy = EXCLUDED.train_accuracy,
			train_loss = EXCLUDED.train_loss,
			test_accuracy = EXCLUDED.test_accuracy,
			test_loss = EXCLUDED.test_loss,
			discrepancy = EXCLUDED.discrepancy,
			migrations = EXCLUDED.migrations,
			shifted = EXCLUDED.shifted,
			groups = EXCLUDED.groups,
			duration_ms = EXCLUDED.duration_ms,
			completed_at = EXCLUDED.completed_at
	`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save round %d: %w", summary.Round, err)
	}
	return nil
}

// RecordRound persists every round the trainer evaluates
func (r *RoundRepository) RecordRound(ctx context.Context, summary models.RoundSummary) error {
	return r.SaveRound(ctx, summary)
}

func (r *RoundRepository) GetRound(ctx context.Context, simID uuid.UUID, round int) (models.RoundSummary, error) {
	var row dbRound
	query := `SELECT * FROM rounds WHERE simulation_id = $1 AND round = $2`
	if err := r.db.GetContext(ctx, &row, query, simID, round); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RoundSummary{}, ErrRoundNotFound
		}
		return models.RoundSummary{}, err
	}
	return row.toSummary()
}

// ListRounds returns the rounds of a simulation in round order
func (r *RoundRepository) ListRounds(ctx context.Context, simID uuid.UUID) ([]models.RoundSummary, error) {
	var rows []dbRound
	query := `SELECT * FROM rounds WHERE simulation_id = $1 ORDER BY round`
	if err := r.db.SelectContext(ctx, &rows, query, simID); err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}

	summaries := make([]models.RoundSummary, 0, len(rows))
	for _, row := range rows {
		s, err := row.toSummary()
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// CompleteSimulation stores the final result of a simulation
func (r *RoundRepository) CompleteSimulation(ctx context.Context, result models.SimulationResult) error {
	query := `
		UPDATE simulations SET
			best_accuracy = $1,
			best_round = $2,
			migrations = $3,
			completed_at = $4
		WHERE id = $5
	`
	res, err := r.db.ExecContext(ctx, query,
		result.BestAccuracy, result.BestRound, result.TotalMigrations, result.CompletedAt, result.SimulationID)
	if err != nil {
		return fmt.Errorf("failed to complete simulation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSimulationNotFound
	}

	log := logger.WithComponent("repository")
	log.Info().
		Str("simulation_id", result.SimulationID.String()).
		Float64("best_accuracy", result.BestAccuracy).
		Msg("Simulation completed")
	return nil
}

func (row dbRound) toSummary() (models.RoundSummary, error) {
	s := models.RoundSummary{
		SimulationID:  row.SimulationID,
		Round:         row.Round,
		Participants:  row.Participants,
		TrainAccuracy: row.TrainAccuracy,
		TrainLoss:     row.TrainLoss,
		TestAccuracy:  row.TestAccuracy,
		TestLoss:      row.TestLoss,
		Discrepancy:   row.Discrepancy,
		Migrations:    row.Migrations,
		Shifted:       row.Shifted,
		Duration:      time.Duration(row.DurationMS) * time.Millisecond,
		CompletedAt:   row.CompletedAt,
	}
	if len(row.Groups) > 0 {
		if err := json.Unmarshal(row.Groups, &s.Groups); err != nil {
			return models.RoundSummary{}, fmt.Errorf("failed to unmarshal group metrics: %w", err)
		}
	}
	return s, nil
}

package repository

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
)

var roundColumns = []string{
	"simulation_id", "round", "participants", "train_accuracy", "train_loss",
	"test_accuracy", "test_loss", "discrepancy", "migrations", "shifted",
	"groups", "duration_ms", "completed_at",
}

func newMockRepo(t *testing.T) (*RoundRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRoundRepository(sqlx.NewDb(db, "postgres")), mock
}

func testSummary(simID uuid.UUID) models.RoundSummary {
	return models.RoundSummary{
		SimulationID:  simID,
		Round:         3,
		Participants:  20,
		TrainAccuracy: 0.8,
		TrainLoss:     0.4,
		TestAccuracy:  0.75,
		TestLoss:      0.5,
		Discrepancy:   1.2,
		Migrations:    2,
		Shifted:       5,
		Groups: []models.GroupMetrics{
			{Group: models.GroupID(0), NumClients: 12, Accuracy: 0.7},
			{Group: models.GroupID(1), NumClients: 8, Accuracy: 0.8},
		},
		Duration:    1500 * time.Millisecond,
		CompletedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEnsureSchema(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS simulations").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSimulation(t *testing.T) {
	repo, mock := newMockRepo(t)
	sim := &Simulation{
		ID:        uuid.New(),
		Trainer:   "fedgroup",
		Dataset:   "mnist",
		Model:     "mlp",
		BestRound: -1,
		CreatedAt: time.Now(),
	}
	mock.ExpectExec("INSERT INTO simulations").
		WithArgs(sim.ID, "fedgroup", "mnist", "mlp", []byte("{}"), -1, sim.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.CreateSimulation(context.Background(), sim))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRound(t *testing.T) {
	repo, mock := newMockRepo(t)
	simID := uuid.New()
	summary := testSummary(simID)
	groups, err := json.Marshal(summary.Groups)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO rounds").
		WithArgs(simID, 3, 20, 0.8, 0.4, 0.75, 0.5, 1.2, 2, 5, groups, int64(1500), summary.CompletedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RecordRound(context.Background(), summary))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRoundError(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("INSERT INTO rounds").WillReturnError(assert.AnError)

	err := repo.SaveRound(context.Background(), testSummary(uuid.New()))
	assert.ErrorIs(t, err, assert.AnError)
}

func roundRow(rows *sqlmock.Rows, s models.RoundSummary) *sqlmock.Rows {
	groups, _ := json.Marshal(s.Groups)
	return rows.AddRow(
		s.SimulationID.String(), s.Round, s.Participants, s.TrainAccuracy, s.TrainLoss,
		s.TestAccuracy, s.TestLoss, s.Discrepancy, s.Migrations, s.Shifted,
		groups, s.Duration.Milliseconds(), s.CompletedAt,
	)
}

func TestGetRound(t *testing.T) {
	repo, mock := newMockRepo(t)
	simID := uuid.New()
	want := testSummary(simID)

	mock.ExpectQuery("SELECT \\* FROM rounds WHERE simulation_id = \\$1 AND round = \\$2").
		WithArgs(simID, 3).
		WillReturnRows(roundRow(sqlmock.NewRows(roundColumns), want))

	got, err := repo.GetRound(context.Background(), simID, 3)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRoundNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	simID := uuid.New()

	mock.ExpectQuery("SELECT \\* FROM rounds").
		WithArgs(simID, 9).
		WillReturnRows(sqlmock.NewRows(roundColumns))

	_, err := repo.GetRound(context.Background(), simID, 9)
	assert.ErrorIs(t, err, ErrRoundNotFound)
}

func TestListRounds(t *testing.T) {
	repo, mock := newMockRepo(t)
	simID := uuid.New()
	first := testSummary(simID)
	first.Round = 0
	first.Groups = nil
	second := testSummary(simID)

	rows := sqlmock.NewRows(roundColumns)
	roundRow(rows, first)
	roundRow(rows, second)
	mock.ExpectQuery("SELECT \\* FROM rounds WHERE simulation_id = \\$1 ORDER BY round").
		WithArgs(simID).
		WillReturnRows(rows)

	got, err := repo.ListRounds(context.Background(), simID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Round)
	assert.Empty(t, got[0].Groups)
	assert.Equal(t, second, got[1])
}

func TestCompleteSimulation(t *testing.T) {
	result := models.SimulationResult{
		SimulationID:    uuid.New(),
		BestAccuracy:    0.91,
		BestRound:       42,
		TotalMigrations: 7,
		CompletedAt:     time.Now(),
	}

	t.Run("updated", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec("UPDATE simulations SET").
			WithArgs(0.91, 42, 7, result.CompletedAt, result.SimulationID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.CompleteSimulation(context.Background(), result))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown simulation", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec("UPDATE simulations SET").
			WillReturnResult(driver.RowsAffected(0))

		err := repo.CompleteSimulation(context.Background(), result)
		assert.ErrorIs(t, err, ErrSimulationNotFound)
	})
}

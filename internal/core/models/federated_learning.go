package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/theblitlabs/parity-flsim/pkg/tensor"
)

type RoundState string

const (
	RoundStateSelect     RoundState = "select"
	RoundStateLocalTrain RoundState = "local_train"
	RoundStateAggregate  RoundState = "aggregate"
	RoundStateMigrate    RoundState = "migrate"
	RoundStateEvaluate   RoundState = "evaluate"
	RoundStateDone       RoundState = "done"
)

// TrainResult is what a client reports upward after local training
type TrainResult struct {
	NumSamples int           `json:"num_samples"`
	Accuracy   float64       `json:"accuracy"`
	Loss       float64       `json:"loss"`
	Update     tensor.Params `json:"-"`
}

// InnerResult holds the per-epoch history of a local optimization
type InnerResult struct {
	NumSamples int
	Accuracy   []float64
	Loss       []float64
	Update     tensor.Params
}

type TestResult struct {
	NumSamples int     `json:"num_samples"`
	Accuracy   float64 `json:"accuracy"`
	Loss       float64 `json:"loss"`
}

// Difference is the discrepancy between a client and a candidate group
type Difference struct {
	Group ActorID `json:"group"`
	Score float64 `json:"score"`
}

type GroupMetrics struct {
	Group        ActorID `json:"group"`
	NumClients   int     `json:"num_clients"`
	TrainSamples int     `json:"train_samples"`
	TestSamples  int     `json:"test_samples"`
	Accuracy     float64 `json:"accuracy"`
	Loss         float64 `json:"loss"`
	Discrepancy  float64 `json:"discrepancy"`
}

// RoundSummary is emitted once per evaluated round
type RoundSummary struct {
	SimulationID  uuid.UUID      `json:"simulation_id"`
	Round         int            `json:"round"`
	Trainer       string         `json:"trainer"`
	Participants  int            `json:"participants"`
	TrainAccuracy float64        `json:"train_accuracy"`
	TrainLoss     float64        `json:"train_loss"`
	TestAccuracy  float64        `json:"test_accuracy"`
	TestLoss      float64        `json:"test_loss"`
	Discrepancy   float64        `json:"discrepancy"`
	Migrations    int            `json:"migrations"`
	Shifted       int            `json:"shifted"`
	Groups        []GroupMetrics `json:"groups"`
	Duration      time.Duration  `json:"duration"`
	CompletedAt   time.Time      `json:"completed_at"`
}

// Checkpoint captures the params of the aggregating actors after a round
type Checkpoint struct {
	SimulationID uuid.UUID                `json:"simulation_id"`
	Round        int                      `json:"round"`
	Params       map[string]tensor.Params `json:"params"`
	CreatedAt    time.Time                `json:"created_at"`
}

type SimulationResult struct {
	SimulationID    uuid.UUID      `json:"simulation_id"`
	Trainer         string         `json:"trainer"`
	Rounds          []RoundSummary `json:"rounds"`
	BestAccuracy    float64        `json:"best_accuracy"`
	BestRound       int            `json:"best_round"`
	TotalMigrations int            `json:"total_migrations"`
	StalledRounds   int            `json:"stalled_rounds"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     time.Time      `json:"completed_at"`
}

// SimulationStatus is the live view served by the status API
type SimulationStatus struct {
	SimulationID uuid.UUID  `json:"simulation_id"`
	Trainer      string     `json:"trainer"`
	Dataset      string     `json:"dataset"`
	Round        int        `json:"round"`
	TotalRounds  int        `json:"total_rounds"`
	State        RoundState `json:"state"`
	BestAccuracy float64    `json:"best_accuracy"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/internal/core/ports"
	"github.com/theblitlabs/parity-flsim/pkg/logger"
)

var (
	ErrInvalidID = errors.New("invalid simulation id")
	ErrNotFound  = errors.New("checkpoint not found")
)

const filePrefix = "round_"

// Store keeps one JSON file per checkpointed round under
// <dir>/<simulation id>/round_<n>.json
type Store struct {
	dir string
}

var _ ports.CheckpointSink = (*Store)(nil)

func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("checkpoint directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) simDir(id uuid.UUID) (string, error) {
	if id == uuid.Nil {
		return "", ErrInvalidID
	}
	return filepath.Join(s.dir, id.String()), nil
}

func fileName(round int) string {
	return fmt.Sprintf("%s%d.json", filePrefix, round)
}

// Save writes the checkpoint atomically, replacing an earlier one of the
// same round
func (s *Store) Save(cp models.Checkpoint) error {
	dir, err := s.simDir(cp.SimulationID)
	if err != nil {
		return err
	}
	if cp.Round < 0 {
		return fmt.Errorf("invalid round %d", cp.Round)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "tmp-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	path := filepath.Join(dir, fileName(cp.Round))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to store checkpoint: %w", err)
	}

	log := logger.WithComponent("checkpoint")
	log.Debug().
		Str("simulation_id", cp.SimulationID.String()).
		Int("round", cp.Round).
		Str("path", path).
		Msg("Checkpoint saved")
	return nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Save(cp)
}

func (s *Store) Load(id uuid.UUID, round int) (models.Checkpoint, error) {
	dir, err := s.simDir(id)
	if err != nil {
		return models.Checkpoint{}, err
	}
	data, err := os.ReadFile(filepath.Join(dir, fileName(round)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.Checkpoint{}, fmt.Errorf("round %d: %w", round, ErrNotFound)
		}
		return models.Checkpoint{}, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return models.Checkpoint{}, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// List returns the checkpointed rounds of a simulation in ascending order
func (s *Store) List(id uuid.UUID) ([]int, error) {
	dir, err := s.simDir(id)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	var rounds []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), ".json"))
		if err != nil {
			continue
		}
		rounds = append(rounds, n)
	}
	sort.Ints(rounds)
	return rounds, nil
}

// Latest loads the checkpoint of the highest round
func (s *Store) Latest(id uuid.UUID) (models.Checkpoint, error) {
	rounds, err := s.List(id)
	if err != nil {
		return models.Checkpoint{}, err
	}
	if len(rounds) == 0 {
		return models.Checkpoint{}, ErrNotFound
	}
	return s.Load(id, rounds[len(rounds)-1])
}

// ParseID validates a simulation id given as text
func ParseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%q: %w", raw, ErrInvalidID)
	}
	return id, nil
}

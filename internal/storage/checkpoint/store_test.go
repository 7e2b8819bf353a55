package checkpoint

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/pkg/logger"
	"github.com/theblitlabs/parity-flsim/pkg/tensor"
)

func testCheckpoint(t *testing.T, id uuid.UUID, round int) models.Checkpoint {
	t.Helper()
	w, err := tensor.FromData([]float64{1, 2, 3, 4}, 2, 2)
	require.NoError(t, err)
	return models.Checkpoint{
		SimulationID: id,
		Round:        round,
		Params:       map[string]tensor.Params{"group0": {w}},
		CreatedAt:    time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestStoreSaveLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	id := uuid.New()
	cp := testCheckpoint(t, id, 4)
	require.NoError(t, store.SaveCheckpoint(context.Background(), cp))

	assert.FileExists(t, filepath.Join(dir, id.String(), "round_4.json"))

	got, err := store.Load(id, 4)
	require.NoError(t, err)
	assert.Equal(t, cp, got)

	_, err = store.Load(id, 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreListAndLatest(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	id := uuid.New()
	for _, r := range []int{10, 2, 7} {
		require.NoError(t, store.Save(testCheckpoint(t, id, r)))
	}

	rounds, err := store.List(id)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 7, 10}, rounds)

	latest, err := store.Latest(id)
	require.NoError(t, err)
	assert.Equal(t, 10, latest.Round)

	empty, err := store.List(uuid.New())
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = store.Latest(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	id := uuid.New()
	require.NoError(t, store.Save(testCheckpoint(t, id, 1)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, id.String(), "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, id.String(), "round_x.json"), []byte("{}"), 0o644))

	rounds, err := store.List(id)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, rounds)
}

func TestStoreRejectsInvalidInput(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	err = store.Save(testCheckpoint(t, uuid.Nil, 1))
	assert.ErrorIs(t, err, ErrInvalidID)

	err = store.Save(testCheckpoint(t, uuid.New(), -1))
	assert.Error(t, err)

	_, err = NewStore("")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.SaveCheckpoint(ctx, testCheckpoint(t, uuid.New(), 1)), context.Canceled)
}

func TestParseID(t *testing.T) {
	id := uuid.New()
	got, err := ParseID(" " + id.String() + " ")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	for _, raw := range []string{"", "../etc", uuid.Nil.String()} {
		_, err := ParseID(raw)
		assert.ErrorIs(t, err, ErrInvalidID, raw)
	}
}

func TestStoreSaveLogsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger.Init(logger.Config{Level: logger.LogLevelDebug, Output: &buf})
	defer logger.Init(logger.Config{Level: logger.LogLevelDisabled})

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Save(testCheckpoint(t, uuid.New(), 2)))

	out := buf.String()
	assert.Contains(t, out, `"component":"checkpoint"`)
	assert.Contains(t, out, `"round":2`)
	assert.Contains(t, out, "Checkpoint saved")
}

package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: LogLevelDebug, Output: &buf})
	defer Init(Config{Level: LogLevelDisabled})

	log := WithComponent("trainer")
	log.Info().Int("round", 3).Msg("Round finished")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "trainer", entry["component"])
	assert.Equal(t, float64(3), entry["round"])
	assert.Equal(t, "Round finished", entry["message"])
}

func TestDisabledLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: LogLevelDisabled, Output: &buf})

	Info("should not appear")
	assert.Empty(t, buf.String())
}

package health

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theblitlabs/parity-flsim/pkg/logger"
)

func init() {
	logger.Init(logger.Config{Level: logger.LogLevelDisabled})
}

func TestCheckAll(t *testing.T) {
	hc := NewHealthChecker(time.Minute)
	assert.Equal(t, StatusOK, hc.Overall())

	hc.Register("database", func(ctx context.Context) (string, error) {
		return "reachable", nil
	})
	hc.Register("system", func(ctx context.Context) (string, error) {
		return "", fmt.Errorf("memory at 97%%: %w", ErrDegraded)
	})
	hc.CheckAll(context.Background())

	all := hc.GetAllHealth()
	require.Len(t, all, 2)
	assert.Equal(t, "database", all[0].Name)
	assert.Equal(t, StatusOK, all[0].Status)
	assert.Equal(t, "reachable", all[0].Message)
	assert.Equal(t, StatusWarning, all[1].Status)
	assert.Equal(t, StatusWarning, hc.Overall())

	hc.Register("ipfs", func(ctx context.Context) (string, error) {
		return "", errors.New("connection refused")
	})
	hc.CheckAll(context.Background())

	ipfs, ok := hc.GetComponentHealth("ipfs")
	require.True(t, ok)
	assert.Equal(t, StatusError, ipfs.Status)
	assert.Equal(t, "connection refused", ipfs.Message)
	assert.Equal(t, StatusError, hc.Overall())

	_, ok = hc.GetComponentHealth("docker")
	assert.False(t, ok)
}

func TestStartStop(t *testing.T) {
	hc := NewHealthChecker(10 * time.Millisecond)
	calls := make(chan struct{}, 16)
	hc.Register("tick", func(ctx context.Context) (string, error) {
		select {
		case calls <- struct{}{}:
		default:
		}
		return "", nil
	})

	hc.Start(context.Background())
	require.Eventually(t, func() bool { return len(calls) >= 2 }, time.Second, 5*time.Millisecond)
	hc.Stop()

	_, ok := hc.GetComponentHealth("tick")
	assert.True(t, ok)
}

package flearn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
)

func TestTopologyAddIsIdempotent(t *testing.T) {
	topo := NewTopology()
	g := models.GroupID(0)

	require.NoError(t, topo.AddDownlink(g, models.ClientID(1), models.ClientID(2)))
	require.NoError(t, topo.AddDownlink(g, models.ClientID(2), models.ClientID(1)))

	assert.Equal(t, []models.ActorID{models.ClientID(1), models.ClientID(2)}, topo.Downlink(g))
	assert.True(t, topo.HasDownlink(g))

	require.NoError(t, topo.AddUplink(models.ClientID(1), g))
	require.NoError(t, topo.AddUplink(models.ClientID(1), g))
	assert.Equal(t, []models.ActorID{g}, topo.Uplink(models.ClientID(1)))
}

func TestTopologyDeleteAbsentIsNoop(t *testing.T) {
	topo := NewTopology()
	g := models.GroupID(0)

	topo.DeleteDownlink(g, models.ClientID(7))
	topo.DeleteUplink(models.ClientID(7), g)
	assert.False(t, topo.HasDownlink(g))

	require.NoError(t, topo.AddDownlink(g, models.ClientID(1)))
	topo.DeleteDownlink(g, models.ClientID(9))
	assert.Equal(t, []models.ActorID{models.ClientID(1)}, topo.Downlink(g))

	topo.DeleteDownlink(g, models.ClientID(1))
	assert.False(t, topo.HasDownlink(g))
	assert.Empty(t, topo.Downlink(g))
}

func TestTopologyClientDownlinkRejected(t *testing.T) {
	topo := NewTopology()

	err := topo.AddDownlink(models.ClientID(1), models.ClientID(2))
	assert.ErrorIs(t, err, ErrLeafDownlink)

	err = topo.Link(models.ClientID(1), models.ClientID(2))
	assert.ErrorIs(t, err, ErrLeafDownlink)
}

func TestTopologyRelink(t *testing.T) {
	topo := NewTopology()
	c := models.ClientID(3)
	g0, g1 := models.GroupID(0), models.GroupID(1)

	require.NoError(t, topo.Link(g0, c))
	require.NoError(t, topo.Relink(c, g1))

	assert.Empty(t, topo.Downlink(g0))
	assert.Equal(t, []models.ActorID{c}, topo.Downlink(g1))
	assert.Equal(t, []models.ActorID{g1}, topo.Uplink(c))

	topo.Unlink(g1, c)
	assert.False(t, topo.HasUplink(c))
	assert.False(t, topo.HasDownlink(g1))
}

package flearn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/pkg/tensor"
)

func buildGroup(t *testing.T, sizes ...int) (*Registry, *Group, []*Client) {
	t.Helper()
	reg := NewRegistry()
	server, err := reg.NewServer(newStepModel(0))
	require.NoError(t, err)
	g, err := reg.NewGroup(0, newStepModel(0))
	require.NoError(t, err)
	require.NoError(t, reg.Topology().Link(server.ID(), g.ID()))

	var clients []*Client
	for i, n := range sizes {
		c, err := reg.NewClient(i, dataset(n), dataset(n), newStepModel(0.1*float64(i+1)))
		require.NoError(t, err)
		require.NoError(t, reg.Topology().Link(g.ID(), c.ID()))
		clients = append(clients, c)
	}
	return reg, g, clients
}

func TestGroupSizes(t *testing.T) {
	_, g, _ := buildGroup(t, 3, 0, 5)

	assert.True(t, g.CheckTrainable())
	assert.Equal(t, 8, g.TrainSize())
	assert.True(t, g.CheckTestable())
	assert.Equal(t, 8, g.TestSize())

	empty := NewRegistry()
	eg, err := empty.NewGroup(0, newStepModel(0))
	require.NoError(t, err)
	assert.False(t, eg.CheckTrainable())
}

func TestGroupTrainAggregates(t *testing.T) {
	_, g, clients := buildGroup(t, 1, 3)
	start := g.LatestParams().Clone()

	results, agg, err := g.Train(context.Background(), clients, TrainOptions{Epochs: 1, BatchSize: 10}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// client 0 moves by 0.1, client 1 by 0.2, weighted 1:3
	assert.Equal(t, 4, agg.NumSamples)
	assert.InDelta(t, 0.175, agg.Update[0].Data[0], 1e-12)

	// the group is untouched until the update is applied
	assert.Equal(t, start, g.LatestParams())
	for i, c := range clients {
		want, _ := tensor.Add(start, results[i].Update)
		assert.Equal(t, want, c.LatestParams())
		assert.Equal(t, results[i].Update, c.LatestUpdates())
	}

	_, err = g.ApplyUpdate(agg.Update)
	require.NoError(t, err)
	assert.InDelta(t, start[0].Data[0]+0.175, g.LatestParams()[0].Data[0], 1e-12)
}

func TestGroupTestUsesGroupParams(t *testing.T) {
	_, g, clients := buildGroup(t, 2, 4)
	u := tensor.ZerosLike(g.LatestParams())
	u[0].Data[0] = 1
	_, err := g.ApplyUpdate(u)
	require.NoError(t, err)

	r, err := g.Test(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, r.NumSamples)
	assert.InDelta(t, 0.75, r.Accuracy, 1e-12)

	for _, c := range clients {
		p, err := c.Params()
		require.NoError(t, err)
		assert.Equal(t, g.LatestParams(), p)
	}
}

func TestGroupDiscrepancy(t *testing.T) {
	_, g, clients := buildGroup(t, 2, 2)
	d, err := g.Discrepancy()
	require.NoError(t, err)
	assert.Zero(t, d)

	u := tensor.ZerosLike(g.LatestParams())
	u[0].Data[0] = 3
	_, err = clients[0].ApplyUpdate(u)
	require.NoError(t, err)

	d, err = g.Discrepancy()
	require.NoError(t, err)
	assert.InDelta(t, 1.5, d, 1e-12)
}

func TestServerMergeGroups(t *testing.T) {
	reg := NewRegistry()
	server, err := reg.NewServer(newStepModel(0))
	require.NoError(t, err)

	var groups []*Group
	for i, n := range []int{1, 3} {
		g, err := reg.NewGroup(i, newStepModel(0))
		require.NoError(t, err)
		require.NoError(t, reg.Topology().Link(server.ID(), g.ID()))
		c, err := reg.NewClient(i, dataset(n), dataset(n), newStepModel(0))
		require.NoError(t, err)
		require.NoError(t, reg.Topology().Link(g.ID(), c.ID()))

		u := tensor.ZerosLike(g.LatestParams())
		u[1].Data[0] = float64(4 * i)
		_, err = g.ApplyUpdate(u)
		require.NoError(t, err)
		groups = append(groups, g)
	}

	merged, err := server.MergeGroups(groups)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, merged[1].Data[0], 1e-12)
	assert.Len(t, server.Clients(), 2)

	r, err := server.Test(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, r.NumSamples)
}

func TestServerTrainFedAvg(t *testing.T) {
	reg := NewRegistry()
	server, err := reg.NewServer(newStepModel(0))
	require.NoError(t, err)

	var clients []*Client
	for i := 0; i < 3; i++ {
		c, err := reg.NewClient(i, dataset(2), models.Dataset{}, newStepModel(0.1))
		require.NoError(t, err)
		require.NoError(t, reg.Topology().Link(server.ID(), c.ID()))
		clients = append(clients, c)
	}

	_, agg, err := server.Train(context.Background(), clients, TrainOptions{Epochs: 2}, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, agg.NumSamples)
	assert.InDelta(t, 0.2, agg.Update[0].Data[3], 1e-12)
}

func TestTrainClientsPropagatesErrors(t *testing.T) {
	reg := NewRegistry()
	m := newStepModel(0.1)
	m.fitErr = errFit
	c, err := reg.NewClient(0, dataset(2), models.Dataset{}, m)
	require.NoError(t, err)

	_, err = TrainClients(context.Background(), []*Client{c}, nil, TrainOptions{Epochs: 1}, 4)
	assert.ErrorIs(t, err, errFit)
}

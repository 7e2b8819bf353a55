package flearn

import (
	"context"
	"fmt"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/internal/core/ports"
	"github.com/theblitlabs/parity-flsim/pkg/tensor"
)

// Group owns a model variant shared by its member clients
type Group struct {
	*Actor
	registry *Registry
}

func newGroup(index int, registry *Registry, model ports.Model) *Group {
	return &Group{
		Actor:    newActor(models.GroupID(index), registry.topology, models.Dataset{}, models.Dataset{}, model),
		registry: registry,
	}
}

// Clients resolves the member clients of the group
func (g *Group) Clients() []*Client {
	ids := g.Downlink()
	clients := make([]*Client, 0, len(ids))
	for _, id := range ids {
		if c, err := g.registry.Client(id); err == nil {
			clients = append(clients, c)
		}
	}
	return clients
}

// CheckTrainable sums the train sizes of the members
func (g *Group) CheckTrainable() bool {
	g.trainSize = 0
	for _, c := range g.Clients() {
		c.CheckTrainable()
		g.trainSize += c.TrainSize()
	}
	g.trainable = g.trainSize > 0
	return g.trainable
}

// CheckTestable sums the test sizes of the members
func (g *Group) CheckTestable() bool {
	g.testSize = 0
	for _, c := range g.Clients() {
		c.CheckTestable()
		g.testSize += c.TestSize()
	}
	g.testable = g.testSize > 0
	return g.testable
}

// Test evaluates the group params on the test data of every member
func (g *Group) Test(ctx context.Context) (models.TestResult, error) {
	g.CheckTestable()
	return testWith(ctx, g.latestParams, g.Clients())
}

// Discrepancy is the mean L2 distance between the members' latest params
// and the group params
func (g *Group) Discrepancy() (float64, error) {
	clients := g.Clients()
	if len(clients) == 0 || g.latestParams == nil {
		return 0, nil
	}
	var total float64
	for _, c := range clients {
		d, err := tensor.L2Distance(c.LatestParams(), g.latestParams)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", c.ID(), err)
		}
		total += d
	}
	return total / float64(len(clients)), nil
}

// testWith installs params on every client and aggregates their test
// results weighted by sample count
func testWith(ctx context.Context, params tensor.Params, clients []*Client) (models.TestResult, error) {
	var agg models.TestResult
	for _, c := range clients {
		if err := ctx.Err(); err != nil {
			return models.TestResult{}, err
		}
		if params != nil {
			if err := c.SetParams(params); err != nil {
				return models.TestResult{}, err
			}
		}
		r, err := c.Test(ctx)
		if err != nil {
			return models.TestResult{}, err
		}
		agg.NumSamples += r.NumSamples
		agg.Accuracy += r.Accuracy * float64(r.NumSamples)
		agg.Loss += r.Loss * float64(r.NumSamples)
	}
	if agg.NumSamples > 0 {
		agg.Accuracy /= float64(agg.NumSamples)
		agg.Loss /= float64(agg.NumSamples)
	}
	return agg, nil
}

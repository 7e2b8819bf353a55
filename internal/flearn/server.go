package flearn

import (
	"context"
	"fmt"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/internal/core/ports"
	"github.com/theblitlabs/parity-flsim/pkg/tensor"
)

// Server is the aggregation root. Its downlink holds either clients or groups.
type Server struct {
	*Actor
	registry *Registry
}

func newServer(registry *Registry, model ports.Model) *Server {
	return &Server{
		Actor:    newActor(models.ServerID(), registry.topology, models.Dataset{}, models.Dataset{}, model),
		registry: registry,
	}
}

// Clients returns every client below the server, directly or through groups
func (s *Server) Clients() []*Client {
	var clients []*Client
	for _, id := range s.Downlink() {
		switch id.Type {
		case models.ActorTypeClient:
			if c, err := s.registry.Client(id); err == nil {
				clients = append(clients, c)
			}
		case models.ActorTypeGroup:
			if g, err := s.registry.Group(id); err == nil {
				clients = append(clients, g.Clients()...)
			}
		}
	}
	return clients
}

func (s *Server) CheckTrainable() bool {
	s.trainSize = 0
	for _, c := range s.Clients() {
		c.CheckTrainable()
		s.trainSize += c.TrainSize()
	}
	s.trainable = s.trainSize > 0
	return s.trainable
}

func (s *Server) CheckTestable() bool {
	s.testSize = 0
	for _, c := range s.Clients() {
		c.CheckTestable()
		s.testSize += c.TestSize()
	}
	s.testable = s.testSize > 0
	return s.testable
}

// Test evaluates the server params on the test data of every client
func (s *Server) Test(ctx context.Context) (models.TestResult, error) {
	s.CheckTestable()
	return testWith(ctx, s.latestParams, s.Clients())
}

// MergeGroups sets the server params to the average of the group params
// weighted by the groups' training sizes
func (s *Server) MergeGroups(groups []*Group) (tensor.Params, error) {
	var (
		params  []tensor.Params
		weights []float64
	)
	for _, g := range groups {
		g.CheckTrainable()
		params = append(params, g.LatestParams())
		weights = append(weights, float64(g.TrainSize()))
	}

	merged, err := tensor.WeightedAverage(params, weights)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to merge groups: %w", s.id, err)
	}
	if merged == nil {
		return s.latestParams, nil
	}

	current, err := s.Params()
	if err != nil {
		return nil, err
	}
	update, err := tensor.Sub(merged, current)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to merge groups: %w", s.id, err)
	}
	return s.ApplyUpdate(update)
}

package trainer

import (
	"context"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/internal/flearn"
)

// FedAvg trains a single global model on the server
type FedAvg struct{}

func (s *FedAvg) Name() string {
	return "FedAvg"
}

func (s *FedAvg) Setup(ctx context.Context, t *Trainer) error {
	server := t.registry.Server()
	for _, c := range t.registry.Clients() {
		if err := t.registry.Topology().Link(server.ID(), c.ID()); err != nil {
			return err
		}
	}
	return nil
}

func (s *FedAvg) Assign(ctx context.Context, t *Trainer, round int, clients []*flearn.Client) (int, error) {
	return 0, nil
}

// Score is empty, there is nowhere to migrate to
func (s *FedAvg) Score(ctx context.Context, t *Trainer, c *flearn.Client) ([]models.Difference, error) {
	return nil, nil
}

package trainer

import (
	"context"
	"fmt"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/internal/flearn"
	"github.com/theblitlabs/parity-flsim/pkg/tensor"
)

// feSEMNoise is the standard deviation of the perturbation that separates
// the initial group models
const feSEMNoise = 0.01

// FeSEM starts every group from a perturbed copy of the server model and
// assigns clients to the group closest to their latest params in L2
type FeSEM struct{}

func (s *FeSEM) Name() string {
	return "FeSEM"
}

func (s *FeSEM) Setup(ctx context.Context, t *Trainer) error {
	base := t.registry.Server().LatestParams()
	_, err := t.createGroups(t.cfg.TrainerConfig.NumGroup, func(i int) (tensor.Params, error) {
		p := base.Clone()
		for _, ts := range p {
			for j := range ts.Data {
				ts.Data[j] += feSEMNoise * t.rng.NormFloat64()
			}
		}
		return p, nil
	})
	return err
}

func (s *FeSEM) Assign(ctx context.Context, t *Trainer, round int, clients []*flearn.Client) (int, error) {
	return t.reassign(ctx, clients)
}

func (s *FeSEM) Score(ctx context.Context, t *Trainer, c *flearn.Client) ([]models.Difference, error) {
	groups := t.registry.Groups()
	diff := make([]models.Difference, 0, len(groups))
	for _, g := range groups {
		d, err := tensor.L2Distance(c.LatestParams(), g.LatestParams())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.ID(), err)
		}
		diff = append(diff, models.Difference{Group: g.ID(), Score: d})
	}
	return diff, nil
}

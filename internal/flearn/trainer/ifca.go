package trainer

import (
	"context"
	"fmt"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/internal/flearn"
)

// IFCA keeps independently initialised group models. Every round each
// selected client joins the group whose model has the lowest loss on its
// training data.
type IFCA struct{}

func (s *IFCA) Name() string {
	return "IFCA"
}

func (s *IFCA) Setup(ctx context.Context, t *Trainer) error {
	_, err := t.createGroups(t.cfg.TrainerConfig.NumGroup, nil)
	return err
}

func (s *IFCA) Assign(ctx context.Context, t *Trainer, round int, clients []*flearn.Client) (int, error) {
	return t.reassign(ctx, clients)
}

func (s *IFCA) Score(ctx context.Context, t *Trainer, c *flearn.Client) ([]models.Difference, error) {
	groups := t.registry.Groups()
	diff := make([]models.Difference, 0, len(groups))
	data := c.TrainData()

	for _, g := range groups {
		score := 0.0
		if data.Len() > 0 {
			if err := c.SetParams(g.LatestParams()); err != nil {
				return nil, err
			}
			loss, _, err := c.Model().Evaluate(ctx, data.X, data.Y)
			if err != nil {
				return nil, fmt.Errorf("%s: failed to evaluate %s: %w", c.ID(), g.ID(), err)
			}
			score = loss
		}
		diff = append(diff, models.Difference{Group: g.ID(), Score: score})
	}
	return diff, nil
}

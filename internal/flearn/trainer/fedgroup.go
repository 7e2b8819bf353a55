package trainer

import (
	"context"
	"fmt"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/internal/flearn"
	"github.com/theblitlabs/parity-flsim/pkg/tensor"
)

// FedGroup clusters clients by the direction of their updates. A cold
// start pre-trains a sample of clients, clusters their updates and seeds
// one group per cluster; clients seen later join the group whose latest
// update points the most alike.
type FedGroup struct{}

func (s *FedGroup) Name() string {
	return "FedGroup"
}

// CoolsDown keeps migrated clients out of re-scoring for temp_max rounds
func (s *FedGroup) CoolsDown() bool {
	return true
}

func (s *FedGroup) Setup(ctx context.Context, t *Trainer) error {
	base := t.registry.Server().LatestParams()
	groups, err := t.createGroups(t.cfg.TrainerConfig.NumGroup, func(int) (tensor.Params, error) {
		return base, nil
	})
	if err != nil {
		return err
	}
	return s.coldStart(ctx, t, groups)
}

func (s *FedGroup) coldStart(ctx context.Context, t *Trainer, groups []*flearn.Group) error {
	tc := t.cfg.TrainerConfig
	all := t.registry.Clients()
	n := min(tc.NumGroup*tc.PretrainScale, len(all))

	sample := make([]*flearn.Client, 0, n)
	for _, idx := range t.rng.Perm(len(all))[:n] {
		sample = append(sample, all[idx])
	}

	updates, err := t.pretrain(ctx, sample)
	if err != nil {
		return fmt.Errorf("pre-training failed: %w", err)
	}

	var labels []int
	if tc.RCC {
		labels = make([]int, len(sample))
		for i := range labels {
			labels[i] = t.rng.Intn(len(groups))
		}
	} else {
		labels, err = clusterUpdates(tc.Measure, updates, len(groups), t.rng)
		if err != nil {
			return fmt.Errorf("clustering failed: %w", err)
		}
	}

	for k, g := range groups {
		var (
			members []tensor.Params
			weights []float64
		)
		for i, label := range labels {
			if label != k {
				continue
			}
			if err := t.registry.Topology().Link(g.ID(), sample[i].ID()); err != nil {
				return err
			}
			members = append(members, updates[i])
			weights = append(weights, 1)
		}

		mean, err := tensor.WeightedAverage(members, weights)
		if err != nil {
			return fmt.Errorf("%s: %w", g.ID(), err)
		}
		if mean == nil {
			continue
		}
		if _, err := g.ApplyUpdate(mean); err != nil {
			return err
		}

		t.log.Debug().
			Str("group", g.Name()).
			Int("clients", len(members)).
			Msg("Group seeded")
	}

	t.log.Info().
		Int("pretrained", len(sample)).
		Str("measure", tc.Measure).
		Bool("rcc", tc.RCC).
		Msg("Cold start finished")
	return nil
}

// Assign cold-starts the selected clients that have no group yet
func (s *FedGroup) Assign(ctx context.Context, t *Trainer, round int, clients []*flearn.Client) (int, error) {
	var fresh []*flearn.Client
	for _, c := range clients {
		if _, ok := c.Group(); !ok {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	groups := t.registry.Groups()
	if len(groups) == 0 {
		return 0, ErrNoGroups
	}

	if t.cfg.TrainerConfig.RAC {
		for _, c := range fresh {
			if err := t.registry.Topology().Link(groups[t.rng.Intn(len(groups))].ID(), c.ID()); err != nil {
				return 0, err
			}
		}
		return 0, nil
	}

	if _, err := t.reassign(ctx, fresh); err != nil {
		return 0, err
	}
	t.log.Debug().
		Int("round", round).
		Int("clients", len(fresh)).
		Msg("New clients assigned")
	return 0, nil
}

// Score trains c from the server params and compares the resulting update
// with the latest update of every group. The update is never applied, so the
// latest params and updates of c stay as they were.
func (s *FedGroup) Score(ctx context.Context, t *Trainer, c *flearn.Client) ([]models.Difference, error) {
	update, err := t.solveFrom(ctx, c, t.registry.Server().LatestParams())
	if err != nil {
		return nil, err
	}
	return s.dissimilarity(t, update)
}

func (s *FedGroup) dissimilarity(t *Trainer, update tensor.Params) ([]models.Difference, error) {
	groups := t.registry.Groups()
	diff := make([]models.Difference, 0, len(groups))
	for _, g := range groups {
		d, err := tensor.CosineDissimilarity(update, g.LatestUpdates())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", g.ID(), err)
		}
		diff = append(diff, models.Difference{Group: g.ID(), Score: d})
	}
	return diff, nil
}

// pretrain trains clients from the server params and returns their updates
func (t *Trainer) pretrain(ctx context.Context, clients []*flearn.Client) ([]tensor.Params, error) {
	results, err := flearn.TrainClients(ctx, clients, t.registry.Server().LatestParams(), t.options(), t.runtime.Workers)
	if err != nil {
		return nil, err
	}
	updates := make([]tensor.Params, len(results))
	for i, r := range results {
		updates[i] = r.Update
	}
	return updates, nil
}

// solveFrom trains c from params and returns the update without applying it.
// The model weights of c are restored afterwards.
func (t *Trainer) solveFrom(ctx context.Context, c *flearn.Client, params tensor.Params) (tensor.Params, error) {
	current, err := c.Params()
	if err != nil {
		return nil, err
	}
	if err := c.SetParams(params); err != nil {
		return nil, err
	}
	r, err := c.Train(ctx, t.options())
	if rerr := c.SetParams(current); rerr != nil && err == nil {
		err = rerr
	}
	if err != nil {
		return nil, err
	}
	return r.Update, nil
}

package trainer

import (
	"context"
	"fmt"
	"strings"

	"github.com/theblitlabs/parity-flsim/internal/config"
	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/internal/flearn"
	"github.com/theblitlabs/parity-flsim/pkg/tensor"
)

// Strategy holds what differs between trainers: how groups are built, how
// selected clients find their group and how a client is scored against
// every group when it migrates
type Strategy interface {
	Name() string

	// Setup links the initial topology below the server
	Setup(ctx context.Context, t *Trainer) error

	// Assign links the selected clients before local training and returns
	// the number of clients that changed group
	Assign(ctx context.Context, t *Trainer, round int, clients []*flearn.Client) (int, error)

	// Score returns the discrepancy of c to every group, lower is closer.
	// An empty result leaves c where it is.
	Score(ctx context.Context, t *Trainer, c *flearn.Client) ([]models.Difference, error)
}

// coolingStrategy is implemented by strategies whose migrated clients sit
// out temp_max rounds before they are scored again
type coolingStrategy interface {
	CoolsDown() bool
}

func coolsDown(s Strategy) bool {
	cs, ok := s.(coolingStrategy)
	return ok && cs.CoolsDown()
}

func newStrategy(name string) (Strategy, error) {
	switch strings.ToLower(name) {
	case config.TrainerFedAvg:
		return &FedAvg{}, nil
	case config.TrainerIFCA:
		return &IFCA{}, nil
	case config.TrainerFeSEM:
		return &FeSEM{}, nil
	case config.TrainerFedGroup:
		return &FedGroup{}, nil
	default:
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownTrainer)
	}
}

// createGroups adds n groups below the server. init returns the starting
// weights of group i; nil keeps the model's own initialisation.
func (t *Trainer) createGroups(n int, init func(i int) (tensor.Params, error)) ([]*flearn.Group, error) {
	server := t.registry.Server()
	groups := make([]*flearn.Group, 0, n)
	for i := 0; i < n; i++ {
		var weights tensor.Params
		if init != nil {
			var err error
			if weights, err = init(i); err != nil {
				return nil, err
			}
		}
		m, err := t.newModel(weights)
		if err != nil {
			return nil, fmt.Errorf("failed to create model for group %d: %w", i, err)
		}
		g, err := t.registry.NewGroup(i, m)
		if err != nil {
			return nil, err
		}
		if err := t.registry.Topology().Link(server.ID(), g.ID()); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if len(groups) == 0 {
		return nil, ErrNoGroups
	}
	return groups, nil
}

// reassign scores every client and links it to its best group, counting
// the clients that left another group
func (t *Trainer) reassign(ctx context.Context, clients []*flearn.Client) (int, error) {
	diffs, err := t.scoreAll(ctx, clients)
	if err != nil {
		return 0, err
	}
	moved := 0
	for i, c := range clients {
		if len(diffs[i]) == 0 {
			continue
		}
		c.SetDifference(diffs[i])
		m, err := t.relink(c, c.Difference()[0].Group)
		if err != nil {
			return moved, err
		}
		if m {
			moved++
		}
	}
	return moved, nil
}

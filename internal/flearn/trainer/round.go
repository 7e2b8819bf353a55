package trainer

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/theblitlabs/parity-flsim/internal/config"
	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/internal/execution/training"
	"github.com/theblitlabs/parity-flsim/internal/flearn"
	"github.com/theblitlabs/parity-flsim/pkg/tensor"
)

// selectClients samples clients_per_round clients uniformly without
// replacement, returned in index order
func (t *Trainer) selectClients() []*flearn.Client {
	all := t.registry.Clients()
	n := min(t.cfg.TrainerConfig.ClientsPerRound, len(all))

	selected := make([]*flearn.Client, 0, n)
	for _, idx := range t.rng.Perm(len(all))[:n] {
		selected = append(selected, all[idx])
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].ID().Index < selected[j].ID().Index })
	return selected
}

// localTrain trains every selected client from the params of its uplink.
// Without groups the clients train from the server directly.
func (t *Trainer) localTrain(ctx context.Context, selected []*flearn.Client) error {
	t.results = make(map[models.ActorID]models.TrainResult, len(selected))
	t.groupAggs = make(map[models.ActorID]models.TrainResult)
	opts := t.options()
	workers := t.runtime.Workers

	groups := t.registry.Groups()
	if len(groups) == 0 {
		server := t.registry.Server()
		results, agg, err := server.Train(ctx, selected, opts, workers)
		if err != nil {
			return err
		}
		t.collect(selected, results)
		t.groupAggs[server.ID()] = agg
		return nil
	}

	members := make(map[models.ActorID][]*flearn.Client)
	for _, c := range selected {
		gid, ok := c.Group()
		if !ok {
			return fmt.Errorf("%s is not linked to a group: %w", c.ID(), ErrNoGroups)
		}
		members[gid] = append(members[gid], c)
	}

	for _, g := range groups {
		clients := members[g.ID()]
		if len(clients) == 0 {
			continue
		}
		results, agg, err := g.Train(ctx, clients, opts, workers)
		if err != nil {
			return err
		}
		t.collect(clients, results)
		t.groupAggs[g.ID()] = agg

		t.log.Debug().
			Str("group", g.Name()).
			Int("clients", len(clients)).
			Int("samples", agg.NumSamples).
			Float64("accuracy", agg.Accuracy).
			Float64("loss", agg.Loss).
			Msg("Group trained")
	}
	return nil
}

func (t *Trainer) collect(clients []*flearn.Client, results []models.TrainResult) {
	for i, c := range clients {
		t.results[c.ID()] = results[i]
	}
}

// aggregate applies the aggregated update of every trained group. With
// group_agg_lr > 0 each group also moves towards the mean update of the
// other trained groups. The server ends up at the weighted mean of the
// groups.
func (t *Trainer) aggregate(ctx context.Context) error {
	server := t.registry.Server()
	groups := t.registry.Groups()
	if len(groups) == 0 {
		agg, ok := t.groupAggs[server.ID()]
		if !ok {
			return nil
		}
		_, err := server.ApplyUpdate(agg.Update)
		return err
	}

	var trained []*flearn.Group
	for _, g := range groups {
		if _, ok := t.groupAggs[g.ID()]; ok {
			trained = append(trained, g)
		}
	}

	eta := t.cfg.TrainerConfig.GroupAggLR
	updates := make([]tensor.Params, len(trained))
	for i, g := range trained {
		updates[i] = t.groupAggs[g.ID()].Update
	}

	for i, g := range trained {
		update := updates[i]
		if eta > 0 && len(trained) > 1 {
			others := make([]tensor.Params, 0, len(trained)-1)
			weights := make([]float64, 0, len(trained)-1)
			for j := range trained {
				if j != i {
					others = append(others, updates[j])
					weights = append(weights, 1)
				}
			}
			mean, err := tensor.WeightedAverage(others, weights)
			if err != nil {
				return fmt.Errorf("%s: inter-group aggregation failed: %w", g.ID(), err)
			}
			if update, err = tensor.AddScaled(update, eta, mean); err != nil {
				return fmt.Errorf("%s: inter-group aggregation failed: %w", g.ID(), err)
			}
		}
		if _, err := g.ApplyUpdate(update); err != nil {
			return err
		}
	}

	_, err := server.MergeGroups(groups)
	return err
}

// migrate re-scores every client flagged for clustering and relinks it to
// its best group. With a cooling strategy, clients still cooling down from
// an earlier move wait.
func (t *Trainer) migrate(ctx context.Context) (int, error) {
	cools := coolsDown(t.strategy)
	var flagged []*flearn.Client
	for _, c := range t.registry.Clients() {
		if cools {
			c.CoolDown()
		}
		if c.Clustering() && c.Temperature() == 0 {
			flagged = append(flagged, c)
		}
	}
	if len(flagged) == 0 {
		return 0, nil
	}

	diffs, err := t.scoreAll(ctx, flagged)
	if err != nil {
		return 0, err
	}

	migrations := 0
	for i, c := range flagged {
		c.SetClustering(false)
		if len(diffs[i]) == 0 {
			continue
		}
		c.SetDifference(diffs[i])
		moved, err := t.relink(c, c.Difference()[0].Group)
		if err != nil {
			return migrations, err
		}
		if moved {
			migrations++
			if cools {
				c.SetTemperature(t.cfg.TrainerConfig.TempMax)
			}
		}
	}

	t.log.Info().
		Int("flagged", len(flagged)).
		Int("migrations", migrations).
		Msg("Clients migrated")
	return migrations, nil
}

// relink moves c under group. It reports whether c left another group.
func (t *Trainer) relink(c *flearn.Client, group models.ActorID) (bool, error) {
	current, linked := c.Group()
	if linked && current == group {
		return false, nil
	}
	if err := t.registry.Topology().Relink(c.ID(), group); err != nil {
		return false, err
	}
	if linked {
		t.log.Debug().
			Str("client", c.Name()).
			Str("from", current.String()).
			Str("to", group.String()).
			Msg("Client migrated")
	}
	return linked, nil
}

// scoreAll computes the strategy's discrepancies of every client
// concurrently
func (t *Trainer) scoreAll(ctx context.Context, clients []*flearn.Client) ([][]models.Difference, error) {
	diffs := make([][]models.Difference, len(clients))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(t.runtime.Workers, 1))
	for i, c := range clients {
		i, c := i, c
		g.Go(func() error {
			d, err := t.strategy.Score(ctx, t, c)
			if err != nil {
				return err
			}
			diffs[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return diffs, nil
}

// evaluate tests every group on its members' data, or the server on all
// clients when there are no groups
func (t *Trainer) evaluate(ctx context.Context, round int, selected []*flearn.Client, migrations, shifted int) (models.RoundSummary, error) {
	summary := models.RoundSummary{
		SimulationID: t.id,
		Round:        round,
		Trainer:      t.cfg.Trainer,
		Participants: len(selected),
		Migrations:   migrations,
		Shifted:      shifted,
	}

	var trainSamples int
	for _, r := range t.results {
		trainSamples += r.NumSamples
		summary.TrainAccuracy += r.Accuracy * float64(r.NumSamples)
		summary.TrainLoss += r.Loss * float64(r.NumSamples)
	}
	if trainSamples > 0 {
		summary.TrainAccuracy /= float64(trainSamples)
		summary.TrainLoss /= float64(trainSamples)
	}

	groups := t.registry.Groups()
	if len(groups) == 0 {
		server := t.registry.Server()
		r, err := server.Test(ctx)
		if err != nil {
			return summary, err
		}
		summary.TestAccuracy, summary.TestLoss = r.Accuracy, r.Loss

		clients := server.Clients()
		for _, c := range clients {
			d, err := tensor.L2Distance(c.LatestParams(), server.LatestParams())
			if err != nil {
				return summary, fmt.Errorf("%s: %w", c.ID(), err)
			}
			summary.Discrepancy += d
		}
		if len(clients) > 0 {
			summary.Discrepancy /= float64(len(clients))
		}
		summary.CompletedAt = now()
		return summary, nil
	}

	var testSamples, numClients int
	for _, g := range groups {
		clients := g.Clients()
		if len(clients) == 0 {
			continue
		}
		r, err := g.Test(ctx)
		if err != nil {
			return summary, err
		}
		d, err := g.Discrepancy()
		if err != nil {
			return summary, err
		}
		g.CheckTrainable()

		summary.Groups = append(summary.Groups, models.GroupMetrics{
			Group:        g.ID(),
			NumClients:   len(clients),
			TrainSamples: g.TrainSize(),
			TestSamples:  r.NumSamples,
			Accuracy:     r.Accuracy,
			Loss:         r.Loss,
			Discrepancy:  d,
		})
		testSamples += r.NumSamples
		numClients += len(clients)
		summary.TestAccuracy += r.Accuracy * float64(r.NumSamples)
		summary.TestLoss += r.Loss * float64(r.NumSamples)
		summary.Discrepancy += d * float64(len(clients))
	}
	if testSamples > 0 {
		summary.TestAccuracy /= float64(testSamples)
		summary.TestLoss /= float64(testSamples)
	}
	if numClients > 0 {
		summary.Discrepancy /= float64(numClients)
	}
	summary.CompletedAt = now()
	return summary, nil
}

// isShiftRound reports whether the data shifts at round. Without explicit
// shift rounds all and part shift once at half time while increment keeps
// shifting every round from then on.
func (t *Trainer) isShiftRound(round int) bool {
	tc := t.cfg.TrainerConfig
	if len(tc.ShiftRounds) > 0 {
		for _, r := range tc.ShiftRounds {
			if r == round {
				return true
			}
		}
		return false
	}
	half := tc.NumRounds / 2
	if tc.ShiftType == config.ShiftIncrement {
		return round >= half
	}
	return round == half
}

// shiftData swaps two labels in the data of the eligible clients with
// probability swap_p and flags the shifted clients for clustering
func (t *Trainer) shiftData(round int) int {
	tc := t.cfg.TrainerConfig
	clients := t.registry.Clients()
	if t.shiftedSet == nil {
		t.shiftedSet = make(map[models.ActorID]bool)
	}

	var eligible []*flearn.Client
	switch tc.ShiftType {
	case config.ShiftPart:
		for _, idx := range t.rng.Perm(len(clients))[:len(clients)/2] {
			eligible = append(eligible, clients[idx])
		}
	case config.ShiftIncrement:
		target := int(math.Ceil(float64(len(clients)) * float64(round+1) / float64(tc.NumRounds)))
		have := len(t.shiftedSet)
		for _, idx := range t.rng.Perm(len(clients)) {
			if have >= target {
				break
			}
			c := clients[idx]
			if t.shiftedSet[c.ID()] {
				continue
			}
			eligible = append(eligible, c)
			have++
		}
	default:
		eligible = clients
	}

	shifted := 0
	for _, c := range eligible {
		part := training.Partition{ID: c.Name(), Train: c.TrainData(), Test: c.TestData()}
		out, swap, ok := training.RandomSwap(part, t.numClasses, tc.SwapP, t.rng)
		t.shiftedSet[c.ID()] = true
		if !ok {
			continue
		}
		c.SetData(out.Train, out.Test)
		c.SetClustering(true)
		shifted++

		t.log.Debug().
			Str("client", c.Name()).
			Int("label_a", swap.A).
			Int("label_b", swap.B).
			Msg("Client data shifted")
	}

	t.log.Info().
		Int("round", round).
		Str("shift_type", tc.ShiftType).
		Int("eligible", len(eligible)).
		Int("shifted", shifted).
		Msg("Data shift applied")
	return shifted
}

package flearn

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/pkg/tensor"
)

// TrainClients trains every client starting from params and applies each
// client's own update, so that LatestParams holds the personalised weights
// and LatestUpdates the local delta. Clients run concurrently, at most
// workers at a time. Results follow the order of clients.
func TrainClients(ctx context.Context, clients []*Client, params tensor.Params, opts TrainOptions, workers int) ([]models.TrainResult, error) {
	if workers <= 0 {
		workers = 1
	}
	results := make([]models.TrainResult, len(clients))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, c := range clients {
		i, c := i, c
		g.Go(func() error {
			if params != nil {
				if err := c.SetParams(params); err != nil {
					return err
				}
			}
			r, err := c.Train(ctx, opts)
			if err != nil {
				return err
			}
			if _, err := c.ApplyUpdate(r.Update); err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Train trains the given members from the group params and returns their
// results together with the aggregated update. The update is not applied;
// callers apply it with ApplyUpdate once inter-group mixing is done.
func (g *Group) Train(ctx context.Context, clients []*Client, opts TrainOptions, workers int) ([]models.TrainResult, models.TrainResult, error) {
	return trainAndAggregate(ctx, g.Actor, clients, opts, workers)
}

// Train trains the given clients from the global params and returns their
// results together with the aggregated update, which is not applied
func (s *Server) Train(ctx context.Context, clients []*Client, opts TrainOptions, workers int) ([]models.TrainResult, models.TrainResult, error) {
	return trainAndAggregate(ctx, s.Actor, clients, opts, workers)
}

func trainAndAggregate(ctx context.Context, a *Actor, clients []*Client, opts TrainOptions, workers int) ([]models.TrainResult, models.TrainResult, error) {
	if a.model == nil {
		return nil, models.TrainResult{}, fmt.Errorf("%s: %w", a.id, ErrNoModel)
	}
	results, err := TrainClients(ctx, clients, a.latestParams, opts, workers)
	if err != nil {
		return nil, models.TrainResult{}, fmt.Errorf("%s: %w", a.id, err)
	}
	agg, err := a.Aggregate(results)
	if err != nil {
		return nil, models.TrainResult{}, err
	}
	return results, agg, nil
}

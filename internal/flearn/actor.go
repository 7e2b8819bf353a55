package flearn

import (
	"context"
	"fmt"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/internal/core/ports"
	"github.com/theblitlabs/parity-flsim/pkg/tensor"
)

// Linked is implemented by every actor that takes part in the topology
type Linked interface {
	ID() models.ActorID
	HasUplink() bool
	HasDownlink() bool
	Uplink() []models.ActorID
	Downlink() []models.ActorID
}

// Trainable actors run local optimization and report an update
type Trainable interface {
	Linked
	Train(ctx context.Context, opts TrainOptions) (models.TrainResult, error)
}

// Testable actors can evaluate the model they hold
type Testable interface {
	Linked
	Test(ctx context.Context) (models.TestResult, error)
}

// Aggregator actors fold the updates of their downlink into their own params
type Aggregator interface {
	Linked
	Aggregate(results []models.TrainResult) (models.TrainResult, error)
	ApplyUpdate(update tensor.Params) (tensor.Params, error)
	LatestParams() tensor.Params
}

type TrainOptions struct {
	Epochs    int
	BatchSize int
}

const (
	DefaultLocalEpochs = 5
	DefaultBatchSize   = 10
)

func (o TrainOptions) withDefaults() TrainOptions {
	if o.Epochs <= 0 {
		o.Epochs = DefaultLocalEpochs
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	return o
}

// Actor is the state shared by servers, groups and clients. Its methods must
// not be called concurrently on the same actor.
type Actor struct {
	id       models.ActorID
	topology *Topology
	model    ports.Model

	trainData models.Dataset
	testData  models.Dataset

	latestParams  tensor.Params
	latestUpdates tensor.Params

	trainSize int
	testSize  int
	trainable bool
	testable  bool
}

func newActor(id models.ActorID, topology *Topology, train, test models.Dataset, model ports.Model) *Actor {
	a := &Actor{
		id:        id,
		topology:  topology,
		model:     model,
		trainData: train,
		testData:  test,
	}
	if model != nil {
		a.latestParams = model.Weights()
		a.latestUpdates = tensor.ZerosLike(a.latestParams)
	}
	return a
}

func (a *Actor) ID() models.ActorID {
	return a.id
}

func (a *Actor) Name() string {
	return a.id.String()
}

func (a *Actor) Type() models.ActorType {
	return a.id.Type
}

func (a *Actor) Model() ports.Model {
	return a.model
}

// LatestParams returns the params installed by the last ApplyUpdate. The
// returned slice must not be modified.
func (a *Actor) LatestParams() tensor.Params {
	return a.latestParams
}

// LatestUpdates returns the update applied by the last ApplyUpdate. The
// returned slice must not be modified.
func (a *Actor) LatestUpdates() tensor.Params {
	return a.latestUpdates
}

func (a *Actor) TrainData() models.Dataset {
	return a.trainData
}

func (a *Actor) TestData() models.Dataset {
	return a.testData
}

func (a *Actor) TrainSize() int {
	return a.trainSize
}

func (a *Actor) TestSize() int {
	return a.testSize
}

func (a *Actor) Trainable() bool {
	return a.trainable
}

func (a *Actor) Testable() bool {
	return a.testable
}

// Params returns the current model weights
func (a *Actor) Params() (tensor.Params, error) {
	if a.model == nil {
		return nil, fmt.Errorf("%s: %w", a.id, ErrNoModel)
	}
	return a.model.Weights(), nil
}

// SetParams installs weights into the model. LatestParams and LatestUpdates
// are left untouched.
func (a *Actor) SetParams(weights tensor.Params) error {
	if a.model == nil {
		return fmt.Errorf("%s: %w", a.id, ErrNoModel)
	}
	if err := a.model.SetWeights(weights); err != nil {
		return fmt.Errorf("%s: failed to set params: %w", a.id, err)
	}
	return nil
}

func (a *Actor) zeroUpdate() tensor.Params {
	if a.latestParams != nil {
		return tensor.ZerosLike(a.latestParams)
	}
	if a.model != nil {
		return tensor.ZerosLike(a.model.Weights())
	}
	return nil
}

// SolveGradients computes the loss gradients over the local training data
// without changing the model
func (a *Actor) SolveGradients(ctx context.Context, numEpoch, batchSize int) (int, tensor.Params, error) {
	if a.trainData.Len() == 0 {
		return 0, a.zeroUpdate(), nil
	}
	if a.model == nil {
		return 0, nil, fmt.Errorf("%s: %w", a.id, ErrNoModel)
	}

	grads, err := a.model.Gradients(ctx, a.trainData.X, a.trainData.Y)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: failed to solve gradients: %w", a.id, err)
	}
	return a.trainData.Len(), grads, nil
}

// SolveInner trains on the local data and returns the resulting update. The
// model is rolled back afterwards; call ApplyUpdate to keep the update.
func (a *Actor) SolveInner(ctx context.Context, numEpoch, batchSize int) (models.InnerResult, error) {
	if a.trainData.Len() == 0 {
		return models.InnerResult{
			Accuracy: []float64{0},
			Loss:     []float64{0},
			Update:   a.zeroUpdate(),
		}, nil
	}
	if a.model == nil {
		return models.InnerResult{}, fmt.Errorf("%s: %w", a.id, ErrNoModel)
	}

	t0 := a.model.Weights()
	history, err := a.model.Fit(ctx, a.trainData.X, a.trainData.Y, batchSize, numEpoch)
	if err != nil {
		if rerr := a.model.SetWeights(t0); rerr != nil {
			return models.InnerResult{}, fmt.Errorf("%s: rollback failed after training error %v: %w", a.id, err, rerr)
		}
		return models.InnerResult{}, fmt.Errorf("%s: local training failed: %w", a.id, err)
	}
	t1 := a.model.Weights()

	if err := a.model.SetWeights(t0); err != nil {
		return models.InnerResult{}, fmt.Errorf("%s: rollback failed: %w", a.id, err)
	}

	update, err := tensor.Sub(t1, t0)
	if err != nil {
		return models.InnerResult{}, fmt.Errorf("%s: failed to compute update: %w", a.id, err)
	}

	return models.InnerResult{
		NumSamples: a.trainData.Len(),
		Accuracy:   history.Accuracy,
		Loss:       history.Loss,
		Update:     update,
	}, nil
}

// ApplyUpdate adds update to the current params, installs the result and
// records it as the latest params and updates
func (a *Actor) ApplyUpdate(update tensor.Params) (tensor.Params, error) {
	t0, err := a.Params()
	if err != nil {
		return nil, err
	}
	t1, err := tensor.Add(t0, update)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to apply update: %w", a.id, err)
	}
	if err := a.SetParams(t1); err != nil {
		return nil, err
	}

	a.latestUpdates = update.Clone()
	a.latestParams = t1
	return a.latestParams, nil
}

// RefreshLatest re-reads the model after an external mutation, recording the
// difference to the previous latest params as the latest update
func (a *Actor) RefreshLatest() error {
	current, err := a.Params()
	if err != nil {
		return err
	}
	prev := a.latestParams
	if prev == nil {
		prev = tensor.ZerosLike(current)
	}
	update, err := tensor.Sub(current, prev)
	if err != nil {
		return fmt.Errorf("%s: failed to refresh latest params: %w", a.id, err)
	}
	a.latestUpdates = update
	a.latestParams = current
	return nil
}

// TestLocally evaluates the model on the local test data
func (a *Actor) TestLocally(ctx context.Context) (models.TestResult, error) {
	if a.testData.Len() == 0 {
		return models.TestResult{}, nil
	}
	if a.model == nil {
		return models.TestResult{}, fmt.Errorf("%s: %w", a.id, ErrNoModel)
	}

	loss, acc, err := a.model.Evaluate(ctx, a.testData.X, a.testData.Y)
	if err != nil {
		return models.TestResult{}, fmt.Errorf("%s: local evaluation failed: %w", a.id, err)
	}
	return models.TestResult{
		NumSamples: a.testData.Len(),
		Accuracy:   acc,
		Loss:       loss,
	}, nil
}

// Aggregate averages the updates of results weighted by their sample counts.
// Results without samples are ignored; if none remain the update is zero.
func (a *Actor) Aggregate(results []models.TrainResult) (models.TrainResult, error) {
	var (
		updates []tensor.Params
		weights []float64
		agg     models.TrainResult
	)
	for _, r := range results {
		if r.NumSamples <= 0 {
			continue
		}
		updates = append(updates, r.Update)
		weights = append(weights, float64(r.NumSamples))
		agg.NumSamples += r.NumSamples
		agg.Accuracy += r.Accuracy * float64(r.NumSamples)
		agg.Loss += r.Loss * float64(r.NumSamples)
	}

	if agg.NumSamples == 0 {
		agg.Update = a.zeroUpdate()
		return agg, nil
	}

	update, err := tensor.WeightedAverage(updates, weights)
	if err != nil {
		return models.TrainResult{}, fmt.Errorf("%s: aggregation failed: %w", a.id, err)
	}
	if a.latestParams != nil {
		if err := tensor.SameShape(a.latestParams, update); err != nil {
			return models.TrainResult{}, fmt.Errorf("%s: aggregation failed: %w", a.id, err)
		}
	}

	agg.Accuracy /= float64(agg.NumSamples)
	agg.Loss /= float64(agg.NumSamples)
	agg.Update = update
	return agg, nil
}

func (a *Actor) HasUplink() bool {
	return a.topology.HasUplink(a.id)
}

func (a *Actor) HasDownlink() bool {
	return a.topology.HasDownlink(a.id)
}

func (a *Actor) Uplink() []models.ActorID {
	return a.topology.Uplink(a.id)
}

func (a *Actor) Downlink() []models.ActorID {
	return a.topology.Downlink(a.id)
}

func (a *Actor) AddUplink(nodes ...models.ActorID) error {
	return a.topology.AddUplink(a.id, nodes...)
}

func (a *Actor) AddDownlink(nodes ...models.ActorID) error {
	return a.topology.AddDownlink(a.id, nodes...)
}

func (a *Actor) DeleteUplink(nodes ...models.ActorID) {
	a.topology.DeleteUplink(a.id, nodes...)
}

func (a *Actor) DeleteDownlink(nodes ...models.ActorID) {
	a.topology.DeleteDownlink(a.id, nodes...)
}

var (
	_ Trainable  = (*Client)(nil)
	_ Testable   = (*Client)(nil)
	_ Testable   = (*Group)(nil)
	_ Aggregator = (*Group)(nil)
	_ Testable   = (*Server)(nil)
	_ Aggregator = (*Server)(nil)
)

package flearn

import (
	"context"
	"sort"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/internal/core/ports"
)

// Client is a leaf actor that owns a private data partition
type Client struct {
	*Actor

	clustering  bool
	difference  []models.Difference
	temperature int
}

func newClient(index int, topology *Topology, train, test models.Dataset, model ports.Model) *Client {
	c := &Client{
		Actor: newActor(models.ClientID(index), topology, train, test, model),
	}
	c.CheckTrainable()
	c.CheckTestable()
	return c
}

// HasDownlink is always false, clients terminate the topology
func (c *Client) HasDownlink() bool {
	return false
}

// CheckTrainable recomputes the train size and trainable flag from the
// current training data
func (c *Client) CheckTrainable() bool {
	c.trainSize = c.trainData.Len()
	c.trainable = c.trainSize > 0
	return c.trainable
}

// CheckTestable recomputes the test size and testable flag from the
// current test data
func (c *Client) CheckTestable() bool {
	c.testSize = c.testData.Len()
	c.testable = c.testSize > 0
	return c.testable
}

// SetData replaces the local partitions
func (c *Client) SetData(train, test models.Dataset) {
	c.trainData = train
	c.testData = test
	c.CheckTrainable()
	c.CheckTestable()
}

// Train runs local training and reports the metrics of the last epoch
func (c *Client) Train(ctx context.Context, opts TrainOptions) (models.TrainResult, error) {
	opts = opts.withDefaults()
	c.CheckTrainable()

	inner, err := c.SolveInner(ctx, opts.Epochs, opts.BatchSize)
	if err != nil {
		return models.TrainResult{}, err
	}

	return models.TrainResult{
		NumSamples: inner.NumSamples,
		Accuracy:   last(inner.Accuracy),
		Loss:       last(inner.Loss),
		Update:     inner.Update,
	}, nil
}

// Test evaluates the current model on the local test data
func (c *Client) Test(ctx context.Context) (models.TestResult, error) {
	c.CheckTestable()
	return c.TestLocally(ctx)
}

// Group returns the group the client is linked to, if any
func (c *Client) Group() (models.ActorID, bool) {
	for _, id := range c.Uplink() {
		if id.Type == models.ActorTypeGroup {
			return id, true
		}
	}
	return models.ActorID{}, false
}

func (c *Client) Clustering() bool {
	return c.clustering
}

func (c *Client) SetClustering(v bool) {
	c.clustering = v
}

// Difference returns the recorded discrepancies, best group first
func (c *Client) Difference() []models.Difference {
	return c.difference
}

// SetDifference records discrepancies and keeps them sorted by score
func (c *Client) SetDifference(diff []models.Difference) {
	sorted := append([]models.Difference(nil), diff...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score < sorted[j].Score
	})
	c.difference = sorted
}

func (c *Client) Temperature() int {
	return c.temperature
}

func (c *Client) SetTemperature(t int) {
	c.temperature = t
}

// CoolDown lowers the temperature by one, never below zero
func (c *Client) CoolDown() {
	if c.temperature > 0 {
		c.temperature--
	}
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

// Distribution is the label histogram of the training data
func (c *Client) Distribution() map[int]int {
	return c.trainData.Distribution()
}

package training

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
)

// Split shuffles ds and holds out testFraction of it as test data
func Split(ds models.Dataset, testFraction float64, rng *rand.Rand) (models.Dataset, models.Dataset) {
	n := ds.Len()
	perm := rng.Perm(n)
	numTest := int(float64(n) * testFraction)

	var train, test models.Dataset
	for i, idx := range perm {
		if i < numTest {
			test.X = append(test.X, ds.X[idx])
			test.Y = append(test.Y, ds.Y[idx])
		} else {
			train.X = append(train.X, ds.X[idx])
			train.Y = append(train.Y, ds.Y[idx])
		}
	}
	return train, test
}

// PartitionByLabel sorts ds by label, cuts it into numClients *
// classesPerClient shards and hands every client classesPerClient random
// shards, which gives each client a skewed label distribution
func PartitionByLabel(ds models.Dataset, numClients, classesPerClient int, testFraction float64, rng *rand.Rand) ([]Partition, error) {
	if numClients <= 0 || classesPerClient <= 0 {
		return nil, fmt.Errorf("invalid partitioning: %d clients, %d classes per client", numClients, classesPerClient)
	}
	numShards := numClients * classesPerClient
	if ds.Len() < numShards {
		return nil, fmt.Errorf("dataset of %d samples is too small for %d shards", ds.Len(), numShards)
	}

	order := make([]int, ds.Len())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return ds.Y[order[i]] < ds.Y[order[j]] })

	shardSize := ds.Len() / numShards
	shards := rng.Perm(numShards)

	parts := make([]Partition, numClients)
	for c := 0; c < numClients; c++ {
		var local models.Dataset
		for _, s := range shards[c*classesPerClient : (c+1)*classesPerClient] {
			for _, idx := range order[s*shardSize : (s+1)*shardSize] {
				local.X = append(local.X, ds.X[idx])
				local.Y = append(local.Y, ds.Y[idx])
			}
		}
		train, test := Split(local, testFraction, rng)
		parts[c] = Partition{ID: fmt.Sprintf("f_%05d", c), Train: train, Test: test}
	}
	return parts, nil
}

// SyntheticConfig controls Synthetic
type SyntheticConfig struct {
	NumClients   int
	NumClasses   int
	Dim          int
	MinSamples   int
	MaxSamples   int
	NumClusters  int
	TestFraction float64
}

func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		NumClients:   100,
		NumClasses:   10,
		Dim:          60,
		MinSamples:   50,
		MaxSamples:   200,
		NumClusters:  3,
		TestFraction: 0.2,
	}
}

// Synthetic generates gaussian class blobs. Clients are spread over
// NumClusters concepts and every concept relabels the classes with its own
// permutation, so clients of the same concept share a labelling function.
func Synthetic(cfg SyntheticConfig, rng *rand.Rand) ([]Partition, error) {
	if cfg.NumClients <= 0 || cfg.NumClasses <= 1 || cfg.Dim <= 0 {
		return nil, fmt.Errorf("invalid synthetic config: %+v", cfg)
	}
	if cfg.NumClusters <= 0 {
		cfg.NumClusters = 1
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 1
	}
	if cfg.MaxSamples < cfg.MinSamples {
		cfg.MaxSamples = cfg.MinSamples
	}

	centers := make([][]float64, cfg.NumClasses)
	for c := range centers {
		centers[c] = make([]float64, cfg.Dim)
		for j := range centers[c] {
			centers[c][j] = rng.NormFloat64()
		}
	}

	perms := make([][]int, cfg.NumClusters)
	for k := range perms {
		if k == 0 {
			perms[k] = make([]int, cfg.NumClasses)
			for c := range perms[k] {
				perms[k][c] = c
			}
			continue
		}
		perms[k] = rng.Perm(cfg.NumClasses)
	}

	parts := make([]Partition, cfg.NumClients)
	for i := range parts {
		perm := perms[i%cfg.NumClusters]
		n := cfg.MinSamples + rng.Intn(cfg.MaxSamples-cfg.MinSamples+1)

		var local models.Dataset
		for s := 0; s < n; s++ {
			class := rng.Intn(cfg.NumClasses)
			x := make([]float64, cfg.Dim)
			for j := range x {
				x[j] = centers[class][j] + 0.5*rng.NormFloat64()
			}
			local.X = append(local.X, x)
			local.Y = append(local.Y, perm[class])
		}
		train, test := Split(local, cfg.TestFraction, rng)
		parts[i] = Partition{ID: fmt.Sprintf("f_%05d", i), Train: train, Test: test}
	}
	return parts, nil
}

// Shape returns the feature width and the number of classes seen across
// all partitions
func Shape(parts []Partition) (int, int) {
	features, maxLabel := 0, -1
	for _, p := range parts {
		for _, ds := range []models.Dataset{p.Train, p.Test} {
			if features == 0 && len(ds.X) > 0 {
				features = len(ds.X[0])
			}
			for _, y := range ds.Y {
				if y > maxLabel {
					maxLabel = y
				}
			}
		}
	}
	return features, maxLabel + 1
}

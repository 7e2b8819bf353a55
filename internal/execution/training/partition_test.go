package training

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
)

func labelled(n, classes int) models.Dataset {
	var ds models.Dataset
	for i := 0; i < n; i++ {
		ds.X = append(ds.X, []float64{float64(i)})
		ds.Y = append(ds.Y, i%classes)
	}
	return ds
}

func TestSplit(t *testing.T) {
	train, test := Split(labelled(100, 10), 0.2, rand.New(rand.NewSource(1)))
	assert.Equal(t, 80, train.Len())
	assert.Equal(t, 20, test.Len())
}

func TestPartitionByLabel(t *testing.T) {
	ds := labelled(1000, 10)
	parts, err := PartitionByLabel(ds, 10, 2, 0.2, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.Len(t, parts, 10)

	total := 0
	for _, p := range parts {
		total += p.Train.Len() + p.Test.Len()
		all := append(append([]int(nil), p.Train.Y...), p.Test.Y...)
		labels := models.Dataset{Y: all}.Labels()
		assert.LessOrEqual(t, len(labels), 4)
	}
	assert.Equal(t, 1000, total)

	_, err = PartitionByLabel(labelled(5, 2), 10, 2, 0.2, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
	_, err = PartitionByLabel(ds, 0, 2, 0.2, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestSynthetic(t *testing.T) {
	cfg := SyntheticConfig{
		NumClients:   6,
		NumClasses:   4,
		Dim:          5,
		MinSamples:   20,
		MaxSamples:   30,
		NumClusters:  2,
		TestFraction: 0.25,
	}

	parts, err := Synthetic(cfg, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	require.Len(t, parts, 6)
	for _, p := range parts {
		n := p.Train.Len() + p.Test.Len()
		assert.GreaterOrEqual(t, n, 20)
		assert.LessOrEqual(t, n, 30)
		assert.Len(t, p.Train.X[0], 5)
	}

	again, err := Synthetic(cfg, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	assert.Equal(t, parts, again)

	_, err = Synthetic(SyntheticConfig{NumClients: 1, NumClasses: 1, Dim: 1}, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

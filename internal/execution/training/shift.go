package training

import (
	"math/rand"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
)

// SwapLabels returns a copy of ds with the labels a and b exchanged
func SwapLabels(ds models.Dataset, a, b int) models.Dataset {
	out := models.Dataset{
		X: ds.X,
		Y: make([]int, len(ds.Y)),
	}
	for i, y := range ds.Y {
		switch y {
		case a:
			out.Y[i] = b
		case b:
			out.Y[i] = a
		default:
			out.Y[i] = y
		}
	}
	return out
}

// LabelSwap describes a label exchange applied to a client
type LabelSwap struct {
	A int
	B int
}

// RandomSwap draws two distinct labels and, with probability p, exchanges
// them in both partitions. The boolean reports whether a swap happened.
func RandomSwap(part Partition, numClasses int, p float64, rng *rand.Rand) (Partition, LabelSwap, bool) {
	if numClasses < 2 || rng.Float64() >= p {
		return part, LabelSwap{}, false
	}
	pair := rng.Perm(numClasses)[:2]
	swap := LabelSwap{A: pair[0], B: pair[1]}
	return Partition{
		ID:    part.ID,
		Train: SwapLabels(part.Train, swap.A, swap.B),
		Test:  SwapLabels(part.Test, swap.A, swap.B),
	}, swap, true
}

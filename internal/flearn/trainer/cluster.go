package trainer

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/theblitlabs/parity-flsim/internal/config"
	"github.com/theblitlabs/parity-flsim/pkg/tensor"
)

const kmeansMaxIter = 100

// clusterUpdates maps every update to one of k clusters using the given
// measure to embed the updates before K-Means
func clusterUpdates(measure string, updates []tensor.Params, k int, rng *rand.Rand) ([]int, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	var (
		features *mat.Dense
		err      error
	)
	switch measure {
	case config.MeasureEDC:
		features, err = edc(updates, k)
	case config.MeasureMADC:
		features, err = madc(updates)
	default:
		return nil, fmt.Errorf("unknown measure %q", measure)
	}
	if err != nil {
		return nil, err
	}
	return kmeans(features, k, rng), nil
}

func updateMatrix(updates []tensor.Params) *mat.Dense {
	rows := make([][]float64, len(updates))
	for i, u := range updates {
		rows[i] = tensor.Flatten(u)
	}
	m := mat.NewDense(len(rows), len(rows[0]), nil)
	for i, r := range rows {
		m.SetRow(i, r)
	}
	return m
}

// edc decomposes the update matrix, takes the k leading right singular
// vectors as directions, describes every update by its cosine similarity
// to each direction and returns the euclidean distance matrix of those
// descriptions
func edc(updates []tensor.Params, k int) (*mat.Dense, error) {
	m := updateMatrix(updates)
	n, _ := m.Dims()

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDThin); !ok {
		return nil, errors.New("singular value decomposition failed")
	}
	var v mat.Dense
	svd.VTo(&v)
	_, cols := v.Dims()
	k = min(k, cols)

	directions := make([][]float64, k)
	for j := range directions {
		directions[j] = mat.Col(nil, j, &v)
	}

	sims := make([][]float64, n)
	for i := range sims {
		row := m.RawRowView(i)
		sims[i] = make([]float64, k)
		for j, dir := range directions {
			sims[i][j] = tensor.Cosine(row, dir)
		}
	}

	dist := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := floats.Distance(sims[i], sims[j], 2)
			dist.Set(i, j, d)
			dist.Set(j, i, d)
		}
	}
	return dist, nil
}

// madc returns the mean absolute difference of pairwise cosine
// dissimilarities: entry (i, j) averages |D(i,z) - D(j,z)| over every z
// other than i and j
func madc(updates []tensor.Params) (*mat.Dense, error) {
	m := updateMatrix(updates)
	n, _ := m.Dims()

	dis := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := (1 - tensor.Cosine(m.RawRowView(i), m.RawRowView(j))) / 2
			dis.Set(i, j, d)
			dis.Set(j, i, d)
		}
	}

	out := mat.NewDense(n, n, nil)
	if n <= 2 {
		return out, nil
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sum := 0.0
			for z := 0; z < n; z++ {
				if z == i || z == j {
					continue
				}
				sum += math.Abs(dis.At(i, z) - dis.At(j, z))
			}
			v := sum / float64(n-2)
			out.Set(i, j, v)
			out.Set(j, i, v)
		}
	}
	return out, nil
}

// kmeans clusters the rows of data into k clusters with k-means++ seeding.
// With no more rows than clusters every row gets its own cluster.
func kmeans(data *mat.Dense, k int, rng *rand.Rand) []int {
	n, _ := data.Dims()
	labels := make([]int, n)
	if n <= k {
		for i := range labels {
			labels[i] = i
		}
		return labels
	}

	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = data.RawRowView(i)
	}
	centroids := seedCentroids(rows, k, rng)

	for iter := 0; iter < kmeansMaxIter; iter++ {
		changed := false
		for i, r := range rows {
			best := nearest(r, centroids)
			if iter == 0 || best != labels[i] {
				changed = changed || best != labels[i]
				labels[i] = best
			}
		}
		if iter > 0 && !changed {
			break
		}

		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, len(rows[0]))
		}
		for i, r := range rows {
			floats.Add(sums[labels[i]], r)
			counts[labels[i]]++
		}
		for c := range centroids {
			// empty clusters keep their centroid
			if counts[c] > 0 {
				floats.Scale(1/float64(counts[c]), sums[c])
				centroids[c] = sums[c]
			}
		}
	}
	return labels
}

func seedCentroids(rows [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, append([]float64(nil), rows[rng.Intn(len(rows))]...))

	dist := make([]float64, len(rows))
	for len(centroids) < k {
		total := 0.0
		for i, r := range rows {
			d := floats.Distance(r, centroids[nearest(r, centroids)], 2)
			dist[i] = d * d
			total += dist[i]
		}

		next := rng.Intn(len(rows))
		if total > 0 {
			target := rng.Float64() * total
			for i, d := range dist {
				target -= d
				if target <= 0 {
					next = i
					break
				}
			}
		}
		centroids = append(centroids, append([]float64(nil), rows[next]...))
	}
	return centroids
}

func nearest(r []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := floats.Distance(r, centroid, 2); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

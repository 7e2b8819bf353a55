package models

import "sort"

// Dataset holds ordered feature/label pairs
type Dataset struct {
	X [][]float64 `json:"x"`
	Y []int       `json:"y"`
}

// Len returns the number of samples
func (d Dataset) Len() int {
	return len(d.Y)
}

func (d Dataset) Clone() Dataset {
	x := make([][]float64, len(d.X))
	for i := range d.X {
		x[i] = append([]float64(nil), d.X[i]...)
	}
	return Dataset{X: x, Y: append([]int(nil), d.Y...)}
}

// Labels returns the sorted distinct labels present in the dataset
func (d Dataset) Labels() []int {
	seen := make(map[int]struct{})
	for _, y := range d.Y {
		seen[y] = struct{}{}
	}
	labels := make([]int, 0, len(seen))
	for y := range seen {
		labels = append(labels, y)
	}
	sort.Ints(labels)
	return labels
}

// Distribution counts samples per label
func (d Dataset) Distribution() map[int]int {
	dist := make(map[int]int)
	for _, y := range d.Y {
		dist[y]++
	}
	return dist
}

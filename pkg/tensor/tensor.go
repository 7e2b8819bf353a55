package tensor

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

var ErrShapeMismatch = errors.New("tensor shape mismatch")

// Tensor is a dense row-major float64 tensor
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Params is an ordered sequence of tensors, typically the weights of a model
type Params []Tensor

// New allocates a zero tensor of the given shape
func New(shape ...int) Tensor {
	size := 1
	for _, d := range shape {
		size *= d
	}
	return Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float64, size),
	}
}

// FromData wraps data in a tensor, the data length must match the shape
func FromData(data []float64, shape ...int) (Tensor, error) {
	t := Tensor{Shape: append([]int(nil), shape...), Data: data}
	if t.Size() != len(data) {
		return Tensor{}, fmt.Errorf("%w: shape %v needs %d values, got %d", ErrShapeMismatch, shape, t.Size(), len(data))
	}
	return t, nil
}

// Size returns the number of elements implied by the shape
func (t Tensor) Size() int {
	size := 1
	for _, d := range t.Shape {
		size *= d
	}
	return size
}

func (t Tensor) Clone() Tensor {
	return Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float64(nil), t.Data...),
	}
}

func (t Tensor) sameShape(o Tensor) bool {
	if len(t.Shape) != len(o.Shape) || len(t.Data) != len(o.Data) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// ZerosLike returns zero tensors with the shapes of p
func ZerosLike(p Params) Params {
	out := make(Params, len(p))
	for i, t := range p {
		out[i] = New(t.Shape...)
	}
	return out
}

func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for i, t := range p {
		out[i] = t.Clone()
	}
	return out
}

// Shapes returns the shape signature of p
func (p Params) Shapes() [][]int {
	shapes := make([][]int, len(p))
	for i, t := range p {
		shapes[i] = append([]int(nil), t.Shape...)
	}
	return shapes
}

// NumElements returns the total number of scalars in p
func (p Params) NumElements() int {
	n := 0
	for _, t := range p {
		n += len(t.Data)
	}
	return n
}

// SameShape reports an ErrShapeMismatch naming the first incompatible tensor
func SameShape(a, b Params) error {
	if len(a) != len(b) {
		return fmt.Errorf("%w: %d tensors vs %d tensors", ErrShapeMismatch, len(a), len(b))
	}
	for i := range a {
		if !a[i].sameShape(b[i]) {
			return fmt.Errorf("%w: tensor %d has shape %v vs %v", ErrShapeMismatch, i, a[i].Shape, b[i].Shape)
		}
	}
	return nil
}

// Add returns a + b
func Add(a, b Params) (Params, error) {
	if err := SameShape(a, b); err != nil {
		return nil, err
	}
	out := a.Clone()
	for i := range out {
		floats.Add(out[i].Data, b[i].Data)
	}
	return out, nil
}

// Sub returns a - b
func Sub(a, b Params) (Params, error) {
	if err := SameShape(a, b); err != nil {
		return nil, err
	}
	out := a.Clone()
	for i := range out {
		floats.Sub(out[i].Data, b[i].Data)
	}
	return out, nil
}

// Scale returns c * p
func Scale(p Params, c float64) Params {
	out := p.Clone()
	for i := range out {
		floats.Scale(c, out[i].Data)
	}
	return out
}

// AddScaled returns dst + alpha*s
func AddScaled(dst Params, alpha float64, s Params) (Params, error) {
	if err := SameShape(dst, s); err != nil {
		return nil, err
	}
	out := dst.Clone()
	for i := range out {
		floats.AddScaled(out[i].Data, alpha, s[i].Data)
	}
	return out, nil
}

// Flatten concatenates all tensors into a single vector
func Flatten(p Params) []float64 {
	flat := make([]float64, 0, p.NumElements())
	for _, t := range p {
		flat = append(flat, t.Data...)
	}
	return flat
}

// WeightedAverage returns sum(w_i * p_i) / sum(w_i). Entries with a
// non-positive weight are skipped; if nothing remains the result is nil.
func WeightedAverage(ps []Params, weights []float64) (Params, error) {
	if len(ps) != len(weights) {
		return nil, fmt.Errorf("got %d params for %d weights", len(ps), len(weights))
	}

	var (
		acc   Params
		total float64
	)
	for i, p := range ps {
		if weights[i] <= 0 {
			continue
		}
		if acc == nil {
			acc = ZerosLike(p)
		}
		if err := SameShape(acc, p); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		for j := range acc {
			floats.AddScaled(acc[j].Data, weights[i], p[j].Data)
		}
		total += weights[i]
	}
	if acc == nil {
		return nil, nil
	}
	for j := range acc {
		floats.Scale(1/total, acc[j].Data)
	}
	return acc, nil
}

// Norm returns the L2 norm of all elements of p
func Norm(p Params) float64 {
	return floats.Norm(Flatten(p), 2)
}

// L2Distance returns ||a - b||
func L2Distance(a, b Params) (float64, error) {
	if err := SameShape(a, b); err != nil {
		return 0, err
	}
	return floats.Distance(Flatten(a), Flatten(b), 2), nil
}

// CosineSimilarity returns the cosine of the angle between a and b. Zero
// vectors have similarity 0.
func CosineSimilarity(a, b Params) (float64, error) {
	if err := SameShape(a, b); err != nil {
		return 0, err
	}
	return Cosine(Flatten(a), Flatten(b)), nil
}

// CosineDissimilarity maps cosine similarity into [0, 1], 0 meaning same direction
func CosineDissimilarity(a, b Params) (float64, error) {
	cos, err := CosineSimilarity(a, b)
	if err != nil {
		return 0, err
	}
	return (1 - cos) / 2, nil
}

// Cosine is the cosine similarity of two flat vectors of equal length
func Cosine(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	cos := floats.Dot(a, b) / (na * nb)
	return math.Max(-1, math.Min(1, cos))
}

// IsFinite reports whether p contains no NaN or Inf values
func IsFinite(p Params) bool {
	for _, t := range p {
		for _, v := range t.Data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

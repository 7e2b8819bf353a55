package training

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/theblitlabs/parity-flsim/internal/core/ports"
	"github.com/theblitlabs/parity-flsim/pkg/tensor"
)

// MLP is a feed-forward classifier with ReLU hidden layers, a softmax output
// and sparse categorical cross-entropy loss, trained with mini-batch SGD.
// With no hidden layers it is a multinomial logistic regression.
type MLP struct {
	sizes        []int
	params       tensor.Params // W0, b0, W1, b1, ...
	learningRate float64
	l2           float64
	rng          *rand.Rand
}

var _ ports.Model = (*MLP)(nil)

// NewMLP creates a network with Xavier/Glorot initialised weights
func NewMLP(cfg ModelConfig) (*MLP, error) {
	if cfg.InputSize <= 0 {
		return nil, fmt.Errorf("invalid input size: %d", cfg.InputSize)
	}
	if cfg.OutputSize <= 1 {
		return nil, fmt.Errorf("invalid output size: %d", cfg.OutputSize)
	}
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %f", cfg.LearningRate)
	}
	if cfg.LearningRate > 1.0 {
		return nil, fmt.Errorf("learning rate is too high (%f), maximum allowed is 1.0", cfg.LearningRate)
	}

	sizes := append([]int{cfg.InputSize}, cfg.Hidden...)
	sizes = append(sizes, cfg.OutputSize)
	for _, s := range sizes {
		if s <= 0 {
			return nil, fmt.Errorf("invalid layer sizes: %v", sizes)
		}
	}

	m := &MLP{
		sizes:        sizes,
		learningRate: cfg.LearningRate,
		l2:           cfg.L2,
		rng:          rand.New(rand.NewSource(cfg.Seed)),
	}
	m.initializeWeights()
	return m, nil
}

func (m *MLP) numLayers() int {
	return len(m.sizes) - 1
}

func (m *MLP) initializeWeights() {
	m.params = make(tensor.Params, 0, 2*m.numLayers())
	for l := 0; l < m.numLayers(); l++ {
		in, out := m.sizes[l], m.sizes[l+1]
		limit := math.Sqrt(6.0 / float64(in+out))

		w := tensor.New(in, out)
		for i := range w.Data {
			w.Data[i] = (m.rng.Float64()*2 - 1) * limit
		}
		m.params = append(m.params, w, tensor.New(out))
	}
}

func (m *MLP) weight(l int) *mat.Dense {
	return mat.NewDense(m.sizes[l], m.sizes[l+1], m.params[2*l].Data)
}

func (m *MLP) bias(l int) []float64 {
	return m.params[2*l+1].Data
}

// Weights returns a copy of the current weights
func (m *MLP) Weights() tensor.Params {
	return m.params.Clone()
}

func (m *MLP) SetWeights(weights tensor.Params) error {
	if err := tensor.SameShape(m.params, weights); err != nil {
		return err
	}
	for i := range m.params {
		copy(m.params[i].Data, weights[i].Data)
	}
	return nil
}

// Fit performs mini-batch SGD over shuffled data and returns the mean loss
// and accuracy of every epoch
func (m *MLP) Fit(ctx context.Context, x [][]float64, y []int, batchSize, epochs int) (ports.History, error) {
	if err := m.validate(x, y); err != nil {
		return ports.History{}, err
	}
	numSamples := len(y)
	if batchSize <= 0 || batchSize > numSamples {
		batchSize = numSamples
	}

	history := ports.History{
		Accuracy: make([]float64, 0, epochs),
		Loss:     make([]float64, 0, epochs),
	}

	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return history, err
		}

		indices := m.rng.Perm(numSamples)
		totalLoss := 0.0
		correct := 0

		for i := 0; i < numSamples; i += batchSize {
			end := min(i+batchSize, numSamples)
			bx, by := batch(x, y, indices[i:end])

			grads, batchLoss, batchCorrect := m.backward(m.forward(bx), bx, by)
			if math.IsNaN(batchLoss) || math.IsInf(batchLoss, 0) {
				return history, fmt.Errorf("training produced NaN/Inf loss at epoch %d, batch %d - this indicates numerical instability", epoch, i/batchSize)
			}

			for p := range m.params {
				floats.AddScaled(m.params[p].Data, -m.learningRate, grads[p].Data)
			}
			totalLoss += batchLoss
			correct += batchCorrect
		}

		loss := totalLoss/float64(numSamples) + m.regularization()
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return history, fmt.Errorf("training produced NaN/Inf final loss at epoch %d", epoch)
		}
		history.Loss = append(history.Loss, loss)
		history.Accuracy = append(history.Accuracy, float64(correct)/float64(numSamples))
	}

	return history, nil
}

// Evaluate returns the mean loss and the accuracy on the given data
func (m *MLP) Evaluate(ctx context.Context, x [][]float64, y []int) (float64, float64, error) {
	if err := m.validate(x, y); err != nil {
		return 0, 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	bx := toDense(x)
	probs := m.forward(bx)[m.numLayers()]
	totalLoss := 0.0
	correct := 0
	for i, label := range y {
		row := probs.RawRowView(i)
		totalLoss -= math.Log(math.Max(row[label], 1e-12))
		if floats.MaxIdx(row) == label {
			correct++
		}
	}

	n := float64(len(y))
	return totalLoss/n + m.regularization(), float64(correct) / n, nil
}

// Gradients returns the mean loss gradient over the given data
func (m *MLP) Gradients(ctx context.Context, x [][]float64, y []int) (tensor.Params, error) {
	if err := m.validate(x, y); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bx := toDense(x)
	grads, _, _ := m.backward(m.forward(bx), bx, y)
	return grads, nil
}

func (m *MLP) validate(x [][]float64, y []int) error {
	if len(x) == 0 || len(y) == 0 {
		return ErrEmptyData
	}
	if len(x) != len(y) {
		return fmt.Errorf("feature and label count mismatch: %d vs %d", len(x), len(y))
	}
	for i := range x {
		if len(x[i]) != m.sizes[0] {
			return fmt.Errorf("sample %d has %d features, expected %d", i, len(x[i]), m.sizes[0])
		}
	}
	out := m.sizes[len(m.sizes)-1]
	for i, label := range y {
		if label < 0 || label >= out {
			return fmt.Errorf("sample %d has label %d outside [0, %d)", i, label, out)
		}
	}
	return nil
}

// forward returns the activations of every layer, input first and softmax
// probabilities last
func (m *MLP) forward(x *mat.Dense) []*mat.Dense {
	acts := make([]*mat.Dense, 0, m.numLayers()+1)
	acts = append(acts, x)

	for l := 0; l < m.numLayers(); l++ {
		z := &mat.Dense{}
		z.Mul(acts[l], m.weight(l))
		rows, _ := z.Dims()
		for i := 0; i < rows; i++ {
			row := z.RawRowView(i)
			floats.Add(row, m.bias(l))
			if l < m.numLayers()-1 {
				relu(row)
			} else {
				softmax(row)
			}
		}
		acts = append(acts, z)
	}
	return acts
}

// backward returns the mean gradients, the summed cross-entropy loss and
// the number of correct predictions of a batch
func (m *MLP) backward(acts []*mat.Dense, x *mat.Dense, y []int) (tensor.Params, float64, int) {
	n := float64(len(y))
	probs := acts[m.numLayers()]

	delta := mat.DenseCopyOf(probs)
	loss := 0.0
	correct := 0
	for i, label := range y {
		row := delta.RawRowView(i)
		loss -= math.Log(math.Max(row[label], 1e-12))
		if floats.MaxIdx(row) == label {
			correct++
		}
		row[label] -= 1
	}
	delta.Scale(1/n, delta)

	grads := make(tensor.Params, len(m.params))
	for l := m.numLayers() - 1; l >= 0; l-- {
		in, out := m.sizes[l], m.sizes[l+1]

		dW := &mat.Dense{}
		dW.Mul(acts[l].T(), delta)
		gw := tensor.New(in, out)
		for i := 0; i < in; i++ {
			copy(gw.Data[i*out:(i+1)*out], dW.RawRowView(i))
		}
		if m.l2 > 0 {
			floats.AddScaled(gw.Data, 2*m.l2, m.params[2*l].Data)
		}

		gb := tensor.New(out)
		rows, _ := delta.Dims()
		for i := 0; i < rows; i++ {
			floats.Add(gb.Data, delta.RawRowView(i))
		}
		grads[2*l], grads[2*l+1] = gw, gb

		if l > 0 {
			prev := &mat.Dense{}
			prev.Mul(delta, m.weight(l).T())
			prevRows, _ := prev.Dims()
			for i := 0; i < prevRows; i++ {
				row := prev.RawRowView(i)
				act := acts[l].RawRowView(i)
				for j := range row {
					if act[j] <= 0 {
						row[j] = 0
					}
				}
			}
			delta = prev
		}
	}
	return grads, loss, correct
}

func (m *MLP) regularization() float64 {
	if m.l2 == 0 {
		return 0
	}
	reg := 0.0
	for l := 0; l < m.numLayers(); l++ {
		w := m.params[2*l].Data
		reg += floats.Dot(w, w)
	}
	return m.l2 * reg
}

func batch(x [][]float64, y []int, indices []int) (*mat.Dense, []int) {
	cols := len(x[indices[0]])
	bx := mat.NewDense(len(indices), cols, nil)
	by := make([]int, len(indices))
	for i, idx := range indices {
		bx.SetRow(i, x[idx])
		by[i] = y[idx]
	}
	return bx, by
}

func toDense(x [][]float64) *mat.Dense {
	d := mat.NewDense(len(x), len(x[0]), nil)
	for i := range x {
		d.SetRow(i, x[i])
	}
	return d
}

func relu(row []float64) {
	for i, v := range row {
		if v < 0 {
			row[i] = 0
		}
	}
}

func softmax(row []float64) {
	maxVal := floats.Max(row)
	sum := 0.0
	for i, v := range row {
		row[i] = math.Exp(v - maxVal)
		sum += row[i]
	}
	floats.Scale(1/sum, row)
}

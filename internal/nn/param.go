package nn

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

// Param is a named tensor with its gradient accumulator. Non-trainable
// params (batch-norm running statistics) are saved and loaded but skipped by
// the optimizer.
type Param struct {
	Name      string
	Value     *Tensor
	Grad      []float64
	Trainable bool

	// Adam moments.
	m, v []float64
}

func newParam(name string, trainable bool, shape ...int) *Param {
	t := NewTensor(shape...)
	p := &Param{Name: name, Value: t, Trainable: trainable}
	if trainable {
		p.Grad = make([]float64, t.Len())
	}
	return p
}

// heInit fills p with N(0, 2/fanIn).
func heInit(p *Param, fanIn int, rng *rand.Rand) {
	stddev := math.Sqrt(2.0 / float64(fanIn))
	for i := range p.Value.Data {
		p.Value.Data[i] = rng.NormFloat64() * stddev
	}
}

func fill(p *Param, v float64) {
	for i := range p.Value.Data {
		p.Value.Data[i] = v
	}
}

// ZeroGrad resets accumulated gradients.
func ZeroGrad(params []*Param) {
	for _, p := range params {
		clear(p.Grad)
	}
}

// StateDict maps parameter names to tensors.
type StateDict map[string]*Tensor

// State copies the values of params into a new StateDict.
func State(params []*Param) StateDict {
	sd := make(StateDict, len(params))
	for _, p := range params {
		sd[p.Name] = p.Value.Clone()
	}
	return sd
}

// LoadState copies sd into params. Every entry is validated before anything
// is written, so a failed load leaves params untouched.
func LoadState(params []*Param, sd StateDict) error {
	if len(sd) != len(params) {
		return fmt.Errorf("%w: state has %d tensors, model has %d", ErrShapeMismatch, len(sd), len(params))
	}
	for _, p := range params {
		t, ok := sd[p.Name]
		if !ok {
			return fmt.Errorf("%w: missing tensor %q", ErrShapeMismatch, p.Name)
		}
		if !p.Value.SameShape(t) || len(t.Data) != p.Value.Len() {
			return fmt.Errorf("%w: tensor %q has shape %v, want %v", ErrShapeMismatch, p.Name, t.Shape, p.Value.Shape)
		}
	}
	for _, p := range params {
		copy(p.Value.Data, sd[p.Name].Data)
	}
	return nil
}

// Shapes lists name → shape for params, in order.
func Shapes(params []*Param) map[string][]int {
	out := make(map[string][]int, len(params))
	for _, p := range params {
		out[p.Name] = slices.Clone(p.Value.Shape)
	}
	return out
}

// Adam implements the Adam update rule over trainable params.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	step int
}

// NewAdam returns an optimizer with the usual defaults and the given rate.
func NewAdam(lr float64) *Adam {
	return &Adam{LearningRate: lr, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}
}

// Steps is the number of updates applied so far.
func (a *Adam) Steps() int { return a.step }

// Step applies one update using the accumulated gradients.
func (a *Adam) Step(params []*Param) {
	a.step++
	c1 := 1 - math.Pow(a.Beta1, float64(a.step))
	c2 := 1 - math.Pow(a.Beta2, float64(a.step))
	for _, p := range params {
		if !p.Trainable {
			continue
		}
		if p.m == nil {
			p.m = make([]float64, p.Value.Len())
			p.v = make([]float64, p.Value.Len())
		}
		for i, g := range p.Grad {
			p.m[i] = a.Beta1*p.m[i] + (1-a.Beta1)*g
			p.v[i] = a.Beta2*p.v[i] + (1-a.Beta2)*g*g
			mHat := p.m[i] / c1
			vHat := p.v[i] / c2
			p.Value.Data[i] -= a.LearningRate * mHat / (math.Sqrt(vHat) + a.Epsilon)
		}
	}
}

// MSE returns the mean squared error and its gradient with respect to pred.
func MSE(pred, target []float64) (float64, []float64) {
	n := float64(len(pred))
	grad := make([]float64, len(pred))
	var loss float64
	for i := range pred {
		d := pred[i] - target[i]
		loss += d * d
		grad[i] = 2 * d / n
	}
	return loss / n, grad
}

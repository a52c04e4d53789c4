// Package forecast implements the convolution + temporal attention
// regressor that maps a window of normalized flows to the next value.
package forecast

import (
	"fmt"
	"math/rand/v2"

	"traffic_forecaster/internal/nn"
)

// Model is a ForecastModel instance. Training-mode forward passes record a
// tape for Backward; inference-mode passes touch no model state and may run
// concurrently.
type Model struct {
	arch     Architecture
	backbone *nn.Sequential
	pooling  nn.TemporalPooling
	head     *nn.Sequential
	params   []*nn.Param

	mode nn.Mode
	rng  *rand.Rand
	tape *tape
}

type tape struct {
	batch                int
	backbone, pool, head any
}

// New builds a freshly initialized model. seed drives both weight
// initialization and dropout masks.
func New(arch Architecture, seed uint64) (*Model, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(seed, 0))

	backbone := &nn.Sequential{}
	in := arch.InputChannels()
	for i, out := range arch.Channels {
		name := fmt.Sprintf("conv%d", i+1)
		backbone.Layers = append(backbone.Layers,
			nn.NewConv1D(name+".conv", in, out, arch.KernelSize, rng),
			nn.NewBatchNorm1D(name+".bn", out),
			nn.ReLU{},
			nn.Dropout{Rate: arch.ConvDropout},
		)
		in = out
	}

	var pooling nn.TemporalPooling
	switch arch.Pooling {
	case PoolingSelfAttention:
		pooling = nn.NewSelfAttentionPooling("pool", in, arch.Heads, rng)
	default:
		pooling = nn.NewAttentionPooling("pool", in, arch.AttentionHidden, rng)
	}

	head := &nn.Sequential{}
	width := in * arch.WindowLength
	for i, h := range arch.Hidden {
		head.Layers = append(head.Layers,
			nn.NewDense(fmt.Sprintf("head.dense%d", i+1), width, h, rng),
			nn.ReLU{},
			nn.Dropout{Rate: arch.HeadDropout},
		)
		width = h
	}
	head.Layers = append(head.Layers, nn.NewDense("head.out", width, 1, rng))

	m := &Model{
		arch:     arch,
		backbone: backbone,
		pooling:  pooling,
		head:     head,
		mode:     nn.Inference,
		rng:      rng,
	}
	m.params = append(m.params, backbone.Params()...)
	m.params = append(m.params, pooling.Params()...)
	m.params = append(m.params, head.Params()...)
	return m, nil
}

func (m *Model) Architecture() Architecture { return m.arch }

func (m *Model) Mode() nn.Mode { return m.mode }

// SetMode switches dropout and batch norm behavior. Leaving training mode
// drops any recorded tape.
func (m *Model) SetMode(mode nn.Mode) {
	m.mode = mode
	if mode != nn.Training {
		m.tape = nil
	}
}

func (m *Model) Params() []*nn.Param { return m.params }

// ParamCount is the number of trainable scalars.
func (m *Model) ParamCount() int {
	var n int
	for _, p := range m.params {
		if p.Trainable {
			n += p.Value.Len()
		}
	}
	return n
}

func (m *Model) input(batch [][]float64) (*nn.Tensor, error) {
	size := m.arch.InputSize()
	x := nn.NewTensor(len(batch), m.arch.InputChannels(), m.arch.WindowLength)
	for i, w := range batch {
		if len(w) != size {
			return nil, fmt.Errorf("%w: got %d values, model expects %d", ErrWindowLength, len(w), size)
		}
		copy(x.Data[i*size:], w)
	}
	return x, nil
}

// Forward predicts one value per window. With image features each window
// is channel-major: WindowLength flows, then WindowLength values per image
// channel.
func (m *Model) Forward(batch [][]float64) ([]float64, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	x, err := m.input(batch)
	if err != nil {
		return nil, err
	}

	pass := nn.Pass{Mode: m.mode}
	if m.mode == nn.Training {
		pass.RNG = m.rng
	}
	feat, cb := m.backbone.Forward(x, pass)
	pooled, cp := m.pooling.Forward(feat, pass)
	out, ch := m.head.Forward(pooled, pass)

	if m.mode == nn.Training {
		m.tape = &tape{batch: len(batch), backbone: cb, pool: cp, head: ch}
	}
	return out.Data, nil
}

// Backward accumulates parameter gradients for the last training-mode
// Forward, given dLoss/dOutput.
func (m *Model) Backward(dOut []float64) error {
	if m.tape == nil {
		return ErrNoForwardPass
	}
	if len(dOut) != m.tape.batch {
		return fmt.Errorf("%w: %d output gradients for batch of %d", ErrWindowLength, len(dOut), m.tape.batch)
	}
	t := m.tape
	m.tape = nil

	dy := nn.FromData(append([]float64(nil), dOut...), t.batch, 1)
	dy = m.head.Backward(dy, t.head)
	dy = m.pooling.Backward(dy, t.pool)
	m.backbone.Backward(dy, t.backbone)
	return nil
}

// ZeroGrad clears accumulated gradients.
func (m *Model) ZeroGrad() { nn.ZeroGrad(m.params) }

// AttentionWeights returns the L per-timestep pooling weights for one
// window. They are non-negative and sum to 1.
func (m *Model) AttentionWeights(window []float64) ([]float64, error) {
	x, err := m.input([][]float64{window})
	if err != nil {
		return nil, err
	}
	feat, _ := m.backbone.Forward(x, nn.Pass{Mode: nn.Inference})
	return m.pooling.Weights(feat)[0], nil
}

// StateDict returns a copy of every parameter and running statistic.
func (m *Model) StateDict() nn.StateDict { return nn.State(m.params) }

// LoadStateDict replaces all parameters. Nothing is written unless every
// tensor matches.
func (m *Model) LoadStateDict(sd nn.StateDict) error {
	if err := nn.LoadState(m.params, sd); err != nil {
		return fmt.Errorf("%w: %w", ErrArchitectureMismatch, err)
	}
	return nil
}

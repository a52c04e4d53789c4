package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Mode selects training or inference behavior for dropout and batch norm.
type Mode int

const (
	Inference Mode = iota
	Training
)

func (m Mode) String() string {
	if m == Training {
		return "training"
	}
	return "inference"
}

// Pass carries per-call settings. RNG is only consulted in training mode.
type Pass struct {
	Mode Mode
	RNG  *rand.Rand
}

// Layer is a differentiable block. Backward accumulates parameter gradients
// and returns the gradient with respect to the layer input.
type Layer interface {
	Forward(x *Tensor, p Pass) (*Tensor, any)
	Backward(dy *Tensor, cache any) *Tensor
	Params() []*Param
}

// Sequential chains layers.
type Sequential struct {
	Layers []Layer
}

func (s *Sequential) Forward(x *Tensor, p Pass) (*Tensor, any) {
	caches := make([]any, len(s.Layers))
	for i, l := range s.Layers {
		x, caches[i] = l.Forward(x, p)
	}
	return x, caches
}

func (s *Sequential) Backward(dy *Tensor, cache any) *Tensor {
	caches := cache.([]any)
	for i := len(s.Layers) - 1; i >= 0; i-- {
		dy = s.Layers[i].Backward(dy, caches[i])
	}
	return dy
}

func (s *Sequential) Params() []*Param {
	var ps []*Param
	for _, l := range s.Layers {
		ps = append(ps, l.Params()...)
	}
	return ps
}

// Conv1D is a same-padded 1-D convolution over [B, In, L] inputs.
// Weight shape is [Out, In, K]; K must be odd.
type Conv1D struct {
	In, Out, K int
	W, B       *Param
}

func NewConv1D(name string, in, out, k int, rng *rand.Rand) *Conv1D {
	if k%2 == 0 {
		panic(fmt.Sprintf("nn: conv kernel %d must be odd", k))
	}
	c := &Conv1D{
		In: in, Out: out, K: k,
		W: newParam(name+".weight", true, out, in, k),
		B: newParam(name+".bias", true, out),
	}
	heInit(c.W, in*k, rng)
	return c
}

func (c *Conv1D) Params() []*Param { return []*Param{c.W, c.B} }

func (c *Conv1D) Forward(x *Tensor, _ Pass) (*Tensor, any) {
	b, l := x.Shape[0], x.Shape[2]
	pad := c.K / 2
	y := NewTensor(b, c.Out, l)
	w := c.W.Value.Data
	for bi := 0; bi < b; bi++ {
		for o := 0; o < c.Out; o++ {
			row := y.Data[(bi*c.Out+o)*l : (bi*c.Out+o+1)*l]
			for t := range row {
				row[t] = c.B.Value.Data[o]
			}
			for i := 0; i < c.In; i++ {
				xs := x.Data[(bi*c.In+i)*l : (bi*c.In+i+1)*l]
				ws := w[(o*c.In+i)*c.K : (o*c.In+i+1)*c.K]
				for k, wk := range ws {
					shift := k - pad
					lo, hi := max(0, -shift), min(l, l-shift)
					for t := lo; t < hi; t++ {
						row[t] += wk * xs[t+shift]
					}
				}
			}
		}
	}
	return y, x
}

func (c *Conv1D) Backward(dy *Tensor, cache any) *Tensor {
	x := cache.(*Tensor)
	b, l := x.Shape[0], x.Shape[2]
	pad := c.K / 2
	dx := NewTensor(b, c.In, l)
	w := c.W.Value.Data
	for bi := 0; bi < b; bi++ {
		for o := 0; o < c.Out; o++ {
			drow := dy.Data[(bi*c.Out+o)*l : (bi*c.Out+o+1)*l]
			c.B.Grad[o] += floats.Sum(drow)
			for i := 0; i < c.In; i++ {
				xs := x.Data[(bi*c.In+i)*l : (bi*c.In+i+1)*l]
				dxs := dx.Data[(bi*c.In+i)*l : (bi*c.In+i+1)*l]
				base := (o*c.In + i) * c.K
				for k := 0; k < c.K; k++ {
					shift := k - pad
					lo, hi := max(0, -shift), min(l, l-shift)
					wk := w[base+k]
					var g float64
					for t := lo; t < hi; t++ {
						g += drow[t] * xs[t+shift]
						dxs[t+shift] += drow[t] * wk
					}
					c.W.Grad[base+k] += g
				}
			}
		}
	}
	return dx
}

// BatchNorm1D normalizes each channel of [B, C, L] inputs. Training mode uses
// batch statistics and updates the running estimates; inference mode uses
// the running estimates only.
type BatchNorm1D struct {
	C        int
	Momentum float64
	Eps      float64

	Gamma, Beta     *Param
	RunMean, RunVar *Param
}

func NewBatchNorm1D(name string, c int) *BatchNorm1D {
	bn := &BatchNorm1D{
		C:        c,
		Momentum: 0.1,
		Eps:      1e-5,
		Gamma:    newParam(name+".gamma", true, c),
		Beta:     newParam(name+".beta", true, c),
		RunMean:  newParam(name+".running_mean", false, c),
		RunVar:   newParam(name+".running_var", false, c),
	}
	fill(bn.Gamma, 1)
	fill(bn.RunVar, 1)
	return bn
}

func (bn *BatchNorm1D) Params() []*Param {
	return []*Param{bn.Gamma, bn.Beta, bn.RunMean, bn.RunVar}
}

type bnCache struct {
	xhat   *Tensor
	invStd []float64
	mode   Mode
}

func (bn *BatchNorm1D) Forward(x *Tensor, p Pass) (*Tensor, any) {
	b, c, l := x.Shape[0], x.Shape[1], x.Shape[2]
	n := float64(b * l)
	mean := make([]float64, c)
	variance := make([]float64, c)

	if p.Mode == Training {
		for ci := 0; ci < c; ci++ {
			var s float64
			for bi := 0; bi < b; bi++ {
				s += floats.Sum(x.Data[(bi*c+ci)*l : (bi*c+ci+1)*l])
			}
			mean[ci] = s / n
			var ss float64
			for bi := 0; bi < b; bi++ {
				for _, v := range x.Data[(bi*c+ci)*l : (bi*c+ci+1)*l] {
					d := v - mean[ci]
					ss += d * d
				}
			}
			variance[ci] = ss / n

			unbiased := variance[ci]
			if n > 1 {
				unbiased = ss / (n - 1)
			}
			m := bn.Momentum
			bn.RunMean.Value.Data[ci] = (1-m)*bn.RunMean.Value.Data[ci] + m*mean[ci]
			bn.RunVar.Value.Data[ci] = (1-m)*bn.RunVar.Value.Data[ci] + m*unbiased
		}
	} else {
		copy(mean, bn.RunMean.Value.Data)
		copy(variance, bn.RunVar.Value.Data)
	}

	invStd := make([]float64, c)
	for ci := range invStd {
		invStd[ci] = 1 / math.Sqrt(variance[ci]+bn.Eps)
	}

	xhat := NewTensor(b, c, l)
	y := NewTensor(b, c, l)
	for bi := 0; bi < b; bi++ {
		for ci := 0; ci < c; ci++ {
			off := (bi*c + ci) * l
			g, be := bn.Gamma.Value.Data[ci], bn.Beta.Value.Data[ci]
			for t := 0; t < l; t++ {
				h := (x.Data[off+t] - mean[ci]) * invStd[ci]
				xhat.Data[off+t] = h
				y.Data[off+t] = g*h + be
			}
		}
	}
	return y, &bnCache{xhat: xhat, invStd: invStd, mode: p.Mode}
}

func (bn *BatchNorm1D) Backward(dy *Tensor, cache any) *Tensor {
	bc := cache.(*bnCache)
	b, c, l := dy.Shape[0], dy.Shape[1], dy.Shape[2]
	n := float64(b * l)
	dx := NewTensor(b, c, l)

	for ci := 0; ci < c; ci++ {
		var sumDy, sumDyXhat float64
		for bi := 0; bi < b; bi++ {
			off := (bi*c + ci) * l
			for t := 0; t < l; t++ {
				sumDy += dy.Data[off+t]
				sumDyXhat += dy.Data[off+t] * bc.xhat.Data[off+t]
			}
		}
		bn.Beta.Grad[ci] += sumDy
		bn.Gamma.Grad[ci] += sumDyXhat

		g := bn.Gamma.Value.Data[ci]
		inv := bc.invStd[ci]
		for bi := 0; bi < b; bi++ {
			off := (bi*c + ci) * l
			for t := 0; t < l; t++ {
				if bc.mode == Training {
					dx.Data[off+t] = g * inv / n * (n*dy.Data[off+t] - sumDy - bc.xhat.Data[off+t]*sumDyXhat)
				} else {
					dx.Data[off+t] = g * inv * dy.Data[off+t]
				}
			}
		}
	}
	return dx
}

// ReLU is max(0, x).
type ReLU struct{}

func (ReLU) Params() []*Param { return nil }

func (ReLU) Forward(x *Tensor, _ Pass) (*Tensor, any) {
	y := x.Clone()
	for i, v := range y.Data {
		if v < 0 {
			y.Data[i] = 0
		}
	}
	return y, y
}

func (ReLU) Backward(dy *Tensor, cache any) *Tensor {
	y := cache.(*Tensor)
	dx := dy.Clone()
	for i, v := range y.Data {
		if v <= 0 {
			dx.Data[i] = 0
		}
	}
	return dx
}

// Tanh is the hyperbolic tangent.
type Tanh struct{}

func (Tanh) Params() []*Param { return nil }

func (Tanh) Forward(x *Tensor, _ Pass) (*Tensor, any) {
	y := x.Clone()
	for i, v := range y.Data {
		y.Data[i] = math.Tanh(v)
	}
	return y, y
}

func (Tanh) Backward(dy *Tensor, cache any) *Tensor {
	y := cache.(*Tensor)
	dx := dy.Clone()
	for i, v := range y.Data {
		dx.Data[i] *= 1 - v*v
	}
	return dx
}

// Dropout zeroes elements with probability Rate during training and scales
// survivors by 1/(1-Rate). It is the identity in inference mode.
type Dropout struct {
	Rate float64
}

func (d Dropout) Params() []*Param { return nil }

func (d Dropout) Forward(x *Tensor, p Pass) (*Tensor, any) {
	if p.Mode != Training || d.Rate <= 0 {
		return x, nil
	}
	if p.RNG == nil {
		panic("nn: dropout in training mode needs an RNG")
	}
	keep := 1 - d.Rate
	mask := make([]float64, x.Len())
	y := NewTensor(x.Shape...)
	for i, v := range x.Data {
		if p.RNG.Float64() < keep {
			mask[i] = 1 / keep
			y.Data[i] = v / keep
		}
	}
	return y, mask
}

func (d Dropout) Backward(dy *Tensor, cache any) *Tensor {
	if cache == nil {
		return dy
	}
	mask := cache.([]float64)
	dx := NewTensor(dy.Shape...)
	floats.MulTo(dx.Data, dy.Data, mask)
	return dx
}

// Dense is a fully connected layer over [N, In] inputs. Weight shape is
// [Out, In].
type Dense struct {
	In, Out int
	W, B    *Param
}

func NewDense(name string, in, out int, rng *rand.Rand) *Dense {
	d := &Dense{
		In: in, Out: out,
		W: newParam(name+".weight", true, out, in),
		B: newParam(name+".bias", true, out),
	}
	heInit(d.W, in, rng)
	return d
}

func (d *Dense) Params() []*Param { return []*Param{d.W, d.B} }

func (d *Dense) Forward(x *Tensor, _ Pass) (*Tensor, any) {
	n := x.Shape[0]
	xm := mat.NewDense(n, d.In, x.Data)
	wm := mat.NewDense(d.Out, d.In, d.W.Value.Data)
	ym := mat.NewDense(n, d.Out, nil)
	ym.Mul(xm, wm.T())
	for i := 0; i < n; i++ {
		floats.Add(ym.RawRowView(i), d.B.Value.Data)
	}
	return FromData(ym.RawMatrix().Data, n, d.Out), x
}

func (d *Dense) Backward(dy *Tensor, cache any) *Tensor {
	x := cache.(*Tensor)
	n := x.Shape[0]
	xm := mat.NewDense(n, d.In, x.Data)
	dym := mat.NewDense(n, d.Out, dy.Data)
	wm := mat.NewDense(d.Out, d.In, d.W.Value.Data)

	var dw mat.Dense
	dw.Mul(dym.T(), xm)
	floats.Add(d.W.Grad, dw.RawMatrix().Data)
	for i := 0; i < n; i++ {
		floats.Add(d.B.Grad, dym.RawRowView(i))
	}

	dxm := mat.NewDense(n, d.In, nil)
	dxm.Mul(dym, wm)
	return FromData(dxm.RawMatrix().Data, n, d.In)
}

package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// TemporalPooling weighs the timesteps of a [B, C, L] feature map and
// flattens it to [B, L*C] in timestep-major order.
type TemporalPooling interface {
	Layer
	// Weights returns one row of L per-timestep weights per batch entry,
	// each row summing to 1. It runs in inference mode.
	Weights(x *Tensor) [][]float64
}

func softmaxInPlace(v []float64) {
	m := floats.Max(v)
	var s float64
	for i, x := range v {
		v[i] = math.Exp(x - m)
		s += v[i]
	}
	floats.Scale(1/s, v)
}

// AttentionPooling scores each timestep with Dense(C→H) → tanh → Dense(H→1),
// softmaxes the scores over time and scales each timestep's features by its
// weight.
type AttentionPooling struct {
	C, Hidden int
	Score1    *Dense
	Score2    *Dense
}

func NewAttentionPooling(name string, c, hidden int, rng *rand.Rand) *AttentionPooling {
	return &AttentionPooling{
		C:      c,
		Hidden: hidden,
		Score1: NewDense(name+".score1", c, hidden, rng),
		Score2: NewDense(name+".score2", hidden, 1, rng),
	}
}

func (a *AttentionPooling) Params() []*Param {
	return append(a.Score1.Params(), a.Score2.Params()...)
}

type attnCache struct {
	b, l      int
	h         *Tensor // [B*L, C]
	w         [][]float64
	s1, t, s2 any
}

func (a *AttentionPooling) Forward(x *Tensor, p Pass) (*Tensor, any) {
	b, l := x.Shape[0], x.Shape[2]
	h := ToTimeMajor(x)

	z1, c1 := a.Score1.Forward(h, p)
	act, ct := Tanh{}.Forward(z1, p)
	z2, c2 := a.Score2.Forward(act, p)

	w := make([][]float64, b)
	out := NewTensor(b, l*a.C)
	for bi := 0; bi < b; bi++ {
		w[bi] = make([]float64, l)
		copy(w[bi], z2.Data[bi*l:(bi+1)*l])
		softmaxInPlace(w[bi])
		for t := 0; t < l; t++ {
			src := h.Data[(bi*l+t)*a.C : (bi*l+t+1)*a.C]
			dst := out.Data[bi*l*a.C+t*a.C : bi*l*a.C+(t+1)*a.C]
			floats.ScaleTo(dst, w[bi][t], src)
		}
	}
	return out, &attnCache{b: b, l: l, h: h, w: w, s1: c1, t: ct, s2: c2}
}

func (a *AttentionPooling) Backward(dy *Tensor, cache any) *Tensor {
	ac := cache.(*attnCache)
	b, l, c := ac.b, ac.l, a.C
	dh := NewTensor(b*l, c)
	dz2 := NewTensor(b*l, 1)

	dw := make([]float64, l)
	for bi := 0; bi < b; bi++ {
		for t := 0; t < l; t++ {
			g := dy.Data[bi*l*c+t*c : bi*l*c+(t+1)*c]
			hrow := ac.h.Data[(bi*l+t)*c : (bi*l+t+1)*c]
			floats.AddScaled(dh.Data[(bi*l+t)*c:(bi*l+t+1)*c], ac.w[bi][t], g)
			dw[t] = floats.Dot(g, hrow)
		}
		dot := floats.Dot(ac.w[bi], dw)
		for t := 0; t < l; t++ {
			dz2.Data[bi*l+t] = ac.w[bi][t] * (dw[t] - dot)
		}
	}

	dact := a.Score2.Backward(dz2, ac.s2)
	dz1 := Tanh{}.Backward(dact, ac.t)
	floats.Add(dh.Data, a.Score1.Backward(dz1, ac.s1).Data)
	return FromTimeMajor(dh, b, c, l)
}

func (a *AttentionPooling) Weights(x *Tensor) [][]float64 {
	_, cache := a.Forward(x, Pass{Mode: Inference})
	return cache.(*attnCache).w
}

// SelfAttentionPooling applies multi-head scaled dot-product self-attention
// across timesteps followed by an output projection. Its per-timestep
// weights are the head-averaged attention each timestep receives.
type SelfAttentionPooling struct {
	C, Heads   int
	Q, K, V, O *Dense
}

func NewSelfAttentionPooling(name string, c, heads int, rng *rand.Rand) *SelfAttentionPooling {
	if heads <= 0 || c%heads != 0 {
		panic("nn: channels must be divisible by heads")
	}
	return &SelfAttentionPooling{
		C:     c,
		Heads: heads,
		Q:     NewDense(name+".query", c, c, rng),
		K:     NewDense(name+".key", c, c, rng),
		V:     NewDense(name+".value", c, c, rng),
		O:     NewDense(name+".out", c, c, rng),
	}
}

func (s *SelfAttentionPooling) Params() []*Param {
	var ps []*Param
	for _, d := range []*Dense{s.Q, s.K, s.V, s.O} {
		ps = append(ps, d.Params()...)
	}
	return ps
}

type selfAttnCache struct {
	b, l           int
	q, k, v        *mat.Dense
	attn           [][]*mat.Dense // [batch][head] L×L
	cq, ck, cv, co any
}

func (s *SelfAttentionPooling) headView(m *mat.Dense, bi, hi, l int) *mat.Dense {
	dh := s.C / s.Heads
	return m.Slice(bi*l, (bi+1)*l, hi*dh, (hi+1)*dh).(*mat.Dense)
}

func (s *SelfAttentionPooling) Forward(x *Tensor, p Pass) (*Tensor, any) {
	b, l := x.Shape[0], x.Shape[2]
	h := ToTimeMajor(x)
	n := b * l

	qt, cq := s.Q.Forward(h, p)
	kt, ck := s.K.Forward(h, p)
	vt, cv := s.V.Forward(h, p)
	q := mat.NewDense(n, s.C, qt.Data)
	k := mat.NewDense(n, s.C, kt.Data)
	v := mat.NewDense(n, s.C, vt.Data)

	scale := 1 / math.Sqrt(float64(s.C/s.Heads))
	ctx := mat.NewDense(n, s.C, nil)
	attn := make([][]*mat.Dense, b)
	for bi := 0; bi < b; bi++ {
		attn[bi] = make([]*mat.Dense, s.Heads)
		for hi := 0; hi < s.Heads; hi++ {
			a := mat.NewDense(l, l, nil)
			a.Mul(s.headView(q, bi, hi, l), s.headView(k, bi, hi, l).T())
			a.Scale(scale, a)
			for r := 0; r < l; r++ {
				softmaxInPlace(a.RawRowView(r))
			}
			s.headView(ctx, bi, hi, l).Mul(a, s.headView(v, bi, hi, l))
			attn[bi][hi] = a
		}
	}

	out, co := s.O.Forward(FromData(ctx.RawMatrix().Data, n, s.C), p)
	return out.Reshape(b, l*s.C), &selfAttnCache{
		b: b, l: l, q: q, k: k, v: v, attn: attn,
		cq: cq, ck: ck, cv: cv, co: co,
	}
}

func (s *SelfAttentionPooling) Backward(dy *Tensor, cache any) *Tensor {
	sc := cache.(*selfAttnCache)
	b, l := sc.b, sc.l
	n := b * l
	scale := 1 / math.Sqrt(float64(s.C/s.Heads))

	dctx := mat.NewDense(n, s.C, s.O.Backward(dy.Reshape(n, s.C), sc.co).Data)
	dq := mat.NewDense(n, s.C, nil)
	dk := mat.NewDense(n, s.C, nil)
	dv := mat.NewDense(n, s.C, nil)

	for bi := 0; bi < b; bi++ {
		for hi := 0; hi < s.Heads; hi++ {
			a := sc.attn[bi][hi]
			dc := s.headView(dctx, bi, hi, l)

			s.headView(dv, bi, hi, l).Mul(a.T(), dc)

			da := mat.NewDense(l, l, nil)
			da.Mul(dc, s.headView(sc.v, bi, hi, l).T())
			for r := 0; r < l; r++ {
				arow, drow := a.RawRowView(r), da.RawRowView(r)
				dot := floats.Dot(arow, drow)
				for j := range drow {
					drow[j] = arow[j] * (drow[j] - dot) * scale
				}
			}
			s.headView(dq, bi, hi, l).Mul(da, s.headView(sc.k, bi, hi, l))
			s.headView(dk, bi, hi, l).Mul(da.T(), s.headView(sc.q, bi, hi, l))
		}
	}

	dh := s.Q.Backward(FromData(dq.RawMatrix().Data, n, s.C), sc.cq)
	floats.Add(dh.Data, s.K.Backward(FromData(dk.RawMatrix().Data, n, s.C), sc.ck).Data)
	floats.Add(dh.Data, s.V.Backward(FromData(dv.RawMatrix().Data, n, s.C), sc.cv).Data)
	return FromTimeMajor(dh, b, s.C, l)
}

func (s *SelfAttentionPooling) Weights(x *Tensor) [][]float64 {
	_, cache := s.Forward(x, Pass{Mode: Inference})
	sc := cache.(*selfAttnCache)
	norm := 1 / float64(s.Heads*sc.l)
	out := make([][]float64, sc.b)
	for bi := range out {
		out[bi] = make([]float64, sc.l)
		for _, a := range sc.attn[bi] {
			for r := 0; r < sc.l; r++ {
				floats.AddScaled(out[bi], norm, a.RawRowView(r))
			}
		}
	}
	return out
}

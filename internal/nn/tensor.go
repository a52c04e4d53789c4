// Package nn is a small hand-written layer kit: tensors, parameters,
// forward/backward layers, the Adam optimizer and state dictionaries.
//
// Layers never keep per-call state. Forward returns an opaque cache that the
// caller hands back to Backward, so a model in inference mode can be shared
// across goroutines.
package nn

import (
	"errors"
	"fmt"
	"slices"
)

var ErrShapeMismatch = errors.New("shape mismatch")

// Tensor is a dense row-major array.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// NewTensor allocates a zero tensor of the given shape.
func NewTensor(shape ...int) *Tensor {
	return &Tensor{Shape: slices.Clone(shape), Data: make([]float64, volume(shape))}
}

// FromData wraps data with the given shape. It panics if the sizes disagree.
func FromData(data []float64, shape ...int) *Tensor {
	if len(data) != volume(shape) {
		panic(fmt.Sprintf("nn: %d values for shape %v", len(data), shape))
	}
	return &Tensor{Shape: slices.Clone(shape), Data: data}
}

// Len is the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
}

// SameShape reports whether t and o have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	return slices.Equal(t.Shape, o.Shape)
}

// Reshape returns a tensor sharing t's data with a new shape.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	return FromData(t.Data, shape...)
}

func volume(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// ToTimeMajor converts [B, C, L] to [B*L, C] so that row b*L+t holds the
// feature vector of timestep t.
func ToTimeMajor(x *Tensor) *Tensor {
	b, c, l := x.Shape[0], x.Shape[1], x.Shape[2]
	out := NewTensor(b*l, c)
	for bi := 0; bi < b; bi++ {
		for ci := 0; ci < c; ci++ {
			src := x.Data[(bi*c+ci)*l : (bi*c+ci+1)*l]
			for t, v := range src {
				out.Data[(bi*l+t)*c+ci] = v
			}
		}
	}
	return out
}

// FromTimeMajor is the inverse of ToTimeMajor.
func FromTimeMajor(x *Tensor, b, c, l int) *Tensor {
	out := NewTensor(b, c, l)
	for bi := 0; bi < b; bi++ {
		for t := 0; t < l; t++ {
			row := x.Data[(bi*l+t)*c : (bi*l+t+1)*c]
			for ci, v := range row {
				out.Data[(bi*c+ci)*l+t] = v
			}
		}
	}
	return out
}

// Package tensor implements dense float64 tensors with a reverse-mode
// autograd tape. Image tensors use NCHW layout.
//
// Shape mismatches inside an op are programming errors and panic, the same
// way gonum's mat package does. Callers validate data-derived shapes first.
package tensor

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// Tensor is a dense row-major array that optionally participates in
// gradient computation.
type Tensor struct {
	Shape []int
	Data  []float64
	Grad  []float64

	requiresGrad bool
	parents      []*Tensor
	backward     func()
}

// New allocates a zero tensor of the given shape.
func New(shape ...int) *Tensor {
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float64, numel(shape))}
}

// FromData wraps data without copying. len(data) must match shape.
func FromData(data []float64, shape ...int) *Tensor {
	if len(data) != numel(shape) {
		panic(fmt.Sprintf("tensor: %d values for shape %v", len(data), shape))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}
}

// Full returns a tensor of the given shape filled with v.
func Full(v float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

// Scalar returns a one-element tensor.
func Scalar(v float64) *Tensor {
	return &Tensor{Shape: []int{1}, Data: []float64{v}}
}

// Normal returns a tensor sampled from N(mean, std).
func Normal(rng *rand.Rand, mean, std float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = mean + std*rng.NormFloat64()
	}
	return t
}

// Param marks t as a trainable leaf and returns it.
func Param(t *Tensor) *Tensor {
	t.requiresGrad = true
	return t
}

// RequiresGrad reports whether gradients flow into t.
func (t *Tensor) RequiresGrad() bool { return t.requiresGrad }

// SetRequiresGrad toggles gradient tracking on a leaf tensor. Graphs that
// were already recorded are unaffected.
func (t *Tensor) SetRequiresGrad(v bool) { t.requiresGrad = v }

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// Item returns the single value of a one-element tensor.
func (t *Tensor) Item() float64 {
	if len(t.Data) != 1 {
		panic(fmt.Sprintf("tensor: Item on shape %v", t.Shape))
	}
	return t.Data[0]
}

// Detach returns a copy of t that is cut off from the graph.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{Shape: append([]int(nil), t.Shape...), Data: append([]float64(nil), t.Data...)}
}

// ZeroGrad drops the accumulated gradient.
func (t *Tensor) ZeroGrad() { t.Grad = nil }

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.Shape)
}

func (t *Tensor) accumulate(g []float64) {
	if !t.requiresGrad {
		return
	}
	if t.Grad == nil {
		t.Grad = make([]float64, len(t.Data))
	}
	floats.Add(t.Grad, g)
}

func (t *Tensor) gradBuf() []float64 {
	if t.Grad == nil {
		t.Grad = make([]float64, len(t.Data))
	}
	return t.Grad
}

// result builds an op output whose gradient tracking follows its inputs.
func result(data []float64, shape []int, parents ...*Tensor) *Tensor {
	out := &Tensor{Shape: shape, Data: data}
	for _, p := range parents {
		if p.requiresGrad {
			out.requiresGrad = true
			out.parents = parents
			break
		}
	}
	return out
}

// Backward propagates d(root)/d(x) into every tensor reachable from root
// that requires gradients. root must hold a single value.
func Backward(root *Tensor) {
	if len(root.Data) != 1 {
		panic(fmt.Sprintf("tensor: Backward on non-scalar %v", root.Shape))
	}
	if !root.requiresGrad {
		return
	}
	order := topo(root)
	root.gradBuf()[0] += 1
	for i := len(order) - 1; i >= 0; i-- {
		if n := order[i]; n.backward != nil && n.Grad != nil {
			n.backward()
		}
	}
}

func topo(root *Tensor) []*Tensor {
	var order []*Tensor
	seen := make(map[*Tensor]bool)
	type frame struct {
		t    *Tensor
		next int
	}
	stack := []frame{{t: root}}
	seen[root] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(top.t.parents) {
			p := top.t.parents[top.next]
			top.next++
			if p.requiresGrad && !seen[p] {
				seen[p] = true
				stack = append(stack, frame{t: p})
			}
			continue
		}
		order = append(order, top.t)
		stack = stack[:len(stack)-1]
	}
	return order
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Sprintf("tensor: negative dimension in %v", shape))
		}
		n *= d
	}
	return n
}

func mustSameShape(op string, a, b *Tensor) {
	if !SameShape(a, b) {
		panic(fmt.Sprintf("tensor: %s shape mismatch %v vs %v", op, a.Shape, b.Shape))
	}
}

func must4D(op string, t *Tensor) (n, c, h, w int) {
	if len(t.Shape) != 4 {
		panic(fmt.Sprintf("tensor: %s expects NCHW, got %v", op, t.Shape))
	}
	return t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
}

package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Add returns a + b elementwise.
func Add(a, b *Tensor) *Tensor {
	mustSameShape("Add", a, b)
	data := make([]float64, len(a.Data))
	floats.AddTo(data, a.Data, b.Data)
	out := result(data, append([]int(nil), a.Shape...), a, b)
	if out.requiresGrad {
		out.backward = func() {
			a.accumulate(out.Grad)
			b.accumulate(out.Grad)
		}
	}
	return out
}

// Scale returns s * a.
func Scale(a *Tensor, s float64) *Tensor {
	data := make([]float64, len(a.Data))
	floats.ScaleTo(data, s, a.Data)
	out := result(data, append([]int(nil), a.Shape...), a)
	if out.requiresGrad {
		out.backward = func() {
			g := make([]float64, len(out.Grad))
			floats.ScaleTo(g, s, out.Grad)
			a.accumulate(g)
		}
	}
	return out
}

// Sum adds same-shaped tensors.
func Sum(ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		panic("tensor: Sum of nothing")
	}
	acc := ts[0]
	for _, t := range ts[1:] {
		acc = Add(acc, t)
	}
	return acc
}

// ReLU returns max(x, 0).
func ReLU(x *Tensor) *Tensor {
	return LeakyReLU(x, 0)
}

// LeakyReLU returns x for x > 0 and slope*x otherwise.
func LeakyReLU(x *Tensor, slope float64) *Tensor {
	data := make([]float64, len(x.Data))
	for i, v := range x.Data {
		if v > 0 {
			data[i] = v
		} else {
			data[i] = slope * v
		}
	}
	out := result(data, append([]int(nil), x.Shape...), x)
	if out.requiresGrad {
		out.backward = func() {
			g := make([]float64, len(x.Data))
			for i, v := range x.Data {
				if v > 0 {
					g[i] = out.Grad[i]
				} else {
					g[i] = slope * out.Grad[i]
				}
			}
			x.accumulate(g)
		}
	}
	return out
}

// Tanh applies the hyperbolic tangent.
func Tanh(x *Tensor) *Tensor {
	data := make([]float64, len(x.Data))
	for i, v := range x.Data {
		data[i] = math.Tanh(v)
	}
	out := result(data, append([]int(nil), x.Shape...), x)
	if out.requiresGrad {
		out.backward = func() {
			g := make([]float64, len(data))
			for i, y := range data {
				g[i] = out.Grad[i] * (1 - y*y)
			}
			x.accumulate(g)
		}
	}
	return out
}

// MSEConst returns mean((x - target)^2) as a scalar.
func MSEConst(x *Tensor, target float64) *Tensor {
	n := float64(len(x.Data))
	var s float64
	for _, v := range x.Data {
		d := v - target
		s += d * d
	}
	out := result([]float64{s / n}, []int{1}, x)
	if out.requiresGrad {
		out.backward = func() {
			g := make([]float64, len(x.Data))
			k := 2 * out.Grad[0] / n
			for i, v := range x.Data {
				g[i] = k * (v - target)
			}
			x.accumulate(g)
		}
	}
	return out
}

// MSE returns mean((a - b)^2) as a scalar.
func MSE(a, b *Tensor) *Tensor {
	mustSameShape("MSE", a, b)
	n := float64(len(a.Data))
	diff := make([]float64, len(a.Data))
	floats.SubTo(diff, a.Data, b.Data)
	s := floats.Dot(diff, diff)
	out := result([]float64{s / n}, []int{1}, a, b)
	if out.requiresGrad {
		out.backward = func() {
			g := make([]float64, len(diff))
			floats.ScaleTo(g, 2*out.Grad[0]/n, diff)
			a.accumulate(g)
			floats.Scale(-1, g)
			b.accumulate(g)
		}
	}
	return out
}

// L1 returns mean(|a - b|) as a scalar. The subgradient at zero is zero.
func L1(a, b *Tensor) *Tensor {
	mustSameShape("L1", a, b)
	n := float64(len(a.Data))
	diff := make([]float64, len(a.Data))
	floats.SubTo(diff, a.Data, b.Data)
	out := result([]float64{floats.Norm(diff, 1) / n}, []int{1}, a, b)
	if out.requiresGrad {
		out.backward = func() {
			g := make([]float64, len(diff))
			k := out.Grad[0] / n
			for i, d := range diff {
				switch {
				case d > 0:
					g[i] = k
				case d < 0:
					g[i] = -k
				}
			}
			a.accumulate(g)
			floats.Scale(-1, g)
			b.accumulate(g)
		}
	}
	return out
}

// Slice returns sample i of a batch as a [1, ...] tensor.
func Slice(x *Tensor, i int) *Tensor {
	if len(x.Shape) == 0 || i < 0 || i >= x.Shape[0] {
		panic(fmt.Sprintf("tensor: Slice %d of %v", i, x.Shape))
	}
	per := len(x.Data) / x.Shape[0]
	data := append([]float64(nil), x.Data[i*per:(i+1)*per]...)
	shape := append([]int{1}, x.Shape[1:]...)
	out := result(data, shape, x)
	if out.requiresGrad {
		out.backward = func() {
			g := make([]float64, len(x.Data))
			copy(g[i*per:], out.Grad)
			x.accumulate(g)
		}
	}
	return out
}

// Concat joins tensors along the batch dimension.
func Concat(ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		panic("tensor: Concat of nothing")
	}
	tail := ts[0].Shape[1:]
	batch := 0
	var data []float64
	for _, t := range ts {
		if len(t.Shape) != len(ts[0].Shape) || !sameDims(t.Shape[1:], tail) {
			panic(fmt.Sprintf("tensor: Concat shape mismatch %v vs %v", t.Shape, ts[0].Shape))
		}
		batch += t.Shape[0]
		data = append(data, t.Data...)
	}
	out := result(data, append([]int{batch}, tail...), ts...)
	if out.requiresGrad {
		out.backward = func() {
			off := 0
			for _, t := range ts {
				t.accumulate(out.Grad[off : off+len(t.Data)])
				off += len(t.Data)
			}
		}
	}
	return out
}

// AllFinite reports whether every element is neither NaN nor infinite.
func AllFinite(t *Tensor) bool {
	for _, v := range t.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func sameDims(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

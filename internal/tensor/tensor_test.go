package tensor

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/diff/fd"
)

func TestConv2dKnownValues(t *testing.T) {
	// 1x1x3x3 input, 2x2 kernel of ones, stride 1, no padding.
	x := FromData([]float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, 1, 1, 3, 3)
	w := Full(1, 1, 1, 2, 2)
	b := FromData([]float64{0.5}, 1)
	out := Conv2d(x, w, b, 1, 0)
	want := []float64{12.5, 16.5, 24.5, 28.5}
	if len(out.Data) != len(want) {
		t.Fatalf("expected %d outputs, got %v", len(want), out.Shape)
	}
	for i, v := range want {
		if out.Data[i] != v {
			t.Fatalf("out[%d]=%f want %f", i, out.Data[i], v)
		}
	}
}

func TestConvTransposeOutputShape(t *testing.T) {
	x := New(2, 3, 4, 4)
	w := New(3, 5, 3, 3)
	out := ConvTranspose2d(x, w, nil, 2, 1, 1)
	if out.Shape[0] != 2 || out.Shape[1] != 5 || out.Shape[2] != 8 || out.Shape[3] != 8 {
		t.Fatalf("unexpected shape %v", out.Shape)
	}
}

func TestReflectionPadValues(t *testing.T) {
	x := FromData([]float64{1, 2, 3, 4, 5, 6}, 1, 1, 2, 3)
	out := ReflectionPad2d(x, 1)
	// Row -1 mirrors row 1, column -1 mirrors column 1.
	want := []float64{
		5, 4, 5, 6, 5,
		2, 1, 2, 3, 2,
		5, 4, 5, 6, 5,
		2, 1, 2, 3, 2,
	}
	for i, v := range want {
		if out.Data[i] != v {
			t.Fatalf("out[%d]=%f want %f (shape %v)", i, out.Data[i], v, out.Shape)
		}
	}
}

func TestInstanceNormStatistics(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x := Normal(rng, 2, 3, 2, 2, 4, 4)
	out := InstanceNorm(x, 1e-5)
	per := 16
	for p := 0; p < 4; p++ {
		plane := out.Data[p*per : (p+1)*per]
		var mean, v float64
		for _, s := range plane {
			mean += s
		}
		mean /= float64(per)
		for _, s := range plane {
			v += (s - mean) * (s - mean)
		}
		v /= float64(per)
		if math.Abs(mean) > 1e-9 || math.Abs(v-1) > 1e-3 {
			t.Fatalf("plane %d mean=%g var=%g", p, mean, v)
		}
	}
}

func TestBackwardAccumulatesSharedUse(t *testing.T) {
	w := Param(FromData([]float64{2}, 1))
	// loss = w + w, gradient 2
	loss := Add(w, w)
	Backward(loss)
	if w.Grad[0] != 2 {
		t.Fatalf("expected grad 2, got %f", w.Grad[0])
	}
}

func TestFrozenLeafReceivesNoGradient(t *testing.T) {
	x := Param(Full(0.5, 1, 1, 2, 2))
	w := Param(Full(1, 1, 1, 1, 1))
	w.SetRequiresGrad(false)
	loss := MSEConst(Conv2d(x, w, nil, 1, 0), 1)
	Backward(loss)
	if w.Grad != nil {
		t.Fatalf("frozen weight got a gradient")
	}
	if x.Grad == nil {
		t.Fatalf("input should still receive a gradient through the frozen weight")
	}
}

func TestGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	cases := []struct {
		name string
		in   *Tensor
		w    *Tensor
		f    func(x, w *Tensor) *Tensor
	}{
		{
			name: "conv2d",
			in:   Normal(rng, 0, 1, 2, 2, 5, 5),
			w:    Normal(rng, 0, 0.5, 3, 2, 3, 3),
			f: func(x, w *Tensor) *Tensor {
				return MSEConst(Conv2d(x, w, nil, 2, 1), 0.3)
			},
		},
		{
			name: "conv_transpose2d",
			in:   Normal(rng, 0, 1, 1, 2, 3, 3),
			w:    Normal(rng, 0, 0.5, 2, 3, 3, 3),
			f: func(x, w *Tensor) *Tensor {
				return MSEConst(ConvTranspose2d(x, w, nil, 2, 1, 1), -0.2)
			},
		},
		{
			name: "instance_norm_tanh",
			in:   Normal(rng, 0, 1, 1, 2, 4, 4),
			w:    Normal(rng, 0, 0.5, 2, 2, 1, 1),
			f: func(x, w *Tensor) *Tensor {
				return MSEConst(Tanh(InstanceNorm(Conv2d(x, w, nil, 1, 0), 1e-5)), 0.1)
			},
		},
		{
			name: "reflection_pad_l1",
			in:   Normal(rng, 0, 1, 1, 1, 4, 4),
			w:    Normal(rng, 0, 0.5, 1, 1, 3, 3),
			f: func(x, w *Tensor) *Tensor {
				y := Conv2d(ReflectionPad2d(x, 1), w, nil, 1, 0)
				return L1(y, Full(5, y.Shape...))
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			checkGrad(t, tc.in, tc.w, tc.f)
		})
	}
}

// checkGrad compares the tape gradient of f with central differences, for
// both the input and the weight.
func checkGrad(t *testing.T, x, w *Tensor, f func(x, w *Tensor) *Tensor) {
	t.Helper()
	Param(x)
	Param(w)
	Backward(f(x, w))

	for _, target := range []*Tensor{x, w} {
		orig := append([]float64(nil), target.Data...)
		numeric := fd.Gradient(nil, func(v []float64) float64 {
			copy(target.Data, v)
			return f(x.Detach(), w.Detach()).Item()
		}, orig, &fd.Settings{Formula: fd.Central, Step: 1e-6})
		copy(target.Data, orig)
		for i := range numeric {
			if diff := math.Abs(numeric[i] - target.Grad[i]); diff > 1e-5*math.Max(1, math.Abs(numeric[i])) {
				t.Fatalf("grad[%d]: tape=%g numeric=%g", i, target.Grad[i], numeric[i])
			}
		}
	}
}

package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// InstanceNorm normalizes every (sample, channel) plane to zero mean and
// unit variance. There are no affine parameters.
func InstanceNorm(x *Tensor, eps float64) *Tensor {
	n, c, h, w := must4D("InstanceNorm", x)
	per := h * w
	data := make([]float64, len(x.Data))
	invStd := make([]float64, n*c)
	for p := 0; p < n*c; p++ {
		src := x.Data[p*per : (p+1)*per]
		dst := data[p*per : (p+1)*per]
		mean := floats.Sum(src) / float64(per)
		var v float64
		for _, s := range src {
			d := s - mean
			v += d * d
		}
		inv := 1 / math.Sqrt(v/float64(per)+eps)
		invStd[p] = inv
		for i, s := range src {
			dst[i] = (s - mean) * inv
		}
	}
	out := result(data, []int{n, c, h, w}, x)
	if out.requiresGrad {
		out.backward = func() {
			g := make([]float64, len(x.Data))
			for p := 0; p < n*c; p++ {
				gy := out.Grad[p*per : (p+1)*per]
				y := data[p*per : (p+1)*per]
				meanG := floats.Sum(gy) / float64(per)
				meanGY := floats.Dot(gy, y) / float64(per)
				dst := g[p*per : (p+1)*per]
				for i := range dst {
					dst[i] = invStd[p] * (gy[i] - meanG - y[i]*meanGY)
				}
			}
			x.accumulate(g)
		}
	}
	return out
}

// ReflectionPad2d pads the spatial dimensions by mirroring the border
// without repeating the edge pixel. pad must be smaller than h and w.
func ReflectionPad2d(x *Tensor, pad int) *Tensor {
	n, c, h, w := must4D("ReflectionPad2d", x)
	if pad >= h || pad >= w {
		panic(fmt.Sprintf("tensor: reflection pad %d too large for %v", pad, x.Shape))
	}
	oh, ow := h+2*pad, w+2*pad
	index := make([]int, oh*ow)
	for y := 0; y < oh; y++ {
		sy := reflect(y-pad, h)
		for xx := 0; xx < ow; xx++ {
			index[y*ow+xx] = sy*w + reflect(xx-pad, w)
		}
	}
	data := make([]float64, n*c*oh*ow)
	for p := 0; p < n*c; p++ {
		src := x.Data[p*h*w : (p+1)*h*w]
		dst := data[p*oh*ow : (p+1)*oh*ow]
		for i, j := range index {
			dst[i] = src[j]
		}
	}
	out := result(data, []int{n, c, oh, ow}, x)
	if out.requiresGrad {
		out.backward = func() {
			g := make([]float64, len(x.Data))
			for p := 0; p < n*c; p++ {
				src := out.Grad[p*oh*ow : (p+1)*oh*ow]
				dst := g[p*h*w : (p+1)*h*w]
				for i, j := range index {
					dst[j] += src[i]
				}
			}
			x.accumulate(g)
		}
	}
	return out
}

func reflect(i, size int) int {
	if i < 0 {
		return -i
	}
	if i >= size {
		return 2*(size-1) - i
	}
	return i
}

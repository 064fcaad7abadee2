package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// patchGeom describes how a [c, h, w] image maps onto a grid of k*k patches
// of size oh*ow taken with the given stride and zero padding.
type patchGeom struct {
	c, h, w     int
	k           int
	stride, pad int
	oh, ow      int
}

func (g patchGeom) rows() int { return g.c * g.k * g.k }
func (g patchGeom) cols() int { return g.oh * g.ow }

// im2col unfolds src ([c, h, w]) into dst ([c*k*k, oh*ow]).
func im2col(g patchGeom, src, dst []float64) {
	cols := g.cols()
	for c := 0; c < g.c; c++ {
		plane := src[c*g.h*g.w : (c+1)*g.h*g.w]
		for kh := 0; kh < g.k; kh++ {
			for kw := 0; kw < g.k; kw++ {
				row := dst[((c*g.k+kh)*g.k+kw)*cols:][:cols]
				for oy := 0; oy < g.oh; oy++ {
					iy := oy*g.stride - g.pad + kh
					for ox := 0; ox < g.ow; ox++ {
						ix := ox*g.stride - g.pad + kw
						if iy < 0 || iy >= g.h || ix < 0 || ix >= g.w {
							row[oy*g.ow+ox] = 0
							continue
						}
						row[oy*g.ow+ox] = plane[iy*g.w+ix]
					}
				}
			}
		}
	}
}

// col2im folds src ([c*k*k, oh*ow]) back into dst ([c, h, w]), summing
// overlapping contributions.
func col2im(g patchGeom, src, dst []float64) {
	cols := g.cols()
	for c := 0; c < g.c; c++ {
		plane := dst[c*g.h*g.w : (c+1)*g.h*g.w]
		for kh := 0; kh < g.k; kh++ {
			for kw := 0; kw < g.k; kw++ {
				row := src[((c*g.k+kh)*g.k+kw)*cols:][:cols]
				for oy := 0; oy < g.oh; oy++ {
					iy := oy*g.stride - g.pad + kh
					if iy < 0 || iy >= g.h {
						continue
					}
					for ox := 0; ox < g.ow; ox++ {
						ix := ox*g.stride - g.pad + kw
						if ix < 0 || ix >= g.w {
							continue
						}
						plane[iy*g.w+ix] += row[oy*g.ow+ox]
					}
				}
			}
		}
	}
}

// Conv2d convolves x ([n, cin, h, w]) with weight ([cout, cin, k, k]) and
// adds bias ([cout], may be nil). Padding is zero padding.
func Conv2d(x, weight, bias *Tensor, stride, pad int) *Tensor {
	n, cin, h, w := must4D("Conv2d", x)
	cout, wcin, k, k2 := must4D("Conv2d weight", weight)
	if wcin != cin || k != k2 {
		panic(fmt.Sprintf("tensor: Conv2d weight %v does not fit input %v", weight.Shape, x.Shape))
	}
	g := patchGeom{c: cin, h: h, w: w, k: k, stride: stride, pad: pad}
	g.oh = (h+2*pad-k)/stride + 1
	g.ow = (w+2*pad-k)/stride + 1
	if g.oh <= 0 || g.ow <= 0 {
		panic(fmt.Sprintf("tensor: Conv2d input %v too small for kernel %d", x.Shape, k))
	}

	rows, cols := g.rows(), g.cols()
	wm := mat.NewDense(cout, rows, weight.Data)
	colBufs := make([][]float64, n)
	data := make([]float64, n*cout*cols)
	for i := 0; i < n; i++ {
		colBufs[i] = make([]float64, rows*cols)
		im2col(g, x.Data[i*cin*h*w:(i+1)*cin*h*w], colBufs[i])
		dst := mat.NewDense(cout, cols, data[i*cout*cols:(i+1)*cout*cols])
		dst.Mul(wm, mat.NewDense(rows, cols, colBufs[i]))
		if bias != nil {
			addChannelBias(data[i*cout*cols:(i+1)*cout*cols], bias.Data, cols)
		}
	}

	parents := []*Tensor{x, weight}
	if bias != nil {
		parents = append(parents, bias)
	}
	out := result(data, []int{n, cout, g.oh, g.ow}, parents...)
	if out.requiresGrad {
		out.backward = func() {
			var gw, gx []float64
			if weight.requiresGrad {
				gw = make([]float64, len(weight.Data))
			}
			if x.requiresGrad {
				gx = make([]float64, len(x.Data))
			}
			tmp := mat.NewDense(cout, rows, nil)
			colGrad := make([]float64, rows*cols)
			for i := 0; i < n; i++ {
				gout := mat.NewDense(cout, cols, out.Grad[i*cout*cols:(i+1)*cout*cols])
				if gw != nil {
					tmp.Mul(gout, mat.NewDense(rows, cols, colBufs[i]).T())
					floats.Add(gw, tmp.RawMatrix().Data)
				}
				if gx != nil {
					cg := mat.NewDense(rows, cols, colGrad)
					cg.Mul(wm.T(), gout)
					col2im(g, colGrad, gx[i*cin*h*w:(i+1)*cin*h*w])
				}
			}
			if gw != nil {
				weight.accumulate(gw)
			}
			if gx != nil {
				x.accumulate(gx)
			}
			if bias != nil && bias.requiresGrad {
				bias.accumulate(channelSums(out.Grad, n, cout, cols))
			}
		}
	}
	return out
}

// ConvTranspose2d is the gradient of Conv2d with respect to its input,
// used as a learned upsampler. weight is [cin, cout, k, k]. The output
// spatial size is (h-1)*stride - 2*pad + k + outPad.
func ConvTranspose2d(x, weight, bias *Tensor, stride, pad, outPad int) *Tensor {
	n, cin, h, w := must4D("ConvTranspose2d", x)
	wcin, cout, k, k2 := must4D("ConvTranspose2d weight", weight)
	if wcin != cin || k != k2 {
		panic(fmt.Sprintf("tensor: ConvTranspose2d weight %v does not fit input %v", weight.Shape, x.Shape))
	}
	if outPad >= stride {
		panic(fmt.Sprintf("tensor: ConvTranspose2d output padding %d must be < stride %d", outPad, stride))
	}
	oh := (h-1)*stride - 2*pad + k + outPad
	ow := (w-1)*stride - 2*pad + k + outPad
	if oh <= 0 || ow <= 0 {
		panic(fmt.Sprintf("tensor: ConvTranspose2d output would be empty for %v", x.Shape))
	}
	// Patches are taken over the output image; the patch grid is the input.
	g := patchGeom{c: cout, h: oh, w: ow, k: k, stride: stride, pad: pad, oh: h, ow: w}
	rows, cols := g.rows(), g.cols()

	wm := mat.NewDense(cin, rows, weight.Data)
	data := make([]float64, n*cout*oh*ow)
	colBuf := make([]float64, rows*cols)
	for i := 0; i < n; i++ {
		xm := mat.NewDense(cin, cols, x.Data[i*cin*cols:(i+1)*cin*cols])
		cm := mat.NewDense(rows, cols, colBuf)
		cm.Mul(wm.T(), xm)
		col2im(g, colBuf, data[i*cout*oh*ow:(i+1)*cout*oh*ow])
		if bias != nil {
			addChannelBias(data[i*cout*oh*ow:(i+1)*cout*oh*ow], bias.Data, oh*ow)
		}
	}

	parents := []*Tensor{x, weight}
	if bias != nil {
		parents = append(parents, bias)
	}
	out := result(data, []int{n, cout, oh, ow}, parents...)
	if out.requiresGrad {
		out.backward = func() {
			var gw, gx []float64
			if weight.requiresGrad {
				gw = make([]float64, len(weight.Data))
			}
			if x.requiresGrad {
				gx = make([]float64, len(x.Data))
			}
			tmp := mat.NewDense(cin, rows, nil)
			gcols := make([]float64, rows*cols)
			for i := 0; i < n; i++ {
				im2col(g, out.Grad[i*cout*oh*ow:(i+1)*cout*oh*ow], gcols)
				gm := mat.NewDense(rows, cols, gcols)
				if gx != nil {
					dst := mat.NewDense(cin, cols, gx[i*cin*cols:(i+1)*cin*cols])
					dst.Mul(wm, gm)
				}
				if gw != nil {
					xm := mat.NewDense(cin, cols, x.Data[i*cin*cols:(i+1)*cin*cols])
					tmp.Mul(xm, gm.T())
					floats.Add(gw, tmp.RawMatrix().Data)
				}
			}
			if gw != nil {
				weight.accumulate(gw)
			}
			if gx != nil {
				x.accumulate(gx)
			}
			if bias != nil && bias.requiresGrad {
				bias.accumulate(channelSums(out.Grad, n, cout, oh*ow))
			}
		}
	}
	return out
}

func addChannelBias(plane, bias []float64, per int) {
	for c, b := range bias {
		floats.AddConst(b, plane[c*per:(c+1)*per])
	}
}

func channelSums(grad []float64, n, c, per int) []float64 {
	sums := make([]float64, c)
	for i := 0; i < n; i++ {
		for ch := 0; ch < c; ch++ {
			off := (i*c + ch) * per
			sums[ch] += floats.Sum(grad[off : off+per])
		}
	}
	return sums
}

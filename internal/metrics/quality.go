package metrics

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"cyclegan-forge/internal/tensor"
)

const (
	dataRange   = 255.0
	ssimWindow  = 11
	ssimSigma   = 1.5
	ssimK1      = 0.01
	ssimK2      = 0.03
	psnrCeiling = 100.0
)

// ssimAcc averages per-image structural similarity over all updates.
type ssimAcc struct {
	sum   float64
	count int
}

func (a *ssimAcc) update(pred, ref *tensor.Tensor) {
	n, c, h, w := pred.Shape[0], pred.Shape[1], pred.Shape[2], pred.Shape[3]
	kernel := gaussianKernel(h, w)
	per := h * w
	for i := 0; i < n; i++ {
		var img float64
		for ch := 0; ch < c; ch++ {
			off := (i*c + ch) * per
			img += planeSSIM(pred.Data[off:off+per], ref.Data[off:off+per], h, w, kernel)
		}
		a.sum += img / float64(c)
		a.count++
	}
}

func (a *ssimAcc) value() float64 {
	if a.count == 0 {
		return math.NaN()
	}
	return a.sum / float64(a.count)
}

func (a *ssimAcc) reset() { *a = ssimAcc{} }

// gaussianKernel returns a normalized 1D Gaussian no wider than the image.
func gaussianKernel(h, w int) []float64 {
	size := ssimWindow
	if h < size {
		size = h
	}
	if w < size {
		size = w
	}
	if size%2 == 0 {
		size--
	}
	k := make([]float64, size)
	half := size / 2
	for i := range k {
		d := float64(i - half)
		k[i] = math.Exp(-d * d / (2 * ssimSigma * ssimSigma))
	}
	floats.Scale(1/floats.Sum(k), k)
	return k
}

func planeSSIM(x, y []float64, h, w int, k []float64) float64 {
	c1 := (ssimK1 * dataRange) * (ssimK1 * dataRange)
	c2 := (ssimK2 * dataRange) * (ssimK2 * dataRange)
	xx := make([]float64, len(x))
	yy := make([]float64, len(x))
	xy := make([]float64, len(x))
	floats.MulTo(xx, x, x)
	floats.MulTo(yy, y, y)
	floats.MulTo(xy, x, y)

	muX, oh, ow := blur(x, h, w, k)
	muY, _, _ := blur(y, h, w, k)
	exx, _, _ := blur(xx, h, w, k)
	eyy, _, _ := blur(yy, h, w, k)
	exy, _, _ := blur(xy, h, w, k)

	var total float64
	for i := 0; i < oh*ow; i++ {
		mx, my := muX[i], muY[i]
		sx := exx[i] - mx*mx
		sy := eyy[i] - my*my
		sxy := exy[i] - mx*my
		total += ((2*mx*my + c1) * (2*sxy + c2)) / ((mx*mx + my*my + c1) * (sx + sy + c2))
	}
	return total / float64(oh*ow)
}

// blur applies the separable kernel without padding.
func blur(src []float64, h, w int, k []float64) ([]float64, int, int) {
	ks := len(k)
	ow := w - ks + 1
	oh := h - ks + 1
	rows := make([]float64, h*ow)
	for y := 0; y < h; y++ {
		for x := 0; x < ow; x++ {
			rows[y*ow+x] = floats.Dot(k, src[y*w+x:y*w+x+ks])
		}
	}
	out := make([]float64, oh*ow)
	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			var s float64
			for j, kv := range k {
				s += kv * rows[(y+j)*ow+x]
			}
			out[y*ow+x] = s
		}
	}
	return out, oh, ow
}

// psnrAcc pools squared error over every pixel seen.
type psnrAcc struct {
	sse   float64
	count int
}

func (a *psnrAcc) update(pred, ref *tensor.Tensor) {
	diff := make([]float64, len(pred.Data))
	floats.SubTo(diff, pred.Data, ref.Data)
	a.sse += floats.Dot(diff, diff)
	a.count += len(diff)
}

// value is capped at psnrCeiling when the images are identical.
func (a *psnrAcc) value() float64 {
	if a.count == 0 {
		return math.NaN()
	}
	mse := a.sse / float64(a.count)
	if mse == 0 {
		return psnrCeiling
	}
	return math.Min(psnrCeiling, 10*math.Log10(dataRange*dataRange/mse))
}

func (a *psnrAcc) reset() { *a = psnrAcc{} }

// fidAcc is a Fréchet distance between Gaussian fits of per-image pixel
// statistics (quadrant means and standard deviation of every channel).
// It follows the FID formula without an Inception feature extractor.
type fidAcc struct {
	real [][]float64
	fake [][]float64
}

func (a *fidAcc) update(pred, ref *tensor.Tensor) {
	for i := 0; i < pred.Shape[0]; i++ {
		a.fake = append(a.fake, pixelFeatures(pred, i))
		a.real = append(a.real, pixelFeatures(ref, i))
	}
}

func (a *fidAcc) value() float64 {
	if len(a.real) < 2 || len(a.fake) < 2 {
		return math.NaN()
	}
	return frechet(a.real, a.fake)
}

func (a *fidAcc) reset() { *a = fidAcc{} }

func pixelFeatures(t *tensor.Tensor, i int) []float64 {
	c, h, w := t.Shape[1], t.Shape[2], t.Shape[3]
	per := h * w
	feat := make([]float64, 0, c*5)
	for ch := 0; ch < c; ch++ {
		plane := t.Data[(i*c+ch)*per : (i*c+ch+1)*per]
		var q [4]float64
		var n [4]int
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				idx := 0
				if y >= h/2 {
					idx += 2
				}
				if x >= w/2 {
					idx++
				}
				q[idx] += plane[y*w+x]
				n[idx]++
			}
		}
		for j := range q {
			if n[j] > 0 {
				q[j] /= float64(n[j])
			}
			feat = append(feat, q[j])
		}
		feat = append(feat, stat.StdDev(plane, nil))
	}
	return feat
}

func frechet(real, fake [][]float64) float64 {
	xr, xf := rowsToDense(real), rowsToDense(fake)
	muR, muF := columnMeans(xr), columnMeans(xf)

	var covR, covF mat.SymDense
	stat.CovarianceMatrix(&covR, xr, nil)
	stat.CovarianceMatrix(&covF, xf, nil)

	sqrtR, ok := sqrtSym(&covR)
	if !ok {
		return math.NaN()
	}
	// tr(sqrt(covR covF)) equals tr(sqrt(S covF S)) with S = sqrt(covR),
	// and the latter is symmetric.
	var tmp, prod mat.Dense
	tmp.Mul(sqrtR, &covF)
	prod.Mul(&tmp, sqrtR)
	n, _ := prod.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, 0.5*(prod.At(i, j)+prod.At(j, i)))
		}
	}
	var es mat.EigenSym
	if !es.Factorize(sym, false) {
		return math.NaN()
	}
	var trSqrt float64
	for _, v := range es.Values(nil) {
		trSqrt += math.Sqrt(math.Max(0, v))
	}

	d := floats.Distance(muR, muF, 2)
	return math.Max(0, d*d+mat.Trace(&covR)+mat.Trace(&covF)-2*trSqrt)
}

func sqrtSym(a *mat.SymDense) (*mat.Dense, bool) {
	var es mat.EigenSym
	if !es.Factorize(a, true) {
		return nil, false
	}
	vals := es.Values(nil)
	for i, v := range vals {
		vals[i] = math.Sqrt(math.Max(0, v))
	}
	var vecs mat.Dense
	es.VectorsTo(&vecs)
	var scaled, out mat.Dense
	scaled.Mul(&vecs, mat.NewDiagDense(len(vals), vals))
	out.Mul(&scaled, vecs.T())
	return &out, true
}

func rowsToDense(rows [][]float64) *mat.Dense {
	m := mat.NewDense(len(rows), len(rows[0]), nil)
	for i, r := range rows {
		m.SetRow(i, r)
	}
	return m
}

func columnMeans(m *mat.Dense) []float64 {
	_, c := m.Dims()
	out := make([]float64, c)
	for j := 0; j < c; j++ {
		out[j] = stat.Mean(mat.Col(nil, j, m), nil)
	}
	return out
}

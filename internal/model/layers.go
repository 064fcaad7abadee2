package model

import "cyclegan-forge/internal/tensor"

const instanceNormEps = 1e-5

// Conv is a 2D convolution with zero padding.
type Conv struct {
	Weight *tensor.Tensor // [out, in, k, k]
	Bias   *tensor.Tensor // [out]
	Stride int
	Pad    int
}

// NewConv allocates a zero-initialized convolution; InitWeights fills it.
func NewConv(in, out, k, stride, pad int) *Conv {
	return &Conv{
		Weight: tensor.Param(tensor.New(out, in, k, k)),
		Bias:   tensor.Param(tensor.New(out)),
		Stride: stride,
		Pad:    pad,
	}
}

func (c *Conv) Forward(x *tensor.Tensor) *tensor.Tensor {
	return tensor.Conv2d(x, c.Weight, c.Bias, c.Stride, c.Pad)
}

func (c *Conv) Params() []Param {
	return []Param{
		{Name: "weight", Role: RoleWeight, Tensor: c.Weight},
		{Name: "bias", Role: RoleBias, Tensor: c.Bias},
	}
}

// ConvTranspose is a strided transposed convolution used for upsampling.
type ConvTranspose struct {
	Weight *tensor.Tensor // [in, out, k, k]
	Bias   *tensor.Tensor
	Stride int
	Pad    int
	OutPad int
}

func NewConvTranspose(in, out, k, stride, pad, outPad int) *ConvTranspose {
	return &ConvTranspose{
		Weight: tensor.Param(tensor.New(in, out, k, k)),
		Bias:   tensor.Param(tensor.New(out)),
		Stride: stride,
		Pad:    pad,
		OutPad: outPad,
	}
}

func (c *ConvTranspose) Forward(x *tensor.Tensor) *tensor.Tensor {
	return tensor.ConvTranspose2d(x, c.Weight, c.Bias, c.Stride, c.Pad, c.OutPad)
}

func (c *ConvTranspose) Params() []Param {
	return []Param{
		{Name: "weight", Role: RoleWeight, Tensor: c.Weight},
		{Name: "bias", Role: RoleBias, Tensor: c.Bias},
	}
}

// stateless wraps a parameter-free op.
type stateless func(*tensor.Tensor) *tensor.Tensor

func (f stateless) Forward(x *tensor.Tensor) *tensor.Tensor { return f(x) }
func (stateless) Params() []Param                           { return nil }

// InstanceNorm normalizes each plane; it carries no affine parameters.
func InstanceNorm() Module {
	return stateless(func(x *tensor.Tensor) *tensor.Tensor { return tensor.InstanceNorm(x, instanceNormEps) })
}

func ReLU() Module { return stateless(tensor.ReLU) }

func LeakyReLU(slope float64) Module {
	return stateless(func(x *tensor.Tensor) *tensor.Tensor { return tensor.LeakyReLU(x, slope) })
}

func Tanh() Module { return stateless(tensor.Tanh) }

func ReflectionPad(pad int) Module {
	return stateless(func(x *tensor.Tensor) *tensor.Tensor { return tensor.ReflectionPad2d(x, pad) })
}

// Residual adds its input to the output of Body.
type Residual struct {
	Body Sequential
}

func (r *Residual) Forward(x *tensor.Tensor) *tensor.Tensor {
	return tensor.Add(x, r.Body.Forward(x))
}

func (r *Residual) Params() []Param {
	params := r.Body.Params()
	for i := range params {
		params[i].Name = "body." + params[i].Name
	}
	return params
}

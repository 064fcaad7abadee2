package model

import (
	"fmt"

	"cyclegan-forge/internal/tensor"
)

// Module is a differentiable network component.
type Module interface {
	Forward(x *tensor.Tensor) *tensor.Tensor
	Params() []Param
}

// ParamRole distinguishes weights from biases for initialization.
type ParamRole int

const (
	RoleWeight ParamRole = iota
	RoleBias
)

// Param is a named trainable tensor.
type Param struct {
	Name   string
	Role   ParamRole
	Tensor *tensor.Tensor
}

// Tensors extracts the tensors of params in order.
func Tensors(params []Param) []*tensor.Tensor {
	out := make([]*tensor.Tensor, len(params))
	for i, p := range params {
		out[i] = p.Tensor
	}
	return out
}

// SetTrainable toggles gradient tracking on every parameter of m.
func SetTrainable(m Module, on bool) {
	for _, p := range m.Params() {
		p.Tensor.SetRequiresGrad(on)
	}
}

// Sequential applies its layers in order. Parameter names are prefixed
// with the layer index.
type Sequential []Module

func (s Sequential) Forward(x *tensor.Tensor) *tensor.Tensor {
	for _, m := range s {
		x = m.Forward(x)
	}
	return x
}

func (s Sequential) Params() []Param {
	var out []Param
	for i, m := range s {
		for _, p := range m.Params() {
			p.Name = fmt.Sprintf("%d.%s", i, p.Name)
			out = append(out, p)
		}
	}
	return out
}

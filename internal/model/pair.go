package model

import (
	"fmt"
	"math/rand"

	"cyclegan-forge/internal/tensor"
)

// DefaultInitGain is the standard deviation of the initial weights.
const DefaultInitGain = 0.02

// Spec describes the four networks of a Pair.
type Spec struct {
	Generator     GeneratorKind
	Discriminator DiscriminatorKind
	NGF           int
	NDF           int
	InitGain      float64
}

// Pair holds the two generators (A->B, B->A) and the two discriminators
// (domain A, domain B). It exposes forward passes only; losses and
// optimizer state live elsewhere.
type Pair struct {
	GenAB Module
	GenBA Module
	DisA  Module
	DisB  Module
}

// NewPair builds and initializes all four networks with the same scheme.
func NewPair(spec Spec, rng *rand.Rand) (*Pair, error) {
	genAB, err := NewGenerator(spec.Generator, spec.NGF)
	if err != nil {
		return nil, err
	}
	genBA, err := NewGenerator(spec.Generator, spec.NGF)
	if err != nil {
		return nil, err
	}
	disA, err := NewDiscriminator(spec.Discriminator, spec.NDF)
	if err != nil {
		return nil, err
	}
	disB, err := NewDiscriminator(spec.Discriminator, spec.NDF)
	if err != nil {
		return nil, err
	}
	gain := spec.InitGain
	if gain <= 0 {
		gain = DefaultInitGain
	}
	p := &Pair{GenAB: genAB, GenBA: genBA, DisA: disA, DisB: disB}
	for _, m := range p.modules() {
		InitWeights(m, rng, gain)
	}
	return p, nil
}

// InitWeights draws every weight from N(0, gain) and zeroes every bias.
func InitWeights(m Module, rng *rand.Rand, gain float64) {
	for _, p := range m.Params() {
		switch p.Role {
		case RoleWeight:
			for i := range p.Tensor.Data {
				p.Tensor.Data[i] = gain * rng.NormFloat64()
			}
		case RoleBias:
			for i := range p.Tensor.Data {
				p.Tensor.Data[i] = 0
			}
		}
	}
}

func (p *Pair) modules() []Module {
	return []Module{p.GenAB, p.GenBA, p.DisA, p.DisB}
}

// GeneratorParams returns the parameters of both generators.
func (p *Pair) GeneratorParams() []*tensor.Tensor {
	return append(Tensors(p.GenAB.Params()), Tensors(p.GenBA.Params())...)
}

// DiscriminatorParams returns the parameters of both discriminators.
func (p *Pair) DiscriminatorParams() []*tensor.Tensor {
	return append(Tensors(p.DisA.Params()), Tensors(p.DisB.Params())...)
}

// SetDiscriminatorsTrainable enables or disables gradient tracking on both
// discriminators. Frozen discriminators still pass gradients through to
// the generators.
func (p *Pair) SetDiscriminatorsTrainable(on bool) {
	SetTrainable(p.DisA, on)
	SetTrainable(p.DisB, on)
}

// Freeze disables gradient tracking everywhere, for inference.
func (p *Pair) Freeze() {
	for _, m := range p.modules() {
		SetTrainable(m, false)
	}
}

var pairPrefixes = []string{"gen_ab.", "gen_ba.", "dis_a.", "dis_b."}

// NamedParams lists every parameter with a stable, pair-qualified name.
func (p *Pair) NamedParams() []Param {
	var out []Param
	for i, m := range p.modules() {
		for _, prm := range m.Params() {
			prm.Name = pairPrefixes[i] + prm.Name
			out = append(out, prm)
		}
	}
	return out
}

// LoadParams overwrites every parameter from values. All names must be
// present with matching sizes; nothing is written unless all match.
func (p *Pair) LoadParams(values map[string][]float64) error {
	params := p.NamedParams()
	for _, prm := range params {
		v, ok := values[prm.Name]
		if !ok {
			return fmt.Errorf("model: missing parameter %s", prm.Name)
		}
		if len(v) != len(prm.Tensor.Data) {
			return fmt.Errorf("model: parameter %s has %d values, want %d", prm.Name, len(v), len(prm.Tensor.Data))
		}
	}
	for _, prm := range params {
		copy(prm.Tensor.Data, values[prm.Name])
	}
	return nil
}

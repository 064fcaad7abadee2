// Package loss assembles the CycleGAN objectives.
package loss

import (
	"fmt"
	"sort"

	"cyclegan-forge/internal/tensor"
)

// Lambda weights the cycle and identity terms of the generator loss.
const Lambda = 10.0

// Kind selects the per-pixel distance of a reconstruction term.
type Kind int

const (
	MAE Kind = iota + 1
	MSE
)

var kindNames = map[Kind]string{MAE: "mae_loss", MSE: "mse_loss"}

// ParseKind resolves "mae_loss" or "mse_loss".
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	names := make([]string, 0, len(kindNames))
	for _, n := range kindNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return 0, fmt.Errorf("unknown loss %q (want one of %v)", name, names)
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Label is the adversarial target of a prediction map.
type Label int

const (
	Fake Label = iota
	Real
)

// Adversarial is the least-squares GAN loss: the mean squared error between
// pred and a constant map of ones (Real) or zeros (Fake).
func Adversarial(pred *tensor.Tensor, label Label) *tensor.Tensor {
	if label == Real {
		return tensor.MSEConst(pred, 1)
	}
	return tensor.MSEConst(pred, 0)
}

// Assembler combines the loss terms using the configured distances.
type Assembler struct {
	identity Kind
	cycle    Kind
}

// New validates the loss kinds. The cycle term is an L1 distance for both
// kinds; an mse_loss cycle setting is accepted and computed as L1.
func New(identity, cycle Kind) (*Assembler, error) {
	if !identity.valid() {
		return nil, fmt.Errorf("loss: unsupported identity loss %s", identity)
	}
	if !cycle.valid() {
		return nil, fmt.Errorf("loss: unsupported cycle loss %s", cycle)
	}
	return &Assembler{identity: identity, cycle: cycle}, nil
}

// CycleIsL1Override reports whether the cycle setting asks for MSE but L1
// is computed.
func (a *Assembler) CycleIsL1Override() bool { return a.cycle == MSE }

// GeneratorInputs are the tensors produced during the generator phase.
// SameA is G_BA(A) and SameB is G_AB(B). PredFakeA is D_A(FakeA).
type GeneratorInputs struct {
	RealA, RealB     *tensor.Tensor
	CycledA, CycledB *tensor.Tensor
	SameA, SameB     *tensor.Tensor
	PredFakeA        *tensor.Tensor
	PredFakeB        *tensor.Tensor
}

// GeneratorLosses are the scalar parts of one generator loss evaluation.
type GeneratorLosses struct {
	Total    float64
	AdvA     float64 // D_A fooled by G_BA
	AdvB     float64 // D_B fooled by G_AB
	Cycle    float64
	Identity float64
}

// Generator returns advA + advB + Lambda*(cycle + 0.5*identity).
func (a *Assembler) Generator(in GeneratorInputs) (*tensor.Tensor, GeneratorLosses) {
	advA := Adversarial(in.PredFakeA, Real)
	advB := Adversarial(in.PredFakeB, Real)
	cycle := tensor.Add(tensor.L1(in.CycledA, in.RealA), tensor.L1(in.CycledB, in.RealB))
	identity := tensor.Add(a.distance(a.identity, in.SameA, in.RealA), a.distance(a.identity, in.SameB, in.RealB))

	extra := tensor.Add(cycle, tensor.Scale(identity, 0.5))
	total := tensor.Sum(advA, advB, tensor.Scale(extra, Lambda))
	return total, GeneratorLosses{
		Total:    total.Item(),
		AdvA:     advA.Item(),
		AdvB:     advB.Item(),
		Cycle:    cycle.Item(),
		Identity: identity.Item(),
	}
}

// DiscriminatorInputs are the prediction maps of the discriminator phase.
type DiscriminatorInputs struct {
	PredRealA, PredFakeA *tensor.Tensor
	PredRealB, PredFakeB *tensor.Tensor
}

// DiscriminatorLosses are the scalar parts of one discriminator evaluation.
type DiscriminatorLosses struct {
	Total float64
	RealA float64
	FakeA float64
	RealB float64
	FakeB float64
}

// DomainA returns D_A's share of the total.
func (d DiscriminatorLosses) DomainA() float64 { return 0.5 * (d.RealA + d.FakeA) }

// DomainB returns D_B's share of the total.
func (d DiscriminatorLosses) DomainB() float64 { return 0.5 * (d.RealB + d.FakeB) }

// Discriminator returns the sum over both domains of 0.5*(real + fake).
func (a *Assembler) Discriminator(in DiscriminatorInputs) (*tensor.Tensor, DiscriminatorLosses) {
	realA := Adversarial(in.PredRealA, Real)
	fakeA := Adversarial(in.PredFakeA, Fake)
	realB := Adversarial(in.PredRealB, Real)
	fakeB := Adversarial(in.PredFakeB, Fake)
	total := tensor.Scale(tensor.Sum(fakeA, realA, fakeB, realB), 0.5)
	return total, DiscriminatorLosses{
		Total: total.Item(),
		RealA: realA.Item(),
		FakeA: fakeA.Item(),
		RealB: realB.Item(),
		FakeB: fakeB.Item(),
	}
}

func (a *Assembler) distance(k Kind, x, y *tensor.Tensor) *tensor.Tensor {
	if k == MSE {
		return tensor.MSE(x, y)
	}
	return tensor.L1(x, y)
}

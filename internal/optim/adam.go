// Package optim implements Adam and the linear-decay learning-rate
// schedule used by both CycleGAN optimizers.
package optim

import (
	"errors"
	"fmt"
	"math"

	"cyclegan-forge/internal/tensor"
)

// AdamConfig holds Adam hyperparameters.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
}

// GANAdamConfig returns the CycleGAN defaults: betas (0.5, 0.999).
func GANAdamConfig(lr float64) AdamConfig {
	return AdamConfig{
		LearningRate: lr,
		Beta1:        0.5,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// Adam updates a fixed list of parameters.
type Adam struct {
	cfg    AdamConfig
	params []*tensor.Tensor
	m      [][]float64
	v      [][]float64
	steps  uint64
}

// NewAdam returns an optimizer over params.
func NewAdam(cfg AdamConfig, params []*tensor.Tensor) (*Adam, error) {
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("optim: learning rate must be > 0 (got %g)", cfg.LearningRate)
	}
	if cfg.Beta1 < 0 || cfg.Beta1 >= 1 || cfg.Beta2 < 0 || cfg.Beta2 >= 1 {
		return nil, fmt.Errorf("optim: betas must be in [0, 1) (got %g, %g)", cfg.Beta1, cfg.Beta2)
	}
	a := &Adam{
		cfg:    cfg,
		params: params,
		m:      make([][]float64, len(params)),
		v:      make([][]float64, len(params)),
	}
	for i, p := range params {
		a.m[i] = make([]float64, len(p.Data))
		a.v[i] = make([]float64, len(p.Data))
	}
	return a, nil
}

// LearningRate returns the current learning rate.
func (a *Adam) LearningRate() float64 { return a.cfg.LearningRate }

// SetLearningRate is used by the scheduler.
func (a *Adam) SetLearningRate(lr float64) { a.cfg.LearningRate = lr }

// Steps returns the number of updates applied.
func (a *Adam) Steps() uint64 { return a.steps }

// ZeroGrad clears the gradients of every managed parameter.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

// Step applies one bias-corrected update. Parameters without a gradient
// are left untouched but still share the step counter.
func (a *Adam) Step() {
	a.steps++
	t := float64(a.steps)
	b1, b2 := a.cfg.Beta1, a.cfg.Beta2
	c1 := 1 - math.Pow(b1, t)
	c2 := 1 - math.Pow(b2, t)
	stepSize := a.cfg.LearningRate / c1
	for i, p := range a.params {
		if p.Grad == nil {
			continue
		}
		m, v := a.m[i], a.v[i]
		for j, g := range p.Grad {
			m[j] = b1*m[j] + (1-b1)*g
			v[j] = b2*v[j] + (1-b2)*g*g
			p.Data[j] -= stepSize * m[j] / (math.Sqrt(v[j]/c2) + a.cfg.Epsilon)
		}
	}
}

// AdamState is the serializable part of an optimizer.
type AdamState struct {
	Steps        uint64
	LearningRate float64
	M            [][]float64
	V            [][]float64
}

// State copies the optimizer moments.
func (a *Adam) State() AdamState {
	s := AdamState{Steps: a.steps, LearningRate: a.cfg.LearningRate}
	for i := range a.m {
		s.M = append(s.M, append([]float64(nil), a.m[i]...))
		s.V = append(s.V, append([]float64(nil), a.v[i]...))
	}
	return s
}

// ErrStateMismatch is returned when a saved state does not fit the
// parameters of this optimizer.
var ErrStateMismatch = errors.New("optim: state does not match parameters")

// LoadState restores moments saved by State.
func (a *Adam) LoadState(s AdamState) error {
	if len(s.M) != len(a.m) || len(s.V) != len(a.v) {
		return fmt.Errorf("%w: %d/%d tensors, want %d", ErrStateMismatch, len(s.M), len(s.V), len(a.m))
	}
	for i := range a.m {
		if len(s.M[i]) != len(a.m[i]) || len(s.V[i]) != len(a.v[i]) {
			return fmt.Errorf("%w: tensor %d", ErrStateMismatch, i)
		}
	}
	for i := range a.m {
		copy(a.m[i], s.M[i])
		copy(a.v[i], s.V[i])
	}
	a.steps = s.Steps
	a.cfg.LearningRate = s.LearningRate
	return nil
}

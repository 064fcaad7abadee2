package trainer

import (
	"errors"
	"fmt"
	"math"

	"cyclegan-forge/internal/dataset"
	"cyclegan-forge/internal/loss"
	"cyclegan-forge/internal/metrics"
	"cyclegan-forge/internal/model"
	"cyclegan-forge/internal/optim"
	"cyclegan-forge/internal/pool"
	"cyclegan-forge/internal/tensor"
)

// Phase is the sub-step a Controller expects next.
type Phase int

const (
	GeneratorPhase Phase = iota
	DiscriminatorPhase
)

func (p Phase) String() string {
	if p == DiscriminatorPhase {
		return "discriminator"
	}
	return "generator"
}

var (
	// ErrPhaseOrder is returned when a sub-step is called out of turn.
	ErrPhaseOrder = errors.New("trainer: phase called out of order")
	// ErrStaleFakes is returned when fakes from another batch reach the
	// discriminator phase.
	ErrStaleFakes = errors.New("trainer: fakes do not belong to the current batch")
	// ErrNonFinite is returned when a loss is NaN or infinite.
	ErrNonFinite = errors.New("trainer: non-finite loss")
	// ErrShapeMismatch is returned for batches that are not [N,3,H,W] in
	// both domains.
	ErrShapeMismatch = errors.New("trainer: batch shape mismatch")
)

// Fakes are the detached translations of one batch, handed from the
// generator phase to the discriminator phase.
type Fakes struct {
	seq uint64
	// A is G_BA(B), B is G_AB(A).
	A *tensor.Tensor
	B *tensor.Tensor
}

// GeneratorResult is the outcome of a generator phase.
type GeneratorResult struct {
	Losses  loss.GeneratorLosses
	Fakes   Fakes
	Metrics map[string]float64
}

// StepResult is the outcome of both phases of one batch.
type StepResult struct {
	Gen     loss.GeneratorLosses
	Dis     loss.DiscriminatorLosses
	Metrics map[string]float64
}

// Values returns the step scalars under their logged names.
func (r StepResult) Values() map[string]float64 {
	out := map[string]float64{
		"gen_loss":   r.Gen.Total,
		"id_loss":    r.Gen.Identity,
		"cyc_loss":   r.Gen.Cycle,
		"gen_A_loss": r.Gen.AdvA,
		"gen_B_loss": r.Gen.AdvB,
		"dis_loss":   r.Dis.Total,
		"mse_real_A": r.Dis.RealA,
		"mse_real_B": r.Dis.RealB,
		"mse_fake_A": r.Dis.FakeA,
		"mse_fake_B": r.Dis.FakeB,
	}
	for k, v := range r.Metrics {
		out[k] = v
	}
	return out
}

// SnapshotFunc writes a visual comparison for batch. It receives detached
// tensors and must not retain them.
type SnapshotFunc func(batch int, a, b, fakeA, fakeB *tensor.Tensor) error

// ControllerOptions wires the collaborators of a Controller. Tracker and
// OnSnapshot may be nil.
type ControllerOptions struct {
	Pair       *model.Pair
	Loss       *loss.Assembler
	GenOpt     *optim.Adam
	DisOpt     *optim.Adam
	PoolA      *pool.Pool
	PoolB      *pool.Pool
	Tracker    *metrics.Tracker
	Snapshot   SnapshotPolicy
	OnSnapshot SnapshotFunc
}

// Controller alternates the generator and discriminator updates of every
// batch. It is not safe for concurrent use.
type Controller struct {
	opts  ControllerOptions
	phase Phase
	seq   uint64
}

// NewController checks that every required collaborator is present.
func NewController(opts ControllerOptions) (*Controller, error) {
	switch {
	case opts.Pair == nil:
		return nil, errors.New("trainer: controller needs a network pair")
	case opts.Loss == nil:
		return nil, errors.New("trainer: controller needs a loss assembler")
	case opts.GenOpt == nil || opts.DisOpt == nil:
		return nil, errors.New("trainer: controller needs both optimizers")
	case opts.PoolA == nil || opts.PoolB == nil:
		return nil, errors.New("trainer: controller needs both image pools")
	}
	return &Controller{opts: opts}, nil
}

// Phase returns the sub-step expected next.
func (c *Controller) Phase() Phase { return c.phase }

// GeneratorStep runs the generator update for b with both discriminators
// frozen and returns the detached fakes for DiscriminatorStep.
func (c *Controller) GeneratorStep(b dataset.Batch) (GeneratorResult, error) {
	if c.phase != GeneratorPhase {
		return GeneratorResult{}, fmt.Errorf("%w: generator step during %s phase", ErrPhaseOrder, c.phase)
	}
	if err := checkBatch(b); err != nil {
		return GeneratorResult{}, err
	}
	p := c.opts.Pair
	p.SetDiscriminatorsTrainable(false)

	fakeB := p.GenAB.Forward(b.A)
	fakeA := p.GenBA.Forward(b.B)
	total, losses := c.opts.Loss.Generator(loss.GeneratorInputs{
		RealA:     b.A,
		RealB:     b.B,
		CycledA:   p.GenBA.Forward(fakeB),
		CycledB:   p.GenAB.Forward(fakeA),
		SameA:     p.GenBA.Forward(b.A),
		SameB:     p.GenAB.Forward(b.B),
		PredFakeA: p.DisA.Forward(fakeA),
		PredFakeB: p.DisB.Forward(fakeB),
	})
	if !finite(losses.Total) {
		return GeneratorResult{}, fmt.Errorf("%w: gen_loss=%v", ErrNonFinite, losses.Total)
	}

	c.seq++
	fakes := Fakes{seq: c.seq, A: fakeA.Detach(), B: fakeB.Detach()}

	// Weights are still those the fakes came from.
	if c.opts.OnSnapshot != nil && c.opts.Snapshot.Due(b.Index) {
		if err := c.opts.OnSnapshot(b.Index, b.A, b.B, fakes.A, fakes.B); err != nil {
			return GeneratorResult{}, fmt.Errorf("write snapshot: %w", err)
		}
	}

	c.opts.GenOpt.ZeroGrad()
	tensor.Backward(total)
	c.opts.GenOpt.Step()

	res := GeneratorResult{Losses: losses, Fakes: fakes}
	if c.opts.Tracker != nil && len(c.opts.Tracker.Kinds()) > 0 {
		res.Metrics = make(map[string]float64)
		for _, d := range []struct {
			domain    metrics.Domain
			pred, ref *tensor.Tensor
		}{
			{metrics.DomainA, fakes.A, b.A},
			{metrics.DomainB, fakes.B, b.B},
		} {
			vals, err := c.opts.Tracker.UpdateDomain(d.domain, d.pred, d.ref)
			if err != nil {
				return GeneratorResult{}, err
			}
			for k, v := range vals {
				res.Metrics[k] = v
			}
		}
	}
	c.phase = DiscriminatorPhase
	return res, nil
}

// DiscriminatorStep runs the discriminator update for b on the fakes of
// the preceding GeneratorStep, each routed through its domain's pool.
func (c *Controller) DiscriminatorStep(b dataset.Batch, fakes Fakes) (loss.DiscriminatorLosses, error) {
	if c.phase != DiscriminatorPhase {
		return loss.DiscriminatorLosses{}, fmt.Errorf("%w: discriminator step during %s phase", ErrPhaseOrder, c.phase)
	}
	if fakes.seq != c.seq || fakes.A == nil || fakes.B == nil {
		return loss.DiscriminatorLosses{}, ErrStaleFakes
	}
	if err := checkBatch(b); err != nil {
		return loss.DiscriminatorLosses{}, err
	}
	if !tensor.SameShape(fakes.A, b.A) || !tensor.SameShape(fakes.B, b.B) {
		return loss.DiscriminatorLosses{}, fmt.Errorf("%w: fakes %v/%v for batch %v", ErrStaleFakes, fakes.A.Shape, fakes.B.Shape, b.A.Shape)
	}
	p := c.opts.Pair
	p.SetDiscriminatorsTrainable(true)

	pooledA := c.opts.PoolA.QueryBatch(fakes.A)
	pooledB := c.opts.PoolB.QueryBatch(fakes.B)
	total, losses := c.opts.Loss.Discriminator(loss.DiscriminatorInputs{
		PredRealA: p.DisA.Forward(b.A),
		PredFakeA: p.DisA.Forward(pooledA),
		PredRealB: p.DisB.Forward(b.B),
		PredFakeB: p.DisB.Forward(pooledB),
	})
	if !finite(losses.Total) {
		return loss.DiscriminatorLosses{}, fmt.Errorf("%w: dis_loss=%v", ErrNonFinite, losses.Total)
	}

	c.opts.DisOpt.ZeroGrad()
	tensor.Backward(total)
	c.opts.DisOpt.Step()

	c.phase = GeneratorPhase
	return losses, nil
}

// Step runs both phases of b in order.
func (c *Controller) Step(b dataset.Batch) (StepResult, error) {
	gen, err := c.GeneratorStep(b)
	if err != nil {
		return StepResult{}, err
	}
	dis, err := c.DiscriminatorStep(b, gen.Fakes)
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{Gen: gen.Losses, Dis: dis, Metrics: gen.Metrics}, nil
}

func checkBatch(b dataset.Batch) error {
	if b.A == nil || b.B == nil {
		return fmt.Errorf("%w: missing domain tensor", ErrShapeMismatch)
	}
	if len(b.A.Shape) != 4 || b.A.Shape[1] != 3 || !tensor.SameShape(b.A, b.B) {
		return fmt.Errorf("%w: A %v, B %v", ErrShapeMismatch, b.A.Shape, b.B.Shape)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

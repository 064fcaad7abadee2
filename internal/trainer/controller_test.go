package trainer

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/janpfeifer/must"

	"cyclegan-forge/internal/dataset"
	"cyclegan-forge/internal/loss"
	"cyclegan-forge/internal/metrics"
	"cyclegan-forge/internal/model"
	"cyclegan-forge/internal/optim"
	"cyclegan-forge/internal/pool"
	"cyclegan-forge/internal/tensor"
)

// passThrough is a generator that returns its input.
type passThrough struct{}

func (passThrough) Forward(x *tensor.Tensor) *tensor.Tensor { return x }
func (passThrough) Params() []model.Param                   { return nil }

// constant is a discriminator that predicts v everywhere.
type constant struct{ v float64 }

func (c constant) Forward(x *tensor.Tensor) *tensor.Tensor {
	return tensor.Full(c.v, x.Shape[0], 1, 2, 2)
}
func (constant) Params() []model.Param { return nil }

type fixture struct {
	ctrl         *Controller
	pair         *model.Pair
	poolA, poolB *pool.Pool
}

func newFixture(t *testing.T, pair *model.Pair, opts ControllerOptions) fixture {
	t.Helper()
	opts.Pair = pair
	opts.Loss = must.M1(loss.New(loss.MAE, loss.MAE))
	opts.GenOpt = must.M1(optim.NewAdam(optim.GANAdamConfig(2e-4), pair.GeneratorParams()))
	opts.DisOpt = must.M1(optim.NewAdam(optim.GANAdamConfig(2e-4), pair.DiscriminatorParams()))
	opts.PoolA = pool.New(pool.DefaultCapacity, pool.DefaultKeepProb, rand.New(rand.NewSource(1)))
	opts.PoolB = pool.New(pool.DefaultCapacity, pool.DefaultKeepProb, rand.New(rand.NewSource(2)))
	ctrl, err := NewController(opts)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return fixture{ctrl: ctrl, pair: pair, poolA: opts.PoolA, poolB: opts.PoolB}
}

func stubPair(disValue float64) *model.Pair {
	return &model.Pair{GenAB: passThrough{}, GenBA: passThrough{}, DisA: constant{disValue}, DisB: constant{disValue}}
}

func zeroBatch(index, n, size int) dataset.Batch {
	return dataset.Batch{Index: index, A: tensor.New(n, 3, size, size), B: tensor.New(n, 3, size, size)}
}

func TestStepHandComputedLosses(t *testing.T) {
	tracker := must.M1(metrics.NewTracker([]metrics.Kind{metrics.PSNR}))
	f := newFixture(t, stubPair(0.5), ControllerOptions{Tracker: tracker})

	res, err := f.ctrl.Step(zeroBatch(0, 2, 4))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	near := func(got, want float64) bool { return math.Abs(got-want) < 1e-12 }
	if !near(res.Gen.Total, 0.5) || !near(res.Gen.AdvA, 0.25) || !near(res.Gen.AdvB, 0.25) ||
		res.Gen.Cycle != 0 || res.Gen.Identity != 0 {
		t.Fatalf("generator losses %+v, want total 0.5", res.Gen)
	}
	if !near(res.Dis.Total, 0.5) || !near(res.Dis.RealA, 0.25) || !near(res.Dis.FakeB, 0.25) {
		t.Fatalf("discriminator losses %+v, want total 0.5", res.Dis)
	}
	if res.Metrics["psnr_A"] != 100 || res.Metrics["psnr_B"] != 100 {
		t.Fatalf("metrics %v", res.Metrics)
	}
	vals := res.Values()
	for _, k := range []string{"gen_loss", "id_loss", "cyc_loss", "gen_A_loss", "gen_B_loss",
		"dis_loss", "mse_real_A", "mse_real_B", "mse_fake_A", "mse_fake_B", "psnr_A"} {
		if _, ok := vals[k]; !ok {
			t.Fatalf("missing %s in %v", k, vals)
		}
	}
	if f.poolA.Len() != 2 || f.poolB.Len() != 2 {
		t.Fatalf("pools hold %d/%d images, want 2/2", f.poolA.Len(), f.poolB.Len())
	}
	if f.ctrl.Phase() != GeneratorPhase {
		t.Fatalf("phase after step %v", f.ctrl.Phase())
	}
}

func TestPhaseOrder(t *testing.T) {
	f := newFixture(t, stubPair(0.5), ControllerOptions{})
	b := zeroBatch(0, 1, 4)
	if _, err := f.ctrl.DiscriminatorStep(b, Fakes{}); !errors.Is(err, ErrPhaseOrder) {
		t.Fatalf("discriminator first: %v", err)
	}
	if _, err := f.ctrl.GeneratorStep(b); err != nil {
		t.Fatalf("GeneratorStep: %v", err)
	}
	if f.ctrl.Phase() != DiscriminatorPhase {
		t.Fatalf("phase %v", f.ctrl.Phase())
	}
	if _, err := f.ctrl.GeneratorStep(b); !errors.Is(err, ErrPhaseOrder) {
		t.Fatalf("second generator step: %v", err)
	}
}

func TestStaleFakesRejected(t *testing.T) {
	f := newFixture(t, stubPair(0.5), ControllerOptions{})
	first := zeroBatch(0, 1, 4)
	gen1 := must.M1(f.ctrl.GeneratorStep(first))
	must.M1(f.ctrl.DiscriminatorStep(first, gen1.Fakes))

	second := zeroBatch(1, 1, 4)
	must.M1(f.ctrl.GeneratorStep(second))
	if _, err := f.ctrl.DiscriminatorStep(second, gen1.Fakes); !errors.Is(err, ErrStaleFakes) {
		t.Fatalf("expected ErrStaleFakes, got %v", err)
	}
}

func TestShapeAndFiniteGuards(t *testing.T) {
	f := newFixture(t, stubPair(0.5), ControllerOptions{})
	bad := dataset.Batch{A: tensor.New(1, 3, 4, 4), B: tensor.New(1, 3, 8, 8)}
	if _, err := f.ctrl.Step(bad); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if f.ctrl.Phase() != GeneratorPhase {
		t.Fatal("rejected batch changed the phase")
	}

	g := newFixture(t, stubPair(math.NaN()), ControllerOptions{})
	if _, err := g.ctrl.Step(zeroBatch(0, 1, 4)); !errors.Is(err, ErrNonFinite) {
		t.Fatalf("expected ErrNonFinite, got %v", err)
	}
}

func snapshotParams(ts []*tensor.Tensor) [][]float64 {
	out := make([][]float64, len(ts))
	for i, t := range ts {
		out[i] = append([]float64(nil), t.Data...)
	}
	return out
}

func changed(before [][]float64, after []*tensor.Tensor) bool {
	for i, t := range after {
		for j, v := range t.Data {
			if v != before[i][j] {
				return true
			}
		}
	}
	return false
}

func TestPhasesUpdateOnlyTheirNetworks(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	pair := must.M1(model.NewPair(model.Spec{
		Generator: model.ResNet3, Discriminator: model.PixelGAN, NGF: 2, NDF: 2,
	}, rng))
	f := newFixture(t, pair, ControllerOptions{})
	b := dataset.Batch{A: tensor.Normal(rng, 0, 0.5, 1, 3, 8, 8), B: tensor.Normal(rng, 0, 0.5, 1, 3, 8, 8)}

	genBefore := snapshotParams(pair.GeneratorParams())
	disBefore := snapshotParams(pair.DiscriminatorParams())
	gen, err := f.ctrl.GeneratorStep(b)
	if err != nil {
		t.Fatalf("GeneratorStep: %v", err)
	}
	if !changed(genBefore, pair.GeneratorParams()) {
		t.Fatal("generator phase did not update the generators")
	}
	if changed(disBefore, pair.DiscriminatorParams()) {
		t.Fatal("generator phase updated the discriminators")
	}
	for _, p := range pair.DiscriminatorParams() {
		if p.RequiresGrad() || p.Grad != nil {
			t.Fatal("discriminator parameter tracked gradients during the generator phase")
		}
	}

	genAfter := snapshotParams(pair.GeneratorParams())
	if _, err := f.ctrl.DiscriminatorStep(b, gen.Fakes); err != nil {
		t.Fatalf("DiscriminatorStep: %v", err)
	}
	if changed(genAfter, pair.GeneratorParams()) {
		t.Fatal("discriminator phase updated the generators")
	}
	if !changed(disBefore, pair.DiscriminatorParams()) {
		t.Fatal("discriminator phase did not update the discriminators")
	}
}

func TestSnapshotPolicyHook(t *testing.T) {
	var calls []int
	f := newFixture(t, stubPair(0.5), ControllerOptions{
		Snapshot: SnapshotPolicy{Batches: []int{1}},
		OnSnapshot: func(batch int, a, b, fakeA, fakeB *tensor.Tensor) error {
			calls = append(calls, batch)
			return nil
		},
	})
	for i := 0; i < 3; i++ {
		if _, err := f.ctrl.Step(zeroBatch(i, 1, 4)); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}
	if len(calls) != 1 || calls[0] != 1 {
		t.Fatalf("snapshot calls %v, want [1]", calls)
	}
}

func TestSnapshotPolicyDue(t *testing.T) {
	explicit := SnapshotPolicy{Batches: []int{5, 105, 205, 305, 505}}
	interval := SnapshotPolicy{Every: 100, Offset: 5}
	for _, i := range []int{0, 4, 5, 6, 105, 205, 405, 505, 605} {
		wantExplicit := i == 5 || i == 105 || i == 205 || i == 505
		if explicit.Due(i) != wantExplicit {
			t.Fatalf("explicit.Due(%d)=%v", i, explicit.Due(i))
		}
		wantInterval := i >= 5 && (i-5)%100 == 0
		if interval.Due(i) != wantInterval {
			t.Fatalf("interval.Due(%d)=%v", i, interval.Due(i))
		}
	}
	if (SnapshotPolicy{}).Due(0) {
		t.Fatal("zero policy fired")
	}
}

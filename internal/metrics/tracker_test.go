package metrics

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"cyclegan-forge/internal/tensor"
)

func batch(rng *rand.Rand, n int) *tensor.Tensor {
	t := tensor.Normal(rng, 0, 0.4, n, 3, 12, 12)
	for i, v := range t.Data {
		t.Data[i] = math.Max(-1, math.Min(1, v))
	}
	return t
}

func sameValue(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return math.Abs(a-b) < 1e-12
}

func TestResetAllMatchesFreshTracker(t *testing.T) {
	kinds := []Kind{SSIM, PSNR, FID}
	rng := rand.New(rand.NewSource(21))
	used, _ := NewTracker(kinds)
	for i := 0; i < 3; i++ {
		for _, k := range kinds {
			if _, err := used.Update(k, DomainA, batch(rng, 2), batch(rng, 2)); err != nil {
				t.Fatalf("warm-up update: %v", err)
			}
		}
	}
	used.ResetAll()

	fresh, _ := NewTracker(kinds)
	pred, ref := batch(rng, 3), batch(rng, 3)
	for _, k := range kinds {
		got, err := used.Update(k, DomainA, pred, ref)
		if err != nil {
			t.Fatalf("Update %s: %v", k, err)
		}
		want, _ := fresh.Update(k, DomainA, pred, ref)
		if !sameValue(got, want) {
			t.Fatalf("%s after reset %g, fresh %g", k, got, want)
		}
	}
}

func TestWithoutResetValuesCarryOver(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	used, _ := NewTracker([]Kind{PSNR})
	used.Update(PSNR, DomainB, batch(rng, 1), batch(rng, 1))

	fresh, _ := NewTracker([]Kind{PSNR})
	pred := batch(rng, 1)
	got, _ := used.Update(PSNR, DomainB, pred, pred)
	want, _ := fresh.Update(PSNR, DomainB, pred, pred)
	if sameValue(got, want) {
		t.Fatal("expected the running value to include the previous epoch")
	}
}

func TestIdenticalImages(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	tr, _ := NewTracker([]Kind{SSIM, PSNR})
	img := batch(rng, 2)
	if v, _ := tr.Update(SSIM, DomainA, img, img); math.Abs(v-1) > 1e-9 {
		t.Fatalf("ssim of identical images %f", v)
	}
	if v, _ := tr.Update(PSNR, DomainA, img, img); v != psnrCeiling {
		t.Fatalf("psnr of identical images %f", v)
	}
}

func TestPSNRKnownValue(t *testing.T) {
	tr, _ := NewTracker([]Kind{PSNR})
	// -1 -> 0 and 1 -> 255: every pixel differs by 255.
	v, err := tr.Update(PSNR, DomainA, tensor.Full(-1, 1, 3, 4, 4), tensor.Full(1, 1, 3, 4, 4))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if math.Abs(v) > 1e-12 {
		t.Fatalf("psnr %f, want 0", v)
	}
}

func TestFIDNeedsTwoSamples(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tr, _ := NewTracker([]Kind{FID})
	v, _ := tr.Update(FID, DomainA, batch(rng, 1), batch(rng, 1))
	if !math.IsNaN(v) {
		t.Fatalf("fid with one sample %f, want NaN", v)
	}
	v, _ = tr.Update(FID, DomainA, batch(rng, 4), batch(rng, 4))
	if math.IsNaN(v) || v < 0 {
		t.Fatalf("fid %f", v)
	}
	same := batch(rng, 24)
	tr.ResetAll()
	if v, _ := tr.Update(FID, DomainA, same, same); v > 1e-2 {
		t.Fatalf("fid of identical sets %g", v)
	}
}

func TestUntrackedKind(t *testing.T) {
	tr, _ := NewTracker([]Kind{SSIM})
	_, err := tr.Update(PSNR, DomainA, tensor.New(1, 3, 8, 8), tensor.New(1, 3, 8, 8))
	if !errors.Is(err, ErrNotTracked) {
		t.Fatalf("expected ErrNotTracked, got %v", err)
	}
	if _, err := ParseKind("LPIPS"); err == nil {
		t.Fatal("expected unknown metric error")
	}
	if k, err := ParseKind("SSIM"); err != nil || k != SSIM {
		t.Fatalf("ParseKind(SSIM)=%v %v", k, err)
	}
}

func TestUpdateDomainNames(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tr, _ := NewTracker([]Kind{SSIM, PSNR})
	vals, err := tr.UpdateDomain(DomainB, batch(rng, 1), batch(rng, 1))
	if err != nil {
		t.Fatalf("UpdateDomain: %v", err)
	}
	if _, ok := vals["ssim_B"]; !ok {
		t.Fatalf("missing ssim_B in %v", vals)
	}
	if _, ok := vals["psnr_B"]; !ok {
		t.Fatalf("missing psnr_B in %v", vals)
	}
}

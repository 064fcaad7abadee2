package model

import (
	"math"
	"math/rand"
	"testing"

	"cyclegan-forge/internal/tensor"
)

func TestGeneratorPreservesShape(t *testing.T) {
	for _, kind := range []GeneratorKind{ResNet3, ResNet7, ResNet9} {
		gen, err := NewGenerator(kind, 2)
		if err != nil {
			t.Fatalf("NewGenerator(%s): %v", kind, err)
		}
		InitWeights(gen, rand.New(rand.NewSource(1)), DefaultInitGain)
		x := tensor.Normal(rand.New(rand.NewSource(2)), 0, 0.5, 2, 3, 16, 16)
		y := gen.Forward(x)
		if !tensor.SameShape(x, y) {
			t.Fatalf("%s: output %v, want %v", kind, y.Shape, x.Shape)
		}
		for _, v := range y.Data {
			if v < -1 || v > 1 {
				t.Fatalf("%s: output %f outside tanh range", kind, v)
			}
		}
	}
}

func TestDiscriminatorOutputSize(t *testing.T) {
	cases := []struct {
		kind DiscriminatorKind
		in   int
		want int
	}{
		{PatchGAN, 32, 2},
		{PatchGAN, 256, 30},
		{PatchGAN, 16, 0},
		{PixelGAN, 8, 8},
	}
	for _, tc := range cases {
		if got := tc.kind.OutputSize(tc.in); got != tc.want {
			t.Fatalf("%s.OutputSize(%d)=%d want %d", tc.kind, tc.in, got, tc.want)
		}
		if tc.want == 0 {
			continue
		}
		dis, err := NewDiscriminator(tc.kind, 2)
		if err != nil {
			t.Fatalf("NewDiscriminator: %v", err)
		}
		if tc.in > 64 {
			continue
		}
		out := dis.Forward(tensor.New(1, 3, tc.in, tc.in))
		if out.Shape[1] != 1 || out.Shape[2] != tc.want || out.Shape[3] != tc.want {
			t.Fatalf("%s: output shape %v, want side %d", tc.kind, out.Shape, tc.want)
		}
	}
}

func TestParseArchitectureNames(t *testing.T) {
	if k, err := ParseGenerator("resnet_gen_7"); err != nil || k != ResNet7 || k.Blocks() != 7 {
		t.Fatalf("ParseGenerator: kind=%v err=%v", k, err)
	}
	if _, err := ParseGenerator("unet_256"); err == nil {
		t.Fatal("expected error for unknown generator")
	}
	if k, err := ParseDiscriminator("pixelGAN"); err != nil || k != PixelGAN {
		t.Fatalf("ParseDiscriminator: kind=%v err=%v", k, err)
	}
	if _, err := ParseDiscriminator("PatchGAN"); err == nil {
		t.Fatal("names are case sensitive")
	}
}

func TestNewPairInitialization(t *testing.T) {
	pair, err := NewPair(Spec{Generator: ResNet3, Discriminator: PatchGAN, NGF: 8, NDF: 8}, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	seen := map[string]bool{}
	var weights []float64
	for _, p := range pair.NamedParams() {
		if seen[p.Name] {
			t.Fatalf("duplicate parameter name %s", p.Name)
		}
		seen[p.Name] = true
		switch p.Role {
		case RoleBias:
			for _, v := range p.Tensor.Data {
				if v != 0 {
					t.Fatalf("%s: bias not zero", p.Name)
				}
			}
		case RoleWeight:
			weights = append(weights, p.Tensor.Data...)
		}
	}
	var mean, sq float64
	for _, v := range weights {
		mean += v
		sq += v * v
	}
	mean /= float64(len(weights))
	std := math.Sqrt(sq/float64(len(weights)) - mean*mean)
	if math.Abs(mean) > 1e-3 || math.Abs(std-DefaultInitGain) > 1e-3 {
		t.Fatalf("weights mean=%g std=%g", mean, std)
	}
	if !seen["gen_ab.0.weight"] && !seen["gen_ab.1.weight"] {
		t.Fatalf("expected generator parameters to be prefixed, got %v", seen)
	}
}

func TestSetDiscriminatorsTrainable(t *testing.T) {
	pair, err := NewPair(Spec{Generator: ResNet3, Discriminator: PixelGAN, NGF: 2, NDF: 2}, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	pair.SetDiscriminatorsTrainable(false)
	for _, p := range pair.DiscriminatorParams() {
		if p.RequiresGrad() {
			t.Fatal("discriminator parameter still trainable")
		}
	}
	for _, p := range pair.GeneratorParams() {
		if !p.RequiresGrad() {
			t.Fatal("generator parameter frozen by discriminator toggle")
		}
	}
	pair.SetDiscriminatorsTrainable(true)
	for _, p := range pair.DiscriminatorParams() {
		if !p.RequiresGrad() {
			t.Fatal("discriminator parameter not re-enabled")
		}
	}
}

func TestLoadParamsAllOrNothing(t *testing.T) {
	spec := Spec{Generator: ResNet3, Discriminator: PixelGAN, NGF: 2, NDF: 2}
	src, _ := NewPair(spec, rand.New(rand.NewSource(1)))
	dst, _ := NewPair(spec, rand.New(rand.NewSource(2)))

	values := map[string][]float64{}
	for _, p := range src.NamedParams() {
		values[p.Name] = p.Tensor.Data
	}
	if err := dst.LoadParams(values); err != nil {
		t.Fatalf("LoadParams: %v", err)
	}
	for i, p := range dst.NamedParams() {
		want := src.NamedParams()[i].Tensor.Data
		for j := range want {
			if p.Tensor.Data[j] != want[j] {
				t.Fatalf("%s[%d] not loaded", p.Name, j)
			}
		}
	}

	delete(values, "dis_b.0.weight")
	if err := dst.LoadParams(values); err == nil {
		t.Fatal("expected error for missing parameter")
	}
}

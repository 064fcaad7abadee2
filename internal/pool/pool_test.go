package pool

import (
	"math/rand"
	"testing"

	"cyclegan-forge/internal/tensor"
)

func image(v float64) *tensor.Tensor {
	return tensor.Full(v, 1, 3, 2, 2)
}

func TestPoolSizeLaw(t *testing.T) {
	const capacity = 5
	p := New(capacity, DefaultKeepProb, rand.New(rand.NewSource(1)))
	seen := map[*tensor.Tensor]bool{}
	for call := 1; call <= 40; call++ {
		in := image(float64(call))
		seen[in] = true
		out := p.Query([]*tensor.Tensor{in})
		want := call
		if want > capacity {
			want = capacity
		}
		if p.Len() != want {
			t.Fatalf("after %d calls pool size %d, want %d", call, p.Len(), want)
		}
		if !seen[out[0]] {
			t.Fatalf("call %d returned an image that was never queried", call)
		}
		for _, stored := range p.images {
			if !seen[stored] {
				t.Fatalf("pool holds an image that was never queried")
			}
		}
	}
}

func TestPoolReturnsInputWhileFilling(t *testing.T) {
	p := New(3, 0, rand.New(rand.NewSource(1)))
	in := []*tensor.Tensor{image(1), image(2), image(3)}
	out := p.Query(in)
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("slot %d: expected the input back while filling", i)
		}
	}
}

func TestPoolKeepProbOneIsIdentity(t *testing.T) {
	p := New(2, 1, rand.New(rand.NewSource(1)))
	// keepProb only applies once the pool is full; filling still stores.
	first := image(1)
	if out := p.Query([]*tensor.Tensor{first}); out[0] != first || p.Len() != 1 {
		t.Fatalf("filling query returned a different image or stored %d", p.Len())
	}
	p.Query([]*tensor.Tensor{image(2)})
	if p.Len() != 2 {
		t.Fatalf("pool holds %d images after filling, want 2", p.Len())
	}
	before := append([]*tensor.Tensor(nil), p.images...)
	for i := 0; i < 20; i++ {
		in := image(float64(10 + i))
		if out := p.Query([]*tensor.Tensor{in}); out[0] != in {
			t.Fatalf("query %d was not the identity", i)
		}
	}
	for i := range before {
		if p.images[i] != before[i] {
			t.Fatalf("slot %d mutated with keepProb=1", i)
		}
	}
}

func TestPoolZeroCapacityIsIdentity(t *testing.T) {
	p := New(0, 0, rand.New(rand.NewSource(1)))
	for i := 0; i < 10; i++ {
		in := image(float64(i))
		if out := p.Query([]*tensor.Tensor{in}); out[0] != in {
			t.Fatalf("query %d was not the identity", i)
		}
	}
	if p.Len() != 0 {
		t.Fatalf("zero-capacity pool stored %d images", p.Len())
	}
}

func TestPoolSwapsWhenFull(t *testing.T) {
	p := New(1, 0, rand.New(rand.NewSource(1)))
	first := image(1)
	p.Query([]*tensor.Tensor{first})
	second := image(2)
	out := p.Query([]*tensor.Tensor{second})
	if out[0] != first {
		t.Fatal("expected the stored image to be returned")
	}
	if p.images[0] != second {
		t.Fatal("expected the new image to replace the stored one")
	}
}

func TestQueryBatchKeepsShape(t *testing.T) {
	p := New(4, DefaultKeepProb, rand.New(rand.NewSource(9)))
	batch := tensor.Full(0.25, 3, 3, 2, 2)
	out := p.QueryBatch(batch)
	if !tensor.SameShape(batch, out) {
		t.Fatalf("shape %v, want %v", out.Shape, batch.Shape)
	}
	if out.RequiresGrad() {
		t.Fatal("pooled batch must be detached")
	}
	if p.Len() != 3 {
		t.Fatalf("pool size %d, want 3", p.Len())
	}
}

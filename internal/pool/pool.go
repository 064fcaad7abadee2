// Package pool keeps a bounded history of generated images so that the
// discriminator is trained against a mix of past and current fakes.
package pool

import (
	"math/rand"

	"cyclegan-forge/internal/tensor"
)

const (
	DefaultCapacity = 50
	DefaultKeepProb = 0.5
)

// Pool is a fixed-capacity reservoir of single-image tensors ([1, C, H, W]).
// It is not safe for concurrent use.
type Pool struct {
	capacity int
	keepProb float64
	rng      *rand.Rand
	images   []*tensor.Tensor
}

// New returns an empty pool. keepProb is the probability that a full pool
// hands the incoming image straight back instead of swapping it in.
func New(capacity int, keepProb float64, rng *rand.Rand) *Pool {
	if capacity < 0 {
		capacity = 0
	}
	return &Pool{
		capacity: capacity,
		keepProb: keepProb,
		rng:      rng,
		images:   make([]*tensor.Tensor, 0, capacity),
	}
}

// Len returns the number of stored images.
func (p *Pool) Len() int { return len(p.images) }

// Capacity returns the configured bound.
func (p *Pool) Capacity() int { return p.capacity }

// Query returns one image per input. Inputs must already be detached.
// While filling, each input is stored and returned as-is. Once full, an
// input is returned as-is with probability keepProb; otherwise a random
// stored image is returned and replaced by the input.
func (p *Pool) Query(images []*tensor.Tensor) []*tensor.Tensor {
	out := make([]*tensor.Tensor, len(images))
	for i, img := range images {
		if p.capacity == 0 {
			out[i] = img
			continue
		}
		if len(p.images) < p.capacity {
			p.images = append(p.images, img)
			out[i] = img
			continue
		}
		if p.rng.Float64() < p.keepProb {
			out[i] = img
			continue
		}
		slot := p.rng.Intn(p.capacity)
		out[i] = p.images[slot]
		p.images[slot] = img
	}
	return out
}

// QueryBatch splits a [N, C, H, W] batch, queries every image and stacks
// the result back into one detached batch.
func (p *Pool) QueryBatch(batch *tensor.Tensor) *tensor.Tensor {
	n := batch.Shape[0]
	images := make([]*tensor.Tensor, n)
	for i := range images {
		images[i] = tensor.Slice(batch, i).Detach()
	}
	return tensor.Concat(p.Query(images)...)
}

package dataset

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"cyclegan-forge/internal/tensor"
)

// Batch is one training or inference step's worth of images.
type Batch struct {
	Index  int
	A      *tensor.Tensor
	B      *tensor.Tensor
	PathsA []string
	PathsB []string
}

// Options configures a Loader.
type Options struct {
	Root       string
	Split      string
	ImageSize  int
	BatchSize  int
	NumWorkers int
	// Paired aligns A and B by sorted position; otherwise B is drawn
	// independently of A.
	Paired  bool
	Shuffle bool
	Seed    int64
}

// Loader yields batches for one split. Each domain directory holds either
// image files or WebDataset shards.
type Loader struct {
	opts Options
	a    []Item
	b    []Item
}

// ErrEmptyDomain indicates a domain directory without images.
var ErrEmptyDomain = errors.New("dataset: domain has no images")

// Open indexes <root>/<split>/A and <root>/<split>/B.
func Open(ctx context.Context, opts Options) (*Loader, error) {
	if opts.ImageSize <= 0 || opts.BatchSize <= 0 {
		return nil, fmt.Errorf("dataset: image size and batch size must be > 0")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	a, err := indexDomain(ctx, DomainDir(opts.Root, opts.Split, "A"))
	if err != nil {
		return nil, err
	}
	b, err := indexDomain(ctx, DomainDir(opts.Root, opts.Split, "B"))
	if err != nil {
		return nil, err
	}
	if opts.Paired && len(a) != len(b) {
		return nil, fmt.Errorf("dataset: paired split %s has %d A and %d B images", opts.Split, len(a), len(b))
	}
	return &Loader{opts: opts, a: a, b: b}, nil
}

func indexDomain(ctx context.Context, dir string) ([]Item, error) {
	shards, err := DiscoverShards(dir)
	if err != nil {
		return nil, err
	}
	var items []Item
	if len(shards) > 0 {
		items, err = ReadShards(ctx, shards)
		if err != nil {
			return nil, err
		}
	} else {
		files, err := DiscoverImages(dir)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			items = append(items, Item{Path: f})
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDomain, dir)
	}
	return items, nil
}

// Items returns the number of A/B pairs in one epoch: the common count in
// paired mode, the larger domain otherwise.
func (l *Loader) Items() int {
	if len(l.a) > len(l.b) {
		return len(l.a)
	}
	return len(l.b)
}

// Len returns the number of batches per epoch. The last batch may be short.
func (l *Loader) Len() int {
	return (l.Items() + l.opts.BatchSize - 1) / l.opts.BatchSize
}

// plan assigns items to batches for one epoch. The order is a pure
// function of seed and epoch.
func (l *Loader) plan(epoch int) []batchJob {
	n := l.Items()
	orderA := identity(len(l.a))
	orderB := identity(len(l.b))
	if l.opts.Shuffle {
		rng := rand.New(rand.NewSource(l.opts.Seed + int64(epoch)))
		rng.Shuffle(len(orderA), func(i, j int) { orderA[i], orderA[j] = orderA[j], orderA[i] })
		if l.opts.Paired {
			copy(orderB, orderA)
		} else {
			rng.Shuffle(len(orderB), func(i, j int) { orderB[i], orderB[j] = orderB[j], orderB[i] })
		}
	}
	jobs := make([]batchJob, 0, l.Len())
	for start := 0; start < n; start += l.opts.BatchSize {
		end := start + l.opts.BatchSize
		if end > n {
			end = n
		}
		job := batchJob{index: len(jobs)}
		for i := start; i < end; i++ {
			job.a = append(job.a, l.a[orderA[i%len(l.a)]])
			job.b = append(job.b, l.b[orderB[i%len(l.b)]])
		}
		jobs = append(jobs, job)
	}
	return jobs
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// Epoch streams the batches of one epoch in index order, decoding on
// NumWorkers goroutines. The error channel carries at most one error and
// is closed with the batch channel.
func (l *Loader) Epoch(ctx context.Context, epoch int) (<-chan Batch, <-chan error) {
	return startPipeline(ctx, l.plan(epoch), l.opts.NumWorkers, func(job batchJob) (Batch, error) {
		a, pathsA, err := stack(job.a, l.opts.ImageSize)
		if err != nil {
			return Batch{}, err
		}
		b, pathsB, err := stack(job.b, l.opts.ImageSize)
		if err != nil {
			return Batch{}, err
		}
		return Batch{Index: job.index, A: a, B: b, PathsA: pathsA, PathsB: pathsB}, nil
	})
}

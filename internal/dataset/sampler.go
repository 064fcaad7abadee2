package dataset

import (
	"context"
	"sync"
)

type batchJob struct {
	index int
	a     []Item
	b     []Item
}

type decoded struct {
	index int
	batch Batch
	err   error
}

// startPipeline decodes jobs on numWorkers goroutines and emits the
// results in job order.
func startPipeline(parent context.Context, jobs []batchJob, numWorkers int, decode func(batchJob) (Batch, error)) (<-chan Batch, <-chan error) {
	ctx, cancel := context.WithCancel(parent)

	jobCh := make(chan batchJob, numWorkers)
	results := make(chan decoded, numWorkers)
	out := make(chan Batch, numWorkers)
	errCh := make(chan error, 1)

	go produceJobs(ctx, jobCh, jobs)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx, jobCh, results, decode)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	go func() {
		defer cancel()
		defer close(out)
		defer close(errCh)
		if err := runAggregator(ctx, results, out, len(jobs)); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func produceJobs(ctx context.Context, jobCh chan<- batchJob, jobs []batchJob) {
	defer close(jobCh)
	for _, job := range jobs {
		select {
		case <-ctx.Done():
			return
		case jobCh <- job:
		}
	}
}

func worker(ctx context.Context, jobs <-chan batchJob, results chan<- decoded, decode func(batchJob) (Batch, error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			b, err := decode(job)
			select {
			case <-ctx.Done():
				return
			case results <- decoded{index: job.index, batch: b, err: err}:
			}
		}
	}
}

// runAggregator restores job order. Out-of-order results wait in pending
// until every earlier index has been emitted. Workers only run ahead by
// the channel buffers, which bounds pending.
func runAggregator(ctx context.Context, results <-chan decoded, out chan<- Batch, total int) error {
	pending := make(map[int]decoded)
	next := 0
	for next < total {
		res, ok := pending[next]
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case r, open := <-results:
				if !open {
					return ctx.Err()
				}
				pending[r.index] = r
			}
			continue
		}
		delete(pending, next)
		if res.err != nil {
			return res.err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- res.batch:
		}
		next++
	}
	return nil
}

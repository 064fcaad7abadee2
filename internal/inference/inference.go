// Package inference sweeps trained checkpoints over a held-out split and
// writes the translated images.
package inference

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"

	"k8s.io/klog/v2"

	"cyclegan-forge/internal/checkpoint"
	"cyclegan-forge/internal/config"
	"cyclegan-forge/internal/dataset"
	"cyclegan-forge/internal/imageio"
	"cyclegan-forge/internal/metrics"
	"cyclegan-forge/internal/model"
	"cyclegan-forge/internal/trainer"
)

// ErrNoCheckpoints is returned when there is nothing to sweep.
var ErrNoCheckpoints = errors.New("inference: no checkpoints found")

// Report summarizes one checkpoint of a sweep.
type Report struct {
	Checkpoint string
	Epoch      int
	Step       int64
	Images     int
	// Metrics compare G_BA(B) with A and G_AB(A) with B. Paired data only.
	Metrics map[string]float64
}

// Run translates the configured split with every checkpoint in turn. The
// same network pair is reused and fully overwritten at each load.
func Run(ctx context.Context, cfg *config.Config) ([]Report, error) {
	if cfg == nil {
		return nil, errors.New("inference: config is nil")
	}
	if err := cfg.ValidateInference(); err != nil {
		return nil, err
	}
	entries, err := checkpoints(cfg)
	if err != nil {
		return nil, err
	}

	pair, err := model.NewPair(model.Spec{
		Generator:     cfg.Generator,
		Discriminator: cfg.Discriminator,
		NGF:           cfg.NGF,
		NDF:           cfg.NDF,
	}, rand.New(rand.NewSource(cfg.Seed)))
	if err != nil {
		return nil, err
	}
	pair.Freeze()

	loader, err := dataset.Open(ctx, dataset.Options{
		Root:       cfg.DataRoot,
		Split:      cfg.SubFold,
		ImageSize:  cfg.ImageSize,
		BatchSize:  cfg.BatchSize,
		NumWorkers: cfg.NumWorkers,
		Paired:     cfg.Paired,
	})
	if err != nil {
		return nil, err
	}
	writer := imageio.Writer{Root: cfg.ModelName}

	reports := make([]Report, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		klog.InfoS("Loading checkpoint", "path", entry.Path)
		st, err := checkpoint.Load(entry.Path)
		if err != nil {
			return reports, err
		}
		if err := trainer.CheckMeta(cfg, st.Meta); err != nil {
			return reports, fmt.Errorf("%s: %w", entry.Path, err)
		}
		if err := pair.LoadParams(st.WeightMap()); err != nil {
			return reports, fmt.Errorf("%s: %w", entry.Path, err)
		}
		rep, err := sweep(ctx, cfg, pair, loader, writer, entry)
		if err != nil {
			return reports, err
		}
		args := []any{"checkpoint", entry.Path, "epoch", rep.Epoch, "images", rep.Images}
		for _, k := range metrics.SortedKeys(rep.Metrics) {
			args = append(args, k, rep.Metrics[k])
		}
		klog.InfoS("Checkpoint done", args...)
		reports = append(reports, rep)
	}
	return reports, nil
}

func checkpoints(cfg *config.Config) ([]checkpoint.Entry, error) {
	var (
		entries []checkpoint.Entry
		err     error
	)
	if len(cfg.CkptNames) > 0 {
		entries, err = checkpoint.Resolve(cfg.CheckpointDir, cfg.CkptNames)
	} else {
		entries, err = checkpoint.Discover(cfg.CheckpointDir)
		if errors.Is(err, os.ErrNotExist) {
			err = nil
		}
	}
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoCheckpoints, cfg.CheckpointDir)
	}
	return entries, nil
}

func sweep(parent context.Context, cfg *config.Config, pair *model.Pair, loader *dataset.Loader, writer imageio.Writer, entry checkpoint.Entry) (Report, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	rep := Report{Checkpoint: entry.Path, Epoch: entry.Epoch, Step: entry.Step}
	var tracker *metrics.Tracker
	if cfg.Paired && len(cfg.MetricKinds) > 0 {
		t, err := metrics.NewTracker(cfg.MetricKinds)
		if err != nil {
			return rep, err
		}
		tracker = t
		rep.Metrics = make(map[string]float64)
	}

	batches, errCh := loader.Epoch(ctx, 0)
	for b := range batches {
		fakeB := pair.GenAB.Forward(b.A)
		fakeA := pair.GenBA.Forward(b.B)
		for i := range b.PathsA {
			var err error
			if cfg.Paired {
				_, err = writer.WritePaired(entry.Epoch, cfg.SubFold, i, b.A, b.B, fakeA, fakeB, b.PathsA[i])
			} else {
				_, _, err = writer.WriteUnpaired(entry.Epoch, cfg.SubFold, i, b.A, b.B, fakeA, fakeB, b.PathsA[i], b.PathsB[i])
			}
			if err != nil {
				return rep, err
			}
			rep.Images++
		}
		if tracker != nil {
			a, err := tracker.UpdateDomain(metrics.DomainA, fakeA, b.A)
			if err != nil {
				return rep, err
			}
			bv, err := tracker.UpdateDomain(metrics.DomainB, fakeB, b.B)
			if err != nil {
				return rep, err
			}
			for k, v := range a {
				rep.Metrics[k] = v
			}
			for k, v := range bv {
				rep.Metrics[k] = v
			}
		}
	}
	if err := <-errCh; err != nil {
		return rep, err
	}
	return rep, nil
}

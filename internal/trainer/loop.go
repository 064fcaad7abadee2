package trainer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"cyclegan-forge/internal/checkpoint"
	"cyclegan-forge/internal/config"
	"cyclegan-forge/internal/dataset"
	"cyclegan-forge/internal/imageio"
	"cyclegan-forge/internal/loss"
	"cyclegan-forge/internal/metrics"
	"cyclegan-forge/internal/model"
	"cyclegan-forge/internal/optim"
	"cyclegan-forge/internal/pool"
	"cyclegan-forge/internal/runlog"
	"cyclegan-forge/internal/tensor"
)

// TrainSplit is the dataset split used for training.
const TrainSplit = "Train"

// ResumeLatest asks Run to continue from the newest checkpoint, if any.
const ResumeLatest = "latest"

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Config *config.Config
	// Resume is a checkpoint path, ResumeLatest, or empty for a fresh run.
	Resume string
}

// Summary reports what a run did.
type Summary struct {
	FirstEpoch  int
	Epochs      int
	RunID       int64
	GlobalStep  int64
	Checkpoints []string
	// EpochMeans holds the mean of every logged scalar, per epoch run.
	EpochMeans []map[string]float64
}

// Run executes the training workload.
func Run(ctx context.Context, rc RunConfig) (Summary, error) {
	cfg := rc.Config
	if cfg == nil {
		return Summary{}, errors.New("trainer: config is nil")
	}
	if err := cfg.ValidateTraining(); err != nil {
		return Summary{}, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	pair, err := model.NewPair(model.Spec{
		Generator:     cfg.Generator,
		Discriminator: cfg.Discriminator,
		NGF:           cfg.NGF,
		NDF:           cfg.NDF,
	}, rng)
	if err != nil {
		return Summary{}, err
	}
	assembler, err := loss.New(cfg.Identity, cfg.Cycle)
	if err != nil {
		return Summary{}, err
	}
	if assembler.CycleIsL1Override() {
		klog.Warningf("cyc_loss=%s computes the L1 cycle loss", cfg.CycLoss)
	}
	sess, err := newSession(cfg, pair)
	if err != nil {
		return Summary{}, err
	}
	tracker, err := metrics.NewTracker(cfg.MetricKinds)
	if err != nil {
		return Summary{}, err
	}

	startEpoch, globalStep := 0, int64(0)
	if rc.Resume != "" {
		startEpoch, globalStep, err = resume(cfg, sess, rc.Resume)
		if err != nil {
			return Summary{}, err
		}
	}
	summary := Summary{FirstEpoch: startEpoch, GlobalStep: globalStep}

	var rlog *runlog.Log
	if cfg.RunDB != "" {
		rlog, err = openRunLog(ctx, cfg)
		if err != nil {
			return summary, err
		}
		defer rlog.Close()
		summary.RunID = rlog.RunID()
	}

	loader, err := dataset.Open(ctx, dataset.Options{
		Root:       cfg.DataRoot,
		Split:      TrainSplit,
		ImageSize:  cfg.ImageSize,
		BatchSize:  cfg.BatchSize,
		NumWorkers: cfg.NumWorkers,
		Paired:     cfg.Paired,
		Shuffle:    true,
		Seed:       cfg.Seed,
	})
	if err != nil {
		return summary, err
	}

	epoch := startEpoch
	writer := imageio.Writer{Root: cfg.ModelName}
	ctrl, err := NewController(ControllerOptions{
		Pair:     pair,
		Loss:     assembler,
		GenOpt:   sess.genOpt,
		DisOpt:   sess.disOpt,
		PoolA:    pool.New(cfg.PoolSize, cfg.PoolProb, rand.New(rand.NewSource(cfg.Seed+1))),
		PoolB:    pool.New(cfg.PoolSize, cfg.PoolProb, rand.New(rand.NewSource(cfg.Seed+2))),
		Tracker:  tracker,
		Snapshot: snapshotPolicy(cfg),
		OnSnapshot: func(batch int, a, b, fakeA, fakeB *tensor.Tensor) error {
			_, err := writer.WriteSnapshot(epoch, batch, a, b, fakeA, fakeB)
			return err
		},
	})
	if err != nil {
		return summary, err
	}

	klog.InfoS("Starting training", "model", cfg.ModelName, "generator", cfg.Generator, "discriminator", cfg.Discriminator,
		"epochs", cfg.Epochs, "first_epoch", startEpoch, "batches_per_epoch", loader.Len(), "paired", cfg.Paired)

	var (
		window metrics.Window
		means  metrics.EpochMeans
	)
	for ; epoch < cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		n, err := runEpoch(ctx, epochEnv{
			cfg: cfg, epoch: epoch, globalStep: &globalStep,
			loader: loader, ctrl: ctrl, window: &window, means: &means, rlog: rlog,
			lr: func() (float64, float64) { return sess.genOpt.LearningRate(), sess.disOpt.LearningRate() },
		})
		if err != nil {
			return summary, err
		}

		tracker.ResetAll()
		epochMeans := means.Snapshot()
		summary.EpochMeans = append(summary.EpochMeans, epochMeans)
		summary.Epochs++
		summary.GlobalStep = globalStep
		logEpoch(epoch, n, epochMeans)
		if rlog != nil {
			if err := rlog.RecordEpoch(ctx, epoch, epochMeans); err != nil {
				return summary, err
			}
		}

		sess.genSched.Step()
		sess.disSched.Step()

		if dueCheckpoint(cfg, epoch) {
			path := filepath.Join(cfg.CheckpointDir, checkpoint.Name(epoch, globalStep))
			if err := checkpoint.Save(path, sess.capture(cfg, epoch, globalStep)); err != nil {
				return summary, err
			}
			summary.Checkpoints = append(summary.Checkpoints, path)
			klog.InfoS("Saved checkpoint", "path", path, "epoch", epoch, "step", globalStep)
		}
	}
	return summary, nil
}

type epochEnv struct {
	cfg        *config.Config
	epoch      int
	globalStep *int64
	loader     *dataset.Loader
	ctrl       *Controller
	window     *metrics.Window
	means      *metrics.EpochMeans
	rlog       *runlog.Log
	lr         func() (gen, dis float64)
}

// runEpoch trains on every batch of one epoch and returns the batch count.
func runEpoch(parent context.Context, env epochEnv) (int, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	batches, errCh := env.loader.Epoch(ctx, env.epoch)

	count := 0
	for {
		startData := time.Now()
		var (
			batch dataset.Batch
			ok    bool
		)
		select {
		case <-parent.Done():
			return count, parent.Err()
		case batch, ok = <-batches:
		}
		if !ok {
			break
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		res, err := env.ctrl.Step(batch)
		if err != nil {
			return count, fmt.Errorf("epoch %d batch %d: %w", env.epoch, batch.Index, err)
		}
		computeTime := time.Since(startCompute)
		count++
		*env.globalStep++

		values := res.Values()
		env.means.AddAll(values)
		env.window.Record(batch.A.Shape[0], dataTime, computeTime, res.Gen.Total, res.Dis.Total)
		if env.rlog != nil {
			if err := env.rlog.RecordStep(ctx, env.epoch, batch.Index, *env.globalStep, values); err != nil {
				return count, err
			}
		}
		if *env.globalStep%int64(env.cfg.LogEvery) == 0 {
			snap := env.window.Snapshot()
			genLR, disLR := env.lr()
			klog.Infof("epoch=%d batch=%d step=%d images_per_sec=%.1f data_ms=%.2f compute_ms=%.2f gen_loss=%.4f dis_loss=%.4f gen_lr=%.3g dis_lr=%.3g",
				env.epoch, batch.Index, *env.globalStep,
				snap.ImagesPerSec, snap.AvgDataMS, snap.AvgComputeMS,
				snap.LastGenLoss, snap.LastDisLoss, genLR, disLR)
		}
	}
	if err := <-errCh; err != nil {
		return count, err
	}
	return count, nil
}

func logEpoch(epoch, batches int, means map[string]float64) {
	args := []any{"epoch", epoch, "batches", batches}
	for _, k := range metrics.SortedKeys(means) {
		args = append(args, k, means[k])
	}
	klog.InfoS("Epoch finished", args...)
}

func newSession(cfg *config.Config, pair *model.Pair) (*session, error) {
	genOpt, err := optim.NewAdam(optim.GANAdamConfig(cfg.GenLR), pair.GeneratorParams())
	if err != nil {
		return nil, fmt.Errorf("generator optimizer: %w", err)
	}
	disOpt, err := optim.NewAdam(optim.GANAdamConfig(cfg.DisLR), pair.DiscriminatorParams())
	if err != nil {
		return nil, fmt.Errorf("discriminator optimizer: %w", err)
	}
	decay := optim.LinearDecay{NLin: cfg.NLinEpoch, NDec: cfg.NDecEpoch}
	return &session{
		pair:     pair,
		genOpt:   genOpt,
		disOpt:   disOpt,
		genSched: optim.NewScheduler(genOpt, decay),
		disSched: optim.NewScheduler(disOpt, decay),
	}, nil
}

// resume loads a checkpoint into sess and returns the epoch to continue
// from and the global step reached.
func resume(cfg *config.Config, sess *session, from string) (int, int64, error) {
	path := from
	if from == ResumeLatest {
		latest, ok, err := checkpoint.Latest(cfg.CheckpointDir)
		if err != nil {
			return 0, 0, err
		}
		if !ok {
			klog.InfoS("No checkpoint to resume from, starting fresh", "dir", cfg.CheckpointDir)
			return 0, 0, nil
		}
		path = latest.Path
	}
	st, err := checkpoint.Load(path)
	if err != nil {
		return 0, 0, err
	}
	if err := sess.restore(cfg, st); err != nil {
		return 0, 0, fmt.Errorf("resume from %s: %w", path, err)
	}
	klog.InfoS("Resumed", "path", path, "epoch", st.Epoch, "step", st.GlobalStep)
	return st.Epoch + 1, st.GlobalStep, nil
}

func openRunLog(ctx context.Context, cfg *config.Config) (*runlog.Log, error) {
	rlog, err := runlog.Open(cfg.RunDB)
	if err != nil {
		return nil, err
	}
	text, err := yaml.Marshal(cfg)
	if err != nil {
		rlog.Close()
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if _, err := rlog.StartRun(ctx, cfg.ModelName, string(text)); err != nil {
		rlog.Close()
		return nil, err
	}
	return rlog, nil
}

func snapshotPolicy(cfg *config.Config) SnapshotPolicy {
	if cfg.SnapshotEvery > 0 {
		return SnapshotPolicy{Every: cfg.SnapshotEvery, Offset: cfg.SnapshotOffset}
	}
	return SnapshotPolicy{Batches: append([]int(nil), cfg.SnapshotBatches...)}
}

// dueCheckpoint saves every CheckpointEvery epochs (counting from one)
// and always after the final epoch.
func dueCheckpoint(cfg *config.Config, epoch int) bool {
	if epoch == cfg.Epochs-1 {
		return true
	}
	return cfg.CheckpointEvery > 0 && (epoch+1)%cfg.CheckpointEvery == 0
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"

	"cyclegan-forge/internal/config"
	"cyclegan-forge/internal/inference"
	"cyclegan-forge/internal/metrics"
	"cyclegan-forge/internal/trainer"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <train|infer> -config cfg.yaml [flags]\n", os.Args[0])
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd, args := os.Args[1], os.Args[2:]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	klog.InitFlags(fs)
	cfgPath := fs.String("config", "configs/horse2zebra.yaml", "Path to YAML config")
	dataRoot := fs.String("data-root", "", "Override dataset root")
	modelName := fs.String("model-name", "", "Override output directory")
	epochs := fs.Int("epochs", 0, "Number of training epochs")
	batchSize := fs.Int("batch-size", 0, "Batch size")
	numWorkers := fs.Int("num-workers", 0, "Number of data loader workers")
	seed := fs.Int64("seed", 0, "PRNG seed")
	logEvery := fs.Int("log-every", 0, "Log every N steps")
	resume := fs.String("resume", "", "Checkpoint to resume training from, or \"latest\"")

	switch cmd {
	case "train", "infer":
	default:
		usage()
	}
	if err := fs.Parse(args); err != nil {
		klog.Fatalf("parse flags: %v", err)
	}
	defer klog.Flush()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		klog.Fatalf("failed to load config: %v", err)
	}
	cfg.ApplyOverrides(config.Overrides{
		DataRoot:   *dataRoot,
		ModelName:  *modelName,
		Epochs:     *epochs,
		BatchSize:  *batchSize,
		NumWorkers: *numWorkers,
		Seed:       *seed,
		LogEvery:   *logEvery,
	})
	if err := cfg.Validate(); err != nil {
		klog.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "train":
		sum, err := trainer.Run(ctx, trainer.RunConfig{Config: cfg, Resume: *resume})
		if err != nil {
			klog.Fatalf("training failed: %v", err)
		}
		klog.InfoS("Training done", "first_epoch", sum.FirstEpoch, "epochs", sum.Epochs,
			"global_step", sum.GlobalStep, "checkpoints", len(sum.Checkpoints), "run_id", sum.RunID)
	case "infer":
		if *resume != "" {
			klog.Warningf("-resume is ignored by infer")
		}
		reports, err := inference.Run(ctx, cfg)
		if err != nil {
			klog.Fatalf("inference failed: %v", err)
		}
		for _, rep := range reports {
			line := fmt.Sprintf("epoch=%d images=%d", rep.Epoch, rep.Images)
			for _, k := range metrics.SortedKeys(rep.Metrics) {
				line += fmt.Sprintf(" %s=%.4f", k, rep.Metrics[k])
			}
			klog.Infof("%s %s", rep.Checkpoint, line)
		}
	}
}

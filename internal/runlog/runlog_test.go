package runlog

import (
	"context"
	"math"
	"path/filepath"
	"testing"
)

func openLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "db", "run.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	if _, err := l.StartRun(context.Background(), "runs/h2z", "gen_model: resnet_gen_9"); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	return l
}

func TestRecordStepSeries(t *testing.T) {
	ctx := context.Background()
	l := openLog(t)
	for step, v := range []float64{1.5, 1.25, math.NaN()} {
		err := l.RecordStep(ctx, 0, step, int64(step), map[string]float64{"gen_loss": v, "dis_loss": 0.5})
		if err != nil {
			t.Fatalf("RecordStep: %v", err)
		}
	}
	steps, vals, err := l.Series(ctx, "gen_loss")
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	if len(steps) != 3 || steps[2] != 2 {
		t.Fatalf("steps %v", steps)
	}
	if vals[0] != 1.5 || vals[1] != 1.25 || !math.IsNaN(vals[2]) {
		t.Fatalf("values %v", vals)
	}
}

func TestRecordEpochIsolatedByRun(t *testing.T) {
	ctx := context.Background()
	l := openLog(t)
	if err := l.RecordEpoch(ctx, 3, map[string]float64{"ssim_A": 0.7, "fid_B": math.Inf(1)}); err != nil {
		t.Fatalf("RecordEpoch: %v", err)
	}
	got, err := l.EpochValues(ctx, 3)
	if err != nil {
		t.Fatalf("EpochValues: %v", err)
	}
	if got["ssim_A"] != 0.7 || !math.IsNaN(got["fid_B"]) {
		t.Fatalf("epoch values %v", got)
	}

	first := l.RunID()
	if _, err := l.StartRun(ctx, "runs/h2z", ""); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if l.RunID() == first {
		t.Fatal("second run reused the run id")
	}
	got, err = l.EpochValues(ctx, 3)
	if err != nil {
		t.Fatalf("EpochValues: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("new run sees old values: %v", got)
	}
}

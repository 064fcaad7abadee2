package metrics

import (
	"math"
	"testing"
	"time"
)

func TestWindowSnapshot(t *testing.T) {
	var w Window
	w.Record(64, 20*time.Millisecond, 10*time.Millisecond, 1.2, 0.4)
	w.Record(64, 10*time.Millisecond, 20*time.Millisecond, 0.8, 0.3)
	snap := w.Snapshot()
	if math.Abs(snap.ImagesPerSec-2133.3333) > 1 {
		t.Fatalf("unexpected throughput %.2f", snap.ImagesPerSec)
	}
	if w.samples != 0 || w.steps != 0 {
		t.Fatalf("window was not reset")
	}
	if snap.LastGenLoss != 0.8 || snap.LastDisLoss != 0.3 {
		t.Fatalf("expected last losses 0.8/0.3, got %.2f/%.2f", snap.LastGenLoss, snap.LastDisLoss)
	}
}

func TestEpochMeansSnapshotResets(t *testing.T) {
	var e EpochMeans
	e.Add("gen_loss", 1)
	e.Add("gen_loss", 3)
	e.AddAll(map[string]float64{"dis_loss": 0.5})
	got := e.Snapshot()
	if got["gen_loss"] != 2 || got["dis_loss"] != 0.5 {
		t.Fatalf("unexpected means %v", got)
	}
	if len(e.Snapshot()) != 0 {
		t.Fatal("snapshot did not reset")
	}
	keys := SortedKeys(got)
	if keys[0] != "dis_loss" || keys[1] != "gen_loss" {
		t.Fatalf("keys %v", keys)
	}
}

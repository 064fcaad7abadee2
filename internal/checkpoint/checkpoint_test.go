package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"cyclegan-forge/internal/optim"
)

func sampleState() *State {
	return &State{
		Epoch:      4,
		GlobalStep: 9730,
		Weights: []Weight{
			{Name: "gen_ab.0.weight", Shape: []int{2, 3, 1, 1}, Data: []float64{1, -2, 3.5, 0, 1e-9, -7}},
			{Name: "gen_ab.0.bias", Shape: []int{2}, Data: []float64{0.25, -0.5}},
		},
		GenOptim: optim.AdamState{Steps: 12, LearningRate: 2e-4,
			M: [][]float64{{0.1, 0.2}, {0.3}}, V: [][]float64{{0.01, 0.02}, {0.03}}},
		DisOptim: optim.AdamState{Steps: 12, LearningRate: 1e-4,
			M: [][]float64{{-1}}, V: [][]float64{{2}}},
		GenSched: SchedulerState{BaseLR: 2e-4, Epoch: 5},
		DisSched: SchedulerState{BaseLR: 1e-4, Epoch: 5},
		Meta: Meta{Generator: "resnet_gen_9", Discriminator: "patchGAN",
			NGF: 64, NDF: 64, ImageSize: 256, Created: time.Unix(1700000000, 0).UTC()},
	}
}

func TestSaveLoadPreservesState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", Name(4, 9730))
	want := sampleState()
	if err := Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("state changed on round trip:\n got %+v\nwant %+v", got, want)
	}
	if m := got.WeightMap(); len(m["gen_ab.0.bias"]) != 2 {
		t.Fatalf("weight map %v", m)
	}
	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".ckpt-*"))
	if len(leftovers) != 0 {
		t.Fatalf("temporary files left behind: %v", leftovers)
	}
}

func TestLoadRejectsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.ckpt")
	if err := os.WriteFile(path, []byte{0xff, 0xff, 0xff}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected decode error")
	}
	// A well-formed message without the version marker is rejected too.
	if err := os.WriteFile(path, []byte{0x08, 0x01}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected version error")
	}
	if _, err := Load(filepath.Join(dir, "missing.ckpt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestNameRoundTrip(t *testing.T) {
	name := Name(4, 9730)
	if name != "cyclegan-epoch=00004-step=9730.ckpt" {
		t.Fatalf("Name=%s", name)
	}
	epoch, step, err := ParseName("/runs/x/checkpoints/" + name)
	if err != nil || epoch != 4 || step != 9730 {
		t.Fatalf("ParseName=%d,%d,%v", epoch, step, err)
	}
	if _, _, err := ParseName("last.ckpt"); !errors.Is(err, ErrBadName) {
		t.Fatalf("expected ErrBadName, got %v", err)
	}
}

func TestDiscoverOrdersByEpochThenStep(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		Name(14, 29190), Name(4, 9730), Name(9, 19460), Name(9, 19000), "notes.txt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	entries, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, filepath.Base(e.Path))
	}
	want := []string{Name(4, 9730), Name(9, 19000), Name(9, 19460), Name(14, 29190)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order %v want %v", got, want)
	}
	latest, ok, err := Latest(dir)
	if err != nil || !ok || latest.Epoch != 14 {
		t.Fatalf("Latest=%+v %v %v", latest, ok, err)
	}
	if _, ok, err := Latest(filepath.Join(dir, "absent")); ok || err != nil {
		t.Fatalf("Latest on missing dir: %v %v", ok, err)
	}
}

func TestResolveKeepsOrder(t *testing.T) {
	entries, err := Resolve("/ckpts", []string{Name(9, 2), Name(4, 1)})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if entries[0].Epoch != 9 || entries[1].Path != filepath.Join("/ckpts", Name(4, 1)) {
		t.Fatalf("entries %+v", entries)
	}
	if _, err := Resolve("/ckpts", []string{"model.pt"}); !errors.Is(err, ErrBadName) {
		t.Fatalf("expected ErrBadName, got %v", err)
	}
}

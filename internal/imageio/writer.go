package imageio

import (
	"fmt"
	"path/filepath"

	"cyclegan-forge/internal/tensor"
)

// Writer places training snapshots and inference predictions under a
// model output directory.
type Writer struct {
	Root string
}

// SnapshotPath is <root>/Train Images/epoch_EEEEE/BBBBB_i.png.
func (w Writer) SnapshotPath(epoch, batch, item int) string {
	return filepath.Join(w.Root, "Train Images", fmt.Sprintf("epoch_%05d", epoch), fmt.Sprintf("%05d_%d.png", batch, item))
}

// PredictionDir is <root>/Epoch_EEEEE_<subFold>_Predictions<suffix>.
func (w Writer) PredictionDir(epoch int, subFold, suffix string) string {
	return filepath.Join(w.Root, fmt.Sprintf("Epoch_%05d_%s_Predictions%s", epoch, subFold, suffix))
}

// WriteSnapshot writes one 2x2 grid per batch item and returns the paths.
func (w Writer) WriteSnapshot(epoch, batch int, a, b, fakeA, fakeB *tensor.Tensor) ([]string, error) {
	n := a.Shape[0]
	paths := make([]string, 0, n)
	for i := 0; i < n; i++ {
		grid := PairedGrid(ToImage(a, i), ToImage(fakeB, i), ToImage(b, i), ToImage(fakeA, i))
		path := w.SnapshotPath(epoch, batch, i)
		if err := WritePNG(path, grid); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WritePaired writes item i as a 2x2 grid named after its domain-A source.
func (w Writer) WritePaired(epoch int, subFold string, i int, a, b, fakeA, fakeB *tensor.Tensor, sourceA string) (string, error) {
	path := filepath.Join(w.PredictionDir(epoch, subFold, ""), PNGName(sourceA))
	grid := PairedGrid(ToImage(a, i), ToImage(fakeB, i), ToImage(b, i), ToImage(fakeA, i))
	return path, WritePNG(path, grid)
}

// WriteUnpaired writes [A | fakeB] into the _A folder and [B | fakeA] into
// the _B folder, each named after its own source file.
func (w Writer) WriteUnpaired(epoch int, subFold string, i int, a, b, fakeA, fakeB *tensor.Tensor, sourceA, sourceB string) (string, string, error) {
	pathA := filepath.Join(w.PredictionDir(epoch, subFold, "_A"), PNGName(sourceA))
	if err := WritePNG(pathA, UnpairedGrid(ToImage(a, i), ToImage(fakeB, i))); err != nil {
		return "", "", err
	}
	pathB := filepath.Join(w.PredictionDir(epoch, subFold, "_B"), PNGName(sourceB))
	if err := WritePNG(pathB, UnpairedGrid(ToImage(b, i), ToImage(fakeA, i))); err != nil {
		return pathA, "", err
	}
	return pathA, pathB, nil
}

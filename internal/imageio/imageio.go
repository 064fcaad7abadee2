package imageio

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	"cyclegan-forge/internal/tensor"
)

// Background fills grid cells that no tile covers.
var Background = color.RGBA{R: 250, G: 250, B: 250, A: 255}

// ToImage converts item i of a [N, 3, H, W] tensor in [-1, 1] to an RGBA
// image. Channel values map through (x+1)*127.5 and are truncated.
func ToImage(t *tensor.Tensor, i int) *image.RGBA {
	if len(t.Shape) != 4 || t.Shape[1] != 3 {
		panic(fmt.Sprintf("imageio: want [N,3,H,W], got %v", t.Shape))
	}
	h, w := t.Shape[2], t.Shape[3]
	per := h * w
	base := i * 3 * per
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := y*w + x
			img.SetRGBA(x, y, color.RGBA{
				R: to8(t.Data[base+off]),
				G: to8(t.Data[base+per+off]),
				B: to8(t.Data[base+2*per+off]),
				A: 255,
			})
		}
	}
	return img
}

func to8(v float64) uint8 {
	v = (v + 1) * 127.5
	switch {
	case v <= 0 || v != v:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v)
}

// Grid lays tiles out row-major, cols per row, on the Background colour.
// Every cell is sized after the first tile.
func Grid(cols int, tiles ...image.Image) *image.RGBA {
	if cols <= 0 || len(tiles) == 0 {
		return image.NewRGBA(image.Rectangle{})
	}
	cell := tiles[0].Bounds().Size()
	rows := (len(tiles) + cols - 1) / cols
	out := image.NewRGBA(image.Rect(0, 0, cols*cell.X, rows*cell.Y))
	draw.Draw(out, out.Bounds(), image.NewUniform(Background), image.Point{}, draw.Src)
	for i, tile := range tiles {
		at := image.Pt((i%cols)*cell.X, (i/cols)*cell.Y)
		r := image.Rectangle{Min: at, Max: at.Add(cell)}
		draw.Draw(out, r, tile, tile.Bounds().Min, draw.Src)
	}
	return out
}

// PairedGrid is the 2x2 comparison [A | fakeB ; B | fakeA].
func PairedGrid(a, fakeB, b, fakeA image.Image) *image.RGBA {
	return Grid(2, a, fakeB, b, fakeA)
}

// UnpairedGrid is the side-by-side comparison [real | translated].
func UnpairedGrid(real, translated image.Image) *image.RGBA {
	return Grid(2, real, translated)
}

// WritePNG encodes img at path, creating parent directories.
func WritePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// PNGName replaces the extension of a source file's base name with .png.
func PNGName(source string) string {
	base := filepath.Base(source)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".png"
}

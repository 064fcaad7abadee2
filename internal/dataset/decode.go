package dataset

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"

	"cyclegan-forge/internal/tensor"
)

// Item is one image of a domain: a file on disk, or an entry already read
// from a shard.
type Item struct {
	Path string
	raw  []byte
}

func (it Item) bytes() ([]byte, error) {
	if it.raw != nil {
		return it.raw, nil
	}
	data, err := os.ReadFile(it.Path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}

// Decode decodes an encoded image, resizes it bilinearly to size x size and
// returns it as a [3, size, size] plane set scaled to [-1, 1].
func Decode(raw []byte, size int) ([]float64, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	per := size * size
	out := make([]float64, 3*per)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			p := dst.RGBAAt(x, y)
			off := y*size + x
			out[off] = float64(p.R)/127.5 - 1
			out[per+off] = float64(p.G)/127.5 - 1
			out[2*per+off] = float64(p.B)/127.5 - 1
		}
	}
	return out, nil
}

// stack decodes items into one [N, 3, size, size] tensor.
func stack(items []Item, size int) (*tensor.Tensor, []string, error) {
	per := 3 * size * size
	t := tensor.New(len(items), 3, size, size)
	paths := make([]string, len(items))
	for i, it := range items {
		raw, err := it.bytes()
		if err != nil {
			return nil, nil, err
		}
		planes, err := Decode(raw, size)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", it.Path, err)
		}
		copy(t.Data[i*per:(i+1)*per], planes)
		paths[i] = it.Path
	}
	return t, paths, nil
}

package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Sample is one image entry from a WebDataset shard.
type Sample struct {
	Key   string
	Name  string
	Image []byte
}

// ErrDuplicateKey indicates a shard holds two images with the same key.
var ErrDuplicateKey = errors.New("webdataset: duplicate sample key")

// StreamShard streams the image entries of the shard at path. Entries with
// other extensions are skipped.
func StreamShard(ctx context.Context, path string) (<-chan Sample, <-chan error) {
	out := make(chan Sample)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		f, err := os.Open(path)
		if err != nil {
			errCh <- fmt.Errorf("open shard: %w", err)
			return
		}
		defer f.Close()

		tr := tar.NewReader(bufio.NewReader(f))
		seen := make(map[string]bool)

		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}

			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errCh <- fmt.Errorf("read tar: %w", err)
				return
			}
			if hdr.FileInfo().IsDir() {
				continue
			}
			name := filepath.Base(hdr.Name)
			if !isImage(name) {
				continue
			}
			key := strings.TrimSuffix(name, filepath.Ext(name))
			if seen[key] {
				errCh <- fmt.Errorf("%w: %s in %s", ErrDuplicateKey, key, path)
				return
			}
			seen[key] = true

			data, err := io.ReadAll(tr)
			if err != nil {
				errCh <- fmt.Errorf("read image %s: %w", name, err)
				return
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- Sample{Key: key, Name: name, Image: data}:
			}
		}
	}()

	return out, errCh
}

// ReadShards collects every image of the given shards, in shard order.
// Item paths take the form <shard>/<entry name>.
func ReadShards(ctx context.Context, shards []string) ([]Item, error) {
	var items []Item
	for _, shard := range shards {
		samples, errCh := StreamShard(ctx, shard)
		for s := range samples {
			items = append(items, Item{Path: filepath.Join(shard, s.Name), raw: s.Image})
		}
		if err := <-errCh; err != nil {
			return nil, err
		}
	}
	return items, nil
}

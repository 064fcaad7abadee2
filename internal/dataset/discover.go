package dataset

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var shardRegexp = regexp.MustCompile(`^shard-[0-9]{6,}\.tar$`)

// imageExts are the file extensions the decoder understands.
var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true, ".tif": true, ".tiff": true,
}

func isImage(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

// DiscoverShards returns absolute paths to shard TAR files beneath root.
func DiscoverShards(root string) ([]string, error) {
	return walkSorted(root, func(name string) bool { return shardRegexp.MatchString(name) }, "shards")
}

// DiscoverImages returns the image files beneath root in lexical order.
func DiscoverImages(root string) ([]string, error) {
	return walkSorted(root, isImage, "images")
}

func walkSorted(root string, keep func(string) bool, what string) ([]string, error) {
	entries := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if keep(d.Name()) {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", what, err)
	}
	sort.Strings(entries)
	return entries, nil
}

// DomainDir returns <root>/<split>/<domain>.
func DomainDir(root, split, domain string) string {
	return filepath.Join(root, split, domain)
}

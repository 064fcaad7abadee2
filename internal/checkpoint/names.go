package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

var nameRegexp = regexp.MustCompile(`^cyclegan-epoch=([0-9]+)-step=([0-9]+)\.ckpt$`)

// ErrBadName reports a file name that does not encode epoch and step.
var ErrBadName = errors.New("checkpoint: name does not match cyclegan-epoch=NNNNN-step=N.ckpt")

// Name returns the file name for a checkpoint taken after epoch and step.
func Name(epoch int, step int64) string {
	return fmt.Sprintf("cyclegan-epoch=%05d-step=%d.ckpt", epoch, step)
}

// ParseName extracts epoch and global step from a checkpoint file name.
// Directory components are ignored.
func ParseName(name string) (epoch int, step int64, err error) {
	m := nameRegexp.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	epoch, err = strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	step, err = strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return epoch, step, nil
}

// Entry is a discovered checkpoint file.
type Entry struct {
	Path  string
	Epoch int
	Step  int64
}

// Discover lists the checkpoints in dir ordered by epoch, then step.
// Files with other names are ignored.
func Discover(dir string) ([]Entry, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("discover checkpoints: %w", err)
	}
	var out []Entry
	for _, it := range items {
		if it.IsDir() {
			continue
		}
		epoch, step, err := ParseName(it.Name())
		if err != nil {
			continue
		}
		out = append(out, Entry{Path: filepath.Join(dir, it.Name()), Epoch: epoch, Step: step})
	}
	SortEntries(out)
	return out, nil
}

// Resolve turns explicit checkpoint names into entries relative to dir,
// keeping the given order.
func Resolve(dir string, names []string) ([]Entry, error) {
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		epoch, step, err := ParseName(name)
		if err != nil {
			return nil, err
		}
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, name)
		}
		out = append(out, Entry{Path: path, Epoch: epoch, Step: step})
	}
	return out, nil
}

// Latest returns the newest checkpoint in dir, or false if there is none.
func Latest(dir string) (Entry, bool, error) {
	entries, err := Discover(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	if len(entries) == 0 {
		return Entry{}, false, nil
	}
	return entries[len(entries)-1], true, nil
}

// SortEntries orders entries by epoch, then step.
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Epoch != entries[j].Epoch {
			return entries[i].Epoch < entries[j].Epoch
		}
		return entries[i].Step < entries[j].Step
	})
}

package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cyclegan-forge/internal/optim"
)

// formatVersion is written into every file and checked on load.
const formatVersion = "cyclegan-forge/1"

// Weight is one named parameter tensor.
type Weight struct {
	Name  string
	Shape []int
	Data  []float64
}

// SchedulerState is the resumable part of a learning-rate schedule.
type SchedulerState struct {
	BaseLR float64
	Epoch  int
}

// Meta describes the networks a checkpoint was produced by.
type Meta struct {
	Generator     string
	Discriminator string
	NGF           int
	NDF           int
	ImageSize     int
	Created       time.Time
}

// State is everything needed to resume training or rebuild the network
// pair for inference.
type State struct {
	Epoch      int
	GlobalStep int64
	Weights    []Weight
	GenOptim   optim.AdamState
	DisOptim   optim.AdamState
	GenSched   SchedulerState
	DisSched   SchedulerState
	Meta       Meta
}

// WeightMap indexes the weights by name.
func (s *State) WeightMap() map[string][]float64 {
	out := make(map[string][]float64, len(s.Weights))
	for _, w := range s.Weights {
		out[w.Name] = w.Data
	}
	return out
}

// Save writes state to path. The file is written under a temporary name
// and renamed into place, so readers never observe a partial checkpoint.
func Save(path string, state *State) error {
	if state == nil {
		return fmt.Errorf("checkpoint: nil state")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ckpt-*")
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(marshalState(state)); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish checkpoint: %w", err)
	}
	return nil
}

// Load reads a checkpoint written by Save.
func Load(path string) (*State, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	state, err := unmarshalState(raw)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return state, nil
}

package trainer

import (
	"fmt"
	"time"

	"cyclegan-forge/internal/checkpoint"
	"cyclegan-forge/internal/config"
	"cyclegan-forge/internal/model"
	"cyclegan-forge/internal/optim"
)

// session is the resumable training state.
type session struct {
	pair     *model.Pair
	genOpt   *optim.Adam
	disOpt   *optim.Adam
	genSched *optim.Scheduler
	disSched *optim.Scheduler
}

func (s *session) capture(cfg *config.Config, epoch int, globalStep int64) *checkpoint.State {
	params := s.pair.NamedParams()
	weights := make([]checkpoint.Weight, len(params))
	for i, p := range params {
		weights[i] = checkpoint.Weight{
			Name:  p.Name,
			Shape: append([]int(nil), p.Tensor.Shape...),
			Data:  append([]float64(nil), p.Tensor.Data...),
		}
	}
	return &checkpoint.State{
		Epoch:      epoch,
		GlobalStep: globalStep,
		Weights:    weights,
		GenOptim:   s.genOpt.State(),
		DisOptim:   s.disOpt.State(),
		GenSched:   checkpoint.SchedulerState{BaseLR: s.genSched.BaseLR(), Epoch: s.genSched.Epoch()},
		DisSched:   checkpoint.SchedulerState{BaseLR: s.disSched.BaseLR(), Epoch: s.disSched.Epoch()},
		Meta:       MetaFor(cfg),
	}
}

func (s *session) restore(cfg *config.Config, st *checkpoint.State) error {
	if err := CheckMeta(cfg, st.Meta); err != nil {
		return err
	}
	if err := s.pair.LoadParams(st.WeightMap()); err != nil {
		return err
	}
	if err := s.genOpt.LoadState(st.GenOptim); err != nil {
		return fmt.Errorf("generator optimizer: %w", err)
	}
	if err := s.disOpt.LoadState(st.DisOptim); err != nil {
		return fmt.Errorf("discriminator optimizer: %w", err)
	}
	s.genSched.Restore(st.GenSched.BaseLR, st.GenSched.Epoch)
	s.disSched.Restore(st.DisSched.BaseLR, st.DisSched.Epoch)
	return nil
}

// MetaFor describes the networks cfg builds.
func MetaFor(cfg *config.Config) checkpoint.Meta {
	return checkpoint.Meta{
		Generator:     cfg.Generator.String(),
		Discriminator: cfg.Discriminator.String(),
		NGF:           cfg.NGF,
		NDF:           cfg.NDF,
		ImageSize:     cfg.ImageSize,
		Created:       time.Now().UTC().Truncate(time.Second),
	}
}

// CheckMeta rejects checkpoints produced by different architectures.
func CheckMeta(cfg *config.Config, m checkpoint.Meta) error {
	want := MetaFor(cfg)
	if m.Generator != want.Generator || m.Discriminator != want.Discriminator || m.NGF != want.NGF || m.NDF != want.NDF {
		return fmt.Errorf("checkpoint built for %s/%s ngf=%d ndf=%d, config wants %s/%s ngf=%d ndf=%d",
			m.Generator, m.Discriminator, m.NGF, m.NDF,
			want.Generator, want.Discriminator, want.NGF, want.NDF)
	}
	return nil
}

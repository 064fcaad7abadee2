package optim

import "math"

// LinearDecay keeps the learning rate constant for NLin epochs and then
// decays it linearly to zero over NDec further epochs.
type LinearDecay struct {
	NLin int
	NDec int
}

// Factor returns max(0, 1 - max(0, epoch+1-NLin)/(NDec+1)).
func (d LinearDecay) Factor(epoch int) float64 {
	over := math.Max(0, float64(epoch+1-d.NLin))
	return math.Max(0, 1-over/float64(d.NDec+1))
}

// Scheduler drives one optimizer's learning rate from the epoch count.
type Scheduler struct {
	opt    *Adam
	decay  LinearDecay
	baseLR float64
	epoch  int
}

// NewScheduler captures opt's current learning rate as the base rate and
// applies the epoch-0 factor.
func NewScheduler(opt *Adam, decay LinearDecay) *Scheduler {
	s := &Scheduler{opt: opt, decay: decay, baseLR: opt.LearningRate()}
	opt.SetLearningRate(s.baseLR * decay.Factor(0))
	return s
}

// Step advances to the next epoch.
func (s *Scheduler) Step() {
	s.epoch++
	s.opt.SetLearningRate(s.baseLR * s.decay.Factor(s.epoch))
}

// Epoch returns the epoch the current learning rate belongs to.
func (s *Scheduler) Epoch() int { return s.epoch }

// BaseLR returns the undecayed learning rate.
func (s *Scheduler) BaseLR() float64 { return s.baseLR }

// Restore resumes the schedule at epoch.
func (s *Scheduler) Restore(baseLR float64, epoch int) {
	s.baseLR = baseLR
	s.epoch = epoch
	s.opt.SetLearningRate(s.baseLR * s.decay.Factor(s.epoch))
}

package training

import (
	"fmt"
	"math"
)

// LRScheduler defines the interface for learning rate scheduling strategies.
// Implementations are pure: the learning rate depends only on the arguments.
type LRScheduler interface {
	// GetLR returns the learning rate for the current epoch/step
	GetLR(epoch int, step int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// CosineWarmupScheduler ramps the learning rate linearly from 0 to baseLR over
// WarmupSteps optimizer steps, then decays it along half a cosine period to 0
// at TotalSteps.
type CosineWarmupScheduler struct {
	WarmupSteps int
	TotalSteps  int
	NumCycles   float64 // half-periods of the cosine; 0.5 decays once to zero
}

// NewCosineWarmupScheduler creates a cosine schedule with linear warmup.
func NewCosineWarmupScheduler(warmupSteps, totalSteps int) *CosineWarmupScheduler {
	if warmupSteps < 0 {
		warmupSteps = 0
	}
	if totalSteps < warmupSteps {
		totalSteps = warmupSteps
	}
	return &CosineWarmupScheduler{
		WarmupSteps: warmupSteps,
		TotalSteps:  totalSteps,
		NumCycles:   0.5,
	}
}

func (s *CosineWarmupScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if step < s.WarmupSteps {
		return baseLR * float64(step) / float64(max(1, s.WarmupSteps))
	}
	progress := float64(step-s.WarmupSteps) / float64(max(1, s.TotalSteps-s.WarmupSteps))
	return baseLR * math.Max(0, 0.5*(1+math.Cos(math.Pi*s.NumCycles*2*progress)))
}

func (s *CosineWarmupScheduler) GetName() string {
	return "CosineWithWarmup"
}

// LinearWarmupScheduler ramps up like CosineWarmupScheduler and then decays
// linearly to 0 at TotalSteps.
type LinearWarmupScheduler struct {
	WarmupSteps int
	TotalSteps  int
}

// NewLinearWarmupScheduler creates a linear schedule with linear warmup.
func NewLinearWarmupScheduler(warmupSteps, totalSteps int) *LinearWarmupScheduler {
	if warmupSteps < 0 {
		warmupSteps = 0
	}
	if totalSteps < warmupSteps {
		totalSteps = warmupSteps
	}
	return &LinearWarmupScheduler{WarmupSteps: warmupSteps, TotalSteps: totalSteps}
}

func (s *LinearWarmupScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if step < s.WarmupSteps {
		return baseLR * float64(step) / float64(max(1, s.WarmupSteps))
	}
	remaining := float64(s.TotalSteps-step) / float64(max(1, s.TotalSteps-s.WarmupSteps))
	return baseLR * math.Max(0, remaining)
}

func (s *LinearWarmupScheduler) GetName() string {
	return "LinearWithWarmup"
}

// NoOpScheduler maintains constant learning rate
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR
}

func (s *NoOpScheduler) GetName() string {
	return "ConstantLR"
}

// NewLRScheduler builds the schedule registered under name.
func NewLRScheduler(name string, warmupSteps, totalSteps int) (LRScheduler, error) {
	switch name {
	case "", "cosine":
		return NewCosineWarmupScheduler(warmupSteps, totalSteps), nil
	case "linear":
		return NewLinearWarmupScheduler(warmupSteps, totalSteps), nil
	case "constant":
		return &NoOpScheduler{}, nil
	default:
		return nil, fmt.Errorf("unknown scheduler %q", name)
	}
}

// LRSetter is the part of an optimizer a scheduler drives.
type LRSetter interface {
	SetLR(lr float64)
}

// StepScheduler advances an LRScheduler once per optimizer step and pushes
// the resulting rate into the optimizer. The step-0 rate is applied on
// construction.
type StepScheduler struct {
	schedule LRScheduler
	opt      LRSetter
	baseLR   float64
	step     int
	epoch    int
	lastLR   float64
}

// NewStepScheduler binds schedule to opt and applies the initial rate.
func NewStepScheduler(schedule LRScheduler, opt LRSetter, baseLR float64) *StepScheduler {
	s := &StepScheduler{schedule: schedule, opt: opt, baseLR: baseLR}
	s.apply()
	return s
}

// Step advances by one optimizer step.
func (s *StepScheduler) Step() {
	s.step++
	s.apply()
}

// SetEpoch records the epoch passed to epoch-aware schedules.
func (s *StepScheduler) SetEpoch(epoch int) {
	s.epoch = epoch
}

// LastLR returns the most recently applied learning rate.
func (s *StepScheduler) LastLR() float64 { return s.lastLR }

// StepCount returns the number of completed steps.
func (s *StepScheduler) StepCount() int { return s.step }

// Name returns the underlying schedule name.
func (s *StepScheduler) Name() string { return s.schedule.GetName() }

func (s *StepScheduler) apply() {
	s.lastLR = s.schedule.GetLR(s.epoch, s.step, s.baseLR)
	s.opt.SetLR(s.lastLR)
}

// WarmupAndTotalSteps derives the cosine schedule span from the loader length:
// one accumulation-adjusted epoch of warmup out of epochs such epochs.
func WarmupAndTotalSteps(batchesPerEpoch, accumIter, epochs int) (warmup, total int) {
	if accumIter <= 0 {
		accumIter = 1
	}
	warmup = batchesPerEpoch / accumIter
	total = epochs * batchesPerEpoch / accumIter
	return warmup, total
}

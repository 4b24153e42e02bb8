package amp

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/WENGSYX/BASELINE-CCKS/tensor"
)

// Stepper applies accumulated gradients to parameters.
type Stepper interface {
	Step() error
}

// GradientSource exposes the gradient tensors of the trainable parameters.
type GradientSource interface {
	Gradients() []*tensor.Tensor
}

// ScalerConfig holds dynamic loss scaling settings.
type ScalerConfig struct {
	Enabled        bool
	InitScale      float64
	GrowthFactor   float64
	BackoffFactor  float64
	GrowthInterval int
}

// DefaultScalerConfig mirrors the usual accelerator defaults.
func DefaultScalerConfig() ScalerConfig {
	return ScalerConfig{
		Enabled:        true,
		InitScale:      65536.0,
		GrowthFactor:   2.0,
		BackoffFactor:  0.5,
		GrowthInterval: 2000,
	}
}

// GradScaler multiplies the loss gradient by a dynamic scale before the
// backward pass, and divides it back out before the optimizer step. Steps
// whose unscaled gradients are non-finite are skipped and the scale backs
// off. A disabled scaler is the identity.
type GradScaler struct {
	config        ScalerConfig
	scale         float64
	growthTracker int
	foundInf      bool
	stepped       bool
}

// NewGradScaler creates a scaler, filling unset fields with defaults.
func NewGradScaler(config ScalerConfig) *GradScaler {
	defaults := DefaultScalerConfig()
	if config.InitScale <= 0 {
		config.InitScale = defaults.InitScale
	}
	if config.GrowthFactor <= 1 {
		config.GrowthFactor = defaults.GrowthFactor
	}
	if config.BackoffFactor <= 0 || config.BackoffFactor >= 1 {
		config.BackoffFactor = defaults.BackoffFactor
	}
	if config.GrowthInterval <= 0 {
		config.GrowthInterval = defaults.GrowthInterval
	}
	return &GradScaler{config: config, scale: config.InitScale}
}

// Enabled reports whether loss scaling is active.
func (s *GradScaler) Enabled() bool { return s.config.Enabled }

// Scale returns the current loss scale, 1 when disabled.
func (s *GradScaler) Scale() float64 {
	if !s.config.Enabled {
		return 1
	}
	return s.scale
}

// ScaleGradients multiplies a loss gradient by the current scale in place.
func (s *GradScaler) ScaleGradients(grad [][]float64) [][]float64 {
	if !s.config.Enabled {
		return grad
	}
	for _, row := range grad {
		floats.Scale(s.scale, row)
	}
	return grad
}

// Step unscales the gradients of src and runs opt.Step unless any of them is
// non-finite. It reports whether the optimizer actually stepped.
func (s *GradScaler) Step(opt Stepper, src GradientSource) (bool, error) {
	grads := src.Gradients()
	if s.config.Enabled {
		inv := 1 / s.scale
		s.foundInf = false
		for _, g := range grads {
			g.Scale(inv)
			if !g.IsFinite() {
				s.foundInf = true
			}
		}
		s.stepped = true
		if s.foundInf {
			return false, nil
		}
	}
	if err := opt.Step(); err != nil {
		return false, fmt.Errorf("optimizer step failed: %w", err)
	}
	return true, nil
}

// Update adjusts the scale after a Step: back off on overflow, grow after
// GrowthInterval consecutive clean steps.
func (s *GradScaler) Update() {
	if !s.config.Enabled || !s.stepped {
		return
	}
	s.stepped = false

	if s.foundInf {
		s.scale *= s.config.BackoffFactor
		s.growthTracker = 0
		return
	}
	s.growthTracker++
	if s.growthTracker == s.config.GrowthInterval {
		s.scale *= s.config.GrowthFactor
		s.growthTracker = 0
	}
}

// FoundInf reports whether the last Step saw non-finite gradients.
func (s *GradScaler) FoundInf() bool { return s.foundInf }

// Package optimizer implements the parameter update rules used by fine-tuning.
package optimizer

import (
	"fmt"

	"github.com/WENGSYX/BASELINE-CCKS/nn"
)

// Optimizer defines the common interface for all optimizers.
type Optimizer interface {
	// Step applies one update using the gradients currently stored on the
	// parameters.
	Step() error

	// ZeroGrad resets every parameter gradient to zero.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float64

	// SetLR replaces the learning rate used by subsequent steps.
	SetLR(lr float64)

	// GetStepCount returns the number of completed steps.
	GetStepCount() uint64

	// GetState extracts the optimizer state for checkpointing.
	GetState() (*OptimizerState, error)

	// LoadState restores a state produced by GetState.
	LoadState(state *OptimizerState) error
}

// OptimizerState represents the complete state of an optimizer.
type OptimizerState struct {
	Type       string                 `json:"type"`       // "AdamW", "SGD"
	Parameters map[string]interface{} `json:"parameters"` // hyperparameters
	StateData  []StateTensor          `json:"state_data"`
}

// StateTensor is one per-parameter buffer such as a moment estimate.
type StateTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float64 `json:"data"`
	StateType string    `json:"state_type"` // "m", "v", "momentum"
}

// New builds the optimizer registered under name.
func New(name string, params *nn.ParameterSet, lr, weightDecay float64) (Optimizer, error) {
	switch name {
	case "", "adamw":
		config := DefaultAdamWConfig()
		config.LearningRate = lr
		config.WeightDecay = weightDecay
		return NewAdamW(params, config)
	case "sgd":
		config := DefaultSGDConfig()
		config.LearningRate = lr
		config.WeightDecay = weightDecay
		return NewSGD(params, config)
	default:
		return nil, fmt.Errorf("unknown optimizer %q", name)
	}
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state == nil {
		return fmt.Errorf("nil optimizer state")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}

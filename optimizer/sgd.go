package optimizer

import (
	"fmt"

	"github.com/WENGSYX/BASELINE-CCKS/nn"
	"github.com/WENGSYX/BASELINE-CCKS/tensor"
)

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float64
	Momentum     float64 // 0 for vanilla SGD
	WeightDecay  float64 // L2 penalty folded into the gradient
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.9,
	}
}

// SGD implements stochastic gradient descent with optional momentum.
type SGD struct {
	config   SGDConfig
	params   *nn.ParameterSet
	velocity map[string]*tensor.Tensor
	step     uint64
}

// NewSGD creates a new SGD optimizer
func NewSGD(params *nn.ParameterSet, config SGDConfig) (*SGD, error) {
	if params == nil || len(params.Trainable()) == 0 {
		return nil, fmt.Errorf("no trainable parameters")
	}
	if config.Nesterov && config.Momentum <= 0 {
		return nil, fmt.Errorf("nesterov momentum requires a positive momentum")
	}
	return &SGD{
		config:   config,
		params:   params,
		velocity: make(map[string]*tensor.Tensor),
	}, nil
}

// Step performs a single optimization step
func (s *SGD) Step() error {
	s.step++
	for _, p := range s.params.Trainable() {
		if p.Grad == nil {
			continue
		}
		if !p.Grad.SameShape(p.Value) {
			return fmt.Errorf("%s: gradient shape %v does not match %v", p.Name, p.Grad.Shape, p.Value.Shape)
		}
		var vel []float64
		if s.config.Momentum > 0 {
			buf, ok := s.velocity[p.Name]
			if !ok {
				buf = tensor.ZerosLike(p.Value)
				s.velocity[p.Name] = buf
			}
			vel = buf.Data
		}
		for i, g := range p.Grad.Data {
			g += s.config.WeightDecay * p.Value.Data[i]
			if vel != nil {
				vel[i] = s.config.Momentum*vel[i] + g
				if s.config.Nesterov {
					g += s.config.Momentum * vel[i]
				} else {
					g = vel[i]
				}
			}
			p.Value.Data[i] -= s.config.LearningRate * g
		}
	}
	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (s *SGD) ZeroGrad() { s.params.ZeroGrad() }

// GetLR returns the current learning rate
func (s *SGD) GetLR() float64 { return s.config.LearningRate }

// SetLR sets the learning rate
func (s *SGD) SetLR(lr float64) { s.config.LearningRate = lr }

// GetStepCount returns the current optimization step number
func (s *SGD) GetStepCount() uint64 { return s.step }

// GetState extracts the velocity buffers.
func (s *SGD) GetState() (*OptimizerState, error) {
	state := &OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": s.config.LearningRate,
			"momentum":      s.config.Momentum,
			"weight_decay":  s.config.WeightDecay,
			"nesterov":      s.config.Nesterov,
			"step_count":    s.step,
		},
	}
	for _, name := range s.params.Names() {
		if buf, ok := s.velocity[name]; ok {
			state.StateData = append(state.StateData, extractBufferState(buf, name, "momentum"))
		}
	}
	return state, nil
}

// LoadState restores hyperparameters and velocity buffers.
func (s *SGD) LoadState(state *OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}
	for _, st := range state.StateData {
		if st.StateType != "momentum" {
			return fmt.Errorf("unknown SGD state type %q", st.StateType)
		}
		p, ok := s.params.Get(st.Name)
		if !ok {
			return fmt.Errorf("state for unknown parameter %q", st.Name)
		}
		buf := tensor.ZerosLike(p.Value)
		if err := restoreBufferState(buf, st); err != nil {
			return err
		}
		s.velocity[st.Name] = buf
	}
	p := state.Parameters
	s.config.LearningRate = extractFloatParam(p, "learning_rate", s.config.LearningRate)
	s.config.Momentum = extractFloatParam(p, "momentum", s.config.Momentum)
	s.config.WeightDecay = extractFloatParam(p, "weight_decay", s.config.WeightDecay)
	s.config.Nesterov = extractBoolParam(p, "nesterov", s.config.Nesterov)
	s.step = extractUint64Param(p, "step_count", s.step)
	return nil
}

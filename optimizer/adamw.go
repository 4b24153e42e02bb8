package optimizer

import (
	"fmt"
	"math"

	"github.com/WENGSYX/BASELINE-CCKS/nn"
	"github.com/WENGSYX/BASELINE-CCKS/tensor"
)

// AdamWConfig holds configuration for the AdamW optimizer
type AdamWConfig struct {
	LearningRate float64
	Beta1        float64 // Momentum decay (typically 0.9)
	Beta2        float64 // Variance decay (typically 0.999)
	Epsilon      float64
	WeightDecay  float64 // Decoupled decay coefficient
	// CorrectBias enables the 1-beta^t correction of both moments.
	CorrectBias bool
}

// DefaultAdamWConfig returns the fine-tuning defaults: betas 0.9/0.999,
// epsilon 1e-6 and bias correction.
func DefaultAdamWConfig() AdamWConfig {
	return AdamWConfig{
		LearningRate: 1e-3,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-6,
		WeightDecay:  0.0,
		CorrectBias:  true,
	}
}

// AdamW is Adam with weight decay applied directly to the parameters after
// the adaptive update rather than folded into the gradient.
type AdamW struct {
	config AdamWConfig
	params *nn.ParameterSet
	m      map[string]*tensor.Tensor // first moment estimates
	v      map[string]*tensor.Tensor // second moment estimates
	step   uint64
}

// NewAdamW creates moment buffers for every trainable parameter.
func NewAdamW(params *nn.ParameterSet, config AdamWConfig) (*AdamW, error) {
	if params == nil || len(params.Trainable()) == 0 {
		return nil, fmt.Errorf("no trainable parameters")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("invalid learning rate: %v", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 || config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("invalid betas: (%v, %v)", config.Beta1, config.Beta2)
	}
	adam := &AdamW{
		config: config,
		params: params,
		m:      make(map[string]*tensor.Tensor),
		v:      make(map[string]*tensor.Tensor),
	}
	for _, p := range params.Trainable() {
		adam.m[p.Name] = tensor.ZerosLike(p.Value)
		adam.v[p.Name] = tensor.ZerosLike(p.Value)
	}
	return adam, nil
}

// Config returns the hyperparameters in use.
func (a *AdamW) Config() AdamWConfig { return a.config }

// Step performs a single optimization step
func (a *AdamW) Step() error {
	a.step++

	stepSize := a.config.LearningRate
	if a.config.CorrectBias {
		bias1 := 1.0 - math.Pow(a.config.Beta1, float64(a.step))
		bias2 := 1.0 - math.Pow(a.config.Beta2, float64(a.step))
		stepSize = stepSize * math.Sqrt(bias2) / bias1
	}
	b1, b2 := a.config.Beta1, a.config.Beta2
	decay := a.config.LearningRate * a.config.WeightDecay

	for _, p := range a.params.Trainable() {
		if p.Grad == nil {
			continue
		}
		if !p.Grad.SameShape(p.Value) {
			return fmt.Errorf("%s: gradient shape %v does not match %v", p.Name, p.Grad.Shape, p.Value.Shape)
		}
		m, v := a.m[p.Name], a.v[p.Name]
		if m == nil || v == nil {
			m, v = tensor.ZerosLike(p.Value), tensor.ZerosLike(p.Value)
			a.m[p.Name], a.v[p.Name] = m, v
		}

		value, grad := p.Value.Data, p.Grad.Data
		for i, g := range grad {
			m.Data[i] = b1*m.Data[i] + (1-b1)*g
			v.Data[i] = b2*v.Data[i] + (1-b2)*g*g
			value[i] -= stepSize * m.Data[i] / (math.Sqrt(v.Data[i]) + a.config.Epsilon)
			if decay > 0 {
				value[i] -= decay * value[i]
			}
		}
	}
	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (a *AdamW) ZeroGrad() {
	a.params.ZeroGrad()
}

// GetLR returns the current learning rate
func (a *AdamW) GetLR() float64 {
	return a.config.LearningRate
}

// SetLR sets the learning rate
func (a *AdamW) SetLR(lr float64) {
	a.config.LearningRate = lr
}

// GetStepCount returns the current optimization step number
func (a *AdamW) GetStepCount() uint64 {
	return a.step
}

// GetState extracts the moment buffers in parameter-name order.
func (a *AdamW) GetState() (*OptimizerState, error) {
	state := &OptimizerState{
		Type: "AdamW",
		Parameters: map[string]interface{}{
			"learning_rate": a.config.LearningRate,
			"beta1":         a.config.Beta1,
			"beta2":         a.config.Beta2,
			"epsilon":       a.config.Epsilon,
			"weight_decay":  a.config.WeightDecay,
			"correct_bias":  a.config.CorrectBias,
			"step_count":    a.step,
		},
	}
	for _, name := range a.params.Names() {
		m, ok := a.m[name]
		if !ok {
			continue
		}
		state.StateData = append(state.StateData,
			extractBufferState(m, name, "m"),
			extractBufferState(a.v[name], name, "v"))
	}
	return state, nil
}

// LoadState restores hyperparameters and moment buffers.
func (a *AdamW) LoadState(state *OptimizerState) error {
	if err := validateStateType("AdamW", state); err != nil {
		return err
	}
	for _, st := range state.StateData {
		var buffers map[string]*tensor.Tensor
		switch st.StateType {
		case "m":
			buffers = a.m
		case "v":
			buffers = a.v
		default:
			return fmt.Errorf("unknown AdamW state type %q", st.StateType)
		}
		buffer, ok := buffers[st.Name]
		if !ok {
			return fmt.Errorf("state for unknown parameter %q", st.Name)
		}
		if err := restoreBufferState(buffer, st); err != nil {
			return err
		}
	}

	p := state.Parameters
	a.config.LearningRate = extractFloatParam(p, "learning_rate", a.config.LearningRate)
	a.config.Beta1 = extractFloatParam(p, "beta1", a.config.Beta1)
	a.config.Beta2 = extractFloatParam(p, "beta2", a.config.Beta2)
	a.config.Epsilon = extractFloatParam(p, "epsilon", a.config.Epsilon)
	a.config.WeightDecay = extractFloatParam(p, "weight_decay", a.config.WeightDecay)
	a.config.CorrectBias = extractBoolParam(p, "correct_bias", a.config.CorrectBias)
	a.step = extractUint64Param(p, "step_count", a.step)
	return nil
}

package nn

import (
	"fmt"
	"sort"

	"github.com/WENGSYX/BASELINE-CCKS/tensor"
)

// Parameter is a named, mutable tensor owned by a model. Grad stays nil until
// the first backward pass touches the parameter.
type Parameter struct {
	Name         string
	Value        *tensor.Tensor
	Grad         *tensor.Tensor
	RequiresGrad bool
}

// EnsureGrad allocates a zero gradient if none is present and returns it.
func (p *Parameter) EnsureGrad() *tensor.Tensor {
	if p.Grad == nil {
		p.Grad = tensor.ZerosLike(p.Value)
	}
	return p.Grad
}

// ParameterSet keeps parameters in registration order and indexes them by
// their hierarchical name.
type ParameterSet struct {
	params []*Parameter
	byName map[string]*Parameter
}

// NewParameterSet creates an empty set.
func NewParameterSet() *ParameterSet {
	return &ParameterSet{byName: make(map[string]*Parameter)}
}

// Register adds a parameter. Names must be unique.
func (ps *ParameterSet) Register(name string, value *tensor.Tensor, requiresGrad bool) (*Parameter, error) {
	if _, exists := ps.byName[name]; exists {
		return nil, fmt.Errorf("parameter %q already registered", name)
	}
	p := &Parameter{Name: name, Value: value, RequiresGrad: requiresGrad}
	ps.params = append(ps.params, p)
	ps.byName[name] = p
	return p, nil
}

// Get looks a parameter up by name.
func (ps *ParameterSet) Get(name string) (*Parameter, bool) {
	p, ok := ps.byName[name]
	return p, ok
}

// All returns every parameter in registration order.
func (ps *ParameterSet) All() []*Parameter {
	return ps.params
}

// Len returns the number of registered parameters.
func (ps *ParameterSet) Len() int {
	return len(ps.params)
}

// Trainable returns the parameters that participate in training.
func (ps *ParameterSet) Trainable() []*Parameter {
	var out []*Parameter
	for _, p := range ps.params {
		if p.RequiresGrad {
			out = append(out, p)
		}
	}
	return out
}

// Select returns the trainable parameters whose name satisfies match.
func (ps *ParameterSet) Select(match func(name string) bool) []*Parameter {
	var out []*Parameter
	for _, p := range ps.params {
		if p.RequiresGrad && match(p.Name) {
			out = append(out, p)
		}
	}
	return out
}

// Names returns the sorted parameter names.
func (ps *ParameterSet) Names() []string {
	names := make([]string, 0, len(ps.params))
	for _, p := range ps.params {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// ZeroGrad zeroes every present gradient in place.
func (ps *ParameterSet) ZeroGrad() {
	for _, p := range ps.params {
		if p.Grad != nil {
			p.Grad.Zero()
		}
	}
}

// Gradients returns the present gradients of trainable parameters.
func (ps *ParameterSet) Gradients() []*tensor.Tensor {
	var grads []*tensor.Tensor
	for _, p := range ps.params {
		if p.RequiresGrad && p.Grad != nil {
			grads = append(grads, p.Grad)
		}
	}
	return grads
}

// NumElements counts scalar values across all parameters.
func (ps *ParameterSet) NumElements() int {
	n := 0
	for _, p := range ps.params {
		n += p.Value.NumElems
	}
	return n
}

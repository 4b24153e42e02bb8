package adversarial

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/WENGSYX/BASELINE-CCKS/nn"
	"github.com/WENGSYX/BASELINE-CCKS/tensor"
)

// DefaultPGDSteps is the default number of attack iterations.
const DefaultPGDSteps = 3

// PGD runs a multi-step attack on the embeddings, projecting the cumulative
// displacement back into an epsilon ball around the clean values after every
// step. It also snapshots the gradients of all trainable parameters so the
// clean gradient survives the intermediate backward passes.
type PGD struct {
	targets    []*nn.Parameter
	trainable  []*nn.Parameter
	steps      int
	embBackup  map[string]*tensor.Tensor
	gradBackup map[string]*tensor.Tensor
	hasGrads   bool
}

// NewPGD registers the trainable parameters whose name contains embName.
func NewPGD(params *nn.ParameterSet, embName string, steps int) (*PGD, error) {
	if embName == "" {
		embName = "word_embeddings"
	}
	if steps <= 0 {
		steps = DefaultPGDSteps
	}
	targets, err := collect(params, embName)
	if err != nil {
		return nil, err
	}
	return &PGD{
		targets:    targets,
		trainable:  params.Trainable(),
		steps:      steps,
		embBackup:  make(map[string]*tensor.Tensor),
		gradBackup: make(map[string]*tensor.Tensor),
	}, nil
}

// Steps returns the configured number of attack iterations.
func (p *PGD) Steps() int { return p.steps }

// Targets returns the names of the registered embedding parameters.
func (p *PGD) Targets() []string { return names(p.targets) }

// Attack takes one step of size alpha along the normalized gradient and
// projects into the epsilon ball. The clean values are snapshotted only on the
// first step of a cycle; later steps continue from the perturbed state.
func (p *PGD) Attack(epsilon, alpha float64, isFirst bool) error {
	if isFirst {
		if len(p.embBackup) > 0 {
			return ErrPendingRestore
		}
		for _, param := range p.targets {
			p.embBackup[param.Name] = param.Value.Clone()
		}
	} else if len(p.embBackup) == 0 {
		return ErrNotAttacked
	}

	for _, param := range p.targets {
		if param.Grad == nil {
			continue
		}
		norm := param.Grad.Norm()
		if norm == 0 || math.IsNaN(norm) {
			continue
		}
		if err := param.Value.AddScaled(alpha/norm, param.Grad); err != nil {
			return err
		}
		p.project(param, epsilon)
	}
	return nil
}

// project rescales value-clean into the epsilon ball and re-adds it to the
// clean snapshot.
func (p *PGD) project(param *nn.Parameter, epsilon float64) {
	clean := p.embBackup[param.Name].Data
	value := param.Value.Data

	r := make([]float64, len(value))
	floats.SubTo(r, value, clean)
	if norm := floats.Norm(r, 2); norm > epsilon {
		floats.Scale(epsilon/norm, r)
	}
	floats.AddTo(value, clean, r)
}

// Restore resets every target to its clean snapshot and clears the snapshot.
func (p *PGD) Restore() error {
	if len(p.embBackup) == 0 {
		return ErrNotAttacked
	}
	defer clear(p.embBackup)

	for _, param := range p.targets {
		clean, ok := p.embBackup[param.Name]
		if !ok {
			return ErrNotAttacked
		}
		if err := param.Value.CopyFrom(clean); err != nil {
			return err
		}
	}
	return nil
}

// BackupGrad snapshots the gradient of every trainable parameter.
func (p *PGD) BackupGrad() {
	clear(p.gradBackup)
	for _, param := range p.trainable {
		if param.Grad != nil {
			p.gradBackup[param.Name] = param.Grad.Clone()
		}
	}
	p.hasGrads = true
}

// RestoreGrad replaces every trainable gradient with its snapshot. Parameters
// that had no gradient at backup time end up with none.
func (p *PGD) RestoreGrad() error {
	if !p.hasGrads {
		return ErrNoGradBackup
	}
	for _, param := range p.trainable {
		saved, ok := p.gradBackup[param.Name]
		if !ok {
			param.Grad = nil
			continue
		}
		if param.Grad != nil && param.Grad.SameShape(saved) {
			copy(param.Grad.Data, saved.Data)
		} else {
			param.Grad = saved.Clone()
		}
	}
	return nil
}

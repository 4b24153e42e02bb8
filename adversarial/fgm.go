package adversarial

import (
	"github.com/WENGSYX/BASELINE-CCKS/nn"
	"github.com/WENGSYX/BASELINE-CCKS/tensor"
)

// FGM applies a single fast-gradient step epsilon * g/||g|| to the word,
// position and token-type embeddings.
type FGM struct {
	targets  []*nn.Parameter
	backup   map[string]*tensor.Tensor
	attacked bool
}

// NewFGM registers the perturbable parameters of params. With no names the
// three BERT embedding tables are used.
func NewFGM(params *nn.ParameterSet, embNames ...string) (*FGM, error) {
	if len(embNames) == 0 {
		embNames = nn.EmbeddingNames
	}
	targets, err := collect(params, embNames...)
	if err != nil {
		return nil, err
	}
	return &FGM{targets: targets, backup: make(map[string]*tensor.Tensor)}, nil
}

// Targets returns the names of the registered parameters.
func (f *FGM) Targets() []string { return names(f.targets) }

// Attack perturbs every target whose gradient is present and has a nonzero
// norm. Targets with a zero or missing gradient are neither perturbed nor
// backed up.
func (f *FGM) Attack(epsilon float64) error {
	if f.attacked {
		return ErrPendingRestore
	}
	f.attacked = true

	for _, p := range f.targets {
		if p.Grad == nil {
			continue
		}
		norm := p.Grad.Norm()
		if norm == 0 {
			continue
		}
		f.backup[p.Name] = p.Value.Clone()
		if err := p.Value.AddScaled(epsilon/norm, p.Grad); err != nil {
			return err
		}
	}
	return nil
}

// Restore writes the backed-up clean values back and clears the backup.
func (f *FGM) Restore() error {
	if !f.attacked {
		return ErrNotAttacked
	}
	defer func() {
		clear(f.backup)
		f.attacked = false
	}()

	for _, p := range f.targets {
		clean, ok := f.backup[p.Name]
		if !ok {
			continue
		}
		if err := p.Value.CopyFrom(clean); err != nil {
			return err
		}
	}
	return nil
}

package training

import (
	"errors"
	"fmt"

	"github.com/WENGSYX/BASELINE-CCKS/adversarial"
	"github.com/WENGSYX/BASELINE-CCKS/nn"
)

// Adversary runs the adversarial half of a training step. pass performs one
// forward/backward over the current batch, adding its gradient to whatever
// is already accumulated. Perturb calls pass with perturbed embeddings and
// returns with the embeddings clean again, even when pass fails.
type Adversary interface {
	Perturb(pass func() error) error
	Name() string
}

// AdversaryConfig selects and tunes the adversarial strategy.
type AdversaryConfig struct {
	Name       string // "fgm", "pgd" or "none"
	FGMEpsilon float64
	PGDEpsilon float64
	PGDAlpha   float64
	PGDSteps   int
	PGDEmbName string
}

// DefaultAdversaryConfig returns FGM with epsilon 1.
func DefaultAdversaryConfig() AdversaryConfig {
	return AdversaryConfig{
		Name:       "fgm",
		FGMEpsilon: 1.0,
		PGDEpsilon: 1.0,
		PGDAlpha:   0.33,
		PGDSteps:   adversarial.DefaultPGDSteps,
		PGDEmbName: "word_embeddings",
	}
}

// NewAdversary builds the configured strategy over params. "none" and the
// empty name return a nil Adversary, which the trainer treats as plain
// training.
func NewAdversary(params *nn.ParameterSet, config AdversaryConfig) (Adversary, error) {
	switch config.Name {
	case "", "none":
		return nil, nil
	case "fgm":
		fgm, err := adversarial.NewFGM(params)
		if err != nil {
			return nil, err
		}
		return &FGMStrategy{FGM: fgm, Epsilon: config.FGMEpsilon}, nil
	case "pgd":
		pgd, err := adversarial.NewPGD(params, config.PGDEmbName, config.PGDSteps)
		if err != nil {
			return nil, err
		}
		return &PGDStrategy{PGD: pgd, Params: params, Epsilon: config.PGDEpsilon, Alpha: config.PGDAlpha}, nil
	default:
		return nil, fmt.Errorf("unknown adversary %q", config.Name)
	}
}

// FGMStrategy attacks once, runs the adversarial pass and restores.
type FGMStrategy struct {
	FGM     *adversarial.FGM
	Epsilon float64
}

// Name implements Adversary.
func (s *FGMStrategy) Name() string { return "fgm" }

// Perturb implements Adversary.
func (s *FGMStrategy) Perturb(pass func() error) error {
	if err := s.FGM.Attack(s.Epsilon); err != nil {
		if errors.Is(err, adversarial.ErrPendingRestore) {
			return fmt.Errorf("fgm attack: %w", err)
		}
		return errors.Join(fmt.Errorf("fgm attack: %w", err), s.FGM.Restore())
	}
	passErr := pass()
	if err := s.FGM.Restore(); err != nil {
		return errors.Join(passErr, fmt.Errorf("fgm restore: %w", err))
	}
	return passErr
}

// PGDStrategy climbs K steps inside the epsilon ball. Intermediate steps
// work on fresh gradients; the last adversarial pass accumulates on top of
// the clean gradient saved before the first step.
type PGDStrategy struct {
	PGD     *adversarial.PGD
	Params  *nn.ParameterSet
	Epsilon float64
	Alpha   float64
}

// Name implements Adversary.
func (s *PGDStrategy) Name() string { return "pgd" }

// Perturb implements Adversary.
func (s *PGDStrategy) Perturb(pass func() error) error {
	s.PGD.BackupGrad()

	k := s.PGD.Steps()
	var passErr error
	for t := 0; t < k && passErr == nil; t++ {
		if err := s.PGD.Attack(s.Epsilon, s.Alpha, t == 0); err != nil {
			if errors.Is(err, adversarial.ErrPendingRestore) {
				return fmt.Errorf("pgd attack: %w", err)
			}
			passErr = fmt.Errorf("pgd attack step %d: %w", t, err)
			break
		}
		if t != k-1 {
			s.Params.ZeroGrad()
		} else if err := s.PGD.RestoreGrad(); err != nil {
			passErr = fmt.Errorf("pgd restore grad: %w", err)
			break
		}
		passErr = pass()
	}

	if err := s.PGD.Restore(); err != nil {
		return errors.Join(passErr, fmt.Errorf("pgd restore: %w", err))
	}
	return passErr
}

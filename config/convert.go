package config

import (
	"io"

	"github.com/WENGSYX/BASELINE-CCKS/amp"
	"github.com/WENGSYX/BASELINE-CCKS/checkpoints"
	"github.com/WENGSYX/BASELINE-CCKS/nn"
	"github.com/WENGSYX/BASELINE-CCKS/training"
)

// CrossValidation returns the training settings. progress receives the
// progress bars and may be nil.
func (c *Config) CrossValidation(progress io.Writer) training.CrossValidationConfig {
	scaler := amp.DefaultScalerConfig()
	scaler.Enabled = c.AMP

	return training.CrossValidationConfig{
		Folds:          c.FoldNum,
		Seed:           c.Seed,
		Epochs:         c.Epochs,
		TrainBatchSize: c.TrainBS,
		ValidBatchSize: c.ValidBS,
		NumWorkers:     c.NumWorkers,
		AccumIter:      c.AccumIter,
		LearningRate:   c.LR,
		WeightDecay:    c.WeightDecay,
		Optimizer:      c.Optimizer,
		Scheduler:      c.Scheduler,
		Adversary:      c.AdversaryConfig(),
		Autocast:       c.AMP,
		Scaler:         scaler,
		Resume:         c.Resume,
		Progress:       c.ProgressWriter(progress),
	}
}

// AdversaryConfig returns the adversarial training settings.
func (c *Config) AdversaryConfig() training.AdversaryConfig {
	return training.AdversaryConfig{
		Name:       c.Adversary,
		FGMEpsilon: c.FGMEpsilon,
		PGDEpsilon: c.PGDEpsilon,
		PGDAlpha:   c.PGDAlpha,
		PGDSteps:   c.PGDSteps,
		PGDEmbName: c.PGDEmbName,
	}
}

// Checkpoint returns the checkpoint writer settings.
func (c *Config) Checkpoint() (training.CheckpointConfig, error) {
	format, err := checkpoints.ParseFormat(c.CheckpointFormat)
	if err != nil {
		return training.CheckpointConfig{}, err
	}
	return training.CheckpointConfig{
		SaveDirectory: c.OutputDir,
		Tag:           c.CheckpointTag,
		Format:        format,
		SaveOptimizer: c.SaveOptimizer,
	}, nil
}

// Classifier returns the model dimensions for a vocabulary of vocabSize
// tokens.
func (c *Config) Classifier(vocabSize int) nn.ClassifierConfig {
	cfg := nn.DefaultClassifierConfig(vocabSize)
	cfg.HiddenSize = c.HiddenSize
	if c.MaxLen > cfg.MaxPositions {
		cfg.MaxPositions = c.MaxLen
	}
	return cfg
}

// ProgressWriter returns w when progress bars are enabled and nil otherwise.
func (c *Config) ProgressWriter(w io.Writer) io.Writer {
	if !c.Progress {
		return nil
	}
	return w
}

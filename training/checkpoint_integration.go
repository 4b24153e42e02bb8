package training

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/WENGSYX/BASELINE-CCKS/checkpoints"
	"github.com/WENGSYX/BASELINE-CCKS/internal/logging"
	"github.com/WENGSYX/BASELINE-CCKS/nn"
	"github.com/WENGSYX/BASELINE-CCKS/optimizer"
)

// CheckpointSink persists the state of a fold after an epoch and returns
// where it went.
type CheckpointSink interface {
	SaveEpoch(ctx context.Context, st *TrainState, state checkpoints.TrainingState) (string, error)
}

// CheckpointConfig configures checkpoint saving behavior
type CheckpointConfig struct {
	SaveDirectory string                       // Directory to save checkpoints
	Tag           string                       // Model tag embedded in file names
	Format        checkpoints.CheckpointFormat // Proto or JSON
	SaveOptimizer bool                         // Include optimizer state for resuming
}

// DefaultCheckpointConfig returns a sensible default configuration
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		SaveDirectory: ".",
		Tag:           checkpoints.DefaultTag,
		Format:        checkpoints.FormatProto,
	}
}

// configured is implemented by models that can describe their dimensions,
// such as nn.Classifier.
type configured interface {
	Config() nn.ClassifierConfig
}

// CheckpointManager saves one checkpoint per fold and epoch. Every epoch is
// kept; choosing among them is left to whoever assembles the ensemble.
type CheckpointManager struct {
	config     CheckpointConfig
	saver      *checkpoints.CheckpointSaver
	savedFiles []string
}

// NewCheckpointManager creates a new checkpoint manager
func NewCheckpointManager(config CheckpointConfig) *CheckpointManager {
	if config.Tag == "" {
		config.Tag = checkpoints.DefaultTag
	}
	if config.SaveDirectory == "" {
		config.SaveDirectory = "."
	}
	return &CheckpointManager{
		config: config,
		saver:  checkpoints.NewCheckpointSaver(config.Format),
	}
}

// RunID returns the id stamped into every checkpoint of this manager.
func (cm *CheckpointManager) RunID() string { return cm.saver.RunID() }

// SavedFiles returns the paths written so far, oldest first.
func (cm *CheckpointManager) SavedFiles() []string {
	return append([]string(nil), cm.savedFiles...)
}

// SaveEpoch implements CheckpointSink. The file name carries fold, epoch and
// the rounded F1.
func (cm *CheckpointManager) SaveEpoch(ctx context.Context, st *TrainState, state checkpoints.TrainingState) (string, error) {
	var cfg nn.ClassifierConfig
	if m, ok := st.Model.(configured); ok {
		cfg = m.Config()
	}
	checkpoint := checkpoints.NewCheckpoint(cfg, st.Model.Parameters(), state)

	if cm.config.SaveOptimizer && st.Optimizer != nil {
		optState, err := st.Optimizer.GetState()
		if err != nil {
			return "", fmt.Errorf("failed to capture optimizer state: %w", err)
		}
		checkpoint.OptimizerState = optState
	}

	filename := checkpoints.FormatName(state.Fold, state.Epoch, cm.config.Tag, state.F1)
	path := filepath.Join(cm.config.SaveDirectory, filename)
	if err := cm.saver.SaveCheckpoint(checkpoint, path); err != nil {
		return "", fmt.Errorf("failed to save checkpoint: %w", err)
	}
	cm.savedFiles = append(cm.savedFiles, path)

	logging.FromContext(ctx).Info("saved checkpoint", "path", path, "fold", state.Fold, "epoch", state.Epoch, "f1", state.F1)
	return path, nil
}

// RestoreCheckpoint loads the weights of the checkpoint at path into model
// and, when both sides have it, the optimizer state into opt.
func RestoreCheckpoint(path string, model nn.Module, opt optimizer.Optimizer) error {
	checkpoint, err := checkpoints.Load(path)
	if err != nil {
		return err
	}
	if err := checkpoint.LoadInto(model.Parameters()); err != nil {
		return fmt.Errorf("failed to restore %s: %w", path, err)
	}
	if opt != nil && checkpoint.OptimizerState != nil {
		if err := opt.LoadState(checkpoint.OptimizerState); err != nil {
			return fmt.Errorf("failed to restore optimizer state from %s: %w", path, err)
		}
	}
	return nil
}

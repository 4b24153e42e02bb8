package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/WENGSYX/BASELINE-CCKS/amp"
	"github.com/WENGSYX/BASELINE-CCKS/checkpoints"
	"github.com/WENGSYX/BASELINE-CCKS/data"
	"github.com/WENGSYX/BASELINE-CCKS/internal/logging"
	"github.com/WENGSYX/BASELINE-CCKS/nn"
	"github.com/WENGSYX/BASELINE-CCKS/optimizer"
)

// ModelFactory builds a fresh model for a fold.
type ModelFactory func(fold int) (nn.Module, error)

// CrossValidationConfig holds the run-wide training settings.
type CrossValidationConfig struct {
	Folds          int
	Seed           int64
	Epochs         int
	TrainBatchSize int
	ValidBatchSize int
	NumWorkers     int
	AccumIter      int
	LearningRate   float64
	WeightDecay    float64
	Optimizer      string // "adamw" or "sgd"
	Scheduler      string // "cosine", "linear" or "constant"
	Adversary      AdversaryConfig
	Autocast       bool
	Scaler         amp.ScalerConfig

	// Resume, when set, is a checkpoint loaded into every fold's fresh model
	// (and optimizer, if it carries optimizer state) before the first epoch.
	Resume string

	Progress io.Writer
}

// DefaultCrossValidationConfig returns the settings of the reference run.
func DefaultCrossValidationConfig() CrossValidationConfig {
	return CrossValidationConfig{
		Folds:          10,
		Seed:           2,
		Epochs:         8,
		TrainBatchSize: 9,
		ValidBatchSize: 9,
		AccumIter:      2,
		LearningRate:   8e-6,
		WeightDecay:    2e-4,
		Optimizer:      "adamw",
		Scheduler:      "cosine",
		Adversary:      DefaultAdversaryConfig(),
		Autocast:       true,
		Scaler:         amp.DefaultScalerConfig(),
	}
}

// Validate checks the settings that would otherwise fail deep inside a fold.
func (c CrossValidationConfig) Validate() error {
	switch {
	case c.Folds < 2:
		return fmt.Errorf("at least two folds are required, got %d", c.Folds)
	case c.Epochs <= 0:
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	case c.TrainBatchSize <= 0 || c.ValidBatchSize <= 0:
		return fmt.Errorf("batch sizes must be positive, got %d and %d", c.TrainBatchSize, c.ValidBatchSize)
	case c.AccumIter <= 0:
		return fmt.Errorf("accumulation factor must be positive, got %d", c.AccumIter)
	case c.LearningRate <= 0:
		return fmt.Errorf("learning rate must be positive, got %g", c.LearningRate)
	}
	return nil
}

// EpochSummary is the outcome of one epoch of one fold.
type EpochSummary struct {
	Epoch      int
	Train      EpochResult
	Valid      EvalResult
	LR         float64
	Checkpoint string
}

// FoldResult collects the epochs of one fold.
type FoldResult struct {
	Fold   int
	Epochs []EpochSummary
}

// Best returns the epoch with the highest validation F1. It is informational
// only; every epoch's checkpoint is kept regardless.
func (r FoldResult) Best() (EpochSummary, bool) {
	if len(r.Epochs) == 0 {
		return EpochSummary{}, false
	}
	best := r.Epochs[0]
	for _, e := range r.Epochs[1:] {
		if e.Valid.F1 > best.Valid.F1 {
			best = e
		}
	}
	return best, true
}

// CrossValidator trains one fresh model per stratified fold and checkpoints
// it after every epoch.
type CrossValidator struct {
	config   CrossValidationConfig
	dataset  *data.Dataset
	collator *data.Collator
	newModel ModelFactory
	sink     CheckpointSink
}

// NewCrossValidator creates a cross validator. sink may be nil, in which
// case nothing is persisted.
func NewCrossValidator(config CrossValidationConfig, dataset *data.Dataset, collator *data.Collator, newModel ModelFactory, sink CheckpointSink) (*CrossValidator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if dataset == nil || collator == nil {
		return nil, errors.New("dataset and collator are required")
	}
	if newModel == nil {
		return nil, errors.New("model factory is required")
	}
	return &CrossValidator{
		config:   config,
		dataset:  dataset,
		collator: collator,
		newModel: newModel,
		sink:     sink,
	}, nil
}

// Run splits the dataset and trains every fold in turn.
func (cv *CrossValidator) Run(ctx context.Context) ([]FoldResult, error) {
	folds, err := StratifiedKFold(cv.dataset.Labels(), cv.config.Folds, cv.config.Seed)
	if err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx)
	results := make([]FoldResult, 0, len(folds))
	for i, split := range folds {
		res, err := cv.RunFold(ctx, i, split)
		if err != nil {
			return results, fmt.Errorf("fold %d: %w", i, err)
		}
		results = append(results, res)
		if best, ok := res.Best(); ok {
			logger.Info("fold finished", "fold", i, "best_epoch", best.Epoch, "best_f1", best.Valid.F1)
		}
	}
	return results, nil
}

// RunFold trains a fresh model on split for the configured number of epochs.
// Nothing built here outlives the fold.
func (cv *CrossValidator) RunFold(ctx context.Context, fold int, split Fold) (FoldResult, error) {
	cfg := cv.config
	logger := logging.FromContext(ctx).With("fold", fold)
	ctx = logging.NewContext(ctx, logger)

	trainSet, err := cv.dataset.Subset(split.Train)
	if err != nil {
		return FoldResult{}, err
	}
	validSet, err := cv.dataset.Subset(split.Valid)
	if err != nil {
		return FoldResult{}, err
	}

	st, err := cv.newTrainState(ctx, fold, trainSet)
	if err != nil {
		return FoldResult{}, err
	}
	evaluator := &Evaluator{Model: st.Model, Criterion: st.Criterion, Progress: cfg.Progress}

	logger.Info("starting fold",
		"train", trainSet.Len(), "valid", validSet.Len(),
		"adversary", adversaryName(st.Adversary), "scheduler", st.Scheduler.Name())

	result := FoldResult{Fold: fold}
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		start := time.Now()

		// Loaders are rebuilt every epoch; the train loader reshuffles.
		trainLoader, err := data.NewDataLoader(trainSet, cv.collator, data.LoaderConfig{
			BatchSize:  cfg.TrainBatchSize,
			Shuffle:    true,
			NumWorkers: cfg.NumWorkers,
			Seed:       cfg.Seed + int64(fold)*int64(cfg.Epochs) + int64(epoch),
		})
		if err != nil {
			return result, err
		}
		validLoader, err := data.NewDataLoader(validSet, cv.collator, data.LoaderConfig{
			BatchSize:  cfg.ValidBatchSize,
			NumWorkers: cfg.NumWorkers,
		})
		if err != nil {
			return result, err
		}

		train, err := TrainEpoch(ctx, st, trainLoader, epoch)
		if err != nil {
			return result, err
		}
		valid, err := evaluator.Evaluate(ctx, validLoader)
		if err != nil {
			return result, fmt.Errorf("epoch %d: validation: %w", epoch, err)
		}

		summary := EpochSummary{Epoch: epoch, Train: train, Valid: valid, LR: st.Scheduler.LastLR()}
		if cv.sink != nil {
			path, err := cv.sink.SaveEpoch(ctx, st, checkpoints.TrainingState{
				Fold:  fold,
				Epoch: epoch,
				F1:    valid.F1,
				Step:  st.Scheduler.StepCount(),
			})
			if err != nil {
				return result, fmt.Errorf("epoch %d: %w", epoch, err)
			}
			summary.Checkpoint = path
		}
		result.Epochs = append(result.Epochs, summary)

		logger.Info("epoch finished",
			"epoch", epoch,
			"train_loss", train.Loss, "train_acc", train.Accuracy,
			"valid_loss", valid.Loss, "valid_acc", valid.Accuracy,
			"f1", valid.F1, "lr", summary.LR,
			"skipped_steps", train.SkippedSteps,
			"duration", time.Since(start).Round(time.Millisecond))
	}
	return result, nil
}

func (cv *CrossValidator) newTrainState(ctx context.Context, fold int, trainSet *data.Dataset) (*TrainState, error) {
	cfg := cv.config

	model, err := cv.newModel(fold)
	if err != nil {
		return nil, fmt.Errorf("failed to build model: %w", err)
	}
	opt, err := optimizer.New(cfg.Optimizer, model.Parameters(), cfg.LearningRate, cfg.WeightDecay)
	if err != nil {
		return nil, err
	}
	if cfg.Resume != "" {
		if err := RestoreCheckpoint(cfg.Resume, model, opt); err != nil {
			return nil, err
		}
		logging.FromContext(ctx).Info("resumed from checkpoint", "path", cfg.Resume)
	}

	batches := (trainSet.Len() + cfg.TrainBatchSize - 1) / cfg.TrainBatchSize
	warmup, total := WarmupAndTotalSteps(batches, cfg.AccumIter, cfg.Epochs)
	schedule, err := NewLRScheduler(cfg.Scheduler, warmup, total)
	if err != nil {
		return nil, err
	}

	adversary, err := NewAdversary(model.Parameters(), cfg.Adversary)
	if err != nil {
		return nil, err
	}

	return &TrainState{
		Model:     model,
		Criterion: nn.NewCrossEntropyLoss(),
		Optimizer: opt,
		Scheduler: NewStepScheduler(schedule, opt, cfg.LearningRate),
		Scaler:    amp.NewGradScaler(cfg.Scaler),
		Adversary: adversary,
		AccumIter: cfg.AccumIter,
		Autocast:  cfg.Autocast,
		Progress:  cfg.Progress,
	}, nil
}

func adversaryName(a Adversary) string {
	if a == nil {
		return "none"
	}
	return a.Name()
}

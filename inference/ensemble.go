// Package inference runs checkpoint ensembles over a test partition and
// writes the predicted labels.
package inference

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gonum.org/v1/gonum/floats"

	"github.com/WENGSYX/BASELINE-CCKS/checkpoints"
	"github.com/WENGSYX/BASELINE-CCKS/internal/logging"
	"github.com/WENGSYX/BASELINE-CCKS/nn"
	"github.com/WENGSYX/BASELINE-CCKS/training"
)

// ErrNoCheckpoints is returned when an ensemble is run without members.
var ErrNoCheckpoints = errors.New("inference: no checkpoints to ensemble")

// Result is the outcome of an ensemble run.
type Result struct {
	// Logits are the per-example logits summed over all members.
	Logits [][]float64
	// Labels are the arg-max of Logits.
	Labels []int
	// Members lists the checkpoints that contributed, in order.
	Members []string
}

// Ensembler loads each checkpoint into one shared model and sums the
// logits it produces.
type Ensembler struct {
	model    nn.Module
	progress io.Writer
}

// NewEnsembler creates an ensembler over model. progress may be nil.
func NewEnsembler(model nn.Module, progress io.Writer) *Ensembler {
	return &Ensembler{model: model, progress: progress}
}

// Run predicts loader once per checkpoint. loader must yield the examples in
// a fixed order; every member has to produce the same number of rows.
func (e *Ensembler) Run(ctx context.Context, paths []string, loader training.BatchSource) (*Result, error) {
	if len(paths) == 0 {
		return nil, ErrNoCheckpoints
	}
	logger := logging.FromContext(ctx)
	evaluator := training.NewEvaluator(e.model, e.progress)

	res := &Result{}
	for _, path := range paths {
		checkpoint, err := checkpoints.Load(path)
		if err != nil {
			return nil, err
		}
		if err := checkpoint.LoadInto(e.model.Parameters()); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}

		logits, err := evaluator.Predict(ctx, loader)
		if err != nil {
			return nil, fmt.Errorf("prediction with %s failed: %w", path, err)
		}
		if res.Logits, err = Accumulate(res.Logits, logits); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		res.Members = append(res.Members, path)
		logger.Info("ensemble member done", "checkpoint", path, "fold", checkpoint.TrainingState.Fold,
			"epoch", checkpoint.TrainingState.Epoch, "f1", checkpoint.TrainingState.F1)
	}

	res.Labels = nn.Argmax(res.Logits)
	return res, nil
}

// Accumulate adds src into sum element-wise and returns sum. A nil sum
// starts from zero.
func Accumulate(sum, src [][]float64) ([][]float64, error) {
	if sum == nil {
		sum = make([][]float64, len(src))
		for i, row := range src {
			sum[i] = make([]float64, len(row))
		}
	}
	if len(sum) != len(src) {
		return nil, fmt.Errorf("ensemble members disagree on example count: %d vs %d", len(sum), len(src))
	}
	for i, row := range src {
		if len(sum[i]) != len(row) {
			return nil, fmt.Errorf("example %d: %d logits, expected %d", i, len(row), len(sum[i]))
		}
		floats.Add(sum[i], row)
	}
	return sum, nil
}

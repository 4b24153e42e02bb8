package training

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/WENGSYX/BASELINE-CCKS/internal/logging"
	"github.com/WENGSYX/BASELINE-CCKS/nn"
)

// EvalResult summarises one validation pass.
type EvalResult struct {
	Loss     float64
	Accuracy float64
	// Report holds the per-class counts and scores for classes 0 and 1.
	Report []ClassStats
	// F1 is the positive-class F1, the model-selection score.
	F1 float64
}

// Evaluator runs a model over a partition without touching its gradients.
type Evaluator struct {
	Model     nn.Module
	Criterion *nn.CrossEntropyLoss
	Progress  io.Writer
}

// NewEvaluator creates an evaluator with a cross entropy criterion.
func NewEvaluator(model nn.Module, progress io.Writer) *Evaluator {
	return &Evaluator{Model: model, Criterion: nn.NewCrossEntropyLoss(), Progress: progress}
}

// Evaluate runs a forward pass over every batch in eval mode and scores the
// arg-max predictions against the labels.
func (e *Evaluator) Evaluate(ctx context.Context, loader BatchSource) (EvalResult, error) {
	if e.Model == nil {
		return EvalResult{}, errors.New("evaluator has no model")
	}
	criterion := e.Criterion
	if criterion == nil {
		criterion = nn.NewCrossEntropyLoss()
	}
	e.Model.Eval()

	var losses, accs AverageMeter
	var preds, gold []int
	bar := NewProgressBar(e.Progress, "valid", loader.Len())

	step := 0
	for batch, err := range loader.Batches(ctx) {
		if err != nil {
			return EvalResult{}, fmt.Errorf("failed to load batch %d: %w", step, err)
		}
		out, err := e.Model.Forward(batch, nn.ForwardOptions{})
		if err != nil {
			return EvalResult{}, fmt.Errorf("batch %d: forward: %w", step, err)
		}
		loss, err := criterion.Forward(out.Logits, batch.Labels)
		if err != nil {
			return EvalResult{}, fmt.Errorf("batch %d: loss: %w", step, err)
		}

		batchPreds := nn.Argmax(out.Logits)
		preds = append(preds, batchPreds...)
		gold = append(gold, batch.Labels...)

		n := batch.Size()
		losses.Update(loss, n)
		accs.Update(Accuracy(batchPreds, batch.Labels), n)
		step++
		bar.Update(step, Metric{"loss", losses.Avg}, Metric{"acc", accs.Avg})
	}
	bar.Finish()

	report, err := BinaryF1(preds, gold)
	if err != nil {
		return EvalResult{}, fmt.Errorf("failed to score predictions: %w", err)
	}
	res := EvalResult{
		Loss:     losses.Avg,
		Accuracy: accs.Avg,
		Report:   report,
		F1:       report[1].F1,
	}

	logging.FromContext(ctx).Info("validation scores",
		"gold", []int{report[0].Gold, report[1].Gold},
		"pred", []int{report[0].Predicted, report[1].Predicted},
		"intersection", []int{report[0].Intersection, report[1].Intersection},
		"f1", []float64{report[0].F1, report[1].F1},
	)
	return res, nil
}

// Predict returns the raw logits of every example in loader order. The model
// is switched to eval mode first.
func (e *Evaluator) Predict(ctx context.Context, loader BatchSource) ([][]float64, error) {
	if e.Model == nil {
		return nil, errors.New("evaluator has no model")
	}
	e.Model.Eval()

	logits := make([][]float64, 0, loader.Len())
	bar := NewProgressBar(e.Progress, "predict", loader.Len())
	step := 0
	for batch, err := range loader.Batches(ctx) {
		if err != nil {
			return nil, fmt.Errorf("failed to load batch %d: %w", step, err)
		}
		out, err := e.Model.Forward(batch, nn.ForwardOptions{})
		if err != nil {
			return nil, fmt.Errorf("batch %d: forward: %w", step, err)
		}
		logits = append(logits, out.Logits...)
		step++
		bar.Update(step)
	}
	bar.Finish()
	return logits, nil
}

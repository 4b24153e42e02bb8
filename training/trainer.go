package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/WENGSYX/BASELINE-CCKS/amp"
	"github.com/WENGSYX/BASELINE-CCKS/data"
	"github.com/WENGSYX/BASELINE-CCKS/internal/logging"
	"github.com/WENGSYX/BASELINE-CCKS/nn"
	"github.com/WENGSYX/BASELINE-CCKS/optimizer"
)

// BatchSource yields the batches of one pass in order. data.DataLoader
// satisfies it.
type BatchSource interface {
	Len() int
	Batches(ctx context.Context) iter.Seq2[*data.Batch, error]
}

// TrainState is everything one fold's training owns. It is built fresh per
// fold and never shared across folds.
type TrainState struct {
	Model     nn.Module
	Criterion *nn.CrossEntropyLoss
	Optimizer optimizer.Optimizer
	Scheduler *StepScheduler
	Scaler    *amp.GradScaler
	Adversary Adversary

	// AccumIter is the gradient accumulation factor; values below 1 mean 1.
	AccumIter int
	Autocast  bool

	// Progress receives the progress bar; nil disables it.
	Progress io.Writer
}

// EpochResult summarises one training epoch.
type EpochResult struct {
	Loss     float64
	Accuracy float64
	Batches  int
	// Steps counts optimizer steps attempted; SkippedSteps those the grad
	// scaler dropped because of non-finite gradients.
	Steps        int
	SkippedSteps int
	Duration     time.Duration
}

func (st *TrainState) validate() error {
	if st.Model == nil {
		return errors.New("train state has no model")
	}
	if st.Optimizer == nil {
		return errors.New("train state has no optimizer")
	}
	if st.Criterion == nil {
		st.Criterion = nn.NewCrossEntropyLoss()
	}
	if st.Scaler == nil {
		st.Scaler = amp.NewGradScaler(amp.ScalerConfig{Enabled: false})
	}
	if st.AccumIter < 1 {
		st.AccumIter = 1
	}
	return nil
}

// TrainEpoch runs one pass over loader. Every batch gets a clean
// forward/backward, then the adversarial pass on top of the clean gradient,
// and every AccumIter batches (and at the last batch) the optimizer steps,
// the gradients are zeroed and the scheduler advances.
func TrainEpoch(ctx context.Context, st *TrainState, loader BatchSource, epoch int) (EpochResult, error) {
	if err := st.validate(); err != nil {
		return EpochResult{}, err
	}
	logger := logging.FromContext(ctx)
	start := time.Now()

	st.Model.Train()
	if st.Scheduler != nil {
		st.Scheduler.SetEpoch(epoch)
	}

	var res EpochResult
	var losses, accs AverageMeter
	total := loader.Len()
	bar := NewProgressBar(st.Progress, fmt.Sprintf("train %d", epoch), total)

	step := 0
	for batch, err := range loader.Batches(ctx) {
		if err != nil {
			return res, fmt.Errorf("epoch %d: failed to load batch %d: %w", epoch, step, err)
		}

		out, loss, err := st.backwardPass(batch)
		if err != nil {
			return res, fmt.Errorf("epoch %d batch %d: %w", epoch, step, err)
		}

		if st.Adversary != nil {
			err := st.Adversary.Perturb(func() error {
				_, _, err := st.backwardPass(batch)
				return err
			})
			if err != nil {
				return res, fmt.Errorf("epoch %d batch %d: %s: %w", epoch, step, st.Adversary.Name(), err)
			}
		}

		if (step+1)%st.AccumIter == 0 || step+1 == total {
			stepped, err := st.Scaler.Step(st.Optimizer, st.Model.Parameters())
			if err != nil {
				return res, fmt.Errorf("epoch %d batch %d: %w", epoch, step, err)
			}
			st.Scaler.Update()
			st.Optimizer.ZeroGrad()
			if st.Scheduler != nil {
				st.Scheduler.Step()
			}
			res.Steps++
			if !stepped {
				res.SkippedSteps++
				logger.Debug("skipped optimizer step", "epoch", epoch, "batch", step, "scale", st.Scaler.Scale())
			}
		}

		n := batch.Size()
		losses.Update(loss, n)
		accs.Update(Accuracy(nn.Argmax(out.Logits), batch.Labels), n)
		step++
		bar.Update(step, Metric{"loss", losses.Avg}, Metric{"acc", accs.Avg})
	}
	bar.Finish()

	res.Loss = losses.Avg
	res.Accuracy = accs.Avg
	res.Batches = step
	res.Duration = time.Since(start)
	return res, nil
}

// backwardPass runs a forward pass and accumulates the gradient of
// loss/AccumIter, multiplied by the current loss scale. It returns the
// unscaled, undivided loss.
func (st *TrainState) backwardPass(batch *data.Batch) (*nn.Output, float64, error) {
	out, err := st.Model.Forward(batch, nn.ForwardOptions{Autocast: st.Autocast})
	if err != nil {
		return nil, 0, fmt.Errorf("forward: %w", err)
	}
	loss, err := st.Criterion.Forward(out.Logits, batch.Labels)
	if err != nil {
		return nil, 0, fmt.Errorf("loss: %w", err)
	}
	grad, err := st.Criterion.Backward(out.Logits, batch.Labels)
	if err != nil {
		return nil, 0, fmt.Errorf("loss backward: %w", err)
	}

	inv := 1 / float64(st.AccumIter)
	for _, row := range grad {
		floats.Scale(inv, row)
	}
	if err := st.Model.Backward(out, st.Scaler.ScaleGradients(grad)); err != nil {
		return nil, 0, fmt.Errorf("backward: %w", err)
	}
	return out, loss, nil
}

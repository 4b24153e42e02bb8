// Package nn holds the model-side collaborators of the training loop: the
// parameter registry, the Module contract, the classification loss and a
// BERT-style embedding classifier.
package nn

import "github.com/WENGSYX/BASELINE-CCKS/data"

// Module is the black-box model consumed by the trainer: token sequences in,
// logits out, with a mutable parameter/gradient collection.
type Module interface {
	// Forward runs the model on a batch. Under autocast activations are
	// computed in reduced precision.
	Forward(batch *data.Batch, opts ForwardOptions) (*Output, error)

	// Backward accumulates d(loss)/d(param) into each parameter's Grad,
	// given d(loss)/d(logits). Gradients add to what is already present.
	Backward(out *Output, gradLogits [][]float64) error

	// Parameters returns the model's parameters.
	Parameters() *ParameterSet

	Train()
	Eval()
	IsTraining() bool
}

// ForwardOptions controls a single forward pass.
type ForwardOptions struct {
	Autocast bool
}

// Output carries the logits of a forward pass plus whatever the module needs
// to run its backward pass.
type Output struct {
	Logits [][]float64

	cache any
}

// Argmax returns the index of the largest logit in each row. Ties resolve to
// the lowest index.
func Argmax(logits [][]float64) []int {
	preds := make([]int, len(logits))
	for i, row := range logits {
		best := 0
		for j := 1; j < len(row); j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		preds[i] = best
	}
	return preds
}

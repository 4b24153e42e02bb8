package nn

import (
	"fmt"
	"math"
)

// CrossEntropyLoss is softmax cross entropy over integer class targets with
// mean reduction.
type CrossEntropyLoss struct{}

// NewCrossEntropyLoss creates the loss.
func NewCrossEntropyLoss() *CrossEntropyLoss {
	return &CrossEntropyLoss{}
}

// Forward returns the mean negative log likelihood of targets under
// softmax(logits).
func (ce *CrossEntropyLoss) Forward(logits [][]float64, targets []int) (float64, error) {
	if err := ce.check(logits, targets); err != nil {
		return 0, err
	}

	var total float64
	for i, row := range logits {
		total += logSumExp(row) - row[targets[i]]
	}
	return total / float64(len(logits)), nil
}

// Backward returns d(loss)/d(logits) = (softmax - onehot) / batch.
func (ce *CrossEntropyLoss) Backward(logits [][]float64, targets []int) ([][]float64, error) {
	if err := ce.check(logits, targets); err != nil {
		return nil, err
	}

	n := float64(len(logits))
	grad := make([][]float64, len(logits))
	for i, row := range logits {
		lse := logSumExp(row)
		g := make([]float64, len(row))
		for j, v := range row {
			g[j] = math.Exp(v-lse) / n
		}
		g[targets[i]] -= 1 / n
		grad[i] = g
	}
	return grad, nil
}

func (ce *CrossEntropyLoss) check(logits [][]float64, targets []int) error {
	if len(logits) == 0 {
		return fmt.Errorf("empty batch")
	}
	if len(logits) != len(targets) {
		return fmt.Errorf("batch size mismatch: logits %d, targets %d", len(logits), len(targets))
	}
	for i, target := range targets {
		if target < 0 || target >= len(logits[i]) {
			return fmt.Errorf("target class %d out of range [0, %d)", target, len(logits[i]))
		}
	}
	return nil
}

func logSumExp(row []float64) float64 {
	maxVal := row[0]
	for _, v := range row[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	if math.IsInf(maxVal, 0) || math.IsNaN(maxVal) {
		return maxVal
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(v - maxVal)
	}
	return maxVal + math.Log(sum)
}

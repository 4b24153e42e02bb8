package training

import (
	"fmt"
)

// AverageMeter tracks the latest value and the count-weighted running average
// of a metric.
type AverageMeter struct {
	Val   float64
	Sum   float64
	Count int
	Avg   float64
}

// Reset clears the meter.
func (m *AverageMeter) Reset() {
	*m = AverageMeter{}
}

// Update records val as the mean over n samples.
func (m *AverageMeter) Update(val float64, n int) {
	m.Val = val
	m.Sum += val * float64(n)
	m.Count += n
	if m.Count > 0 {
		m.Avg = m.Sum / float64(m.Count)
	}
}

// ClassStats holds the per-class counts and scores of a two-class report.
type ClassStats struct {
	Class        int
	Gold         int // true labels equal to Class
	Predicted    int // predictions equal to Class
	Intersection int // both equal to Class
	Precision    float64
	Recall       float64
	F1           float64
}

// ConfusionMatrix represents a confusion matrix for classification tasks
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int // [true_class][predicted_class]
	TotalSamples int
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{
		NumClasses: numClasses,
		Matrix:     matrix,
	}
}

// Reset clears the confusion matrix
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		clear(cm.Matrix[i])
	}
	cm.TotalSamples = 0
}

// Update adds a batch of predictions against true labels.
func (cm *ConfusionMatrix) Update(predictions, trueLabels []int) error {
	if len(predictions) != len(trueLabels) {
		return fmt.Errorf("predictions length mismatch: expected %d, got %d", len(trueLabels), len(predictions))
	}
	for i, pred := range predictions {
		label := trueLabels[i]
		if label < 0 || label >= cm.NumClasses {
			return fmt.Errorf("true label %d out of range [0, %d)", label, cm.NumClasses)
		}
		if pred < 0 || pred >= cm.NumClasses {
			return fmt.Errorf("prediction %d out of range [0, %d)", pred, cm.NumClasses)
		}
		cm.Matrix[label][pred]++
		cm.TotalSamples++
	}
	return nil
}

// ClassReport returns counts, precision, recall and F1 for class c. Every
// ratio with a zero denominator is reported as 0.
func (cm *ConfusionMatrix) ClassReport(c int) ClassStats {
	stats := ClassStats{Class: c}
	if c < 0 || c >= cm.NumClasses {
		return stats
	}
	for i := 0; i < cm.NumClasses; i++ {
		stats.Gold += cm.Matrix[c][i]
		stats.Predicted += cm.Matrix[i][c]
	}
	stats.Intersection = cm.Matrix[c][c]
	stats.Recall = safeDiv(float64(stats.Intersection), float64(stats.Gold))
	stats.Precision = safeDiv(float64(stats.Intersection), float64(stats.Predicted))
	stats.F1 = safeDiv(2*stats.Precision*stats.Recall, stats.Precision+stats.Recall)
	return stats
}

// Report returns ClassReport for every class in order.
func (cm *ConfusionMatrix) Report() []ClassStats {
	report := make([]ClassStats, cm.NumClasses)
	for c := range report {
		report[c] = cm.ClassReport(c)
	}
	return report
}

// MacroF1 returns the unweighted mean of the per-class F1 scores.
func (cm *ConfusionMatrix) MacroF1() float64 {
	if cm.NumClasses == 0 {
		return 0
	}
	var sum float64
	for c := 0; c < cm.NumClasses; c++ {
		sum += cm.ClassReport(c).F1
	}
	return sum / float64(cm.NumClasses)
}

// GetAccuracy returns overall classification accuracy
func (cm *ConfusionMatrix) GetAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0.0
	}
	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.TotalSamples)
}

// BinaryF1 builds a two-class report directly from prediction and gold slices.
func BinaryF1(predictions, gold []int) ([]ClassStats, error) {
	cm := NewConfusionMatrix(2)
	if err := cm.Update(predictions, gold); err != nil {
		return nil, err
	}
	return cm.Report(), nil
}

// Accuracy returns the fraction of predictions equal to their label.
func Accuracy(predictions, labels []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	correct := 0
	for i, p := range predictions {
		if i < len(labels) && p == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(labels))
}

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

package training

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
)

// ErrTooFewSamples is returned when the data cannot be split into the
// requested number of folds.
var ErrTooFewSamples = errors.New("training: too few samples for the requested folds")

// Fold is one train/validation partition of the example indices.
type Fold struct {
	Train []int
	Valid []int
}

// StratifiedKFold splits the indices of labels into k folds whose label
// distribution matches the whole set. Indices of each class are shuffled with
// seed and dealt round-robin, continuing the deal across classes so fold sizes
// differ by at most one. Every index appears in exactly one validation set.
func StratifiedKFold(labels []int, k int, seed int64) ([]Fold, error) {
	if k < 2 {
		return nil, fmt.Errorf("%w: need at least 2 folds, got %d", ErrTooFewSamples, k)
	}
	if len(labels) < k {
		return nil, fmt.Errorf("%w: %d samples for %d folds", ErrTooFewSamples, len(labels), k)
	}

	byClass := make(map[int][]int)
	for i, y := range labels {
		byClass[y] = append(byClass[y], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	slices.Sort(classes)

	rng := rand.New(rand.NewSource(seed))
	valid := make([][]int, k)
	next := 0
	for _, c := range classes {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for _, i := range idx {
			valid[next] = append(valid[next], i)
			next = (next + 1) % k
		}
	}

	folds := make([]Fold, k)
	for f := range folds {
		slices.Sort(valid[f])
		inValid := make(map[int]bool, len(valid[f]))
		for _, i := range valid[f] {
			inValid[i] = true
		}
		train := make([]int, 0, len(labels)-len(valid[f]))
		for i := range labels {
			if !inValid[i] {
				train = append(train, i)
			}
		}
		folds[f] = Fold{Train: train, Valid: valid[f]}
	}
	return folds, nil
}

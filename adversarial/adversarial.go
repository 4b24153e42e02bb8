// Package adversarial implements embedding-space adversarial perturbations
// (FGM and PGD) over parameters registered once when the perturber is built.
package adversarial

import (
	"errors"
	"strings"

	"github.com/WENGSYX/BASELINE-CCKS/nn"
)

var (
	// ErrNotAttacked is returned when a restore (or a continuation step) has
	// no matching attack. It signals broken attack/restore pairing.
	ErrNotAttacked = errors.New("adversarial: no perturbation to restore")

	// ErrPendingRestore is returned when a new perturbation cycle starts
	// before the previous one was restored.
	ErrPendingRestore = errors.New("adversarial: previous perturbation was not restored")

	// ErrNoGradBackup is returned by RestoreGrad without a prior BackupGrad.
	ErrNoGradBackup = errors.New("adversarial: no gradient backup")

	// ErrNoTargets is returned when no trainable parameter matches.
	ErrNoTargets = errors.New("adversarial: no trainable parameter matches the embedding names")
)

// collect returns the trainable parameters whose name contains any of names.
func collect(params *nn.ParameterSet, names ...string) ([]*nn.Parameter, error) {
	targets := params.Select(func(name string) bool {
		for _, n := range names {
			if strings.Contains(name, n) {
				return true
			}
		}
		return false
	})
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	return targets, nil
}

func names(params []*nn.Parameter) []string {
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = p.Name
	}
	return out
}

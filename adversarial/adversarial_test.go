package adversarial

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/WENGSYX/BASELINE-CCKS/nn"
	"github.com/WENGSYX/BASELINE-CCKS/tensor"
)

// newParams builds the three embedding tables plus a classifier weight,
// each with a random gradient.
func newParams(t *testing.T, seed int64) *nn.ParameterSet {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	ps := nn.NewParameterSet()
	for _, name := range append(append([]string(nil), nn.EmbeddingNames...), nn.ClassifierWeightName) {
		v, _ := tensor.RandomNormal([]int{4, 3}, 0, 1, rng)
		p, err := ps.Register(name, v, true)
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		g, _ := tensor.RandomNormal([]int{4, 3}, 0, 1, rng)
		p.Grad = g
	}
	return ps
}

func snapshot(ps *nn.ParameterSet) map[string][]float64 {
	out := make(map[string][]float64)
	for _, p := range ps.All() {
		out[p.Name] = append([]float64(nil), p.Value.Data...)
	}
	return out
}

func TestFGMAttackRestoreIsExact(t *testing.T) {
	for seed := int64(0); seed < 5; seed++ {
		ps := newParams(t, seed)
		before := snapshot(ps)

		fgm, err := NewFGM(ps)
		if err != nil {
			t.Fatalf("NewFGM failed: %v", err)
		}
		if diff := cmp.Diff(nn.EmbeddingNames, fgm.Targets()); diff != "" {
			t.Fatalf("targets mismatch (-want +got):\n%s", diff)
		}

		if err := fgm.Attack(1.0); err != nil {
			t.Fatalf("Attack failed: %v", err)
		}
		after := snapshot(ps)
		for _, name := range nn.EmbeddingNames {
			if cmp.Equal(before[name], after[name]) {
				t.Errorf("%s was not perturbed", name)
			}
		}
		if !cmp.Equal(before[nn.ClassifierWeightName], after[nn.ClassifierWeightName]) {
			t.Errorf("non-embedding parameter was perturbed")
		}

		if err := fgm.Restore(); err != nil {
			t.Fatalf("Restore failed: %v", err)
		}
		if diff := cmp.Diff(before, snapshot(ps)); diff != "" {
			t.Errorf("restore is not exact (-before +after):\n%s", diff)
		}
	}
}

func TestFGMPerturbationHasNormEpsilon(t *testing.T) {
	ps := newParams(t, 11)
	before := snapshot(ps)
	fgm, _ := NewFGM(ps)
	if err := fgm.Attack(0.5); err != nil {
		t.Fatalf("Attack failed: %v", err)
	}
	for _, name := range nn.EmbeddingNames {
		p, _ := ps.Get(name)
		var sq float64
		for i, v := range p.Value.Data {
			d := v - before[name][i]
			sq += d * d
		}
		if math.Abs(math.Sqrt(sq)-0.5) > 1e-12 {
			t.Errorf("%s displacement norm = %v, want 0.5", name, math.Sqrt(sq))
		}
	}
}

func TestFGMSkipsZeroGradient(t *testing.T) {
	ps := newParams(t, 3)
	p, _ := ps.Get(nn.PositionEmbeddingsName)
	p.Grad.Zero()
	before := append([]float64(nil), p.Value.Data...)

	fgm, _ := NewFGM(ps)
	if err := fgm.Attack(1); err != nil {
		t.Fatalf("Attack failed: %v", err)
	}
	if _, ok := fgm.backup[nn.PositionEmbeddingsName]; ok {
		t.Errorf("zero-gradient parameter must not be backed up")
	}
	if !cmp.Equal(before, p.Value.Data) {
		t.Errorf("zero-gradient parameter must not be perturbed")
	}
	if err := fgm.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if len(fgm.backup) != 0 {
		t.Errorf("backup must be cleared after restore")
	}
}

func TestFGMPairing(t *testing.T) {
	fgm, _ := NewFGM(newParams(t, 1))
	if err := fgm.Restore(); !errors.Is(err, ErrNotAttacked) {
		t.Errorf("Restore without Attack: got %v, want ErrNotAttacked", err)
	}
	if err := fgm.Attack(1); err != nil {
		t.Fatalf("Attack failed: %v", err)
	}
	if err := fgm.Attack(1); !errors.Is(err, ErrPendingRestore) {
		t.Errorf("double Attack: got %v, want ErrPendingRestore", err)
	}
	if err := fgm.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if err := fgm.Restore(); !errors.Is(err, ErrNotAttacked) {
		t.Errorf("second Restore: got %v, want ErrNotAttacked", err)
	}
}

func TestNoTargets(t *testing.T) {
	ps := nn.NewParameterSet()
	v, _ := tensor.Zeros([]int{2})
	ps.Register("encoder.weight", v, true)
	if _, err := NewFGM(ps); !errors.Is(err, ErrNoTargets) {
		t.Errorf("NewFGM: got %v, want ErrNoTargets", err)
	}
	if _, err := NewPGD(ps, "word_embeddings", 3); !errors.Is(err, ErrNoTargets) {
		t.Errorf("NewPGD: got %v, want ErrNoTargets", err)
	}
}

func TestPGDProjectionStaysInBall(t *testing.T) {
	const epsilon = 0.3
	ps := newParams(t, 5)
	before := snapshot(ps)
	pgd, err := NewPGD(ps, "word_embeddings", 5)
	if err != nil {
		t.Fatalf("NewPGD failed: %v", err)
	}
	p, _ := ps.Get(nn.WordEmbeddingsName)
	rng := rand.New(rand.NewSource(9))

	for step := 0; step < pgd.Steps(); step++ {
		if err := pgd.Attack(epsilon, 0.25, step == 0); err != nil {
			t.Fatalf("Attack step %d failed: %v", step, err)
		}
		var sq float64
		for i, v := range p.Value.Data {
			d := v - before[nn.WordEmbeddingsName][i]
			sq += d * d
		}
		if math.Sqrt(sq) > epsilon+1e-12 {
			t.Errorf("step %d: displacement %v exceeds epsilon", step, math.Sqrt(sq))
		}
		// a fresh gradient for the next step
		for i := range p.Grad.Data {
			p.Grad.Data[i] = rng.NormFloat64()
		}
	}

	if err := pgd.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if diff := cmp.Diff(before, snapshot(ps)); diff != "" {
		t.Errorf("restore is not exact (-before +after):\n%s", diff)
	}
}

func TestPGDSkipsNaNGradient(t *testing.T) {
	ps := newParams(t, 2)
	p, _ := ps.Get(nn.WordEmbeddingsName)
	p.Grad.Data[0] = math.NaN()
	before := append([]float64(nil), p.Value.Data...)

	pgd, _ := NewPGD(ps, "word_embeddings", 2)
	if err := pgd.Attack(1, 0.33, true); err != nil {
		t.Fatalf("Attack failed: %v", err)
	}
	if !cmp.Equal(before, p.Value.Data) {
		t.Errorf("NaN gradient should leave the parameter untouched")
	}
}

func TestPGDPairing(t *testing.T) {
	pgd, _ := NewPGD(newParams(t, 4), "word_embeddings", 2)
	if err := pgd.Attack(1, 0.3, false); !errors.Is(err, ErrNotAttacked) {
		t.Errorf("continuation without first step: got %v", err)
	}
	if err := pgd.Restore(); !errors.Is(err, ErrNotAttacked) {
		t.Errorf("Restore without Attack: got %v", err)
	}
	if err := pgd.RestoreGrad(); !errors.Is(err, ErrNoGradBackup) {
		t.Errorf("RestoreGrad without backup: got %v", err)
	}
	if err := pgd.Attack(1, 0.3, true); err != nil {
		t.Fatalf("Attack failed: %v", err)
	}
	if err := pgd.Attack(1, 0.3, true); !errors.Is(err, ErrPendingRestore) {
		t.Errorf("new cycle before restore: got %v", err)
	}
}

func TestPGDGradBackupIsASnapshot(t *testing.T) {
	ps := newParams(t, 6)
	pgd, _ := NewPGD(ps, "word_embeddings", 3)

	want := make(map[string][]float64)
	for _, p := range ps.All() {
		want[p.Name] = append([]float64(nil), p.Grad.Data...)
	}

	pgd.BackupGrad()
	ps.ZeroGrad()
	if err := pgd.RestoreGrad(); err != nil {
		t.Fatalf("RestoreGrad failed: %v", err)
	}

	got := make(map[string][]float64)
	for _, p := range ps.All() {
		got[p.Name] = p.Grad.Data
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("gradients not restored (-want +got):\n%s", diff)
	}
}

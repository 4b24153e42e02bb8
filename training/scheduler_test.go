package training

import (
	"math"
	"testing"
)

func TestCosineWarmupScheduler(t *testing.T) {
	scheduler := NewCosineWarmupScheduler(4, 12)
	baseLR := 1.0

	tests := []struct {
		step       int
		expectedLR float64
	}{
		{0, 0},
		{1, 0.25},
		{2, 0.5},
		{4, 1.0},  // Warmup done, cosine starts at its peak
		{8, 0.5},  // Halfway through the decay
		{12, 0},   // End of schedule
		{16, 0.5}, // The cosine keeps going past TotalSteps
	}

	for _, tt := range tests {
		lr := scheduler.GetLR(0, tt.step, baseLR)
		if math.Abs(lr-tt.expectedLR) > 1e-12 {
			t.Errorf("Step %d: expected LR %f, got %f", tt.step, tt.expectedLR, lr)
		}
	}
}

func TestCosineWarmupZeroWarmup(t *testing.T) {
	scheduler := NewCosineWarmupScheduler(0, 0)
	if lr := scheduler.GetLR(0, 0, 0.1); math.Abs(lr-0.1) > 1e-12 {
		t.Errorf("expected base LR at step 0, got %f", lr)
	}
}

func TestLinearWarmupScheduler(t *testing.T) {
	scheduler := NewLinearWarmupScheduler(2, 6)
	tests := []struct {
		step       int
		expectedLR float64
	}{
		{0, 0},
		{1, 0.5},
		{2, 1},
		{4, 0.5},
		{6, 0},
		{9, 0},
	}
	for _, tt := range tests {
		lr := scheduler.GetLR(0, tt.step, 1)
		if math.Abs(lr-tt.expectedLR) > 1e-12 {
			t.Errorf("Step %d: expected LR %f, got %f", tt.step, tt.expectedLR, lr)
		}
	}
}

func TestNoOpScheduler(t *testing.T) {
	scheduler := &NoOpScheduler{}
	for step := 0; step < 5; step++ {
		if lr := scheduler.GetLR(step, step, 0.01); lr != 0.01 {
			t.Errorf("Step %d: expected constant LR, got %f", step, lr)
		}
	}
	if scheduler.GetName() != "ConstantLR" {
		t.Errorf("unexpected name %s", scheduler.GetName())
	}
}

func TestNewLRScheduler(t *testing.T) {
	tests := []struct {
		name     string
		wantName string
		wantErr  bool
	}{
		{"", "CosineWithWarmup", false},
		{"cosine", "CosineWithWarmup", false},
		{"linear", "LinearWithWarmup", false},
		{"constant", "ConstantLR", false},
		{"step", "", true},
	}
	for _, tt := range tests {
		s, err := NewLRScheduler(tt.name, 1, 10)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewLRScheduler(%q) error = %v", tt.name, err)
			continue
		}
		if err == nil && s.GetName() != tt.wantName {
			t.Errorf("NewLRScheduler(%q) = %s, want %s", tt.name, s.GetName(), tt.wantName)
		}
	}
}

type lrRecorder struct{ lrs []float64 }

func (r *lrRecorder) SetLR(lr float64) { r.lrs = append(r.lrs, lr) }

func TestStepSchedulerAppliesOnConstruction(t *testing.T) {
	rec := &lrRecorder{}
	s := NewStepScheduler(NewCosineWarmupScheduler(2, 4), rec, 8e-6)
	if len(rec.lrs) != 1 || rec.lrs[0] != 0 {
		t.Fatalf("construction should apply the step-0 rate, got %v", rec.lrs)
	}
	s.Step()
	s.Step()
	if s.StepCount() != 2 {
		t.Errorf("step count = %d", s.StepCount())
	}
	if math.Abs(s.LastLR()-8e-6) > 1e-18 {
		t.Errorf("after warmup LR = %g, want 8e-6", s.LastLR())
	}
	if len(rec.lrs) != 3 {
		t.Errorf("expected 3 applied rates, got %d", len(rec.lrs))
	}
}

func TestWarmupAndTotalSteps(t *testing.T) {
	tests := []struct {
		batches, accum, epochs int
		warmup, total          int
	}{
		{100, 2, 8, 50, 400},
		{101, 2, 8, 50, 404},
		{7, 0, 3, 7, 21},
	}
	for _, tt := range tests {
		w, total := WarmupAndTotalSteps(tt.batches, tt.accum, tt.epochs)
		if w != tt.warmup || total != tt.total {
			t.Errorf("WarmupAndTotalSteps(%d, %d, %d) = (%d, %d), want (%d, %d)",
				tt.batches, tt.accum, tt.epochs, w, total, tt.warmup, tt.total)
		}
	}
}

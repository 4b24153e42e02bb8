package optimizer

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/WENGSYX/BASELINE-CCKS/nn"
	"github.com/WENGSYX/BASELINE-CCKS/tensor"
)

func singleParam(t *testing.T, value, grad []float64) (*nn.ParameterSet, *nn.Parameter) {
	t.Helper()
	ps := nn.NewParameterSet()
	v, err := tensor.New([]int{len(value)}, append([]float64(nil), value...))
	if err != nil {
		t.Fatal(err)
	}
	p, err := ps.Register("w", v, true)
	if err != nil {
		t.Fatal(err)
	}
	g, _ := tensor.New([]int{len(grad)}, append([]float64(nil), grad...))
	p.Grad = g
	return ps, p
}

func TestDefaultAdamWConfig(t *testing.T) {
	config := DefaultAdamWConfig()
	want := AdamWConfig{LearningRate: 1e-3, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-6, CorrectBias: true}
	if diff := cmp.Diff(want, config); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestAdamWFirstStep(t *testing.T) {
	// With bias correction the first update is lr*g/(|g|+eps') per element.
	ps, p := singleParam(t, []float64{1, -2, 0.5}, []float64{0.1, -0.4, 0})
	config := DefaultAdamWConfig()
	config.LearningRate = 0.01
	adam, err := NewAdamW(ps, config)
	if err != nil {
		t.Fatalf("NewAdamW failed: %v", err)
	}
	if err := adam.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	stepSize := 0.01 * math.Sqrt(1-0.999) / (1 - 0.9)
	want := make([]float64, 3)
	for i, g := range []float64{0.1, -0.4, 0} {
		m := 0.1 * g
		v := 0.001 * g * g
		want[i] = []float64{1, -2, 0.5}[i] - stepSize*m/(math.Sqrt(v)+1e-6)
	}
	if diff := cmp.Diff(want, p.Value.Data, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
	if adam.GetStepCount() != 1 {
		t.Errorf("step count = %d, want 1", adam.GetStepCount())
	}
}

func TestAdamWDecoupledDecay(t *testing.T) {
	// A zero gradient leaves only the decay term.
	ps, p := singleParam(t, []float64{2, -4}, []float64{0, 0})
	config := DefaultAdamWConfig()
	config.LearningRate = 0.1
	config.WeightDecay = 0.5
	adam, _ := NewAdamW(ps, config)
	if err := adam.Step(); err != nil {
		t.Fatal(err)
	}
	want := []float64{2 * 0.95, -4 * 0.95}
	if diff := cmp.Diff(want, p.Value.Data, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("decay mismatch (-want +got):\n%s", diff)
	}
}

func TestAdamWMinimizesQuadratic(t *testing.T) {
	ps, p := singleParam(t, []float64{3, -3}, []float64{0, 0})
	config := DefaultAdamWConfig()
	config.LearningRate = 0.01
	adam, _ := NewAdamW(ps, config)
	for i := 0; i < 2000; i++ {
		for j, v := range p.Value.Data {
			p.Grad.Data[j] = 2 * v
		}
		if err := adam.Step(); err != nil {
			t.Fatal(err)
		}
	}
	for _, v := range p.Value.Data {
		if math.Abs(v) > 0.05 {
			t.Errorf("did not converge: %v", p.Value.Data)
		}
	}
}

func TestAdamWSkipsFrozenAndMissingGrad(t *testing.T) {
	ps := nn.NewParameterSet()
	frozen, _ := tensor.Full([]int{2}, 1)
	pf, _ := ps.Register("frozen", frozen, false)
	pf.Grad, _ = tensor.Full([]int{2}, 1)
	noGrad, _ := tensor.Full([]int{2}, 1)
	ps.Register("nograd", noGrad, true)

	adam, err := NewAdamW(ps, DefaultAdamWConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := adam.Step(); err != nil {
		t.Fatal(err)
	}
	for _, p := range ps.All() {
		if !cmp.Equal([]float64{1, 1}, p.Value.Data) {
			t.Errorf("%s changed: %v", p.Name, p.Value.Data)
		}
	}
}

func TestAdamWStateRoundTrip(t *testing.T) {
	ps, p := singleParam(t, []float64{1, 2}, []float64{0.3, -0.2})
	adam, _ := NewAdamW(ps, DefaultAdamWConfig())
	adam.Step()
	adam.Step()

	state, err := adam.GetState()
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(state)
	if err != nil {
		t.Fatal(err)
	}
	var decoded OptimizerState
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}

	ps2, p2 := singleParam(t, p.Value.Data, []float64{0.3, -0.2})
	restored, _ := NewAdamW(ps2, AdamWConfig{LearningRate: 5, Beta1: 0.5, Beta2: 0.5})
	if err := restored.LoadState(&decoded); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if diff := cmp.Diff(adam.Config(), restored.Config()); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if restored.GetStepCount() != 2 {
		t.Errorf("step count = %d, want 2", restored.GetStepCount())
	}

	adam.Step()
	restored.Step()
	if diff := cmp.Diff(p.Value.Data, p2.Value.Data); diff != "" {
		t.Errorf("trajectories diverged (-orig +restored):\n%s", diff)
	}
}

func TestLoadStateRejectsMismatch(t *testing.T) {
	ps, _ := singleParam(t, []float64{1}, []float64{1})
	adam, _ := NewAdamW(ps, DefaultAdamWConfig())
	if err := adam.LoadState(&OptimizerState{Type: "SGD"}); err == nil {
		t.Error("expected type mismatch error")
	}
	bad := &OptimizerState{Type: "AdamW", StateData: []StateTensor{{Name: "w", Data: []float64{1, 2}, StateType: "m"}}}
	if err := adam.LoadState(bad); err == nil {
		t.Error("expected size mismatch error")
	}
	unknown := &OptimizerState{Type: "AdamW", StateData: []StateTensor{{Name: "other", Data: []float64{1}, StateType: "m"}}}
	if err := adam.LoadState(unknown); err == nil {
		t.Error("expected unknown parameter error")
	}
}

func TestSGDMomentum(t *testing.T) {
	ps, p := singleParam(t, []float64{1}, []float64{1})
	sgd, err := NewSGD(ps, SGDConfig{LearningRate: 0.1, Momentum: 0.9})
	if err != nil {
		t.Fatal(err)
	}
	sgd.Step() // v=1, w=0.9
	sgd.Step() // v=1.9, w=0.71
	if math.Abs(p.Value.Data[0]-0.71) > 1e-12 {
		t.Errorf("value = %v, want 0.71", p.Value.Data[0])
	}
	if _, err := NewSGD(ps, SGDConfig{LearningRate: 0.1, Nesterov: true}); err == nil {
		t.Error("nesterov without momentum should fail")
	}
}

func TestNewByName(t *testing.T) {
	ps, _ := singleParam(t, []float64{1}, []float64{1})
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", "AdamW", false},
		{"adamw", "AdamW", false},
		{"sgd", "SGD", false},
		{"lamb", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt, err := New(tt.name, ps, 8e-6, 2e-4)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if opt.GetLR() != 8e-6 {
				t.Errorf("lr = %v", opt.GetLR())
			}
			state, _ := opt.GetState()
			if state.Type != tt.want {
				t.Errorf("type = %s, want %s", state.Type, tt.want)
			}
		})
	}
}

func TestZeroGradAndSetLR(t *testing.T) {
	ps, p := singleParam(t, []float64{1, 1}, []float64{3, 4})
	adam, _ := NewAdamW(ps, DefaultAdamWConfig())
	adam.SetLR(0.5)
	if adam.GetLR() != 0.5 {
		t.Errorf("lr = %v", adam.GetLR())
	}
	adam.ZeroGrad()
	if !cmp.Equal([]float64{0, 0}, p.Grad.Data) {
		t.Errorf("grad not zeroed: %v", p.Grad.Data)
	}
}

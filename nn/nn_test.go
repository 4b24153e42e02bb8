package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/WENGSYX/BASELINE-CCKS/data"
	"github.com/WENGSYX/BASELINE-CCKS/tensor"
)

func testBatch() *data.Batch {
	return &data.Batch{
		InputIDs:      [][]int{{1, 4, 2, 5, 0}, {1, 3, 2, 0, 0}},
		AttentionMask: [][]int{{1, 1, 1, 1, 0}, {1, 1, 1, 0, 0}},
		TokenTypeIDs:  [][]int{{0, 0, 0, 1, 0}, {0, 0, 0, 0, 0}},
		Labels:        []int{1, 0},
	}
}

func testClassifier(t *testing.T) *Classifier {
	t.Helper()
	config := DefaultClassifierConfig(8)
	config.HiddenSize = 6
	config.MaxPositions = 8
	config.DropoutProb = 0
	config.InitializerRange = 0.5
	model, err := NewClassifier(config, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}
	return model
}

func TestParameterSetRegistration(t *testing.T) {
	ps := NewParameterSet()
	w, _ := tensor.Zeros([]int{2, 2})
	b, _ := tensor.Zeros([]int{2})

	if _, err := ps.Register("layer.weight", w, true); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := ps.Register("layer.bias", b, false); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := ps.Register("layer.weight", w, true); err == nil {
		t.Errorf("expected duplicate registration to fail")
	}

	if got := len(ps.Trainable()); got != 1 {
		t.Errorf("expected 1 trainable parameter, got %d", got)
	}
	if diff := cmp.Diff([]string{"layer.bias", "layer.weight"}, ps.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}

	selected := ps.Select(func(name string) bool { return name == "layer.bias" })
	if len(selected) != 0 {
		t.Errorf("Select must skip frozen parameters, got %d", len(selected))
	}
}

func TestZeroGradKeepsPresence(t *testing.T) {
	ps := NewParameterSet()
	w, _ := tensor.Full([]int{3}, 1)
	p, _ := ps.Register("w", w, true)
	if len(ps.Gradients()) != 0 {
		t.Errorf("a fresh parameter must have no gradient")
	}
	p.EnsureGrad().Data[0] = 5
	ps.ZeroGrad()
	if p.Grad == nil || p.Grad.Data[0] != 0 {
		t.Errorf("ZeroGrad should zero the gradient in place, got %v", p.Grad)
	}
}

func TestCrossEntropyLoss(t *testing.T) {
	ce := NewCrossEntropyLoss()
	logits := [][]float64{{0, 0}, {2, 0}}
	loss, err := ce.Forward(logits, []int{0, 1})
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	want := (math.Log(2) + (math.Log(math.Exp(2)+1) - 0)) / 2
	if math.Abs(loss-want) > 1e-12 {
		t.Errorf("loss = %v, want %v", loss, want)
	}

	grad, err := ce.Backward(logits, []int{0, 1})
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	for i, row := range grad {
		sum := row[0] + row[1]
		if math.Abs(sum) > 1e-12 {
			t.Errorf("row %d gradient should sum to zero, got %v", i, sum)
		}
	}
	if math.Abs(grad[0][0]-(-0.25)) > 1e-12 {
		t.Errorf("grad[0][0] = %v, want -0.25", grad[0][0])
	}

	if _, err := ce.Forward(logits, []int{0, 2}); err == nil {
		t.Errorf("expected out-of-range target to fail")
	}
	if _, err := ce.Forward(logits, []int{0}); err == nil {
		t.Errorf("expected batch mismatch to fail")
	}
}

func TestArgmax(t *testing.T) {
	got := Argmax([][]float64{{0.1, 0.9}, {3, -1}, {1, 1}})
	if diff := cmp.Diff([]int{1, 0, 0}, got); diff != "" {
		t.Errorf("Argmax mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifierRejectsBadBatches(t *testing.T) {
	model := testClassifier(t)

	b := testBatch()
	b.InputIDs[0][1] = 99
	if _, err := model.Forward(b, ForwardOptions{}); err == nil {
		t.Errorf("expected out-of-vocabulary id to fail")
	}

	b = testBatch()
	b.TokenTypeIDs[1][0] = 2
	if _, err := model.Forward(b, ForwardOptions{}); err == nil {
		t.Errorf("expected bad token type to fail")
	}

	if _, err := model.Forward(&data.Batch{}, ForwardOptions{}); err == nil {
		t.Errorf("expected empty batch to fail")
	}
}

// lossAt evaluates the batch loss with the current parameter values.
func lossAt(t *testing.T, model *Classifier, b *data.Batch) float64 {
	t.Helper()
	out, err := model.Forward(b, ForwardOptions{})
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	loss, err := NewCrossEntropyLoss().Forward(out.Logits, b.Labels)
	if err != nil {
		t.Fatalf("loss failed: %v", err)
	}
	return loss
}

func TestClassifierGradientsMatchFiniteDifferences(t *testing.T) {
	model := testClassifier(t)
	b := testBatch()
	ce := NewCrossEntropyLoss()

	out, err := model.Forward(b, ForwardOptions{})
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	dLogits, err := ce.Backward(out.Logits, b.Labels)
	if err != nil {
		t.Fatalf("loss backward failed: %v", err)
	}
	if err := model.Backward(out, dLogits); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	const h = 1e-6
	for _, p := range model.Parameters().All() {
		if p.Grad == nil {
			t.Fatalf("%s has no gradient after backward", p.Name)
		}
		for _, k := range []int{0, p.Value.NumElems / 2, p.Value.NumElems - 1} {
			orig := p.Value.Data[k]
			p.Value.Data[k] = orig + h
			plus := lossAt(t, model, b)
			p.Value.Data[k] = orig - h
			minus := lossAt(t, model, b)
			p.Value.Data[k] = orig

			numeric := (plus - minus) / (2 * h)
			if math.Abs(numeric-p.Grad.Data[k]) > 1e-6 {
				t.Errorf("%s[%d]: analytic %v, numeric %v", p.Name, k, p.Grad.Data[k], numeric)
			}
		}
	}
}

func TestBackwardAccumulates(t *testing.T) {
	model := testClassifier(t)
	b := testBatch()
	ce := NewCrossEntropyLoss()

	run := func() {
		out, _ := model.Forward(b, ForwardOptions{})
		g, _ := ce.Backward(out.Logits, b.Labels)
		if err := model.Backward(out, g); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
	}

	run()
	p, _ := model.Parameters().Get(ClassifierWeightName)
	once := p.Grad.Clone()
	run()
	for i := range once.Data {
		if math.Abs(p.Grad.Data[i]-2*once.Data[i]) > 1e-12 {
			t.Fatalf("gradient did not accumulate at %d: %v vs 2*%v", i, p.Grad.Data[i], once.Data[i])
		}
	}
}

func TestAutocastRoundsLogits(t *testing.T) {
	model := testClassifier(t)
	out, err := model.Forward(testBatch(), ForwardOptions{Autocast: true})
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	for _, row := range out.Logits {
		for _, v := range row {
			if float64(float32(v)) != v {
				t.Errorf("autocast logit %v is not representable in reduced precision", v)
			}
		}
	}
}

func TestDropoutOnlyInTraining(t *testing.T) {
	config := DefaultClassifierConfig(8)
	config.HiddenSize = 6
	config.MaxPositions = 8
	config.DropoutProb = 0.5
	model, err := NewClassifier(config, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}

	model.Eval()
	a, _ := model.Forward(testBatch(), ForwardOptions{})
	b, _ := model.Forward(testBatch(), ForwardOptions{})
	if diff := cmp.Diff(a.Logits, b.Logits); diff != "" {
		t.Errorf("eval forward should be deterministic (-a +b):\n%s", diff)
	}
	if model.IsTraining() {
		t.Errorf("Eval() did not switch mode")
	}
}

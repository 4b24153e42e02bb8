package tensor

import (
	"math"
	"math/rand"
	"testing"
)

func TestNewValidatesShape(t *testing.T) {
	tests := []struct {
		name    string
		shape   []int
		data    []float64
		wantErr bool
	}{
		{"zeros", []int{2, 3}, nil, false},
		{"with data", []int{2}, []float64{1, 2}, false},
		{"empty shape", []int{}, nil, true},
		{"zero dim", []int{2, 0}, nil, true},
		{"length mismatch", []int{2, 2}, []float64{1, 2, 3}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.shape, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%v) error = %v, wantErr %v", tt.shape, err, tt.wantErr)
			}
		})
	}
}

func TestStridesAndRows(t *testing.T) {
	x, err := Zeros([]int{4, 3, 2})
	if err != nil {
		t.Fatalf("Zeros failed: %v", err)
	}
	if x.NumElems != 24 {
		t.Errorf("expected 24 elements, got %d", x.NumElems)
	}
	want := []int{6, 2, 1}
	for i, s := range want {
		if x.Strides[i] != s {
			t.Errorf("stride %d: expected %d, got %d", i, s, x.Strides[i])
		}
	}
	if x.Rows() != 4 || x.Cols() != 6 {
		t.Errorf("expected 4x6 view, got %dx%d", x.Rows(), x.Cols())
	}

	x.Row(2)[0] = 7
	if x.Data[12] != 7 {
		t.Errorf("Row should be a view into Data")
	}
}

func TestCloneIsDeep(t *testing.T) {
	x, _ := New([]int{3}, []float64{1, 2, 3})
	y := x.Clone()
	y.Data[0] = 42
	if x.Data[0] != 1 {
		t.Errorf("clone shares storage with original")
	}
	if !x.SameShape(y) {
		t.Errorf("clone changed shape")
	}
}

func TestNormScaleAddScaled(t *testing.T) {
	x, _ := New([]int{2}, []float64{3, 4})
	if got := x.Norm(); math.Abs(got-5) > 1e-12 {
		t.Errorf("Norm = %v, want 5", got)
	}

	y, _ := New([]int{2}, []float64{1, 1})
	if err := x.AddScaled(2, y); err != nil {
		t.Fatalf("AddScaled failed: %v", err)
	}
	if x.Data[0] != 5 || x.Data[1] != 6 {
		t.Errorf("AddScaled result = %v", x.Data)
	}

	x.Scale(0.5)
	if x.Data[0] != 2.5 || x.Data[1] != 3 {
		t.Errorf("Scale result = %v", x.Data)
	}

	z, _ := Zeros([]int{3})
	if err := x.AddScaled(1, z); err == nil {
		t.Errorf("expected shape mismatch error")
	}
}

func TestIsFinite(t *testing.T) {
	x, _ := New([]int{2}, []float64{1, 2})
	if !x.IsFinite() {
		t.Errorf("finite tensor reported non-finite")
	}
	x.Data[1] = math.Inf(1)
	if x.IsFinite() {
		t.Errorf("Inf not detected")
	}
	x.Data[1] = math.NaN()
	if x.IsFinite() {
		t.Errorf("NaN not detected")
	}
}

func TestRandomNormalDeterministic(t *testing.T) {
	a, _ := RandomNormal([]int{8}, 0, 0.02, rand.New(rand.NewSource(3)))
	b, _ := RandomNormal([]int{8}, 0, 0.02, rand.New(rand.NewSource(3)))
	if !a.Equal(b) {
		t.Errorf("same seed produced different tensors")
	}
}

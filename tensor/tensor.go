package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Tensor is a dense, row-major float64 tensor living in host memory.
type Tensor struct {
	Shape    []int
	Strides  []int
	Data     []float64
	NumElems int
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, t.NumElems)
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: at least one dimension is required")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

// Rows returns the leading dimension.
func (t *Tensor) Rows() int {
	return t.Shape[0]
}

// Cols returns the product of all trailing dimensions.
func (t *Tensor) Cols() int {
	if len(t.Shape) == 1 {
		return 1
	}
	return t.NumElems / t.Shape[0]
}

// Row returns a view of row i of a tensor viewed as [Rows, Cols].
func (t *Tensor) Row(i int) []float64 {
	cols := t.Cols()
	return t.Data[i*cols : (i+1)*cols]
}

// SameShape reports whether t and other have identical shapes.
func (t *Tensor) SameShape(other *Tensor) bool {
	if len(t.Shape) != len(other.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != other.Shape[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of t.
func (t *Tensor) Clone() *Tensor {
	shape := append([]int(nil), t.Shape...)
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		Data:     data,
		NumElems: t.NumElems,
	}
}

// CopyFrom overwrites the values of t with those of src.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !t.SameShape(src) {
		return fmt.Errorf("shape mismatch: %v vs %v", t.Shape, src.Shape)
	}
	copy(t.Data, src.Data)
	return nil
}

// Zero sets every element to zero.
func (t *Tensor) Zero() {
	clear(t.Data)
}

// Norm returns the Frobenius (flattened L2) norm.
func (t *Tensor) Norm() float64 {
	return floats.Norm(t.Data, 2)
}

// Scale multiplies every element by s in place.
func (t *Tensor) Scale(s float64) {
	floats.Scale(s, t.Data)
}

// AddScaled performs t += alpha*other in place.
func (t *Tensor) AddScaled(alpha float64, other *Tensor) error {
	if !t.SameShape(other) {
		return fmt.Errorf("shape mismatch: %v vs %v", t.Shape, other.Shape)
	}
	floats.AddScaled(t.Data, alpha, other.Data)
	return nil
}

// IsFinite reports whether no element is NaN or ±Inf.
func (t *Tensor) IsFinite() bool {
	for _, v := range t.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Equal reports exact element-wise equality, shape included.
func (t *Tensor) Equal(other *Tensor) bool {
	return t.SameShape(other) && floats.Equal(t.Data, other.Data)
}

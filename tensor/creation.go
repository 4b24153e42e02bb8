package tensor

import (
	"fmt"
	"math/rand"
)

// New wraps data in a tensor of the given shape. A nil data slice allocates
// zeros.
func New(shape []int, data []float64) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if data == nil {
		data = make([]float64, numElems)
	}
	if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match tensor size %d", len(data), numElems)
	}

	return &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros allocates a zero-filled tensor.
func Zeros(shape []int) (*Tensor, error) {
	return New(shape, nil)
}

// ZerosLike allocates a zero-filled tensor shaped like t.
func ZerosLike(t *Tensor) *Tensor {
	return &Tensor{
		Shape:    append([]int(nil), t.Shape...),
		Strides:  calculateStrides(t.Shape),
		Data:     make([]float64, t.NumElems),
		NumElems: t.NumElems,
	}
}

// RandomNormal fills a tensor with N(mean, std²) samples drawn from rng.
func RandomNormal(shape []int, mean, std float64, rng *rand.Rand) (*Tensor, error) {
	t, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64()*std + mean
	}
	return t, nil
}

// Full allocates a tensor with every element set to value.
func Full(shape []int, value float64) (*Tensor, error) {
	t, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = value
	}
	return t, nil
}

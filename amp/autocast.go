// Package amp emulates automatic mixed precision on the CPU: activations
// computed under autocast are rounded through IEEE binary16, and a dynamic
// GradScaler keeps small gradients representable.
package amp

import "github.com/x448/float16"

// MaxHalf is the largest finite binary16 value.
const MaxHalf = 65504.0

// Round returns v rounded to the nearest binary16 value. Values beyond the
// binary16 range become ±Inf, as they would on an accelerator.
func Round(v float64) float64 {
	return float64(float16.Fromfloat32(float32(v)).Float32())
}

// RoundSlice rounds every element of data in place.
func RoundSlice(data []float64) {
	for i, v := range data {
		data[i] = Round(v)
	}
}

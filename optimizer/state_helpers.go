package optimizer

import (
	"fmt"

	"github.com/WENGSYX/BASELINE-CCKS/tensor"
)

// Common helper functions for optimizer state management

// extractBufferState copies one named buffer into a StateTensor.
func extractBufferState(buffer *tensor.Tensor, name, stateType string) StateTensor {
	return StateTensor{
		Name:      name,
		Shape:     append([]int(nil), buffer.Shape...),
		Data:      append([]float64(nil), buffer.Data...),
		StateType: stateType,
	}
}

// restoreBufferState copies saved data back into buffer after checking sizes.
func restoreBufferState(buffer *tensor.Tensor, st StateTensor) error {
	if len(st.Data) != buffer.NumElems {
		return fmt.Errorf("data size mismatch for %s/%s: expected %d elements, got %d",
			st.StateType, st.Name, buffer.NumElems, len(st.Data))
	}
	copy(buffer.Data, st.Data)
	return nil
}

// extractFloatParam safely extracts a float parameter from the state map
func extractFloatParam(params map[string]interface{}, key string, defaultValue float64) float64 {
	switch val := params[key].(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	}
	return defaultValue
}

// extractBoolParam safely extracts a bool parameter from the state map
func extractBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := params[key].(bool); ok {
		return val
	}
	return defaultValue
}

// extractUint64Param safely extracts a uint64 parameter from the state map.
// JSON round trips turn integers into float64.
func extractUint64Param(params map[string]interface{}, key string, defaultValue uint64) uint64 {
	switch val := params[key].(type) {
	case float64:
		return uint64(val)
	case uint64:
		return val
	case int:
		return uint64(val)
	}
	return defaultValue
}

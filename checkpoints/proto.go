package checkpoints

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/WENGSYX/BASELINE-CCKS/nn"
	"github.com/WENGSYX/BASELINE-CCKS/optimizer"
)

// Field numbers of the binary checkpoint layout.
//
//	message Checkpoint {
//	  string version = 1;
//	  string framework = 2;
//	  string run_id = 3;
//	  int64 created_unix_nano = 4;
//	  int64 fold = 5;
//	  int64 epoch = 6;
//	  double f1 = 7;
//	  int64 step = 8;
//	  ModelConfig model = 10;
//	  repeated Tensor weights = 11;
//	  OptimizerState optimizer_state = 12;
//	}
//
//	message Tensor {
//	  string name = 1;
//	  repeated int64 shape = 2;
//	  repeated double data = 3;
//	  string state_type = 4;
//	}
//
//	message OptimizerState {
//	  string type = 1;
//	  bytes parameters_json = 2;
//	  repeated Tensor state = 3;
//	}
const (
	fieldVersion        protowire.Number = 1
	fieldFramework      protowire.Number = 2
	fieldRunID          protowire.Number = 3
	fieldCreated        protowire.Number = 4
	fieldFold           protowire.Number = 5
	fieldEpoch          protowire.Number = 6
	fieldF1             protowire.Number = 7
	fieldStep           protowire.Number = 8
	fieldModel          protowire.Number = 10
	fieldWeights        protowire.Number = 11
	fieldOptimizerState protowire.Number = 12

	fieldTensorName      protowire.Number = 1
	fieldTensorShape     protowire.Number = 2
	fieldTensorData      protowire.Number = 3
	fieldTensorStateType protowire.Number = 4

	fieldOptType   protowire.Number = 1
	fieldOptParams protowire.Number = 2
	fieldOptState  protowire.Number = 3

	fieldCfgVocab     protowire.Number = 1
	fieldCfgHidden    protowire.Number = 2
	fieldCfgPositions protowire.Number = 3
	fieldCfgTypes     protowire.Number = 4
	fieldCfgLabels    protowire.Number = 5
	fieldCfgDropout   protowire.Number = 6
	fieldCfgInitRange protowire.Number = 7
)

func marshalProto(c *Checkpoint) ([]byte, error) {
	var b []byte
	b = appendString(b, fieldVersion, c.Metadata.Version)
	b = appendString(b, fieldFramework, c.Metadata.Framework)
	b = appendString(b, fieldRunID, c.Metadata.RunID)
	b = appendInt(b, fieldCreated, c.Metadata.CreatedAt.UnixNano())
	b = appendInt(b, fieldFold, int64(c.TrainingState.Fold))
	b = appendInt(b, fieldEpoch, int64(c.TrainingState.Epoch))
	b = appendDouble(b, fieldF1, c.TrainingState.F1)
	b = appendInt(b, fieldStep, int64(c.TrainingState.Step))

	b = protowire.AppendTag(b, fieldModel, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalConfig(c.Model))

	for _, w := range c.Weights {
		b = protowire.AppendTag(b, fieldWeights, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalTensor(w.Name, w.Shape, w.Data, ""))
	}

	if c.OptimizerState != nil {
		msg, err := marshalOptimizerState(c.OptimizerState)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldOptimizerState, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}
	return b, nil
}

func marshalConfig(cfg nn.ClassifierConfig) []byte {
	var b []byte
	b = appendInt(b, fieldCfgVocab, int64(cfg.VocabSize))
	b = appendInt(b, fieldCfgHidden, int64(cfg.HiddenSize))
	b = appendInt(b, fieldCfgPositions, int64(cfg.MaxPositions))
	b = appendInt(b, fieldCfgTypes, int64(cfg.TypeVocabSize))
	b = appendInt(b, fieldCfgLabels, int64(cfg.NumLabels))
	b = appendDouble(b, fieldCfgDropout, cfg.DropoutProb)
	b = appendDouble(b, fieldCfgInitRange, cfg.InitializerRange)
	return b
}

func marshalTensor(name string, shape []int, data []float64, stateType string) []byte {
	var b []byte
	b = appendString(b, fieldTensorName, name)

	if len(shape) > 0 {
		var packed []byte
		for _, d := range shape {
			packed = protowire.AppendVarint(packed, uint64(int64(d)))
		}
		b = protowire.AppendTag(b, fieldTensorShape, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}

	if len(data) > 0 {
		packed := make([]byte, 0, 8*len(data))
		for _, v := range data {
			packed = protowire.AppendFixed64(packed, math.Float64bits(v))
		}
		b = protowire.AppendTag(b, fieldTensorData, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}

	b = appendString(b, fieldTensorStateType, stateType)
	return b
}

func marshalOptimizerState(s *optimizer.OptimizerState) ([]byte, error) {
	var b []byte
	b = appendString(b, fieldOptType, s.Type)

	params, err := json.Marshal(s.Parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to encode optimizer parameters: %w", err)
	}
	b = protowire.AppendTag(b, fieldOptParams, protowire.BytesType)
	b = protowire.AppendBytes(b, params)

	for _, st := range s.StateData {
		b = protowire.AppendTag(b, fieldOptState, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalTensor(st.Name, st.Shape, st.Data, st.StateType))
	}
	return b, nil
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 && !math.Signbit(v) {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func unmarshalProto(b []byte) (*Checkpoint, error) {
	c := &Checkpoint{}
	var created int64
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldVersion:
			return readString(num, typ, b, &c.Metadata.Version)
		case fieldFramework:
			return readString(num, typ, b, &c.Metadata.Framework)
		case fieldRunID:
			return readString(num, typ, b, &c.Metadata.RunID)
		case fieldCreated:
			return readInt64(num, typ, b, &created)
		case fieldFold:
			return readInt(num, typ, b, &c.TrainingState.Fold)
		case fieldEpoch:
			return readInt(num, typ, b, &c.TrainingState.Epoch)
		case fieldF1:
			return readDouble(num, typ, b, &c.TrainingState.F1)
		case fieldStep:
			return readInt(num, typ, b, &c.TrainingState.Step)
		case fieldModel:
			msg, n, err := readBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			cfg, err := unmarshalConfig(msg)
			if err != nil {
				return 0, fmt.Errorf("model config: %w", err)
			}
			c.Model = cfg
			return n, nil
		case fieldWeights:
			msg, n, err := readBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			t, err := unmarshalTensor(msg)
			if err != nil {
				return 0, fmt.Errorf("weight %d: %w", len(c.Weights), err)
			}
			c.Weights = append(c.Weights, WeightTensor{Name: t.Name, Shape: t.Shape, Data: t.Data})
			return n, nil
		case fieldOptimizerState:
			msg, n, err := readBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			s, err := unmarshalOptimizerState(msg)
			if err != nil {
				return 0, fmt.Errorf("optimizer state: %w", err)
			}
			c.OptimizerState = s
			return n, nil
		}
		return skipField(num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	if created != 0 {
		c.Metadata.CreatedAt = time.Unix(0, created).UTC()
	}
	return c, nil
}

func unmarshalConfig(b []byte) (nn.ClassifierConfig, error) {
	var cfg nn.ClassifierConfig
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldCfgVocab:
			return readInt(num, typ, b, &cfg.VocabSize)
		case fieldCfgHidden:
			return readInt(num, typ, b, &cfg.HiddenSize)
		case fieldCfgPositions:
			return readInt(num, typ, b, &cfg.MaxPositions)
		case fieldCfgTypes:
			return readInt(num, typ, b, &cfg.TypeVocabSize)
		case fieldCfgLabels:
			return readInt(num, typ, b, &cfg.NumLabels)
		case fieldCfgDropout:
			return readDouble(num, typ, b, &cfg.DropoutProb)
		case fieldCfgInitRange:
			return readDouble(num, typ, b, &cfg.InitializerRange)
		}
		return skipField(num, typ, b)
	})
	return cfg, err
}

func unmarshalTensor(b []byte) (optimizer.StateTensor, error) {
	var t optimizer.StateTensor
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldTensorName:
			return readString(num, typ, b, &t.Name)
		case fieldTensorShape:
			return readInts(num, typ, b, &t.Shape)
		case fieldTensorData:
			return readDoubles(num, typ, b, &t.Data)
		case fieldTensorStateType:
			return readString(num, typ, b, &t.StateType)
		}
		return skipField(num, typ, b)
	})
	return t, err
}

func unmarshalOptimizerState(b []byte) (*optimizer.OptimizerState, error) {
	s := &optimizer.OptimizerState{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldOptType:
			return readString(num, typ, b, &s.Type)
		case fieldOptParams:
			raw, n, err := readBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			if err := json.Unmarshal(raw, &s.Parameters); err != nil {
				return 0, fmt.Errorf("parameters: %w", err)
			}
			return n, nil
		case fieldOptState:
			msg, n, err := readBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			t, err := unmarshalTensor(msg)
			if err != nil {
				return 0, err
			}
			s.StateData = append(s.StateData, t)
			return n, nil
		}
		return skipField(num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// walk calls fn for every field in b. fn returns the number of value bytes
// it consumed.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func skipField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}

func wireTypeError(num protowire.Number, got, want protowire.Type) error {
	return fmt.Errorf("field %d has wire type %d, expected %d", num, got, want)
}

func readBytes(num protowire.Number, typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, wireTypeError(num, typ, protowire.BytesType)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func readString(num protowire.Number, typ protowire.Type, b []byte, dst *string) (int, error) {
	v, n, err := readBytes(num, typ, b)
	if err != nil {
		return 0, err
	}
	*dst = string(v)
	return n, nil
}

func readInt64(num protowire.Number, typ protowire.Type, b []byte, dst *int64) (int, error) {
	if typ != protowire.VarintType {
		return 0, wireTypeError(num, typ, protowire.VarintType)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = int64(v)
	return n, nil
}

func readInt(num protowire.Number, typ protowire.Type, b []byte, dst *int) (int, error) {
	var v int64
	n, err := readInt64(num, typ, b, &v)
	if err != nil {
		return 0, err
	}
	*dst = int(v)
	return n, nil
}

func readDouble(num protowire.Number, typ protowire.Type, b []byte, dst *float64) (int, error) {
	if typ != protowire.Fixed64Type {
		return 0, wireTypeError(num, typ, protowire.Fixed64Type)
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = math.Float64frombits(v)
	return n, nil
}

// readInts accepts both packed and unpacked encodings of a repeated int64.
func readInts(num protowire.Number, typ protowire.Type, b []byte, dst *[]int) (int, error) {
	if typ == protowire.VarintType {
		var v int
		n, err := readInt(num, typ, b, &v)
		if err != nil {
			return 0, err
		}
		*dst = append(*dst, v)
		return n, nil
	}

	packed, n, err := readBytes(num, typ, b)
	if err != nil {
		return 0, err
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeVarint(packed)
		if m < 0 {
			return 0, protowire.ParseError(m)
		}
		*dst = append(*dst, int(int64(v)))
		packed = packed[m:]
	}
	return n, nil
}

// readDoubles accepts both packed and unpacked encodings of a repeated double.
func readDoubles(num protowire.Number, typ protowire.Type, b []byte, dst *[]float64) (int, error) {
	if typ == protowire.Fixed64Type {
		var v float64
		n, err := readDouble(num, typ, b, &v)
		if err != nil {
			return 0, err
		}
		*dst = append(*dst, v)
		return n, nil
	}

	packed, n, err := readBytes(num, typ, b)
	if err != nil {
		return 0, err
	}
	if len(packed)%8 != 0 {
		return 0, fmt.Errorf("field %d: packed doubles length %d is not a multiple of 8", num, len(packed))
	}
	if *dst == nil {
		*dst = make([]float64, 0, len(packed)/8)
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeFixed64(packed)
		if m < 0 {
			return 0, protowire.ParseError(m)
		}
		*dst = append(*dst, math.Float64frombits(v))
		packed = packed[m:]
	}
	return n, nil
}

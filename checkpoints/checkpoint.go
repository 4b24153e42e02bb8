package checkpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/WENGSYX/BASELINE-CCKS/nn"
	"github.com/WENGSYX/BASELINE-CCKS/optimizer"
	"github.com/WENGSYX/BASELINE-CCKS/tensor"
)

const (
	// Framework is recorded in every checkpoint written by this package.
	Framework = "baseline-ccks"
	// Version is the checkpoint layout version.
	Version = "1.0.0"
)

var (
	// ErrShapeMismatch is returned when a stored tensor does not fit the
	// parameter it is loaded into.
	ErrShapeMismatch = errors.New("checkpoint tensor shape mismatch")
	// ErrUnknownParameter is returned when a checkpoint holds a tensor the
	// model does not have.
	ErrUnknownParameter = errors.New("checkpoint tensor has no matching parameter")
	// ErrMissingParameter is returned when a model parameter has no tensor in
	// the checkpoint.
	ErrMissingParameter = errors.New("parameter missing from checkpoint")
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatProto CheckpointFormat = iota
	FormatJSON
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatProto:
		return "Proto"
	case FormatJSON:
		return "JSON"
	default:
		return "Unknown"
	}
}

// ParseFormat maps a configuration value to a format. The empty string
// selects FormatProto.
func ParseFormat(s string) (CheckpointFormat, error) {
	switch s {
	case "", "proto", "protobuf":
		return FormatProto, nil
	case "json":
		return FormatJSON, nil
	default:
		return 0, fmt.Errorf("unsupported checkpoint format %q", s)
	}
}

// Checkpoint is a snapshot of one fold's model after an epoch.
type Checkpoint struct {
	Model   nn.ClassifierConfig `json:"model"`
	Weights []WeightTensor      `json:"weights"`

	TrainingState TrainingState `json:"training_state"`

	// OptimizerState is kept only when the run asks for resumable checkpoints.
	OptimizerState *optimizer.OptimizerState `json:"optimizer_state,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor is one named parameter tensor.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// TrainingState records where in the cross-validation run the snapshot was
// taken.
type TrainingState struct {
	Fold  int     `json:"fold"`
	Epoch int     `json:"epoch"`
	F1    float64 `json:"f1"`
	Step  int     `json:"step"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version   string    `json:"version"`
	Framework string    `json:"framework"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewCheckpoint snapshots the parameters of a model. The weights are copied,
// so later training does not change the checkpoint.
func NewCheckpoint(config nn.ClassifierConfig, params *nn.ParameterSet, state TrainingState) *Checkpoint {
	return &Checkpoint{
		Model:         config,
		Weights:       ExtractWeights(params),
		TrainingState: state,
	}
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
	runID  string
}

// NewCheckpointSaver creates a saver. Every checkpoint it writes carries the
// same freshly generated run id.
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
		runID:  uuid.NewString(),
	}
}

// Format returns the format used for saving.
func (cs *CheckpointSaver) Format() CheckpointFormat { return cs.format }

// RunID returns the id stamped into saved checkpoints.
func (cs *CheckpointSaver) RunID() string { return cs.runID }

// SaveCheckpoint writes checkpoint to path. The file is written to a
// temporary sibling and renamed into place, so a crash never leaves a
// truncated checkpoint behind.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = Framework
		checkpoint.Metadata.Version = Version
	}
	if checkpoint.Metadata.RunID == "" {
		checkpoint.Metadata.RunID = cs.runID
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		checkpoint.Metadata.CreatedAt = time.Now().UTC()
	}

	var (
		payload []byte
		err     error
	)
	switch cs.format {
	case FormatProto:
		payload, err = marshalProto(checkpoint)
	case FormatJSON:
		payload, err = json.MarshalIndent(checkpoint, "", "  ")
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	return writeAtomic(path, payload)
}

// LoadCheckpoint reads a checkpoint written in either format. The format is
// detected from the content, not from the saver.
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	return Load(path)
}

// Load reads a checkpoint file of either format.
func Load(path string) (*Checkpoint, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("checkpoint file %s is empty", path)
	}

	var checkpoint *Checkpoint
	if payload[0] == '{' {
		checkpoint = &Checkpoint{}
		if err := json.Unmarshal(payload, checkpoint); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
		}
	} else {
		checkpoint, err = unmarshalProto(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
		}
	}
	return checkpoint, nil
}

func writeAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move checkpoint into place: %w", err)
	}
	return nil
}

// ExtractWeights copies every parameter of params into weight tensors, in
// registration order.
func ExtractWeights(params *nn.ParameterSet) []WeightTensor {
	all := params.All()
	weights := make([]WeightTensor, 0, len(all))
	for _, p := range all {
		weights = append(weights, WeightTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Value.Shape...),
			Data:  append([]float64(nil), p.Value.Data...),
		})
	}
	return weights
}

// LoadWeights copies weights into the matching parameters of params. The
// match is strict: every tensor must name an existing parameter of the same
// shape and every parameter must be covered. Nothing is modified on error.
func LoadWeights(weights []WeightTensor, params *nn.ParameterSet) error {
	staged := make([]*tensor.Tensor, len(weights))
	seen := make(map[string]bool, len(weights))
	for i, w := range weights {
		p, ok := params.Get(w.Name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownParameter, w.Name)
		}
		t, err := tensor.New(w.Shape, w.Data)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrShapeMismatch, w.Name, err)
		}
		if !t.SameShape(p.Value) {
			return fmt.Errorf("%w: %s has shape %v, parameter has %v", ErrShapeMismatch, w.Name, w.Shape, p.Value.Shape)
		}
		staged[i] = t
		seen[w.Name] = true
	}
	for _, name := range params.Names() {
		if !seen[name] {
			return fmt.Errorf("%w: %s", ErrMissingParameter, name)
		}
	}

	for i, w := range weights {
		p, _ := params.Get(w.Name)
		if err := p.Value.CopyFrom(staged[i]); err != nil {
			return fmt.Errorf("failed to load %s: %w", w.Name, err)
		}
	}
	return nil
}

// LoadInto restores the checkpoint weights into params.
func (c *Checkpoint) LoadInto(params *nn.ParameterSet) error {
	return LoadWeights(c.Weights, params)
}

// BuildClassifier constructs a classifier from the stored configuration and
// loads the stored weights into it.
func (c *Checkpoint) BuildClassifier() (*nn.Classifier, error) {
	model, err := nn.NewClassifier(c.Model, rand.New(rand.NewSource(1)))
	if err != nil {
		return nil, fmt.Errorf("failed to build classifier from checkpoint: %w", err)
	}
	if err := c.LoadInto(model.Parameters()); err != nil {
		return nil, err
	}
	model.Eval()
	return model, nil
}

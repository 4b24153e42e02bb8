package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/WENGSYX/BASELINE-CCKS/amp"
	"github.com/WENGSYX/BASELINE-CCKS/data"
	"github.com/WENGSYX/BASELINE-CCKS/tensor"
)

// Parameter names follow the BERT state-dict layout so checkpoints and the
// adversarial perturbers can address embeddings by their usual keys.
const (
	WordEmbeddingsName      = "bert.embeddings.word_embeddings.weight"
	PositionEmbeddingsName  = "bert.embeddings.position_embeddings.weight"
	TokenTypeEmbeddingsName = "bert.embeddings.token_type_embeddings.weight"
	PoolerWeightName        = "bert.pooler.dense.weight"
	PoolerBiasName          = "bert.pooler.dense.bias"
	ClassifierWeightName    = "classifier.weight"
	ClassifierBiasName      = "classifier.bias"
)

// EmbeddingNames lists the three embedding tables.
var EmbeddingNames = []string{WordEmbeddingsName, PositionEmbeddingsName, TokenTypeEmbeddingsName}

// ClassifierConfig describes the dimensions of a Classifier.
type ClassifierConfig struct {
	VocabSize        int     `json:"vocab_size"`
	HiddenSize       int     `json:"hidden_size"`
	MaxPositions     int     `json:"max_position_embeddings"`
	TypeVocabSize    int     `json:"type_vocab_size"`
	NumLabels        int     `json:"num_labels"`
	DropoutProb      float64 `json:"hidden_dropout_prob"`
	InitializerRange float64 `json:"initializer_range"`
}

// DefaultClassifierConfig returns a small two-label configuration.
func DefaultClassifierConfig(vocabSize int) ClassifierConfig {
	return ClassifierConfig{
		VocabSize:        vocabSize,
		HiddenSize:       64,
		MaxPositions:     512,
		TypeVocabSize:    2,
		NumLabels:        2,
		DropoutProb:      0.1,
		InitializerRange: 0.02,
	}
}

// Validate checks that every dimension is usable.
func (c ClassifierConfig) Validate() error {
	switch {
	case c.VocabSize <= 0:
		return fmt.Errorf("vocab size must be positive, got %d", c.VocabSize)
	case c.HiddenSize <= 0:
		return fmt.Errorf("hidden size must be positive, got %d", c.HiddenSize)
	case c.MaxPositions <= 0:
		return fmt.Errorf("max positions must be positive, got %d", c.MaxPositions)
	case c.TypeVocabSize <= 0:
		return fmt.Errorf("type vocab size must be positive, got %d", c.TypeVocabSize)
	case c.NumLabels < 2:
		return fmt.Errorf("at least two labels are required, got %d", c.NumLabels)
	case c.DropoutProb < 0 || c.DropoutProb >= 1:
		return fmt.Errorf("dropout probability must be in [0, 1), got %g", c.DropoutProb)
	}
	return nil
}

// Classifier is a BERT-style sequence classifier: summed word, position and
// token-type embeddings, masked mean pooling, a tanh pooler and a linear
// classification head.
type Classifier struct {
	config ClassifierConfig
	params *ParameterSet

	word      *Parameter
	position  *Parameter
	tokenType *Parameter
	poolerW   *Parameter
	poolerB   *Parameter
	clsW      *Parameter
	clsB      *Parameter

	training bool
	rng      *rand.Rand
}

// NewClassifier builds a classifier with weights drawn from rng.
func NewClassifier(config ClassifierConfig, rng *rand.Rand) (*Classifier, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, errors.New("random source is required")
	}

	c := &Classifier{
		config:   config,
		params:   NewParameterSet(),
		training: true,
		rng:      rng,
	}

	h, std := config.HiddenSize, config.InitializerRange
	specs := []struct {
		target **Parameter
		name   string
		shape  []int
		normal bool
	}{
		{&c.word, WordEmbeddingsName, []int{config.VocabSize, h}, true},
		{&c.position, PositionEmbeddingsName, []int{config.MaxPositions, h}, true},
		{&c.tokenType, TokenTypeEmbeddingsName, []int{config.TypeVocabSize, h}, true},
		{&c.poolerW, PoolerWeightName, []int{h, h}, true},
		{&c.poolerB, PoolerBiasName, []int{h}, false},
		{&c.clsW, ClassifierWeightName, []int{h, config.NumLabels}, true},
		{&c.clsB, ClassifierBiasName, []int{config.NumLabels}, false},
	}
	for _, spec := range specs {
		var value *tensor.Tensor
		var err error
		if spec.normal {
			value, err = tensor.RandomNormal(spec.shape, 0, std, rng)
		} else {
			value, err = tensor.Zeros(spec.shape)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to initialise %s: %w", spec.name, err)
		}
		p, err := c.params.Register(spec.name, value, true)
		if err != nil {
			return nil, err
		}
		*spec.target = p
	}

	return c, nil
}

// Config returns the classifier dimensions.
func (c *Classifier) Config() ClassifierConfig { return c.config }

// Parameters implements Module.
func (c *Classifier) Parameters() *ParameterSet { return c.params }

// Train implements Module.
func (c *Classifier) Train() { c.training = true }

// Eval implements Module.
func (c *Classifier) Eval() { c.training = false }

// IsTraining implements Module.
func (c *Classifier) IsTraining() bool { return c.training }

type classifierCache struct {
	batch   *data.Batch
	counts  []float64
	pooled  *mat.Dense
	hidden  *mat.Dense
	dropped *mat.Dense
	keep    []float64
	half    bool
}

// Forward implements Module.
func (c *Classifier) Forward(batch *data.Batch, opts ForwardOptions) (*Output, error) {
	if err := c.checkBatch(batch); err != nil {
		return nil, err
	}

	bs, seqLen, h := batch.Size(), batch.SeqLen(), c.config.HiddenSize
	half := func(m *mat.Dense) {
		if opts.Autocast {
			amp.RoundSlice(m.RawMatrix().Data)
		}
	}

	pooled := mat.NewDense(bs, h, nil)
	counts := make([]float64, bs)
	emb := make([]float64, h)
	for i := 0; i < bs; i++ {
		row := pooled.RawRowView(i)
		for t := 0; t < seqLen; t++ {
			if batch.AttentionMask[i][t] == 0 {
				continue
			}
			copy(emb, c.word.Value.Row(batch.InputIDs[i][t]))
			floats.Add(emb, c.position.Value.Row(t))
			floats.Add(emb, c.tokenType.Value.Row(batch.TokenTypeIDs[i][t]))
			if opts.Autocast {
				amp.RoundSlice(emb)
			}
			floats.Add(row, emb)
			counts[i]++
		}
		if counts[i] > 0 {
			floats.Scale(1/counts[i], row)
		}
	}
	half(pooled)

	var hidden mat.Dense
	hidden.Mul(pooled, asMatrix(c.poolerW.Value))
	addBias(&hidden, c.poolerB.Value.Data)
	hidden.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, &hidden)
	half(&hidden)

	dropped := &hidden
	var keep []float64
	if c.training && c.config.DropoutProb > 0 {
		scale := 1 / (1 - c.config.DropoutProb)
		dropped = mat.DenseCopyOf(&hidden)
		raw := dropped.RawMatrix().Data
		keep = make([]float64, len(raw))
		for k := range raw {
			if c.rng.Float64() >= c.config.DropoutProb {
				keep[k] = scale
			}
			raw[k] *= keep[k]
		}
	}

	var logits mat.Dense
	logits.Mul(dropped, asMatrix(c.clsW.Value))
	addBias(&logits, c.clsB.Value.Data)
	half(&logits)

	out := &Output{Logits: make([][]float64, bs)}
	for i := range out.Logits {
		out.Logits[i] = append([]float64(nil), logits.RawRowView(i)...)
	}
	out.cache = &classifierCache{
		batch:   batch,
		counts:  counts,
		pooled:  pooled,
		hidden:  &hidden,
		dropped: dropped,
		keep:    keep,
		half:    opts.Autocast,
	}
	return out, nil
}

// Backward implements Module.
func (c *Classifier) Backward(out *Output, gradLogits [][]float64) error {
	st, ok := out.cache.(*classifierCache)
	if !ok || st == nil {
		return errors.New("output was not produced by this classifier")
	}
	bs, numLabels := st.batch.Size(), c.config.NumLabels
	if len(gradLogits) != bs {
		return fmt.Errorf("gradient batch mismatch: expected %d rows, got %d", bs, len(gradLogits))
	}
	half := func(m *mat.Dense) {
		if st.half {
			amp.RoundSlice(m.RawMatrix().Data)
		}
	}

	dLogits := mat.NewDense(bs, numLabels, nil)
	for i, row := range gradLogits {
		if len(row) != numLabels {
			return fmt.Errorf("gradient row %d has %d columns, expected %d", i, len(row), numLabels)
		}
		copy(dLogits.RawRowView(i), row)
	}
	half(dLogits)

	if c.clsW.RequiresGrad {
		var gw mat.Dense
		gw.Mul(st.dropped.T(), dLogits)
		floats.Add(c.clsW.EnsureGrad().Data, gw.RawMatrix().Data)
	}
	if c.clsB.RequiresGrad {
		sumRows(c.clsB.EnsureGrad().Data, dLogits)
	}

	var dHidden mat.Dense
	dHidden.Mul(dLogits, asMatrix(c.clsW.Value).T())
	if st.keep != nil {
		floats.Mul(dHidden.RawMatrix().Data, st.keep)
	}
	dHidden.Apply(func(i, j int, v float64) float64 {
		y := st.hidden.At(i, j)
		return v * (1 - y*y)
	}, &dHidden)
	half(&dHidden)

	if c.poolerW.RequiresGrad {
		var gw mat.Dense
		gw.Mul(st.pooled.T(), &dHidden)
		floats.Add(c.poolerW.EnsureGrad().Data, gw.RawMatrix().Data)
	}
	if c.poolerB.RequiresGrad {
		sumRows(c.poolerB.EnsureGrad().Data, &dHidden)
	}

	var dPooled mat.Dense
	dPooled.Mul(&dHidden, asMatrix(c.poolerW.Value).T())
	half(&dPooled)

	tables := []struct {
		p   *Parameter
		row func(i, t int) int
	}{
		{c.word, func(i, t int) int { return st.batch.InputIDs[i][t] }},
		{c.position, func(_, t int) int { return t }},
		{c.tokenType, func(i, t int) int { return st.batch.TokenTypeIDs[i][t] }},
	}
	for _, table := range tables {
		if !table.p.RequiresGrad {
			continue
		}
		grad := table.p.EnsureGrad()
		for i := 0; i < bs; i++ {
			if st.counts[i] == 0 {
				continue
			}
			scale := 1 / st.counts[i]
			src := dPooled.RawRowView(i)
			for t := 0; t < st.batch.SeqLen(); t++ {
				if st.batch.AttentionMask[i][t] == 0 {
					continue
				}
				floats.AddScaled(grad.Row(table.row(i, t)), scale, src)
			}
		}
	}

	return nil
}

func (c *Classifier) checkBatch(b *data.Batch) error {
	if b == nil || b.Size() == 0 {
		return errors.New("empty batch")
	}
	seqLen := b.SeqLen()
	if seqLen > c.config.MaxPositions {
		return fmt.Errorf("sequence length %d exceeds max positions %d", seqLen, c.config.MaxPositions)
	}
	if len(b.AttentionMask) != b.Size() || len(b.TokenTypeIDs) != b.Size() {
		return errors.New("batch fields have inconsistent sizes")
	}
	for i := range b.InputIDs {
		if len(b.InputIDs[i]) != seqLen || len(b.AttentionMask[i]) != seqLen || len(b.TokenTypeIDs[i]) != seqLen {
			return fmt.Errorf("example %d is not padded to length %d", i, seqLen)
		}
		for t := 0; t < seqLen; t++ {
			if id := b.InputIDs[i][t]; id < 0 || id >= c.config.VocabSize {
				return fmt.Errorf("token id %d out of range [0, %d)", id, c.config.VocabSize)
			}
			if tt := b.TokenTypeIDs[i][t]; tt < 0 || tt >= c.config.TypeVocabSize {
				return fmt.Errorf("token type %d out of range [0, %d)", tt, c.config.TypeVocabSize)
			}
		}
	}
	return nil
}

func asMatrix(t *tensor.Tensor) *mat.Dense {
	return mat.NewDense(t.Rows(), t.Cols(), t.Data)
}

func addBias(m *mat.Dense, bias []float64) {
	rows, _ := m.Dims()
	for i := 0; i < rows; i++ {
		floats.Add(m.RawRowView(i), bias)
	}
}

func sumRows(dst []float64, m *mat.Dense) {
	rows, _ := m.Dims()
	for i := 0; i < rows; i++ {
		floats.Add(dst, m.RawRowView(i))
	}
}

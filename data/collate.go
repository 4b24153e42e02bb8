package data

import (
	"fmt"

	"github.com/WENGSYX/BASELINE-CCKS/tokenizer"
)

// PairEncoder turns a sentence pair into a fixed-length encoding.
type PairEncoder interface {
	EncodePair(first, second string, maxLen int) (tokenizer.Encoding, error)
}

// Collator tokenizes records into a Batch.
type Collator struct {
	encoder PairEncoder
	maxLen  int
}

// NewCollator creates a collator padding/truncating every pair to maxLen.
func NewCollator(encoder PairEncoder, maxLen int) *Collator {
	return &Collator{encoder: encoder, maxLen: maxLen}
}

// MaxLen returns the sequence length of collated batches.
func (c *Collator) MaxLen() int { return c.maxLen }

// Collate encodes records; indices are the dataset rows they came from.
func (c *Collator) Collate(records []Record, indices []int) (*Batch, error) {
	b := &Batch{
		InputIDs:      make([][]int, len(records)),
		AttentionMask: make([][]int, len(records)),
		TokenTypeIDs:  make([][]int, len(records)),
		Labels:        make([]int, len(records)),
		Indices:       indices,
	}
	for i, r := range records {
		enc, err := c.encoder.EncodePair(r.Text(), r.Answer, c.maxLen)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", r.Docid, err)
		}
		b.InputIDs[i] = enc.InputIDs
		b.AttentionMask[i] = enc.AttentionMask
		b.TokenTypeIDs[i] = enc.TokenTypeIDs
		b.Labels[i] = r.Label
	}
	return b, nil
}

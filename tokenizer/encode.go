package tokenizer

import "fmt"

// Encoding is a fixed-length model input for one sentence pair.
type Encoding struct {
	InputIDs      []int
	TokenTypeIDs  []int
	AttentionMask []int
	Tokens        []string
}

// EncodePair encodes "[CLS] a [SEP] b [SEP]" truncated longest-first to
// maxLen and right-padded with [PAD]. Token types are 0 for the first
// segment including [CLS] and its [SEP], 1 for the second.
func (t *Tokenizer) EncodePair(first, second string, maxLen int) (Encoding, error) {
	if maxLen < 3 {
		return Encoding{}, fmt.Errorf("max length %d cannot hold the special tokens", maxLen)
	}
	a := t.Tokenize(first)
	b := t.Tokenize(second)
	a, b = truncateLongestFirst(a, b, maxLen-3)

	tokens := make([]string, 0, maxLen)
	tokens = append(tokens, ClsToken)
	tokens = append(tokens, a...)
	tokens = append(tokens, SepToken)
	split := len(tokens)
	tokens = append(tokens, b...)
	tokens = append(tokens, SepToken)

	enc := Encoding{
		InputIDs:      make([]int, maxLen),
		TokenTypeIDs:  make([]int, maxLen),
		AttentionMask: make([]int, maxLen),
		Tokens:        tokens,
	}
	copy(enc.InputIDs, t.ConvertTokensToIDs(tokens))
	for i := range tokens {
		enc.AttentionMask[i] = 1
		if i >= split {
			enc.TokenTypeIDs[i] = 1
		}
	}
	for i := len(tokens); i < maxLen; i++ {
		enc.InputIDs[i] = t.padID
	}
	return enc, nil
}

// truncateLongestFirst drops trailing tokens one at a time from the longer
// sequence, the second one on ties, until both fit in budget.
func truncateLongestFirst(a, b []string, budget int) ([]string, []string) {
	for len(a)+len(b) > budget {
		if len(a) > len(b) {
			a = a[:len(a)-1]
		} else {
			b = b[:len(b)-1]
		}
	}
	return a, b
}

package data

// Batch is one collated mini-batch. Every sequence has the same, fixed
// length (the configured max_len).
type Batch struct {
	InputIDs      [][]int
	AttentionMask [][]int
	TokenTypeIDs  [][]int
	Labels        []int

	// Indices are the dataset rows the batch was built from.
	Indices []int
}

// Size returns the number of examples in the batch.
func (b *Batch) Size() int {
	return len(b.InputIDs)
}

// SeqLen returns the padded sequence length.
func (b *Batch) SeqLen() int {
	if len(b.InputIDs) == 0 {
		return 0
	}
	return len(b.InputIDs[0])
}

package tokenizer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Vocab maps tokens to ids in file order, one token per line.
type Vocab struct {
	tokens []string
	ids    map[string]int
}

// NewVocab builds a vocabulary from an ordered token list. Later duplicates
// keep the id of their first occurrence.
func NewVocab(tokens []string) *Vocab {
	v := &Vocab{tokens: tokens, ids: make(map[string]int, len(tokens))}
	for i, tok := range tokens {
		if _, ok := v.ids[tok]; !ok {
			v.ids[tok] = i
		}
	}
	return v
}

// ReadVocab parses a vocab.txt stream.
func ReadVocab(r io.Reader) (*Vocab, error) {
	var tokens []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		tokens = append(tokens, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("vocabulary is empty")
	}
	return NewVocab(tokens), nil
}

// LoadVocab reads the vocabulary file at path.
func LoadVocab(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	v, err := ReadVocab(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// Size returns the number of ids.
func (v *Vocab) Size() int { return len(v.tokens) }

// ID looks up a token.
func (v *Vocab) ID(token string) (int, bool) {
	id, ok := v.ids[token]
	return id, ok
}

// Token returns the token with the given id.
func (v *Vocab) Token(id int) (string, bool) {
	if id < 0 || id >= len(v.tokens) {
		return "", false
	}
	return v.tokens[id], true
}

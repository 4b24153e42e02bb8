// Package tokenizer implements BERT-style basic and WordPiece tokenization with
// sentence-pair encoding.
package tokenizer

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Special tokens of the BERT vocabulary.
const (
	UnkToken  = "[UNK]"
	SepToken  = "[SEP]"
	PadToken  = "[PAD]"
	ClsToken  = "[CLS]"
	MaskToken = "[MASK]"
)

// Options controls text normalization.
type Options struct {
	LowerCase            bool
	StripAccents         bool
	MaxInputCharsPerWord int
}

// DefaultOptions matches an uncased Chinese BERT vocabulary.
func DefaultOptions() Options {
	return Options{
		LowerCase:            true,
		StripAccents:         true,
		MaxInputCharsPerWord: 100,
	}
}

// Tokenizer splits text into vocabulary tokens.
type Tokenizer struct {
	vocab   *Vocab
	opts    Options
	special map[string]bool

	unkID, sepID, padID, clsID int
}

// New creates a tokenizer over vocab. The vocabulary must contain [UNK],
// [SEP], [PAD] and [CLS].
func New(vocab *Vocab, opts Options) (*Tokenizer, error) {
	if vocab == nil {
		return nil, fmt.Errorf("vocabulary cannot be nil")
	}
	if opts.MaxInputCharsPerWord <= 0 {
		opts.MaxInputCharsPerWord = DefaultOptions().MaxInputCharsPerWord
	}
	t := &Tokenizer{
		vocab:   vocab,
		opts:    opts,
		special: map[string]bool{UnkToken: true, SepToken: true, PadToken: true, ClsToken: true, MaskToken: true},
	}
	for _, s := range []struct {
		token string
		id    *int
	}{
		{UnkToken, &t.unkID},
		{SepToken, &t.sepID},
		{PadToken, &t.padID},
		{ClsToken, &t.clsID},
	} {
		id, ok := vocab.ID(s.token)
		if !ok {
			return nil, fmt.Errorf("vocabulary has no %s token", s.token)
		}
		*s.id = id
	}
	return t, nil
}

// Load reads a vocab.txt file and builds a tokenizer with default options.
func Load(vocabPath string) (*Tokenizer, error) {
	vocab, err := LoadVocab(vocabPath)
	if err != nil {
		return nil, err
	}
	return New(vocab, DefaultOptions())
}

// Vocab returns the underlying vocabulary.
func (t *Tokenizer) Vocab() *Vocab { return t.vocab }

// Tokenize runs basic tokenization followed by WordPiece. Special tokens such
// as a literal "[SEP]" in the text are kept whole.
func (t *Tokenizer) Tokenize(text string) []string {
	var tokens []string
	for _, word := range t.basicTokenize(text) {
		if t.special[word] {
			tokens = append(tokens, word)
			continue
		}
		tokens = append(tokens, t.wordpieceTokenize(word)...)
	}
	return tokens
}

// ConvertTokensToIDs maps tokens to ids, unknown tokens to [UNK].
func (t *Tokenizer) ConvertTokensToIDs(tokens []string) []int {
	ids := make([]int, len(tokens))
	for i, tok := range tokens {
		id, ok := t.vocab.ID(tok)
		if !ok {
			id = t.unkID
		}
		ids[i] = id
	}
	return ids
}

// basicTokenize cleans the text, isolates CJK characters and punctuation, and
// splits on whitespace. Special tokens survive unchanged.
func (t *Tokenizer) basicTokenize(text string) []string {
	text = cleanText(text)
	text = padCJK(text)

	var out []string
	for _, word := range strings.Fields(text) {
		if t.special[word] {
			out = append(out, word)
			continue
		}
		for _, piece := range splitSpecial(word, t.special) {
			if t.special[piece] {
				out = append(out, piece)
				continue
			}
			if t.opts.LowerCase {
				piece = strings.ToLower(piece)
			}
			if t.opts.StripAccents {
				piece = stripAccents(piece)
			}
			out = append(out, splitPunctuation(piece)...)
		}
	}
	return out
}

// wordpieceTokenize applies greedy longest-match-first WordPiece to one word.
func (t *Tokenizer) wordpieceTokenize(word string) []string {
	runes := []rune(word)
	if len(runes) > t.opts.MaxInputCharsPerWord {
		return []string{UnkToken}
	}

	var pieces []string
	start := 0
	for start < len(runes) {
		end := len(runes)
		found := ""
		for end > start {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if _, ok := t.vocab.ID(sub); ok {
				found = sub
				break
			}
			end--
		}
		if found == "" {
			return []string{UnkToken}
		}
		pieces = append(pieces, found)
		start = end
	}
	return pieces
}

// splitSpecial cuts a whitespace-free word around embedded special tokens,
// e.g. "问题[SEP]描述".
func splitSpecial(word string, special map[string]bool) []string {
	var out []string
	for len(word) > 0 {
		cut := -1
		var tok string
		for s := range special {
			if i := strings.Index(word, s); i >= 0 && (cut < 0 || i < cut) {
				cut, tok = i, s
			}
		}
		if cut < 0 {
			out = append(out, word)
			break
		}
		if cut > 0 {
			out = append(out, word[:cut])
		}
		out = append(out, tok)
		word = word[cut+len(tok):]
	}
	return out
}

func cleanText(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		switch {
		case r == 0 || r == 0xfffd || isControl(r):
			continue
		case isWhitespace(r):
			sb.WriteByte(' ')
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func padCJK(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if isCJK(r) {
			sb.WriteByte(' ')
			sb.WriteRune(r)
			sb.WriteByte(' ')
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func stripAccents(text string) string {
	var sb strings.Builder
	for _, r := range norm.NFD.String(text) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func splitPunctuation(text string) []string {
	var out []string
	var cur []rune
	for _, r := range text {
		if isPunctuation(r) {
			if len(cur) > 0 {
				out = append(out, string(cur))
				cur = cur[:0]
			}
			out = append(out, string(r))
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}

func isWhitespace(r rune) bool {
	if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

func isControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.In(r, unicode.Cc, unicode.Cf)
}

// isPunctuation treats every non-alphanumeric ASCII symbol as punctuation,
// plus the Unicode P categories.
func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

// isCJK reports whether r is in the CJK Unified Ideographs blocks.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}

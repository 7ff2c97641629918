package local

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"unicode"
)

// BERT special token ids.
const (
	unkToken = 100
	clsToken = 101
	sepToken = 102
)

// wordPiece is a lowercase BERT WordPiece tokenizer over a tokenizer.json vocabulary.
type wordPiece struct {
	vocab map[string]int
}

func loadWordPiece(path string) (*wordPiece, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer: %w", err)
	}
	var tj struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &tj); err != nil {
		return nil, fmt.Errorf("parse tokenizer: %w", err)
	}
	if len(tj.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer %s has an empty vocabulary", path)
	}
	return &wordPiece{vocab: tj.Model.Vocab}, nil
}

// encode returns [CLS] tokens... [SEP] truncated to maxLen ids.
func (t *wordPiece) encode(text string, maxLen int) []int64 {
	ids := []int64{clsToken}
	for _, word := range splitWords(strings.ToLower(text)) {
		for _, piece := range t.pieces(word) {
			if len(ids) >= maxLen-1 {
				return append(ids, sepToken)
			}
			ids = append(ids, piece)
		}
	}
	return append(ids, sepToken)
}

func (t *wordPiece) pieces(word string) []int64 {
	if id, ok := t.vocab[word]; ok {
		return []int64{int64(id)}
	}

	var out []int64
	runes := []rune(word)
	for start := 0; start < len(runes); {
		end := len(runes)
		matched := -1
		for ; end > start; end-- {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := t.vocab[sub]; ok {
				matched = id
				break
			}
		}
		if matched < 0 {
			// A word with an unknown piece maps to a single [UNK].
			return []int64{unkToken}
		}
		out = append(out, int64(matched))
		start = end
	}
	return out
}

// splitWords separates words and isolates punctuation, like BERT's basic tokenizer.
func splitWords(text string) []string {
	var (
		words []string
		cur   strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

// meanPool averages token states [seqLen x hidden] over the first n tokens and
// normalizes the result to unit length.
func meanPool(states []float32, seqLen, hidden, n int) []float32 {
	out := make([]float32, hidden)
	if n > seqLen {
		n = seqLen
	}
	if n <= 0 {
		return out
	}
	for i := 0; i < n; i++ {
		row := states[i*hidden : (i+1)*hidden]
		for j, v := range row {
			out[j] += v
		}
	}
	var norm float64
	for j := range out {
		out[j] /= float32(n)
		norm += float64(out[j]) * float64(out[j])
	}
	if norm == 0 {
		return out
	}
	inv := float32(1 / math.Sqrt(norm))
	for j := range out {
		out[j] *= inv
	}
	return out
}

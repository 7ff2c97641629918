// Package chunk splits document text into ordered, overlapping segments.
//
// Splitting is deterministic: the same text and options always produce the
// same chunks, byte for byte.
package chunk

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Strategy selects how text is cut into chunks.
type Strategy string

// Strategies.
const (
	// Window cuts fixed-size token windows with overlap.
	Window Strategy = "window"
	// Sentence groups whole sentences with sentence overlap.
	Sentence Strategy = "sentence"
)

// Defaults match the 384-dimension sentence-transformer window.
const (
	DefaultMaxTokens           = 256
	DefaultOverlap             = 86
	DefaultSentencesPerSegment = 3
	DefaultSentenceOverlap     = 1

	// CharsPerToken derives the default character budget from max tokens.
	CharsPerToken = 4
)

// Chunk is one segment of text with its byte span in the source.
type Chunk struct {
	Index int
	Text  string
	Start int
	End   int
}

// Chunker splits text according to its strategy.
type Chunker struct {
	strategy            Strategy
	maxTokens           int
	maxChars            int
	overlap             int
	sentencesPerSegment int
	sentenceOverlap     int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithStrategy sets the splitting strategy.
func WithStrategy(s Strategy) Option {
	return func(c *Chunker) {
		if s != "" {
			c.strategy = s
		}
	}
}

// WithMaxTokens sets the window size in tokens.
func WithMaxTokens(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithMaxChars caps every chunk at n characters regardless of strategy.
// Zero derives the cap from max tokens.
func WithMaxChars(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.maxChars = n
		}
	}
}

// WithOverlap sets the number of tokens shared by consecutive windows.
func WithOverlap(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlap = n
		}
	}
}

// WithSentences sets sentences per segment and sentence overlap.
func WithSentences(perSegment, overlap int) Option {
	return func(c *Chunker) {
		if perSegment > 0 {
			c.sentencesPerSegment = perSegment
		}
		if overlap >= 0 {
			c.sentenceOverlap = overlap
		}
	}
}

// New creates a Chunker. Overlap must be smaller than the unit it overlaps.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		strategy:            Window,
		maxTokens:           DefaultMaxTokens,
		overlap:             DefaultOverlap,
		sentencesPerSegment: DefaultSentencesPerSegment,
		sentenceOverlap:     DefaultSentenceOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxChars == 0 {
		c.maxChars = c.maxTokens * CharsPerToken
	}

	switch c.strategy {
	case Window:
		if c.overlap >= c.maxTokens {
			return nil, fmt.Errorf("chunk overlap %d must be less than max tokens %d", c.overlap, c.maxTokens)
		}
	case Sentence:
		if c.sentenceOverlap >= c.sentencesPerSegment {
			return nil, fmt.Errorf("sentence overlap %d must be less than sentences per segment %d",
				c.sentenceOverlap, c.sentencesPerSegment)
		}
	default:
		return nil, fmt.Errorf("unknown chunk strategy %q", c.strategy)
	}
	return c, nil
}

// Strategy returns the configured strategy.
func (c *Chunker) Strategy() Strategy { return c.strategy }

// MaxChars returns the per-chunk character cap.
func (c *Chunker) MaxChars() int { return c.maxChars }

// Split cuts text into chunks. Empty or whitespace-only text yields none.
// No chunk is longer than the character cap.
func (c *Chunker) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if c.strategy == Sentence {
		return group(text, c.bound(text, sentences(text)), c.sentencesPerSegment, c.sentenceOverlap, c.maxChars)
	}
	return group(text, c.bound(text, tokens(text, 0)), c.maxTokens, c.overlap, c.maxChars)
}

// span is a [start, end) byte range in the source text. rs and re are rune
// offsets relative to the first span of the slice it was counted in.
type span struct{ start, end, rs, re int }

// group packs units into chunks of at most size units and maxChars runes.
// A chunk that fills its size shares overlap units with the next one; a chunk
// cut short by maxChars shares a proportional share. Chunk text is the source
// slice from the first unit start to the last unit end, so original spacing is
// preserved. Every unit must fit in maxChars.
func group(text string, units []span, size, overlap, maxChars int) []Chunk {
	if len(units) == 0 {
		return nil
	}

	var chunks []Chunk
	for i := 0; ; {
		end := i + 1
		for end < len(units) && end-i < size && units[end].re-units[i].rs <= maxChars {
			end++
		}
		s, e := units[i].start, units[end-1].end
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  text[s:e],
			Start: s,
			End:   e,
		})
		if end == len(units) {
			break
		}
		i = end - overlap*(end-i)/size
	}
	return chunks
}

// bound replaces every unit longer than maxChars runes with pieces that fit:
// the unit's words are packed greedily, and a single word that is still too
// long is cut on rune boundaries.
func (c *Chunker) bound(text string, units []span) []span {
	countRunes(text, units)
	out := make([]span, 0, len(units))
	for _, u := range units {
		if u.re-u.rs <= c.maxChars {
			out = append(out, u)
			continue
		}
		words := tokens(text[u.start:u.end], u.start)
		if len(words) <= 1 {
			out = append(out, hardSplit(text, u, c.maxChars)...)
			continue
		}
		words = c.bound(text, words)
		for _, ch := range group(text, words, len(words), 0, c.maxChars) {
			out = append(out, span{start: ch.Start, end: ch.End})
		}
	}
	countRunes(text, out)
	return out
}

// hardSplit cuts u into pieces of maxChars runes.
func hardSplit(text string, u span, maxChars int) []span {
	var out []span
	start, n := u.start, 0
	for i := range text[u.start:u.end] {
		if n == maxChars {
			out = append(out, span{start: start, end: u.start + i})
			start, n = u.start+i, 0
		}
		n++
	}
	return append(out, span{start: start, end: u.end})
}

// countRunes fills rs and re for ascending, non-overlapping units.
func countRunes(text string, units []span) {
	if len(units) == 0 {
		return
	}
	pos, n := units[0].start, 0
	for i := range units {
		n += utf8.RuneCountInString(text[pos:units[i].start])
		units[i].rs = n
		n += utf8.RuneCountInString(text[units[i].start:units[i].end])
		units[i].re = n
		pos = units[i].end
	}
}

// tokens returns whitespace-delimited words, shifted by base. Han and kana
// characters are tokens of their own, as word-piece tokenizers treat them.
func tokens(text string, base int) []span {
	var out []span
	start := -1
	flush := func(end int) {
		if start >= 0 {
			out = append(out, span{start: base + start, end: base + end})
			start = -1
		}
	}
	for i, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush(i)
		case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana):
			flush(i)
			out = append(out, span{start: base + i, end: base + i + utf8.RuneLen(r)})
		default:
			if start < 0 {
				start = i
			}
		}
	}
	flush(len(text))
	return out
}

var sentenceRegex = regexp.MustCompile(`[^.!?]+(?:[.!?]+|$)`)

// sentences returns trimmed sentence spans ending in terminal punctuation;
// a trailing fragment without punctuation counts as a sentence.
func sentences(text string) []span {
	var out []span
	for _, m := range sentenceRegex.FindAllStringIndex(text, -1) {
		s, e := m[0], m[1]
		for s < e && isSpaceByte(text[s]) {
			s++
		}
		for e > s && isSpaceByte(text[e-1]) {
			e--
		}
		if s < e {
			out = append(out, span{start: s, end: e})
		}
	}
	return out
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}

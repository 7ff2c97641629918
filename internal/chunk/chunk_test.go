package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = "w" + string(rune('a'+i%26))
	}
	return strings.Join(w, " ")
}

func TestNew_Defaults(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, Window, c.Strategy())
	assert.Equal(t, DefaultMaxTokens, c.maxTokens)
	assert.Equal(t, DefaultOverlap, c.overlap)
}

func TestNew_InvalidOverlap(t *testing.T) {
	_, err := New(WithMaxTokens(10), WithOverlap(10))
	require.Error(t, err)

	_, err = New(WithStrategy(Sentence), WithSentences(2, 2))
	require.Error(t, err)

	_, err = New(WithStrategy("paragraph"))
	require.Error(t, err)
}

func TestSplit_EmptyAndWhitespace(t *testing.T) {
	for _, strategy := range []Strategy{Window, Sentence} {
		c, err := New(WithStrategy(strategy))
		require.NoError(t, err)
		assert.Empty(t, c.Split(""), strategy)
		assert.Empty(t, c.Split(" \n\t "), strategy)
	}
}

func TestSplit_WindowOverlap(t *testing.T) {
	c, err := New(WithMaxTokens(4), WithOverlap(1))
	require.NoError(t, err)

	chunks := c.Split("a b c d e f g h i j")
	require.Len(t, chunks, 3)
	assert.Equal(t, "a b c d", chunks[0].Text)
	assert.Equal(t, "d e f g", chunks[1].Text)
	assert.Equal(t, "g h i j", chunks[2].Text)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
	}
}

func TestSplit_WindowShortText(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	text := "  The sky is blue. Taxes rose in 2023.\n"
	chunks := c.Split(text)
	require.Len(t, chunks, 1)
	assert.Equal(t, "The sky is blue. Taxes rose in 2023.", chunks[0].Text)
	assert.Equal(t, chunks[0].Text, text[chunks[0].Start:chunks[0].End])
}

func TestSplit_DefaultStride(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	chunks := c.Split(words(600))
	// windows start at 0, 170, 340 and 510 (stride 170).
	require.Len(t, chunks, 4)
	assert.Len(t, strings.Fields(chunks[0].Text), 256)
	assert.Len(t, strings.Fields(chunks[2].Text), 256)
	assert.Len(t, strings.Fields(chunks[3].Text), 90)
}

func TestSplit_Sentences(t *testing.T) {
	c, err := New(WithStrategy(Sentence), WithSentences(1, 0))
	require.NoError(t, err)

	chunks := c.Split("The sky is blue. Taxes rose in 2023.")
	require.Len(t, chunks, 2)
	assert.Equal(t, "The sky is blue.", chunks[0].Text)
	assert.Equal(t, "Taxes rose in 2023.", chunks[1].Text)
}

func TestSplit_SentenceOverlapAndFragment(t *testing.T) {
	c, err := New(WithStrategy(Sentence), WithSentences(2, 1))
	require.NoError(t, err)

	chunks := c.Split("One. Two! Three? trailing fragment")
	require.Len(t, chunks, 3)
	assert.Equal(t, "One. Two!", chunks[0].Text)
	assert.Equal(t, "Two! Three?", chunks[1].Text)
	assert.Equal(t, "Three? trailing fragment", chunks[2].Text)
}

func TestSplit_Deterministic(t *testing.T) {
	c, err := New(WithMaxTokens(16), WithOverlap(5))
	require.NoError(t, err)

	text := strings.Repeat("Memory systems store embeddings of text. ", 40)
	assert.Equal(t, c.Split(text), c.Split(text))
}

func assertWithinCap(t *testing.T, c *Chunker, chunks []Chunk) {
	t.Helper()
	for _, ch := range chunks {
		require.True(t, utf8.ValidString(ch.Text), "chunk %d cut inside a rune", ch.Index)
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), c.MaxChars(), "chunk %d", ch.Index)
	}
}

func TestNew_MaxCharsDerivedFromTokens(t *testing.T) {
	c, err := New(WithMaxTokens(8))
	require.NoError(t, err)
	assert.Equal(t, 8*CharsPerToken, c.MaxChars())

	c, err = New(WithMaxTokens(8), WithMaxChars(100))
	require.NoError(t, err)
	assert.Equal(t, 100, c.MaxChars())
}

func TestSplit_HanCharactersAreTokens(t *testing.T) {
	c, err := New(WithMaxTokens(8), WithOverlap(2))
	require.NoError(t, err)

	text := strings.Repeat("税", 60000)
	chunks := c.Split(text)

	require.Len(t, chunks, 10000)
	assert.Equal(t, strings.Repeat("税", 8), chunks[0].Text)
	assert.Equal(t, text[chunks[1].Start:chunks[1].End], chunks[1].Text)
	assertWithinCap(t, c, chunks)
}

func TestSplit_LongRunWithoutSpaces(t *testing.T) {
	c, err := New(WithMaxTokens(8), WithOverlap(2))
	require.NoError(t, err)

	url := "https://example.com/" + strings.Repeat("a1b2", 500)
	chunks := c.Split("see " + url + " now")

	assertWithinCap(t, c, chunks)
	text := "see " + url + " now"
	var rebuilt strings.Builder
	for _, ch := range chunks {
		s, e := max(ch.Start, 4), min(ch.End, 4+len(url))
		if s < e {
			rebuilt.WriteString(text[s:e])
		}
	}
	assert.Equal(t, url, rebuilt.String())
	assert.True(t, strings.HasSuffix(chunks[len(chunks)-1].Text, " now"))
}

func TestSplit_WindowCappedByChars(t *testing.T) {
	c, err := New(WithMaxTokens(256), WithOverlap(86), WithMaxChars(100))
	require.NoError(t, err)

	chunks := c.Split(strings.Repeat("embedding ", 300))
	require.Greater(t, len(chunks), 1)
	assertWithinCap(t, c, chunks)
	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].Start, chunks[i-1].Start, "chunks must advance")
	}
}

func TestSplit_VeryLongSentence(t *testing.T) {
	c, err := New(WithStrategy(Sentence), WithSentences(1, 0))
	require.NoError(t, err)

	text := "Short one. " + strings.Repeat("word ", 50000) + "end."
	chunks := c.Split(text)

	require.Greater(t, len(chunks), 100)
	assert.Equal(t, "Short one.", chunks[0].Text)
	assert.True(t, strings.HasSuffix(chunks[len(chunks)-1].Text, "end."))
	assertWithinCap(t, c, chunks)
}

func TestSplit_SentenceWithOversizedWord(t *testing.T) {
	c, err := New(WithStrategy(Sentence), WithSentences(2, 1), WithMaxTokens(4))
	require.NoError(t, err)

	chunks := c.Split("Tiny. " + strings.Repeat("é", 50) + ". Done.")
	assertWithinCap(t, c, chunks)
	assert.Equal(t, "Tiny.", chunks[0].Text)
}

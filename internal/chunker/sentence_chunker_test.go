package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biochat/internal/domain"
)

// buildText returns n tokens grouped into sentences of sentenceLen tokens.
// sentenceLen <= 0 produces text without any sentence terminators.
func buildText(n, sentenceLen int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(" ")
			if i%13 == 0 {
				b.WriteString("\n")
			}
		}
		fmt.Fprintf(&b, "w%d", i)
		if sentenceLen > 0 && (i+1)%sentenceLen == 0 {
			b.WriteString(".")
		}
	}
	return b.String()
}

func assertChunkInvariants(t *testing.T, chunks []domain.Chunk, doc domain.Document, size, overlap int) {
	t.Helper()
	for i, ch := range chunks {
		tokens := strings.Fields(ch.Text)
		assert.LessOrEqual(t, len(tokens), size, "chunk %d too long", i)
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, doc.ID, ch.DocumentID)
		assert.NotEmpty(t, ch.ChunkID)
		assert.Equal(t, doc.Content[ch.Start:ch.End], ch.Text)
		if i == 0 {
			continue
		}
		prev := strings.Fields(chunks[i-1].Text)
		require.GreaterOrEqual(t, len(prev), overlap)
		require.GreaterOrEqual(t, len(tokens), overlap)
		assert.Equal(t, prev[len(prev)-overlap:], tokens[:overlap], "chunk %d overlap", i)
	}
	// Every token of the document is covered.
	all := strings.Fields(doc.Content)
	last := strings.Fields(chunks[len(chunks)-1].Text)
	assert.Equal(t, all[len(all)-1], last[len(last)-1])
	assert.Equal(t, all[0], strings.Fields(chunks[0].Text)[0])
}

func TestNewSentenceChunker(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c := NewSentenceChunker(0, -1)
		assert.Equal(t, DefaultChunkSize, c.Size())
		assert.Equal(t, 0, c.Overlap())
	})

	t.Run("overlap exceeds size", func(t *testing.T) {
		c := NewSentenceChunker(100, 150)
		assert.Less(t, c.Overlap(), c.Size())
	})
}

func TestChunk_Empty(t *testing.T) {
	c := NewSentenceChunker(DefaultChunkSize, DefaultChunkOverlap)
	chunks, err := c.Chunk(domain.Document{ID: "d", Content: "  \n\t "})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunk_ShortDocument(t *testing.T) {
	c := NewSentenceChunker(DefaultChunkSize, DefaultChunkOverlap)
	doc := domain.Document{ID: "d", Content: "  Paul Allen co-founded Microsoft. He was born in Seattle.  "}
	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Paul Allen co-founded Microsoft. He was born in Seattle.", chunks[0].Text)
}

func TestChunk_SentenceBoundaries(t *testing.T) {
	c := NewSentenceChunker(DefaultChunkSize, DefaultChunkOverlap)
	doc := domain.Document{ID: "bio", Content: buildText(1500, 7)}

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 5)
	assertChunkInvariants(t, chunks, doc, DefaultChunkSize, DefaultChunkOverlap)

	for _, ch := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(ch.Text, "."), "chunk %d should end on a sentence: %q", ch.Index, ch.Text[len(ch.Text)-10:])
	}
}

func TestChunk_NoSentenceBoundaries(t *testing.T) {
	c := NewSentenceChunker(DefaultChunkSize, DefaultChunkOverlap)
	doc := domain.Document{ID: "raw", Content: buildText(1000, 0)}

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	assertChunkInvariants(t, chunks, doc, DefaultChunkSize, DefaultChunkOverlap)
	for _, ch := range chunks[:len(chunks)-1] {
		assert.Len(t, strings.Fields(ch.Text), DefaultChunkSize)
	}
}

func TestChunk_LongSentences(t *testing.T) {
	// Sentences longer than a window force hard cuts between boundaries.
	c := NewSentenceChunker(50, 10)
	doc := domain.Document{ID: "long", Content: buildText(400, 70)}

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	assertChunkInvariants(t, chunks, doc, 50, 10)
}

func TestChunk_ExactFit(t *testing.T) {
	c := NewSentenceChunker(DefaultChunkSize, DefaultChunkOverlap)
	doc := domain.Document{ID: "fit", Content: buildText(DefaultChunkSize, 0)}

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

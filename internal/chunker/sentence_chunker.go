package chunker

import (
	"regexp"

	"github.com/google/uuid"

	"biochat/internal/domain"
)

const (
	// DefaultChunkSize is the maximum number of tokens per chunk.
	DefaultChunkSize = 256
	// DefaultChunkOverlap is the number of tokens shared by consecutive chunks.
	DefaultChunkOverlap = 20
)

// SentenceChunker splits text into token windows that prefer to end on a
// sentence boundary. A token is a run of non-whitespace characters.
type SentenceChunker struct {
	size     int
	overlap  int
	token    *regexp.Regexp
	sentence *regexp.Regexp
	newID    func() string
}

// NewSentenceChunker returns a chunker producing at most size tokens per chunk
// with exactly overlap tokens shared between neighbours.
func NewSentenceChunker(size, overlap int) *SentenceChunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &SentenceChunker{
		size:     size,
		overlap:  overlap,
		token:    regexp.MustCompile(`\S+`),
		sentence: regexp.MustCompile(`[.!?]["'”’)\]]*$`),
		newID:    uuid.NewString,
	}
}

// Size returns the maximum chunk size in tokens.
func (c *SentenceChunker) Size() int { return c.size }

// Overlap returns the number of tokens shared between consecutive chunks.
func (c *SentenceChunker) Overlap() int { return c.overlap }

func (c *SentenceChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	spans := c.token.FindAllStringIndex(document.Content, -1)
	n := len(spans)
	if n == 0 {
		return nil, nil
	}
	// sentenceEnd[e] is true when a sentence finishes right before token e.
	sentenceEnd := make([]bool, n+1)
	for i, sp := range spans {
		if c.sentence.MatchString(document.Content[sp[0]:sp[1]]) {
			sentenceEnd[i+1] = true
		}
	}

	var chunks []domain.Chunk
	start := 0
	for idx := 0; ; idx++ {
		end := start + c.size
		if end >= n {
			end = n
		} else {
			for e := end; e > start+c.overlap; e-- {
				if sentenceEnd[e] {
					end = e
					break
				}
			}
		}
		begin, finish := spans[start][0], spans[end-1][1]
		chunks = append(chunks, domain.Chunk{
			DocumentID: document.ID,
			ChunkID:    c.newID(),
			Source:     document.Path,
			Text:       document.Content[begin:finish],
			Index:      idx,
			Start:      begin,
			End:        finish,
		})
		if end == n {
			break
		}
		start = end - c.overlap
	}
	return chunks, nil
}

package domain

import "context"

// Document represents a single text file loaded into the system.
type Document struct {
	ID      string
	Path    string
	Content string
}

// Chunk is a bounded span of a document used for indexing.
// Start and End are byte offsets of the span within the document content.
type Chunk struct {
	DocumentID string
	ChunkID    string
	Source     string
	Text       string
	Index      int
	Start      int
	End        int
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Route is a named intent described by example utterances.
type Route struct {
	Name       string   `yaml:"name"`
	Utterances []string `yaml:"utterances"`
}

// Classification is the router's verdict for one message.
// An empty Route means no route cleared the similarity threshold.
type Classification struct {
	Route string
	Score float64
}

// Matched reports whether a route was selected.
func (c Classification) Matched() bool { return c.Route != "" }

// Fragment is one piece of a streamed answer. A Fragment with a non-nil
// Err terminates the stream; a closed channel without one is a clean finish.
type Fragment struct {
	Text string
	Err  error
}

// Embedder converts free text into a fixed-dimensionality vector.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// VectorStore persists vectors and supports similarity search.
// Recreate drops any previous contents and prepares an empty index of the given dimension.
type VectorStore interface {
	Recreate(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error
	Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error)
}

// IntentClassifier maps a message to one of a fixed set of routes, or none.
type IntentClassifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// Agent answers a query as a stream of text fragments.
// The channel is closed when the answer is complete.
type Agent interface {
	StreamAnswer(ctx context.Context, query string) <-chan Fragment
}

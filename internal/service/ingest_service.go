package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"biochat/internal/domain"
)

// IngestReport summarizes a completed ingestion run.
type IngestReport struct {
	Path      string
	Chunks    int
	Dimension int
	Elapsed   time.Duration
}

// IngestService rebuilds the vector index from a single text file.
type IngestService struct {
	chunker  domain.Chunker
	embedder domain.Embedder
	store    domain.VectorStore
	log      *zap.Logger
}

func NewIngestService(chunker domain.Chunker, embedder domain.Embedder, store domain.VectorStore, log *zap.Logger) *IngestService {
	if log == nil {
		log = zap.NewNop()
	}
	return &IngestService{chunker: chunker, embedder: embedder, store: store, log: log}
}

// Ingest chunks and embeds the file at path, then replaces the index contents with
// the result. Nothing remote is touched until the file has been read and chunked.
func (s *IngestService) Ingest(ctx context.Context, path string) (*IngestReport, error) {
	started := time.Now()
	log := s.log.With(zap.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrInputNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc := domain.Document{ID: hashString(path), Path: path, Content: string(data)}

	chunks, err := s.chunker.Chunk(doc)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", path, err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrEmptyInput, path)
	}
	log.Info("document chunked", zap.Int("chunks", len(chunks)), zap.Int("bytes", len(data)))

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	dim := s.embedder.Dimension()
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: chunk %d has %d, want %d", domain.ErrDimensionMismatch, i, len(v), dim)
		}
	}
	log.Info("chunks embedded", zap.String("embedder", s.embedder.Name()), zap.Int("dimension", dim))

	if err := s.store.Recreate(ctx, dim); err != nil {
		return nil, fmt.Errorf("recreate index: %w", err)
	}
	if err := s.store.Upsert(ctx, chunks, vectors); err != nil {
		return nil, fmt.Errorf("upsert chunks: %w", err)
	}

	report := &IngestReport{Path: path, Chunks: len(chunks), Dimension: dim, Elapsed: time.Since(started)}
	log.Info("ingestion complete", zap.Int("chunks", report.Chunks), zap.Duration("elapsed", report.Elapsed))
	return report, nil
}

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}

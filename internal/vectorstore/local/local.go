package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"biochat/internal/domain"
)

// Storage is a vector store persisted on disk with chromem-go. It uses cosine
// similarity and is meant for development without a managed index.
type Storage struct {
	mu        sync.RWMutex
	db        *chromem.DB
	dir       string
	name      string
	dimension int
	col       *chromem.Collection
	log       *zap.Logger
}

// NewStorage opens (or creates) a persistent database under dir. An empty dir
// keeps everything in memory.
func NewStorage(dir, collection string, log *zap.Logger) (*Storage, error) {
	if collection == "" {
		return nil, errors.New("collection name is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	var (
		db  *chromem.DB
		err error
	)
	if dir == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("open vector db: %w", err)
		}
	}
	s := &Storage{db: db, dir: dir, name: collection, log: log.With(zap.String("collection", collection))}
	s.col = db.GetCollection(collection, precomputed)
	if s.col != nil {
		m, err := s.readManifest()
		if err != nil {
			return nil, err
		}
		s.dimension = m.Dimension
		if s.dimension == 0 && s.col.Count() > 0 {
			s.log.Warn("vector store has no recorded dimension; run ingest again")
		}
		s.log.Info("vector store loaded",
			zap.String("dir", dir), zap.Int("count", s.col.Count()), zap.Int("dimension", s.dimension))
	}
	return s, nil
}

// manifest records what the collection metadata cannot give back on reopen.
type manifest struct {
	Collection string `yaml:"collection"`
	Dimension  int    `yaml:"dimension"`
}

// manifestPath sits in the database root; chromem only loads subdirectories.
func (s *Storage) manifestPath() string {
	return filepath.Join(s.dir, s.name+".manifest.yaml")
}

func (s *Storage) readManifest() (manifest, error) {
	var m manifest
	if s.dir == "" {
		return m, nil
	}
	data, err := os.ReadFile(s.manifestPath())
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse manifest %s: %w", s.manifestPath(), err)
	}
	return m, nil
}

func (s *Storage) writeManifest(m manifest) error {
	if s.dir == "" {
		return nil
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(s.manifestPath(), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// precomputed is the collection embedding function. Every document and query
// arrives with its vector already set, so it is never expected to run.
func precomputed(context.Context, string) ([]float32, error) {
	return nil, errors.New("local store requires precomputed embeddings")
}

// Recreate drops the collection and creates an empty one for the given dimension.
func (s *Storage) Recreate(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.DeleteCollection(s.name); err != nil {
		return fmt.Errorf("delete collection %s: %w", s.name, err)
	}
	col, err := s.db.CreateCollection(s.name, map[string]string{"dimension": strconv.Itoa(dimension)}, precomputed)
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.name, err)
	}
	if err := s.writeManifest(manifest{Collection: s.name, Dimension: dimension}); err != nil {
		return err
	}
	s.col = col
	s.dimension = dimension
	return nil
}

// Upsert adds chunks with their vectors. Documents are keyed by ChunkID.
func (s *Storage) Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.col == nil {
		return errors.New("collection not initialized")
	}
	want := s.dimension
	if want == 0 && len(vectors) > 0 && s.col.Count() == 0 {
		want = len(vectors[0])
	}
	docs := make([]chromem.Document, len(chunks))
	for i, ch := range chunks {
		if want == 0 || len(vectors[i]) != want {
			return fmt.Errorf("%w: chunk %d has %d, want %d", domain.ErrDimensionMismatch, i, len(vectors[i]), want)
		}
		docs[i] = chromem.Document{
			ID:        ch.ChunkID,
			Content:   ch.Text,
			Embedding: vectors[i],
			Metadata: map[string]string{
				"document_id": ch.DocumentID,
				"source":      ch.Source,
				"chunk_index": strconv.Itoa(ch.Index),
				"start_char":  strconv.Itoa(ch.Start),
				"end_char":    strconv.Itoa(ch.End),
			},
		}
	}
	if err := s.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	s.dimension = want
	return nil
}

// Search returns the topK chunks most similar to vector, best first.
func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.col == nil || s.col.Count() == 0 {
		return nil, nil
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, want %d", domain.ErrDimensionMismatch, len(vector), s.dimension)
	}
	if isZero(vector) {
		return nil, nil
	}
	topK = min(topK, s.col.Count())
	res, err := s.col.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", s.name, err)
	}
	results := make([]domain.SearchResult, 0, len(res))
	for _, r := range res {
		results = append(results, domain.SearchResult{
			Chunk: domain.Chunk{
				ChunkID:    r.ID,
				DocumentID: r.Metadata["document_id"],
				Source:     r.Metadata["source"],
				Text:       r.Content,
				Index:      atoi(r.Metadata["chunk_index"]),
				Start:      atoi(r.Metadata["start_char"]),
				End:        atoi(r.Metadata["end_char"]),
			},
			Score: float64(r.Similarity),
		})
	}
	return results, nil
}

// Count returns the number of stored chunks.
func (s *Storage) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.col == nil {
		return 0
	}
	return s.col.Count()
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

package pinecone

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pinecone-io/go-pinecone/v4/pinecone"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"biochat/internal/domain"
)

const upsertBatchSize = 100

// controlPlane is the subset of *pinecone.Client used to manage the index.
type controlPlane interface {
	ListIndexes(ctx context.Context) ([]*pinecone.Index, error)
	DescribeIndex(ctx context.Context, idxName string) (*pinecone.Index, error)
	DeleteIndex(ctx context.Context, idxName string) error
	CreateServerlessIndex(ctx context.Context, in *pinecone.CreateServerlessIndexRequest) (*pinecone.Index, error)
}

// dataPlane is the subset of *pinecone.IndexConnection used for reads and writes.
type dataPlane interface {
	UpsertVectors(ctx context.Context, in []*pinecone.Vector) (uint32, error)
	QueryByVectorValues(ctx context.Context, in *pinecone.QueryByVectorValuesRequest) (*pinecone.QueryVectorsResponse, error)
	Close() error
}

// Config holds Pinecone connection settings.
type Config struct {
	APIKey    string
	IndexName string
	IndexHost string
	Cloud     string
	Region    string
	Namespace string
	Logger    *zap.Logger
}

// Storage is a vector store backed by a Pinecone serverless index using cosine similarity.
type Storage struct {
	cp        controlPlane
	connect   func(host, namespace string) (dataPlane, error)
	name      string
	host      string
	cloud     string
	region    string
	namespace string
	poll      time.Duration
	log       *zap.Logger
}

// NewStorage creates a Pinecone-backed store. No network calls are made until the
// store is used.
func NewStorage(cfg Config) (*Storage, error) {
	if cfg.APIKey == "" || cfg.IndexName == "" {
		return nil, fmt.Errorf("%w: pinecone api key and index name are required", domain.ErrConfig)
	}
	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("pinecone client: %w", err)
	}
	s := newStorage(client, cfg)
	s.connect = func(host, namespace string) (dataPlane, error) {
		conn, err := client.Index(pinecone.NewIndexConnParams{Host: host, Namespace: namespace})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	return s, nil
}

func newStorage(cp controlPlane, cfg Config) *Storage {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Storage{
		cp:        cp,
		name:      cfg.IndexName,
		host:      cfg.IndexHost,
		cloud:     cfg.Cloud,
		region:    cfg.Region,
		namespace: cfg.Namespace,
		poll:      2 * time.Second,
		log:       log.With(zap.String("index", cfg.IndexName)),
	}
}

// Recreate deletes the index if it exists and creates it again with the given
// dimension, waiting until the new index reports ready.
func (s *Storage) Recreate(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	exists, err := s.exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		s.log.Info("deleting existing index")
		if err := s.cp.DeleteIndex(ctx, s.name); err != nil {
			return fmt.Errorf("delete index %s: %w", s.name, err)
		}
		if err := s.waitUntil(ctx, func() (bool, error) {
			ok, err := s.exists(ctx)
			return !ok, err
		}); err != nil {
			return fmt.Errorf("wait for index deletion: %w", err)
		}
	}

	dim := int32(dimension)
	metric := pinecone.Cosine
	s.log.Info("creating index", zap.Int("dimension", dimension), zap.String("cloud", s.cloud), zap.String("region", s.region))
	if _, err := s.cp.CreateServerlessIndex(ctx, &pinecone.CreateServerlessIndexRequest{
		Name:      s.name,
		Dimension: &dim,
		Metric:    &metric,
		Cloud:     pinecone.Cloud(s.cloud),
		Region:    s.region,
	}); err != nil {
		return fmt.Errorf("create index %s: %w", s.name, err)
	}
	return s.waitUntil(ctx, func() (bool, error) {
		idx, err := s.cp.DescribeIndex(ctx, s.name)
		if err != nil {
			return false, fmt.Errorf("describe index %s: %w", s.name, err)
		}
		if idx.Status == nil || !idx.Status.Ready {
			return false, nil
		}
		s.host = idx.Host
		return true, nil
	})
}

// Connect resolves the index host and verifies the data plane can be reached.
func (s *Storage) Connect(ctx context.Context) error {
	conn, err := s.open(ctx)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Upsert writes chunks and their vectors in batches. Chunk text and position are
// stored as metadata so search results can be returned without a second lookup.
func (s *Storage) Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	conn, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(chunks))
		batch := make([]*pinecone.Vector, 0, end-start)
		for i := start; i < end; i++ {
			meta, err := structpb.NewStruct(map[string]any{
				"text":        chunks[i].Text,
				"document_id": chunks[i].DocumentID,
				"source":      chunks[i].Source,
				"chunk_index": chunks[i].Index,
				"start_char":  chunks[i].Start,
				"end_char":    chunks[i].End,
			})
			if err != nil {
				return fmt.Errorf("chunk %d metadata: %w", i, err)
			}
			values := vectors[i]
			batch = append(batch, &pinecone.Vector{Id: chunks[i].ChunkID, Values: &values, Metadata: meta})
		}
		n, err := conn.UpsertVectors(ctx, batch)
		if err != nil {
			return fmt.Errorf("upsert vectors [%d:%d]: %w", start, end, err)
		}
		s.log.Debug("upserted batch", zap.Uint32("count", n))
	}
	return nil
}

// Search returns the topK chunks closest to vector.
func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	conn, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("query index %s: %w", s.name, err)
	}
	results := make([]domain.SearchResult, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m == nil || m.Vector == nil {
			continue
		}
		chunk := domain.Chunk{ChunkID: m.Vector.Id}
		if md := m.Vector.Metadata; md != nil {
			f := md.GetFields()
			chunk.Text = f["text"].GetStringValue()
			chunk.DocumentID = f["document_id"].GetStringValue()
			chunk.Source = f["source"].GetStringValue()
			chunk.Index = int(f["chunk_index"].GetNumberValue())
			chunk.Start = int(f["start_char"].GetNumberValue())
			chunk.End = int(f["end_char"].GetNumberValue())
		}
		results = append(results, domain.SearchResult{Chunk: chunk, Score: float64(m.Score)})
	}
	return results, nil
}

func (s *Storage) exists(ctx context.Context) (bool, error) {
	indexes, err := s.cp.ListIndexes(ctx)
	if err != nil {
		return false, fmt.Errorf("list indexes: %w", err)
	}
	for _, idx := range indexes {
		if idx != nil && idx.Name == s.name {
			return true, nil
		}
	}
	return false, nil
}

// open connects to the index data plane, resolving its host on first use.
func (s *Storage) open(ctx context.Context) (dataPlane, error) {
	if s.host == "" {
		idx, err := s.cp.DescribeIndex(ctx, s.name)
		if err != nil {
			return nil, fmt.Errorf("describe index %s: %w", s.name, err)
		}
		s.host = idx.Host
	}
	conn, err := s.connect(s.host, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("connect to index %s: %w", s.name, err)
	}
	return conn, nil
}

func (s *Storage) waitUntil(ctx context.Context, done func() (bool, error)) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		ok, err := done()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

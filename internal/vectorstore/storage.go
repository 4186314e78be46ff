package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"biochat/internal/config"
	"biochat/internal/domain"
	"biochat/internal/vectorstore/local"
	"biochat/internal/vectorstore/pinecone"
)

// Connector is implemented by stores that need to reach a remote index before use.
type Connector interface {
	Connect(ctx context.Context) error
}

// New builds the vector store selected by cfg.VectorStore.Type.
func New(cfg *config.AppConfig, log *zap.Logger) (domain.VectorStore, error) {
	switch cfg.VectorStore.Type {
	case config.StoreLocal:
		s, err := local.NewStorage(cfg.VectorStore.LocalDir, cfg.Pinecone.IndexName, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StorePinecone, "":
		s, err := pinecone.NewStorage(pinecone.Config{
			APIKey:    cfg.Pinecone.APIKey,
			IndexName: cfg.Pinecone.IndexName,
			IndexHost: cfg.Pinecone.IndexHost,
			Cloud:     cfg.Pinecone.Cloud,
			Region:    cfg.Pinecone.Region,
			Namespace: cfg.Pinecone.Namespace,
			Logger:    log,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown vector store %q", domain.ErrConfig, cfg.VectorStore.Type)
	}
}

// Connect dials store when it is remote; local stores are returned as ready.
func Connect(ctx context.Context, store domain.VectorStore) error {
	if c, ok := store.(Connector); ok {
		return c.Connect(ctx)
	}
	return nil
}

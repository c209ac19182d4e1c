package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"tenderpipe/internal/config"
	"tenderpipe/internal/embedding"
	"tenderpipe/internal/logging"
	"tenderpipe/internal/retrieval"
	"tenderpipe/internal/store"
)

// StoreBackends resolves retrieval steps to collections in SQLite vector
// stores. Stores and embedding engines are opened once and reused.
type StoreBackends struct {
	cfg         config.EmbeddingConfig
	defaultPath string

	mu      sync.Mutex
	stores  map[string]*store.Store
	engines map[string]embedding.Engine
}

// NewStoreBackends creates a resolver. defaultPath is used by steps whose
// collection has no entry in the pipeline's collections map.
func NewStoreBackends(cfg config.EmbeddingConfig, defaultPath string) *StoreBackends {
	return &StoreBackends{
		cfg:         cfg,
		defaultPath: defaultPath,
		stores:      map[string]*store.Store{},
		engines:     map[string]embedding.Engine{},
	}
}

// Backend opens req.Collection for querying. The store file must exist.
func (b *StoreBackends) Backend(ctx context.Context, req BackendRequest) (retrieval.Backend, error) {
	path := req.Path
	if path == "" {
		path = b.defaultPath
	}
	if path == "" {
		return nil, errors.New("no vector store path configured")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.stores[path]
	if !ok {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("vector store %s not found, build it with `tenderpipe index`: %w", path, err)
		}
		var err error
		if st, err = store.Open(path); err != nil {
			return nil, err
		}
		b.stores[path] = st
	}

	eng, ok := b.engines[req.EmbeddingModel]
	if !ok {
		var err error
		if eng, err = embedding.NewEngine(ctx, b.cfg, req.EmbeddingModel); err != nil {
			return nil, err
		}
		b.engines[req.EmbeddingModel] = eng
	}

	coll, err := st.Collection(ctx, req.Collection, eng)
	if err != nil {
		return nil, err
	}
	logging.RetrievalDebug("resolved collection %s in %s with %s", req.Collection, path, eng.Name())
	return coll, nil
}

// Close closes every opened store.
func (b *StoreBackends) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for path, st := range b.stores {
		if err := st.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
		delete(b.stores, path)
	}
	return errors.Join(errs...)
}

// NewScorer builds the rerank scorer named by cfg.Reranker.Scorer.
func NewScorer(ctx context.Context, cfg *config.Config) (retrieval.Scorer, error) {
	switch cfg.Reranker.Scorer {
	case "embedding":
		eng, err := embedding.NewEngine(ctx, cfg.Embedding, "")
		if err != nil {
			return nil, err
		}
		return retrieval.EmbeddingScorer{Engine: eng}, nil
	case "http":
		return retrieval.NewHTTPScorer(cfg.Reranker.Endpoint, cfg.Reranker.Model), nil
	case "lexical", "":
		return retrieval.LexicalScorer{}, nil
	}
	return nil, fmt.Errorf("unsupported reranker scorer: %s", cfg.Reranker.Scorer)
}

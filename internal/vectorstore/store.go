// Package vectorstore embeds chunks with ollama and stores them in qdrant.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/tmc/langchaingo/vectorstores/qdrant"

	"github.com/ragscale/api/internal/model"
)

// ErrValidation marks input the store will never accept
var ErrValidation = errors.New("vector store validation error")

type Config struct {
	QdrantURL  string
	APIKey     string
	Collection string
	OllamaURL  string
	Model      string
}

type Store struct {
	store      qdrant.Store
	embedder   embeddings.Embedder
	baseURL    url.URL
	apiKey     string
	collection string
}

// New builds a store backed by an ollama embedder
func New(cfg Config) (*Store, error) {
	llm, err := ollama.New(
		ollama.WithModel(cfg.Model),
		ollama.WithServerURL(cfg.OllamaURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return NewWithEmbedder(cfg, embedder)
}

// NewWithEmbedder builds a store around any embedder
func NewWithEmbedder(cfg Config, embedder embeddings.Embedder) (*Store, error) {
	u, err := url.Parse(cfg.QdrantURL)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant url: %w", err)
	}

	store, err := qdrant.New(
		qdrant.WithURL(*u),
		qdrant.WithCollectionName(cfg.Collection),
		qdrant.WithEmbedder(embedder),
		qdrant.WithAPIKey(cfg.APIKey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant store: %w", err)
	}

	return &Store{
		store:      store,
		embedder:   embedder,
		baseURL:    *u,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
	}, nil
}

// EnsureCollection creates the collection if it does not exist yet, sized
// from a probe embedding.
func (s *Store) EnsureCollection(ctx context.Context) error {
	u := s.baseURL.JoinPath("collections", s.collection)

	body, status, err := qdrant.DoRequest(ctx, *u, s.apiKey, http.MethodGet, nil)
	if err != nil {
		return fmt.Errorf("failed to query collection: %w", err)
	}
	body.Close()
	if status == http.StatusOK {
		return nil
	}

	probe, err := s.embedder.EmbedQuery(ctx, "dimension probe")
	if err != nil {
		return fmt.Errorf("failed to probe embedding size: %w", err)
	}

	create := map[string]any{
		"vectors": map[string]any{"size": len(probe), "distance": "Cosine"},
	}
	body, status, err = qdrant.DoRequest(ctx, *u, s.apiKey, http.MethodPut, create)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	defer body.Close()
	if status != http.StatusOK {
		msg, _ := io.ReadAll(body)
		return fmt.Errorf("failed to create collection: status %d: %s", status, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Upsert embeds and stores chunks. Empty input fails with ErrValidation.
func (s *Store) Upsert(ctx context.Context, chunks []model.ChunkRecord) error {
	if len(chunks) == 0 {
		return fmt.Errorf("%w: no chunks", ErrValidation)
	}

	docs := make([]schema.Document, 0, len(chunks))
	for i, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			return fmt.Errorf("%w: chunk %d has no text", ErrValidation, i)
		}
		docs = append(docs, schema.Document{PageContent: c.Text, Metadata: c.Metadata})
	}

	if _, err := s.store.AddDocuments(ctx, docs); err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}
	return nil
}

// Search returns the n chunks closest to query, limited to one user's documents.
func (s *Store) Search(ctx context.Context, userID, query string, n int) ([]schema.Document, error) {
	filter := map[string]any{
		"must": []map[string]any{
			{"key": model.MetaUserID, "match": map[string]any{"value": userID}},
		},
	}
	docs, err := s.store.SimilaritySearch(ctx, query, n, vectorstores.WithFilters(filter))
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	return docs, nil
}

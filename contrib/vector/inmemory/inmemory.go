package inmemory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sweetpotato0/carebridge/vector"
)

// InMemoryVectorStore implements VectorStore with a brute-force cosine scan.
// When created with a path it can load and persist its contents as a JSON
// index file keyed by document id.
type InMemoryVectorStore struct {
	mu         sync.RWMutex
	embeddings map[string]*vector.Embedding
	path       string
}

// indexFile is the persisted layout: document_id -> ordered chunks.
type indexFile struct {
	Dimension int                            `json:"dimension"`
	Documents map[string][]*vector.Embedding `json:"documents"`
}

// NewInMemoryVectorStore creates an empty store that is never persisted.
func NewInMemoryVectorStore() *InMemoryVectorStore {
	return &InMemoryVectorStore{
		embeddings: make(map[string]*vector.Embedding),
	}
}

// Open creates a store bound to an index file, loading it when it exists.
// A missing file yields an empty store.
func Open(path string) (*InMemoryVectorStore, error) {
	s := NewInMemoryVectorStore()
	s.path = path

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", path, err)
	}

	var file indexFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", path, err)
	}
	for docID, chunks := range file.Documents {
		for _, emb := range chunks {
			if emb == nil || emb.ID == "" {
				continue
			}
			emb.DocumentID = docID
			s.embeddings[emb.ID] = emb
		}
	}
	return s, nil
}

// AddEmbeddings inserts or replaces embeddings by ID.
func (s *InMemoryVectorStore) AddEmbeddings(ctx context.Context, embeddings []*vector.Embedding) error {
	for _, emb := range embeddings {
		if emb == nil {
			return fmt.Errorf("embedding cannot be nil")
		}
		if emb.ID == "" {
			return fmt.Errorf("embedding ID cannot be empty")
		}
		if len(emb.Vector) == 0 {
			return fmt.Errorf("embedding %s has an empty vector", emb.ID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, emb := range embeddings {
		cp := *emb
		cp.Vector = append([]float32(nil), emb.Vector...)
		s.embeddings[emb.ID] = &cp
	}
	return nil
}

// Search returns the topK most similar embeddings, most similar first.
// Equal scores are ordered by ID so results are reproducible.
func (s *InMemoryVectorStore) Search(ctx context.Context, queryVector []float32, topK int) ([]vector.Match, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty")
	}
	if topK <= 0 {
		topK = 10
	}

	s.mu.RLock()
	results := make([]vector.Match, 0, len(s.embeddings))
	for _, emb := range s.embeddings {
		if len(emb.Vector) != len(queryVector) {
			continue
		}
		results = append(results, vector.Match{
			Embedding: emb,
			Score:     vector.ClampScore(vector.CosineSimilarity(queryVector, emb.Vector)),
		})
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Embedding.ID < results[j].Embedding.ID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Clear removes all embeddings
func (s *InMemoryVectorStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.embeddings = make(map[string]*vector.Embedding)
	return nil
}

// Count returns the number of embeddings
func (s *InMemoryVectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.embeddings), nil
}

// Persist writes the index file atomically. Stores without a path are a no-op.
func (s *InMemoryVectorStore) Persist(ctx context.Context) error {
	if s.path == "" {
		return nil
	}

	s.mu.RLock()
	file := indexFile{Documents: make(map[string][]*vector.Embedding)}
	for _, emb := range s.embeddings {
		file.Documents[emb.DocumentID] = append(file.Documents[emb.DocumentID], emb)
		file.Dimension = len(emb.Vector)
	}
	s.mu.RUnlock()

	for _, chunks := range file.Documents {
		sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	}

	raw, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace index: %w", err)
	}
	return nil
}

package pg

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/sweetpotato0/carebridge/config"
	"github.com/sweetpotato0/carebridge/vector"
)

// PGVectorStore implements VectorStore using PostgreSQL with the pgvector extension.
// Similarity is cosine: score = 1 - (embedding <=> query), clamped to [0,1].
type PGVectorStore struct {
	db        *sql.DB
	dimension int
	tableName string
}

// PGVectorConfig holds pgvector configuration
type PGVectorConfig struct {
	DSN       string
	Dimension int
	TableName string
}

// NewPGVectorStore connects, enables pgvector and creates the chunk table.
func NewPGVectorStore(ctx context.Context, cfg PGVectorConfig) (*PGVectorStore, error) {
	if cfg.TableName == "" {
		cfg.TableName = "reference_chunks"
	}
	v := config.NewValidator()
	v.RequireNonEmpty("dsn", cfg.DSN)
	v.ValidateRange("dimension", cfg.Dimension, 1, 16000)
	v.RequireIdentifier("table", cfg.TableName)
	if err := v.Error(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	store := &PGVectorStore{
		db:        db,
		dimension: cfg.Dimension,
		tableName: cfg.TableName,
	}
	if err := store.setup(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup pgvector: %w", err)
	}
	return store, nil
}

func (s *PGVectorStore) setup(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTableSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(255) PRIMARY KEY,
		document_id VARCHAR(255) NOT NULL,
		page_number INTEGER NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		embedding vector(%d) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, s.tableName, s.dimension)
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	indexSQL := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_document_idx ON %s (document_id, chunk_index)`,
		s.tableName, s.tableName)
	if _, err := s.db.ExecContext(ctx, indexSQL); err != nil {
		return fmt.Errorf("failed to create document index: %w", err)
	}
	return nil
}

// AddEmbeddings upserts all embeddings in one transaction.
func (s *PGVectorStore) AddEmbeddings(ctx context.Context, embeddings []*vector.Embedding) error {
	for _, emb := range embeddings {
		if emb == nil || emb.ID == "" {
			return fmt.Errorf("embedding ID cannot be empty")
		}
		if len(emb.Vector) != s.dimension {
			return fmt.Errorf("embedding %s dimension mismatch: expected %d, got %d", emb.ID, s.dimension, len(emb.Vector))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
	INSERT INTO %s (id, document_id, page_number, chunk_index, text, embedding)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		document_id = EXCLUDED.document_id,
		page_number = EXCLUDED.page_number,
		chunk_index = EXCLUDED.chunk_index,
		text = EXCLUDED.text,
		embedding = EXCLUDED.embedding,
		created_at = CURRENT_TIMESTAMP
	`, s.tableName))
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, emb := range embeddings {
		_, err := stmt.ExecContext(ctx, emb.ID, emb.DocumentID, emb.PageNumber, emb.ChunkIndex, emb.Text,
			pgvector.NewVector(emb.Vector))
		if err != nil {
			return fmt.Errorf("failed to add embedding %s: %w", emb.ID, err)
		}
	}
	return tx.Commit()
}

// Search finds embeddings similar to the query vector
func (s *PGVectorStore) Search(ctx context.Context, queryVector []float32, topK int) ([]vector.Match, error) {
	if len(queryVector) != s.dimension {
		return nil, fmt.Errorf("query vector dimension mismatch: expected %d, got %d", s.dimension, len(queryVector))
	}
	if topK <= 0 {
		topK = 10
	}

	query := fmt.Sprintf(`
	SELECT id, document_id, page_number, chunk_index, text, embedding, embedding <=> $1 AS distance
	FROM %s
	ORDER BY distance, id
	LIMIT $2
	`, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, pgvector.NewVector(queryVector), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search embeddings: %w", err)
	}
	defer rows.Close()

	matches := make([]vector.Match, 0, topK)
	for rows.Next() {
		var (
			emb      vector.Embedding
			vec      pgvector.Vector
			distance float64
		)
		if err := rows.Scan(&emb.ID, &emb.DocumentID, &emb.PageNumber, &emb.ChunkIndex, &emb.Text, &vec, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		emb.Vector = vec.Slice()
		matches = append(matches, vector.Match{
			Embedding: &emb,
			Score:     vector.ClampScore(1 - distance),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embeddings: %w", err)
	}
	return matches, nil
}

// Clear removes all embeddings
func (s *PGVectorStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", s.tableName)); err != nil {
		return fmt.Errorf("failed to clear embeddings: %w", err)
	}
	return nil
}

// Count returns the number of embeddings
func (s *PGVectorStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.tableName)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return count, nil
}

// Close closes the database connection
func (s *PGVectorStore) Close() error {
	return s.db.Close()
}

// Package indexer builds the reference index: load, chunk, embed, store.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	cberrors "github.com/sweetpotato0/carebridge/errors"
	"github.com/sweetpotato0/carebridge/pkg/logging"
	"github.com/sweetpotato0/carebridge/pkg/metrics"
	"github.com/sweetpotato0/carebridge/pkg/telemetry"
	"github.com/sweetpotato0/carebridge/rag/chunking"
	"github.com/sweetpotato0/carebridge/rag/document"
	"github.com/sweetpotato0/carebridge/rag/loader"
	"github.com/sweetpotato0/carebridge/rag/tokenizer"
	"github.com/sweetpotato0/carebridge/vector"
)

var tracer = telemetry.Tracer("github.com/sweetpotato0/carebridge/rag/indexer")

// Report summarises one build.
type Report struct {
	Documents     int `json:"documents"`
	Pages         int `json:"pages"`
	ChunksIndexed int `json:"chunks_indexed"`
}

// Option customizes the indexer.
type Option func(*Indexer)

// WithChunker replaces the default simple chunker.
func WithChunker(c chunking.Chunker) Option {
	return func(ix *Indexer) {
		if c != nil {
			ix.chunker = c
		}
	}
}

// WithTokenizer sets the tokenizer used to enforce the embedding token budget.
func WithTokenizer(t tokenizer.Tokenizer) Option {
	return func(ix *Indexer) {
		if t != nil {
			ix.tokenizer = t
		}
	}
}

// WithMaxTokens caps the tokens of each chunk sent to the embedder.
func WithMaxTokens(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.maxTokens = n
		}
	}
}

// WithBatchSize sets how many chunks go into one EmbedBatch call.
func WithBatchSize(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

// WithConcurrency bounds the number of embedding batches in flight.
func WithConcurrency(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.concurrency = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(ix *Indexer) {
		if l != nil {
			ix.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(ix *Indexer) { ix.metrics = m }
}

// Indexer turns reference documents into stored embeddings.
type Indexer struct {
	store       vector.VectorStore
	embedder    vector.Embedder
	chunker     chunking.Chunker
	tokenizer   tokenizer.Tokenizer
	maxTokens   int
	batchSize   int
	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New creates an indexer writing to store with vectors from emb.
func New(store vector.VectorStore, emb vector.Embedder, opts ...Option) *Indexer {
	ix := &Indexer{
		store:       store,
		embedder:    emb,
		chunker:     chunking.NewSimpleChunker(),
		tokenizer:   tokenizer.Approximate{},
		maxTokens:   8191,
		batchSize:   32,
		concurrency: 4,
		logger:      logging.WithComponent("indexer"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ix)
		}
	}
	return ix
}

// Build indexes the file or directory at path, replacing the previous index
// contents. The store is only cleared once every document has loaded and
// every chunk is embedded, so a failed build leaves the old index in place.
func (ix *Indexer) Build(ctx context.Context, path string) (report Report, err error) {
	ctx, span := tracer.Start(ctx, "indexer.Build")
	span.SetAttributes(attribute.String("index.path", path))
	defer func() { telemetry.End(span, err) }()

	if ix.store == nil || ix.embedder == nil {
		return Report{}, fmt.Errorf("indexer not fully configured: %w", cberrors.ErrInvalidInput)
	}

	paths, err := loader.Paths(path)
	if err != nil {
		return Report{}, fmt.Errorf("list documents: %w", err)
	}
	if len(paths) == 0 {
		return Report{}, fmt.Errorf("no supported documents under %s: %w", path, cberrors.ErrInvalidInput)
	}

	docs := make([]document.Document, 0, len(paths))
	for _, p := range paths {
		doc, err := loader.Load(ctx, p)
		if err != nil {
			return Report{}, err
		}
		docs = append(docs, doc)
	}

	start := time.Now()
	report, embeddings, err := ix.embed(ctx, docs)
	if err != nil {
		return report, err
	}
	if err := ix.store.Clear(ctx); err != nil {
		return report, fmt.Errorf("clear index: %w", err)
	}
	if err := ix.save(ctx, embeddings); err != nil {
		return report, err
	}
	ix.built(&report, len(embeddings), start)
	span.SetAttributes(attribute.Int("index.chunks", report.ChunksIndexed))
	return report, nil
}

// IndexDocuments chunks, embeds and adds docs to the store, then persists the
// store if it supports it.
func (ix *Indexer) IndexDocuments(ctx context.Context, docs ...document.Document) (Report, error) {
	start := time.Now()
	report, embeddings, err := ix.embed(ctx, docs)
	if err != nil {
		return report, err
	}
	if err := ix.save(ctx, embeddings); err != nil {
		return report, err
	}
	ix.built(&report, len(embeddings), start)
	return report, nil
}

// embed chunks docs and embeds the chunks without touching the store.
func (ix *Indexer) embed(ctx context.Context, docs []document.Document) (Report, []*vector.Embedding, error) {
	var (
		report Report
		chunks []document.Chunk
	)
	for _, doc := range docs {
		cs, err := ix.chunker.Chunk(ctx, doc)
		if err != nil {
			return report, nil, fmt.Errorf("chunk document %s: %w", doc.ID, err)
		}
		report.Documents++
		report.Pages += len(doc.Pages)
		chunks = append(chunks, cs...)
	}
	if len(chunks) == 0 {
		return report, nil, nil
	}

	embeddings := make([]*vector.Embedding, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)
	for lo := 0; lo < len(chunks); lo += ix.batchSize {
		hi := min(lo+ix.batchSize, len(chunks))
		g.Go(func() error {
			return ix.embedRange(gctx, chunks[lo:hi], embeddings[lo:hi])
		})
	}
	if err := g.Wait(); err != nil {
		return report, nil, err
	}
	return report, embeddings, nil
}

func (ix *Indexer) save(ctx context.Context, embeddings []*vector.Embedding) error {
	if len(embeddings) > 0 {
		if err := ix.store.AddEmbeddings(ctx, embeddings); err != nil {
			return fmt.Errorf("store embeddings: %w", err)
		}
	}
	if p, ok := ix.store.(vector.Persister); ok {
		if err := p.Persist(ctx); err != nil {
			return fmt.Errorf("persist index: %w", err)
		}
	}
	return nil
}

func (ix *Indexer) built(report *Report, chunks int, start time.Time) {
	report.ChunksIndexed = chunks
	ix.metrics.AddChunksIndexed(chunks)
	ix.logger.Info("index built",
		"documents", report.Documents,
		"pages", report.Pages,
		"chunks", report.ChunksIndexed,
		"elapsed", time.Since(start))
}

func (ix *Indexer) embedRange(ctx context.Context, chunks []document.Chunk, out []*vector.Embedding) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = ix.tokenizer.Truncate(c.Text, ix.maxTokens)
	}
	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks %s..%s: %w", chunks[0].ID, chunks[len(chunks)-1].ID, err)
	}
	if len(vecs) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks))
	}
	for i, c := range chunks {
		out[i] = &vector.Embedding{
			ID:         c.ID,
			DocumentID: c.DocumentID,
			PageNumber: c.PageNumber,
			ChunkIndex: c.Index,
			Text:       c.Text,
			Vector:     vecs[i],
		}
	}
	return nil
}

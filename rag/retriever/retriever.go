package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"

	cberrors "github.com/sweetpotato0/carebridge/errors"
	"github.com/sweetpotato0/carebridge/pkg/logging"
	"github.com/sweetpotato0/carebridge/pkg/metrics"
	"github.com/sweetpotato0/carebridge/pkg/telemetry"
	"github.com/sweetpotato0/carebridge/rag/document"
	"github.com/sweetpotato0/carebridge/vector"
)

var tracer = telemetry.Tracer("github.com/sweetpotato0/carebridge/rag/retriever")

// Option customizes the retriever.
type Option func(*Retriever)

// WithEmbedTimeout bounds the query embedding call.
func WithEmbedTimeout(d time.Duration) Option {
	return func(r *Retriever) {
		if d > 0 {
			r.embedTimeout = d
		}
	}
}

// WithSearchTimeout bounds each index call: the size check and the
// nearest-neighbour search.
func WithSearchTimeout(d time.Duration) Option {
	return func(r *Retriever) {
		if d > 0 {
			r.searchTimeout = d
		}
	}
}

// WithQueryCache keeps the vectors of the last n distinct queries. Zero disables the cache.
func WithQueryCache(n int) Option {
	return func(r *Retriever) {
		r.cacheSize = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Retriever) { r.metrics = m }
}

// Retriever turns a query into ranked evidence from the reference index.
type Retriever struct {
	store    vector.VectorStore
	embedder vector.Embedder

	embedTimeout  time.Duration
	searchTimeout time.Duration
	cacheSize     int
	cache         *lru.Cache[string, []float32]

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a retriever over store using emb for query vectors.
func New(store vector.VectorStore, emb vector.Embedder, opts ...Option) *Retriever {
	r := &Retriever{
		store:         store,
		embedder:      emb,
		embedTimeout:  10 * time.Second,
		searchTimeout: 5 * time.Second,
		cacheSize:     256,
		logger:        logging.WithComponent("retriever"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.cacheSize > 0 {
		// lru.New only fails for a non-positive size.
		r.cache, _ = lru.New[string, []float32](r.cacheSize)
	}
	return r
}

// Retrieve returns up to topK evidence chunks ordered by score (descending),
// then document ID and page number (ascending). confident reports whether any
// chunk reaches minScore. An empty or unreachable index yields ErrIndexUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, minScore float64) (evidence []document.EvidenceChunk, confident bool, err error) {
	ctx, span := tracer.Start(ctx, "retriever.Retrieve")
	defer func() {
		span.SetAttributes(
			attribute.Int("retrieval.results", len(evidence)),
			attribute.Bool("retrieval.confident", confident),
		)
		telemetry.End(span, err)
	}()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, false, fmt.Errorf("empty query: %w", cberrors.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = 5
	}
	if r.store == nil || r.embedder == nil {
		r.metrics.ObserveRetrieval("unavailable")
		return nil, false, fmt.Errorf("retriever not configured: %w", cberrors.ErrIndexUnavailable)
	}

	cctx, cancel := context.WithTimeout(ctx, r.searchTimeout)
	n, err := r.store.Count(cctx)
	cancel()
	if err != nil {
		r.metrics.ObserveRetrieval("unavailable")
		return nil, false, fmt.Errorf("count index: %v: %w", err, cberrors.ErrIndexUnavailable)
	}
	if n == 0 {
		r.metrics.ObserveRetrieval("unavailable")
		return nil, false, fmt.Errorf("index is empty: %w", cberrors.ErrIndexUnavailable)
	}

	qvec, err := r.queryVector(ctx, query)
	if err != nil {
		r.metrics.ObserveRetrieval("unavailable")
		return nil, false, fmt.Errorf("embed query: %v: %w", err, cberrors.ErrIndexUnavailable)
	}

	sctx, cancel := context.WithTimeout(ctx, r.searchTimeout)
	matches, err := r.store.Search(sctx, qvec, topK)
	cancel()
	if err != nil {
		r.metrics.ObserveRetrieval("unavailable")
		return nil, false, fmt.Errorf("nearest neighbours: %v: %w", err, cberrors.ErrIndexUnavailable)
	}

	evidence = make([]document.EvidenceChunk, 0, len(matches))
	for _, m := range matches {
		if m.Embedding == nil {
			continue
		}
		score := vector.ClampScore(m.Score)
		evidence = append(evidence, document.EvidenceChunk{
			ChunkID:    m.Embedding.ID,
			Text:       m.Embedding.Text,
			DocumentID: m.Embedding.DocumentID,
			PageNumber: m.Embedding.PageNumber,
			ChunkIndex: m.Embedding.ChunkIndex,
			Score:      score,
		})
		if score >= minScore {
			confident = true
		}
	}
	Sort(evidence)
	if len(evidence) > topK {
		evidence = evidence[:topK]
	}

	outcome := "weak"
	if confident {
		outcome = "confident"
	}
	r.metrics.ObserveRetrieval(outcome)
	r.logger.Debug("retrieval complete",
		"results", len(evidence),
		"confident", confident,
		"top_scores", topScores(evidence, 3))
	return evidence, confident, nil
}

// Sort orders evidence by descending score, then ascending document ID and page number.
func Sort(evidence []document.EvidenceChunk) {
	sort.SliceStable(evidence, func(i, j int) bool {
		a, b := evidence[i], evidence[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		if a.PageNumber != b.PageNumber {
			return a.PageNumber < b.PageNumber
		}
		return a.ChunkIndex < b.ChunkIndex
	})
}

func (r *Retriever) queryVector(ctx context.Context, query string) ([]float32, error) {
	if r.cache != nil {
		if v, ok := r.cache.Get(query); ok {
			return v, nil
		}
	}
	ectx, cancel := context.WithTimeout(ctx, r.embedTimeout)
	defer cancel()
	v, err := r.embedder.Embed(ectx, query)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("embedder returned an empty vector")
	}
	if r.cache != nil {
		r.cache.Add(query, v)
	}
	return v, nil
}

func topScores(evidence []document.EvidenceChunk, n int) []float64 {
	n = min(n, len(evidence))
	out := make([]float64, n)
	for i := range n {
		out[i] = evidence[i].Score
	}
	return out
}

package retriever

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sweetpotato0/carebridge/contrib/embedder/hashing"
	"github.com/sweetpotato0/carebridge/contrib/vector/inmemory"
	cberrors "github.com/sweetpotato0/carebridge/errors"
	"github.com/sweetpotato0/carebridge/pkg/logging"
	"github.com/sweetpotato0/carebridge/pkg/metrics"
	"github.com/sweetpotato0/carebridge/vector"
)

type fakeStore struct {
	matches   []vector.Match
	count     int
	searchErr error
	searches  int
}

func (s *fakeStore) AddEmbeddings(context.Context, []*vector.Embedding) error { return nil }
func (s *fakeStore) Clear(context.Context) error                            { return nil }
func (s *fakeStore) Count(context.Context) (int, error)                     { return s.count, nil }

func (s *fakeStore) Search(ctx context.Context, q []float32, topK int) ([]vector.Match, error) {
	s.searches++
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.matches, nil
}

type countingEmbedder struct {
	calls int
	delay time.Duration
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []float32{1, 0}, nil
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not used")
}

func (e *countingEmbedder) Dimension() int { return 2 }

func match(id, doc string, page int, score float64) vector.Match {
	return vector.Match{
		Embedding: &vector.Embedding{ID: id, DocumentID: doc, PageNumber: page, Text: id + " text"},
		Score:     score,
	}
}

func TestRetrieveOrderingAndConfidence(t *testing.T) {
	store := &fakeStore{
		count: 5,
		matches: []vector.Match{
			match("c", "nephro", 7, 0.82),
			match("b", "nephro", 3, 0.82),
			match("a", "cardio", 9, 0.82),
			match("d", "nephro", 1, 0.89),
			match("e", "diet", 2, 1.4),
		},
	}
	r := New(store, &countingEmbedder{}, WithLogger(logging.Discard()))

	evidence, confident, err := r.Retrieve(context.Background(), "early signs of kidney dysfunction", 5, 0.3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !confident {
		t.Error("expected confident retrieval")
	}
	want := []string{"e", "d", "a", "b", "c"}
	for i, id := range want {
		if evidence[i].ChunkID != id {
			t.Errorf("evidence[%d] = %s, want %s", i, evidence[i].ChunkID, id)
		}
	}
	if evidence[0].Score != 1 {
		t.Errorf("score not clamped: %v", evidence[0].Score)
	}
}

func TestRetrieveConfidenceThreshold(t *testing.T) {
	tests := []struct {
		name     string
		scores   []float64
		minScore float64
		want     bool
	}{
		{"below threshold", []float64{0.2, 0.1}, 0.3, false},
		{"exactly at threshold", []float64{0.3}, 0.3, true},
		{"one above", []float64{0.1, 0.75}, 0.5, true},
		{"no results", nil, 0.3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{count: 1}
			for i, s := range tt.scores {
				store.matches = append(store.matches, match(string(rune('a'+i)), "doc", 1, s))
			}
			r := New(store, &countingEmbedder{}, WithLogger(logging.Discard()))
			_, confident, err := r.Retrieve(context.Background(), "query", 5, tt.minScore)
			if err != nil {
				t.Fatalf("Retrieve: %v", err)
			}
			if confident != tt.want {
				t.Errorf("confident = %v, want %v", confident, tt.want)
			}
		})
	}
}

func TestRetrieveIndexUnavailable(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	tests := []struct {
		name  string
		store vector.VectorStore
	}{
		{"nil store", nil},
		{"empty index", &fakeStore{count: 0}},
		{"search failure", &fakeStore{count: 3, searchErr: errors.New("connection refused")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.store, &countingEmbedder{}, WithLogger(logging.Discard()), WithMetrics(m))
			_, _, err := r.Retrieve(context.Background(), "query", 3, 0.3)
			if !errors.Is(err, cberrors.ErrIndexUnavailable) {
				t.Fatalf("err = %v, want ErrIndexUnavailable", err)
			}
		})
	}
	if got := testutil.ToFloat64(m.Retrievals.WithLabelValues("unavailable")); got != 3 {
		t.Errorf("unavailable retrievals = %v, want 3", got)
	}
}

func TestRetrieveEmbedTimeout(t *testing.T) {
	store := &fakeStore{count: 1, matches: []vector.Match{match("a", "doc", 1, 0.9)}}
	r := New(store, &countingEmbedder{delay: time.Second},
		WithEmbedTimeout(10*time.Millisecond), WithLogger(logging.Discard()))

	_, _, err := r.Retrieve(context.Background(), "query", 3, 0.3)
	if !errors.Is(err, cberrors.ErrIndexUnavailable) {
		t.Fatalf("err = %v, want ErrIndexUnavailable", err)
	}
	if store.searches != 0 {
		t.Error("search ran after embedding timed out")
	}
}

// stalledStore never answers Count until its context ends.
type stalledStore struct{ fakeStore }

func (s *stalledStore) Count(ctx context.Context) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestRetrieveCountTimeout(t *testing.T) {
	store := &stalledStore{}
	r := New(store, &countingEmbedder{},
		WithSearchTimeout(20*time.Millisecond), WithLogger(logging.Discard()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	_, _, err := r.Retrieve(ctx, "query", 3, 0.3)
	if !errors.Is(err, cberrors.ErrIndexUnavailable) {
		t.Fatalf("err = %v, want ErrIndexUnavailable", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Retrieve took %s, want it bounded by the search timeout", elapsed)
	}
	if store.searches != 0 {
		t.Error("search ran after count timed out")
	}
}

func TestRetrieveCachesQueryVectors(t *testing.T) {
	store := &fakeStore{count: 1, matches: []vector.Match{match("a", "doc", 1, 0.9)}}
	emb := &countingEmbedder{}
	r := New(store, emb, WithQueryCache(4), WithLogger(logging.Discard()))

	for range 3 {
		if _, _, err := r.Retrieve(context.Background(), "  dialysis diet ", 3, 0.3); err != nil {
			t.Fatal(err)
		}
	}
	if emb.calls != 1 {
		t.Errorf("embed calls = %d, want 1", emb.calls)
	}
}

func TestRetrieveEmptyQuery(t *testing.T) {
	r := New(&fakeStore{count: 1}, &countingEmbedder{}, WithLogger(logging.Discard()))
	if _, _, err := r.Retrieve(context.Background(), "   ", 3, 0.3); !errors.Is(err, cberrors.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestRetrieveOverInMemoryIndex(t *testing.T) {
	ctx := context.Background()
	emb := hashing.New(128)
	store := inmemory.NewInMemoryVectorStore()

	texts := map[string]string{
		"ckd_0":  "chronic kidney disease causes swelling and fatigue",
		"diet_0": "a low sodium diet helps control blood pressure",
	}
	var embs []*vector.Embedding
	for id, text := range texts {
		v, err := emb.Embed(ctx, text)
		if err != nil {
			t.Fatal(err)
		}
		embs = append(embs, &vector.Embedding{ID: id, DocumentID: id[:len(id)-2], PageNumber: 1, Text: text, Vector: v})
	}
	if err := store.AddEmbeddings(ctx, embs); err != nil {
		t.Fatal(err)
	}

	r := New(store, emb, WithLogger(logging.Discard()))
	evidence, _, err := r.Retrieve(ctx, "kidney disease swelling", 2, 0.3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(evidence) == 0 || evidence[0].DocumentID != "ckd" {
		t.Fatalf("top evidence = %+v, want ckd first", evidence)
	}
	for _, ev := range evidence {
		if ev.Score < 0 || ev.Score > 1 {
			t.Errorf("score %v out of range", ev.Score)
		}
	}
}

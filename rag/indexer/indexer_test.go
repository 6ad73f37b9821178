package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sweetpotato0/carebridge/contrib/embedder/hashing"
	"github.com/sweetpotato0/carebridge/contrib/vector/inmemory"
	cberrors "github.com/sweetpotato0/carebridge/errors"
	"github.com/sweetpotato0/carebridge/pkg/logging"
	"github.com/sweetpotato0/carebridge/pkg/metrics"
	"github.com/sweetpotato0/carebridge/rag/document"
	"github.com/sweetpotato0/carebridge/rag/tokenizer"
)

type recordingEmbedder struct {
	mu    sync.Mutex
	texts []string
	fail  error
}

func (e *recordingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (e *recordingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if e.fail != nil {
		return nil, e.fail
	}
	e.mu.Lock()
	e.texts = append(e.texts, texts...)
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, float32(len(texts[i]))}
	}
	return out, nil
}

func (e *recordingEmbedder) Dimension() int { return 2 }

func TestBuildPersistsIndex(t *testing.T) {
	dir := t.TempDir()
	docs := filepath.Join(dir, "docs")
	if err := os.MkdirAll(docs, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(docs, "nephrology.txt"),
		[]byte("Chronic kidney disease is a gradual loss of kidney function.\fDialysis filters the blood."), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(docs, "diet.md"), []byte("Limit salt and potassium."), 0o644); err != nil {
		t.Fatal(err)
	}

	indexPath := filepath.Join(dir, "index.json")
	store, err := inmemory.Open(indexPath)
	if err != nil {
		t.Fatal(err)
	}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	ix := New(store, hashing.New(64), WithBatchSize(1), WithConcurrency(2),
		WithLogger(logging.Discard()), WithMetrics(m))
	report, err := ix.Build(context.Background(), docs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if report.Documents != 2 || report.Pages != 3 || report.ChunksIndexed != 3 {
		t.Fatalf("report = %+v", report)
	}
	if got := testutil.ToFloat64(m.ChunksIndexed); got != 3 {
		t.Errorf("chunks indexed metric = %v, want 3", got)
	}

	reopened, err := inmemory.Open(indexPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	n, _ := reopened.Count(context.Background())
	if n != 3 {
		t.Errorf("persisted count = %d, want 3", n)
	}
}

func TestBuildReplacesPreviousContents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guide.txt")
	if err := os.WriteFile(path, []byte("one\ftwo\fthree"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := inmemory.NewInMemoryVectorStore()
	ix := New(store, hashing.New(32), WithLogger(logging.Discard()))
	if _, err := ix.Build(context.Background(), path); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("only page"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ix.Build(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.Count(context.Background()); n != 1 {
		t.Errorf("count after rebuild = %d, want 1", n)
	}
}

func TestBuildEmptyDirectory(t *testing.T) {
	ix := New(inmemory.NewInMemoryVectorStore(), hashing.New(8), WithLogger(logging.Discard()))
	_, err := ix.Build(context.Background(), t.TempDir())
	if !errors.Is(err, cberrors.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestIndexDocumentsTruncatesToTokenBudget(t *testing.T) {
	emb := &recordingEmbedder{}
	ix := New(inmemory.NewInMemoryVectorStore(), emb,
		WithTokenizer(tokenizer.Approximate{}), WithMaxTokens(3), WithLogger(logging.Discard()))

	doc := document.Document{ID: "meds", Pages: []document.Page{{Number: 1, Text: "take one tablet daily with food"}}}
	report, err := ix.IndexDocuments(context.Background(), doc)
	if err != nil {
		t.Fatalf("IndexDocuments: %v", err)
	}
	if report.ChunksIndexed != 1 {
		t.Fatalf("chunks = %d", report.ChunksIndexed)
	}
	if len(emb.texts) != 1 || emb.texts[0] != "take one tablet" {
		t.Errorf("embedded texts = %q", emb.texts)
	}
}

func TestIndexDocumentsEmbedFailure(t *testing.T) {
	store := inmemory.NewInMemoryVectorStore()
	ix := New(store, &recordingEmbedder{fail: errors.New("quota exceeded")}, WithLogger(logging.Discard()))

	doc := document.Document{ID: "x", Pages: []document.Page{{Number: 1, Text: strings.Repeat("word ", 10)}}}
	if _, err := ix.IndexDocuments(context.Background(), doc); err == nil {
		t.Fatal("expected embed error")
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Errorf("store count = %d, want 0", n)
	}
}

func TestFailedRebuildKeepsPreviousIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guide.txt")
	if err := os.WriteFile(path, []byte("Report leg swelling.\fWeigh yourself daily."), 0o644); err != nil {
		t.Fatal(err)
	}
	indexPath := filepath.Join(dir, "index.json")
	store, err := inmemory.Open(indexPath)
	if err != nil {
		t.Fatal(err)
	}
	emb := &recordingEmbedder{}
	ix := New(store, emb, WithLogger(logging.Discard()))
	if _, err := ix.Build(context.Background(), path); err != nil {
		t.Fatalf("first build: %v", err)
	}

	emb.fail = errors.New("rate limited")
	if _, err := ix.Build(context.Background(), path); err == nil {
		t.Fatal("rebuild succeeded with a failing embedder")
	}
	if n, _ := store.Count(context.Background()); n != 2 {
		t.Errorf("live count after failed rebuild = %d, want 2", n)
	}
	reopened, err := inmemory.Open(indexPath)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := reopened.Count(context.Background()); n != 2 {
		t.Errorf("persisted count after failed rebuild = %d, want 2", n)
	}
}

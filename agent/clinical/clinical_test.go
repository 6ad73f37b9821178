package clinical

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sweetpotato0/carebridge/agent"
	"github.com/sweetpotato0/carebridge/citation"
	cberrors "github.com/sweetpotato0/carebridge/errors"
	"github.com/sweetpotato0/carebridge/patient"
	"github.com/sweetpotato0/carebridge/pkg/logging"
	"github.com/sweetpotato0/carebridge/pkg/metrics"
	"github.com/sweetpotato0/carebridge/prompt"
	"github.com/sweetpotato0/carebridge/rag/document"
	"github.com/sweetpotato0/carebridge/reasoning"
	"github.com/sweetpotato0/carebridge/websearch"
)

type fakeRetriever struct {
	chunks    []document.EvidenceChunk
	confident bool
	err       error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, topK int, minScore float64) ([]document.EvidenceChunk, bool, error) {
	return f.chunks, f.confident, f.err
}

type fakeGenerator struct {
	backend   reasoning.BackendUsed
	grounding []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, grounding []string) reasoning.Result {
	f.grounding = grounding
	if f.backend == reasoning.Stub {
		return reasoning.Result{Text: reasoning.StubResponse(prompt), Backend: reasoning.Stub}
	}
	return reasoning.Result{Text: "Limit salt and keep taking your medication.", Backend: f.backend}
}

type fakeSearcher struct {
	results []websearch.Result
	err     error
	calls   int
}

func (f *fakeSearcher) Search(ctx context.Context, query string, maxResults int) ([]websearch.Result, error) {
	f.calls++
	return f.results, f.err
}

func evidence() []document.EvidenceChunk {
	return []document.EvidenceChunk{
		{ChunkID: "nephro_40", DocumentID: "nephro", PageNumber: 14, Score: 0.89, Text: "CKD stage 3 means a GFR of 30-59."},
		{ChunkID: "nephro_41", DocumentID: "nephro", PageNumber: 15, Score: 0.82, Text: "Monitor potassium."},
		{ChunkID: "nephro_90", DocumentID: "nephro", PageNumber: 31, Score: 0.12, Text: "Unrelated."},
	}
}

func TestHandle(t *testing.T) {
	webHit := []websearch.Result{{Title: "KDIGO 2024", URL: "https://kdigo.org/ckd", Snippet: "Updated guideline."}}

	tests := []struct {
		name      string
		retriever *fakeRetriever
		backend   reasoning.BackendUsed
		web       *fakeSearcher
		webOn     bool
		wantTypes []citation.SourceType
		wantWeb   bool
		notice    bool
	}{
		{
			name:      "confident retrieval",
			retriever: &fakeRetriever{chunks: evidence(), confident: true},
			backend:   reasoning.Primary,
			web:       &fakeSearcher{results: webHit},
			webOn:     true,
			wantTypes: []citation.SourceType{citation.SourceReference, citation.SourceReference},
		},
		{
			name:      "index unavailable with web",
			retriever: &fakeRetriever{err: fmt.Errorf("count: %w", cberrors.ErrIndexUnavailable)},
			backend:   reasoning.Fallback,
			web:       &fakeSearcher{results: webHit},
			webOn:     true,
			wantTypes: []citation.SourceType{citation.SourceWeb},
			wantWeb:   true,
			notice:    true,
		},
		{
			name:      "weak retrieval and failing web",
			retriever: &fakeRetriever{chunks: evidence()[2:], confident: false},
			backend:   reasoning.Primary,
			web:       &fakeSearcher{err: cberrors.ErrWebSearchUnavailable},
			webOn:     true,
			wantTypes: []citation.SourceType{citation.SourceWebStub},
			wantWeb:   true,
		},
		{
			name:      "web disabled",
			retriever: &fakeRetriever{confident: false},
			backend:   reasoning.Primary,
			web:       &fakeSearcher{results: webHit},
			webOn:     false,
		},
		{
			name:      "stub backend drops sources",
			retriever: &fakeRetriever{err: cberrors.ErrIndexUnavailable},
			backend:   reasoning.Stub,
			web:       &fakeSearcher{err: cberrors.ErrWebSearchUnavailable},
			webOn:     true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{backend: tt.backend}
			a := New(tt.retriever, gen,
				WithRetrieval(5, 0.3, 3),
				WithWebSearch(tt.web, tt.webOn, 5, 0),
				WithLogger(logging.Discard()),
			)
			out, err := a.Handle(context.Background(), agent.Input{Text: "What does CKD stage 3 mean?"})
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if out.Agent != agent.Clinical || out.Next != "" || out.Backend != tt.backend {
				t.Errorf("outcome = %+v", out)
			}
			if len(out.Sources) != len(tt.wantTypes) {
				t.Fatalf("sources = %+v, want types %v", out.Sources, tt.wantTypes)
			}
			for i, st := range tt.wantTypes {
				if out.Sources[i].SourceType != st {
					t.Errorf("source %d type = %s, want %s", i, out.Sources[i].SourceType, st)
				}
			}
			if out.UsedWebFallback != tt.wantWeb {
				t.Errorf("used web = %v, want %v", out.UsedWebFallback, tt.wantWeb)
			}
			if !strings.Contains(out.Response, prompt.Disclaimer) {
				t.Error("response lacks disclaimer")
			}
			if got := strings.HasPrefix(out.Response, prompt.WebNotice); got != tt.notice {
				t.Errorf("web notice = %v, want %v", got, tt.notice)
			}
			if !tt.webOn && tt.web.calls != 0 {
				t.Error("web searched while disabled")
			}
		})
	}
}

func TestHandleGroundsOnPassingChunks(t *testing.T) {
	gen := &fakeGenerator{backend: reasoning.Primary}
	a := New(&fakeRetriever{chunks: evidence(), confident: true}, gen, WithLogger(logging.Discard()))
	rec := &patient.Record{Name: "John Smith", PrimaryDiagnosis: "CKD Stage 3"}

	out, err := a.Handle(context.Background(), agent.Input{Text: "What does stage 3 mean?", State: agent.State{Patient: rec}})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		"Patient Context: John Smith, diagnosed with CKD Stage 3",
		"[Reference 1 (page 14)]:\nCKD stage 3 means a GFR of 30-59.",
		"[Reference 2 (page 15)]:\nMonitor potassium.",
	}
	if len(gen.grounding) != len(want) {
		t.Fatalf("grounding = %q", gen.grounding)
	}
	for i := range want {
		if gen.grounding[i] != want[i] {
			t.Errorf("grounding[%d] = %q, want %q", i, gen.grounding[i], want[i])
		}
	}
	if !strings.Contains(out.Response, "- nephro, page 14 (score: 0.89)\n- nephro, page 15 (score: 0.82)") {
		t.Errorf("response sources missing:\n%s", out.Response)
	}
}

func TestHandleContextChunkLimit(t *testing.T) {
	chunks := make([]document.EvidenceChunk, 6)
	for i := range chunks {
		chunks[i] = document.EvidenceChunk{DocumentID: "nephro", PageNumber: i + 1, Score: 0.9 - float64(i)*0.05}
	}
	a := New(&fakeRetriever{chunks: chunks, confident: true}, &fakeGenerator{backend: reasoning.Primary},
		WithRetrieval(6, 0.3, 2), WithLogger(logging.Discard()))

	out, err := a.Handle(context.Background(), agent.Input{Text: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Sources) != 2 || out.Sources[0].PageNumber != 1 || out.Sources[1].PageNumber != 2 {
		t.Errorf("sources = %+v", out.Sources)
	}
}

func TestHandleCitesEachChunkOfOnePage(t *testing.T) {
	chunks := []document.EvidenceChunk{
		{ChunkID: "nephro_40", DocumentID: "nephro", PageNumber: 14, ChunkIndex: 40, Score: 0.89, Text: "CKD stage 3 means a GFR of 30-59."},
		{ChunkID: "nephro_41", DocumentID: "nephro", PageNumber: 14, ChunkIndex: 41, Score: 0.81, Text: "Monitor potassium."},
	}
	a := New(&fakeRetriever{chunks: chunks, confident: true}, &fakeGenerator{backend: reasoning.Primary},
		WithLogger(logging.Discard()))

	out, err := a.Handle(context.Background(), agent.Input{Text: "What does stage 3 mean?"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Sources) != 2 {
		t.Fatalf("sources = %+v, want one per chunk", out.Sources)
	}
	if !strings.Contains(out.Response, "nephro, page 14 (score: 0.89)") ||
		!strings.Contains(out.Response, "nephro, page 14 (score: 0.81)") {
		t.Errorf("response sources missing:\n%s", out.Response)
	}
}

func TestHandleWebMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	unavailable := &fakeRetriever{err: cberrors.ErrIndexUnavailable}

	for _, s := range []websearch.Searcher{
		&fakeSearcher{results: []websearch.Result{{Title: "t", URL: "https://a", Snippet: "s"}}},
		&fakeSearcher{},
		&fakeSearcher{err: errors.New("boom")},
		nil,
	} {
		a := New(unavailable, &fakeGenerator{backend: reasoning.Primary},
			WithWebSearch(s, true, 3, 0), WithMetrics(m), WithLogger(logging.Discard()))
		if _, err := a.Handle(context.Background(), agent.Input{Text: "latest guideline"}); err != nil {
			t.Fatal(err)
		}
	}

	for outcome, want := range map[string]float64{"ok": 1, "empty": 1, "unavailable": 2} {
		if got := testutil.ToFloat64(m.WebSearches.WithLabelValues(outcome)); got != want {
			t.Errorf("web searches %s = %v, want %v", outcome, got, want)
		}
	}
}

func TestHandleCancelled(t *testing.T) {
	a := New(&fakeRetriever{confident: false}, &fakeGenerator{backend: reasoning.Primary}, WithLogger(logging.Discard()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Handle(ctx, agent.Input{Text: "q"}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

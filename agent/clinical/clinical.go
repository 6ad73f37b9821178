// Package clinical implements the agent that answers medical questions from
// the reference index, falling back to web search when the index cannot.
package clinical

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sweetpotato0/carebridge/agent"
	"github.com/sweetpotato0/carebridge/citation"
	cberrors "github.com/sweetpotato0/carebridge/errors"
	"github.com/sweetpotato0/carebridge/pkg/logging"
	"github.com/sweetpotato0/carebridge/pkg/metrics"
	"github.com/sweetpotato0/carebridge/pkg/telemetry"
	"github.com/sweetpotato0/carebridge/prompt"
	"github.com/sweetpotato0/carebridge/rag/document"
	"github.com/sweetpotato0/carebridge/reasoning"
	"github.com/sweetpotato0/carebridge/websearch"
)

var tracer = telemetry.Tracer("github.com/sweetpotato0/carebridge/agent/clinical")

// Retriever finds reference evidence for a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, minScore float64) ([]document.EvidenceChunk, bool, error)
}

// Generator produces an answer and never fails.
type Generator interface {
	Generate(ctx context.Context, prompt string, grounding []string) reasoning.Result
}

// Option customizes an Agent.
type Option func(*Agent)

// WithRetrieval sets the evidence search depth, the relevance threshold and
// how many chunks ground an answer.
func WithRetrieval(topK int, minScore float64, contextChunks int) Option {
	return func(a *Agent) {
		if topK > 0 {
			a.topK = topK
		}
		a.minScore = minScore
		if contextChunks > 0 {
			a.contextChunks = contextChunks
		}
	}
}

// WithWebSearch enables the web fallback. A nil searcher with enabled set
// still marks answers as web fallbacks, citing a single unavailable-search source.
func WithWebSearch(searcher websearch.Searcher, enabled bool, maxResults int, timeout time.Duration) Option {
	return func(a *Agent) {
		a.web = searcher
		a.webEnabled = enabled
		if maxResults > 0 {
			a.webMaxResults = maxResults
		}
		if timeout > 0 {
			a.webTimeout = timeout
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics records web search outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// Agent is the clinical agent.
type Agent struct {
	retriever Retriever
	generator Generator

	topK          int
	minScore      float64
	contextChunks int

	web           websearch.Searcher
	webEnabled    bool
	webMaxResults int
	webTimeout    time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a clinical agent. retriever may be nil when retrieval is disabled.
func New(retriever Retriever, generator Generator, opts ...Option) *Agent {
	a := &Agent{
		retriever:     retriever,
		generator:     generator,
		topK:          5,
		minScore:      0.3,
		contextChunks: 3,
		webMaxResults: 5,
		webTimeout:    10 * time.Second,
		logger:        logging.WithComponent("clinical"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns agent.Clinical.
func (a *Agent) Name() agent.Name { return agent.Clinical }

// Handle answers one question. It only fails when ctx is done.
func (a *Agent) Handle(ctx context.Context, in agent.Input) (out agent.Outcome, err error) {
	ctx, span := tracer.Start(ctx, "clinical.Handle")
	defer func() { telemetry.End(span, err) }()

	query := strings.TrimSpace(in.Text)
	evidence := a.evidence(ctx, query)

	var (
		sources []citation.Citation
		web     []websearch.Result
		usedWeb bool
	)
	switch {
	case len(evidence) > 0:
		sources = citation.FormatAll(evidence)
	case a.webEnabled:
		usedWeb = true
		web = a.search(ctx, query)
		if len(web) == 0 {
			sources = []citation.Citation{citation.WebStub()}
		}
		for _, r := range web {
			sources = append(sources, citation.Web(r.Title, r.URL))
		}
	}

	res := a.generator.Generate(ctx, prompt.ClinicalQuestion(query), prompt.Grounding(in.State.Patient, evidence, web))
	if err = ctx.Err(); err != nil {
		return agent.Outcome{}, err
	}

	if res.Backend == reasoning.Stub {
		// Canned text is not grounded in anything it could cite.
		sources = nil
		usedWeb = false
	}
	sources = citation.Dedupe(sources)

	return agent.Outcome{
		Agent:           agent.Clinical,
		Response:        compose(res.Text, sources, usedWeb),
		Sources:         sources,
		UsedWebFallback: usedWeb,
		Backend:         res.Backend,
		Reason:          agent.ReasonNone,
	}, nil
}

// evidence returns the chunks that clear the threshold, best first, or nil
// when the index is unavailable or not confident.
func (a *Agent) evidence(ctx context.Context, query string) []document.EvidenceChunk {
	if a.retriever == nil {
		return nil
	}
	chunks, confident, err := a.retriever.Retrieve(ctx, query, a.topK, a.minScore)
	if err != nil {
		if errors.Is(err, cberrors.ErrIndexUnavailable) {
			a.logger.Warn("reference index unavailable", "error", err)
		} else {
			a.logger.Error("retrieval failed", "error", err)
		}
		return nil
	}
	if !confident {
		a.logger.Info("retrieval not confident", "chunks", len(chunks))
		return nil
	}

	used := make([]document.EvidenceChunk, 0, a.contextChunks)
	for _, c := range chunks {
		if c.Score < a.minScore {
			continue
		}
		used = append(used, c)
		if len(used) == a.contextChunks {
			break
		}
	}
	return used
}

func (a *Agent) search(ctx context.Context, query string) []websearch.Result {
	if a.web == nil {
		a.metrics.ObserveWebSearch("unavailable")
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.webTimeout)
	defer cancel()

	results, err := a.web.Search(ctx, query, a.webMaxResults)
	if err != nil {
		a.logger.Warn("web search failed", "error", err)
		a.metrics.ObserveWebSearch("unavailable")
		return nil
	}
	results = websearch.Compact(results)
	if len(results) == 0 {
		a.metrics.ObserveWebSearch("empty")
		return nil
	}
	if len(results) > a.webMaxResults {
		results = results[:a.webMaxResults]
	}
	a.metrics.ObserveWebSearch("ok")
	return results
}

func compose(answer string, sources []citation.Citation, usedWeb bool) string {
	b := prompt.NewBuilder()
	if usedWeb && hasWeb(sources) {
		b.Add(prompt.WebNotice)
	}
	return b.Add(strings.TrimSpace(answer)).
		Add(citation.RenderList(sources)).
		Add(prompt.Disclaimer).
		Build()
}

func hasWeb(sources []citation.Citation) bool {
	for _, c := range sources {
		if c.SourceType == citation.SourceWeb {
			return true
		}
	}
	return false
}

// Package reasoning exposes one total generate capability over an ordered
// list of language-model backends, ending in a deterministic stub.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	cberrors "github.com/sweetpotato0/carebridge/errors"
	"github.com/sweetpotato0/carebridge/pkg/logging"
	"github.com/sweetpotato0/carebridge/pkg/metrics"
	"github.com/sweetpotato0/carebridge/pkg/telemetry"
)

var tracer = telemetry.Tracer("github.com/sweetpotato0/carebridge/reasoning")

// BackendUsed names the slot that produced a generation.
type BackendUsed string

const (
	Primary  BackendUsed = "primary"
	Fallback BackendUsed = "fallback"
	Stub     BackendUsed = "stub"
)

// Request is what a backend receives. Context entries are ordered blocks of
// grounding material placed before the prompt.
type Request struct {
	System  string
	Prompt  string
	Context []string
}

// Text joins the context blocks and the prompt into a single user message.
func (r Request) Text() string {
	if len(r.Context) == 0 {
		return r.Prompt
	}
	return strings.Join(r.Context, "\n\n") + "\n\n" + r.Prompt
}

// Backend is one language-model provider.
type Backend interface {
	Name() string
	// Available reports whether the backend is configured well enough to try.
	Available() bool
	Generate(ctx context.Context, req Request) (string, error)
}

// Result is the outcome of Selector.Generate.
type Result struct {
	Text    string
	Backend BackendUsed
	Model   string
}

// Option customizes a Selector.
type Option func(*Selector)

// WithTimeout bounds each backend attempt.
func WithTimeout(d time.Duration) Option {
	return func(s *Selector) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSystemPrompt sets the system instruction sent to every backend.
func WithSystemPrompt(p string) Option {
	return func(s *Selector) { s.system = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Selector) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Selector) { s.metrics = m }
}

// Selector tries the primary backend, then the fallback, then the stub.
// Generate never fails.
type Selector struct {
	primary  Backend
	fallback Backend
	timeout  time.Duration
	system   string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewSelector builds a selector. Either backend may be nil.
func NewSelector(primary, fallback Backend, opts ...Option) *Selector {
	s := &Selector{
		primary:  primary,
		fallback: fallback,
		timeout:  30 * time.Second,
		system:   ClinicalSystemPrompt,
		logger:   logging.WithComponent("reasoning"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Generate returns text from the first backend that succeeds. When neither
// backend produces text the result is StubResponse(prompt).
func (s *Selector) Generate(ctx context.Context, prompt string, grounding []string) Result {
	ctx, span := tracer.Start(ctx, "reasoning.Generate")
	var res Result
	defer func() {
		span.SetAttributes(attribute.String("generation.backend", string(res.Backend)))
		telemetry.End(span, nil)
	}()

	req := Request{System: s.system, Prompt: prompt, Context: grounding}
	slots := []struct {
		kind    BackendUsed
		backend Backend
	}{
		{Primary, s.primary},
		{Fallback, s.fallback},
	}
	for _, slot := range slots {
		text, err := s.try(ctx, slot.backend, req)
		if err == nil {
			res = Result{Text: text, Backend: slot.kind, Model: slot.backend.Name()}
			s.metrics.ObserveGeneration(string(res.Backend))
			return res
		}
		s.logger.Warn("generation backend failed", "slot", slot.kind, "error", err)
	}

	res = Result{Text: StubResponse(prompt), Backend: Stub, Model: "stub"}
	s.metrics.ObserveGeneration(string(Stub))
	return res
}

// Degraded reports whether no live backend is configured.
func (s *Selector) Degraded() bool {
	return !available(s.primary) && !available(s.fallback)
}

func (s *Selector) try(ctx context.Context, b Backend, req Request) (text string, err error) {
	if !available(b) {
		return "", fmt.Errorf("not configured: %w", cberrors.ErrBackendUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend %s panicked: %v: %w", b.Name(), r, cberrors.ErrBackendUnavailable)
		}
	}()

	start := time.Now()
	text, err = b.Generate(ctx, req)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty completion")
	}
	if err != nil {
		return "", fmt.Errorf("%s: %v: %w", b.Name(), err, cberrors.ErrBackendUnavailable)
	}
	s.logger.Info("generation complete", "backend", b.Name(), "latency", time.Since(start))
	return strings.TrimSpace(text), nil
}

func available(b Backend) bool {
	return b != nil && b.Available()
}

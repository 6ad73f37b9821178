// Package intake implements the agent that identifies patients and decides
// when a conversation belongs with the clinical agent.
package intake

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/sweetpotato0/carebridge/agent"
	"github.com/sweetpotato0/carebridge/config"
	"github.com/sweetpotato0/carebridge/patient"
	"github.com/sweetpotato0/carebridge/pkg/logging"
	"github.com/sweetpotato0/carebridge/prompt"
)

const defaultLookupTimeout = 5 * time.Second

// Option configures an Agent.
type Option func(*Agent)

// WithClinicalKeywords replaces the phrases that mark a message as clinical.
func WithClinicalKeywords(keywords []string) Option {
	return func(a *Agent) {
		if len(keywords) > 0 {
			a.keywords = lowerAll(keywords)
		}
	}
}

// WithExplicitPhrases replaces the phrases that request the clinical agent.
func WithExplicitPhrases(phrases []string) Option {
	return func(a *Agent) {
		if len(phrases) > 0 {
			a.explicit = lowerAll(phrases)
		}
	}
}

// WithLookupTimeout bounds each directory lookup.
func WithLookupTimeout(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.lookupTimeout = d
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

// Agent is the intake agent. It never calls retrieval or generation backends.
type Agent struct {
	directory     patient.Directory
	keywords      []string
	explicit      []string
	lookupTimeout time.Duration
	logger        *slog.Logger
}

// New creates an intake agent backed by directory.
func New(directory patient.Directory, opts ...Option) *Agent {
	a := &Agent{
		directory:     directory,
		keywords:      lowerAll(config.DefaultClinicalKeywords),
		explicit:      lowerAll(config.DefaultExplicitPhrases),
		lookupTimeout: defaultLookupTimeout,
		logger:        logging.WithComponent("intake"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns agent.Intake.
func (a *Agent) Name() agent.Name { return agent.Intake }

// Handle processes one message in the intake state.
func (a *Agent) Handle(ctx context.Context, in agent.Input) (agent.Outcome, error) {
	text := strings.TrimSpace(in.Text)
	name, hasName := ExtractName(text)
	date, hasDate := patient.FindDate(text)

	switch {
	case hasName:
		return a.identify(ctx, text, name, date)

	case in.State.PendingName != "" && hasDate:
		out, err := a.identify(ctx, text, in.State.PendingName, date)
		if err != nil {
			return out, err
		}
		if out.Response == prompt.Ambiguous {
			out.Response = prompt.StillAmbiguous
		}
		return out, nil

	case a.IsExplicitRequest(text):
		return a.forward(agent.ReasonExplicitRequest, in.State.PendingName), nil

	case a.IsClinical(text):
		return a.forward(agent.ReasonClinicalQuestion, in.State.PendingName), nil
	}

	out := agent.Outcome{Agent: agent.Intake, Reason: agent.ReasonNone, PendingName: in.State.PendingName}
	switch {
	case in.State.Patient != nil:
		out.Response = prompt.Assist
	case in.State.PendingName != "":
		out.Response = prompt.Ambiguous
	default:
		out.Response = prompt.Welcome
	}
	return out, nil
}

// Identify resolves a name mentioned in text. It reports true only when
// exactly one patient matched, returning the greeting outcome.
func (a *Agent) Identify(ctx context.Context, text string) (agent.Outcome, bool) {
	name, ok := ExtractName(text)
	if !ok {
		return agent.Outcome{}, false
	}
	date, _ := patient.FindDate(text)
	res, err := a.lookup(ctx, name, date)
	if err != nil || res.Status != patient.One {
		return agent.Outcome{}, false
	}
	return identified(res.Matches[0]), true
}

func (a *Agent) identify(ctx context.Context, text, name, date string) (agent.Outcome, error) {
	res, err := a.lookup(ctx, name, date)
	if err != nil {
		if ctx.Err() != nil {
			return agent.Outcome{}, ctx.Err()
		}
		a.logger.Warn("patient lookup failed", "error", err)
		return agent.Outcome{Agent: agent.Intake, Response: prompt.LookupFailed, Reason: agent.ReasonNone}, nil
	}

	if res.Status == patient.One {
		a.logger.Info("patient identified", "patient_id", res.Matches[0].PatientID)
		return identified(res.Matches[0]), nil
	}

	// "I am having kidney pain" reads as a name to the extractor; a failed
	// lookup on a clinical message is a clinical question.
	if a.IsClinical(text) {
		return a.forward(agent.ReasonClinicalQuestion, ""), nil
	}

	if res.Status == patient.Many {
		a.logger.Info("patient lookup ambiguous", "matches", len(res.Matches))
		return agent.Outcome{Agent: agent.Intake, Response: prompt.Ambiguous, Reason: agent.ReasonNone, PendingName: name}, nil
	}
	return agent.Outcome{Agent: agent.Intake, Response: prompt.NotFound, Reason: agent.ReasonNone}, nil
}

func (a *Agent) lookup(ctx context.Context, name, date string) (patient.LookupResult, error) {
	if a.directory == nil {
		return patient.LookupResult{Status: patient.None}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.lookupTimeout)
	defer cancel()
	return a.directory.Lookup(ctx, name, date)
}

func (a *Agent) forward(reason agent.HandoffReason, pending string) agent.Outcome {
	return agent.Outcome{
		Agent:       agent.Intake,
		Next:        agent.Clinical,
		Reason:      reason,
		Forward:     true,
		PendingName: pending,
	}
}

func identified(rec patient.Record) agent.Outcome {
	rec = rec.Clone()
	return agent.Outcome{
		Agent:    agent.Intake,
		Response: prompt.Greeting(rec),
		Next:     agent.Clinical,
		Reason:   agent.ReasonPatientIdentified,
		Patient:  &rec,
	}
}

// IsClinical reports whether text mentions any clinical keyword.
func (a *Agent) IsClinical(text string) bool {
	return containsAny(strings.ToLower(text), a.keywords)
}

// IsExplicitRequest reports whether text asks for the clinical agent.
func (a *Agent) IsExplicitRequest(text string) bool {
	return containsAny(strings.ToLower(text), a.explicit)
}

var (
	reIntroduction = regexp.MustCompile(`(?i)(?:my name is|i'm|i’m|i am|this is)\s+([\p{L}][\p{L}'’-]*(?:\s+[\p{L}][\p{L}'’-]*){0,3})`)
	reBareName     = regexp.MustCompile(`^\s*(\p{Lu}[\p{L}'’-]*(?:\s+\p{Lu}[\p{L}'’-]*){1,3})\s*[.!]?\s*$`)
)

// Words that end a name captured from running text.
var nameStops = map[string]bool{
	"and": true, "but": true, "i": true, "my": true, "from": true, "here": true,
	"again": true, "the": true, "a": true, "an": true, "was": true, "with": true,
	"discharged": true, "born": true, "on": true, "please": true,
}

// ExtractName finds a patient name in an introduction such as "my name is
// john smith" or in a message consisting only of a capitalized full name.
// Each word of the result is capitalized.
func ExtractName(text string) (string, bool) {
	var words []string
	if m := reIntroduction.FindStringSubmatch(text); m != nil {
		for _, w := range strings.Fields(m[1]) {
			if nameStops[strings.ToLower(w)] {
				break
			}
			words = append(words, w)
		}
	} else if m := reBareName.FindStringSubmatch(text); m != nil {
		words = strings.Fields(m[1])
	}
	if len(words) == 0 {
		return "", false
	}
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " "), true
}

func capitalize(w string) string {
	r, size := utf8.DecodeRuneInString(w)
	return string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

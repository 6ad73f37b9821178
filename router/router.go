// Package router owns the conversation state machine: it serializes the turns
// of each session, dispatches them to the active agent and commits the
// resulting turn and handoff atomically.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sweetpotato0/carebridge/agent"
	"github.com/sweetpotato0/carebridge/audit"
	"github.com/sweetpotato0/carebridge/citation"
	cberrors "github.com/sweetpotato0/carebridge/errors"
	"github.com/sweetpotato0/carebridge/pkg/logging"
	"github.com/sweetpotato0/carebridge/pkg/metrics"
	"github.com/sweetpotato0/carebridge/pkg/telemetry"
	"github.com/sweetpotato0/carebridge/reasoning"
	"github.com/sweetpotato0/carebridge/session"
)

var tracer = telemetry.Tracer("github.com/sweetpotato0/carebridge/router")

// FailureMessage is what a user sees when a turn fails on a programming error.
const FailureMessage = "Something went wrong while processing your message. Please try again."

// IntakeAgent handles the Intake state and resolves names in any state.
type IntakeAgent interface {
	agent.Handler
	Identify(ctx context.Context, text string) (agent.Outcome, bool)
}

// Result is the outcome of one turn.
type Result struct {
	TurnID          string     `json:"turn_id"`
	Response        string     `json:"response_text"`
	Sources         []string   `json:"sources"`
	Agent           agent.Name `json:"agent_name"`
	Handoffs        []string   `json:"handoffs"`
	UsedWebFallback bool       `json:"used_web_fallback"`
}

// Option customizes a Router.
type Option func(*Router)

// WithClock replaces the time source for turn and handoff timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator replaces the turn ID generator.
func WithIDGenerator(newID func() string) Option {
	return func(r *Router) {
		if newID != nil {
			r.newID = newID
		}
	}
}

// WithRecorder sends turn, handoff and failure events to rec.
func WithRecorder(rec *audit.Recorder) Option {
	return func(r *Router) { r.recorder = rec }
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records turn and handoff metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// Router sequences turns through the intake and clinical agents.
type Router struct {
	store    session.Store
	intake   IntakeAgent
	clinical agent.Handler
	locks    *keyedMutex

	now      func() time.Time
	newID    func() string
	recorder *audit.Recorder
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New creates a router over store.
func New(store session.Store, intake IntakeAgent, clinical agent.Handler, opts ...Option) *Router {
	r := &Router{
		store:    store,
		intake:   intake,
		clinical: clinical,
		locks:    newKeyedMutex(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		logger:   logging.WithComponent("router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// turn is the uncommitted result of advancing a session clone.
type turn struct {
	record  session.Turn
	handoff *session.HandoffRecord
	backend reasoning.BackendUsed
}

// ProcessTurn runs one user message through the session's state machine.
// Turns of one session are processed one at a time in arrival order. The
// session is only updated when the turn completes; on error nothing is
// recorded. Errors wrapping errors.ErrInvariant are programming errors and
// should be shown to the user as FailureMessage.
func (r *Router) ProcessTurn(ctx context.Context, sessionID, userID, message string) (res Result, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "router.ProcessTurn")
	defer func() {
		span.SetAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("turn.agent", string(res.Agent)),
			attribute.Int("turn.handoffs", len(res.Handoffs)),
		)
		telemetry.End(span, err)
	}()

	message = strings.TrimSpace(message)
	if sessionID == "" || userID == "" {
		return Result{}, fmt.Errorf("session and user id are required: %w", cberrors.ErrInvalidInput)
	}
	if message == "" {
		return Result{}, fmt.Errorf("empty message: %w", cberrors.ErrInvalidInput)
	}
	key := session.Key{UserID: userID, SessionID: sessionID}

	unlock, err := r.locks.Lock(ctx, key.String())
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	current, err := r.store.Load(ctx, key)
	switch {
	case errors.Is(err, cberrors.ErrNotFound):
		current = session.New(key, r.now())
		r.logger.Info("session created", "user_id", userID, "session_id", sessionID)
	case err != nil:
		return Result{}, fmt.Errorf("load session %s: %w", key, err)
	}

	next := current.Clone()
	t, err := r.advance(ctx, next, message)
	if err != nil {
		r.fail(key, current, err)
		return Result{}, err
	}
	if err = next.ValidateTrail(); err != nil {
		r.fail(key, current, err)
		return Result{}, err
	}
	if err = ctx.Err(); err != nil {
		return Result{}, err
	}
	if err = r.store.Save(ctx, next); err != nil {
		return Result{}, fmt.Errorf("save session %s: %w", key, err)
	}

	res = Result{
		TurnID:          t.record.ID,
		Response:        t.record.Response,
		Sources:         citation.RenderAll(t.record.Sources),
		Agent:           t.record.Agent,
		Handoffs:        []string{},
		UsedWebFallback: t.record.UsedWebFallback,
	}
	if t.handoff != nil {
		res.Handoffs = append(res.Handoffs, t.handoff.Label())
	}
	r.committed(key, next, t, time.Since(start))
	return res, nil
}

// advance applies one message to s, which must be a private clone.
func (r *Router) advance(ctx context.Context, s *session.Session, text string) (t turn, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("turn panicked: %v: %w", p, cberrors.ErrInvariant)
		}
	}()

	state := s.State()
	in := agent.Input{Text: text, State: state}
	pending := s.PendingName

	var out agent.Outcome
	switch s.ActiveAgent {
	case agent.Clinical:
		if id, ok := r.intake.Identify(ctx, text); ok {
			out = id
			t.handoff = &session.HandoffRecord{From: agent.Clinical, To: agent.Clinical, Reason: agent.ReasonPatientIdentified}
			break
		}
		if out, err = r.clinical.Handle(ctx, in); err != nil {
			return turn{}, err
		}

	case agent.Intake:
		if out, err = r.intake.Handle(ctx, in); err != nil {
			return turn{}, err
		}
		pending = out.PendingName
		if out.Next != "" {
			t.handoff = &session.HandoffRecord{From: agent.Intake, To: out.Next, Reason: out.Reason}
		}
		if out.Forward {
			if out.Next != agent.Clinical {
				return turn{}, fmt.Errorf("intake forwarded to %q: %w", out.Next, cberrors.ErrInvariant)
			}
			patient := out.Patient
			in.State.ActiveAgent = agent.Clinical
			if out, err = r.clinical.Handle(ctx, in); err != nil {
				return turn{}, err
			}
			out.Patient = patient
		}

	default:
		return turn{}, fmt.Errorf("unknown active agent %q: %w", s.ActiveAgent, cberrors.ErrInvariant)
	}

	if strings.TrimSpace(out.Response) == "" {
		return turn{}, fmt.Errorf("agent %s returned an empty response: %w", out.Agent, cberrors.ErrInvariant)
	}

	now := r.now()
	index := s.TurnCount
	if t.handoff != nil {
		t.handoff.TurnIndex = index
		t.handoff.Timestamp = now
		s.ActiveAgent = t.handoff.To
		s.HandoffTrail = append(s.HandoffTrail, *t.handoff)
	}
	if out.Patient != nil {
		p := out.Patient.Clone()
		s.Patient = &p
		pending = ""
	}
	s.PendingName = pending

	t.record = session.Turn{
		ID:              r.newID(),
		RawText:         text,
		Agent:           out.Agent,
		Response:        out.Response,
		Sources:         append([]citation.Citation(nil), out.Sources...),
		UsedWebFallback: out.UsedWebFallback,
		Timestamp:       now,
	}
	t.backend = out.Backend
	s.Turns = append(s.Turns, t.record)
	s.TurnCount++
	s.UpdatedAt = now
	return t, nil
}

func (r *Router) committed(key session.Key, s *session.Session, t turn, elapsed time.Duration) {
	r.metrics.ObserveTurn(string(t.record.Agent), elapsed)
	index := s.TurnCount - 1

	if h := t.handoff; h != nil {
		r.metrics.ObserveHandoff(string(h.From), string(h.To), string(h.Reason))
		r.logger.Info("handoff",
			"session_id", key.SessionID,
			"from", string(h.From),
			"to", string(h.To),
			"reason", string(h.Reason))
		r.recorder.Record(audit.Event{
			ID: r.newID(), Kind: audit.KindHandoff, Time: h.Timestamp,
			UserID: key.UserID, SessionID: key.SessionID, Agent: string(h.From),
			Fields: map[string]any{"to": string(h.To), "reason": string(h.Reason), "turn_index": index},
		})
	}

	r.recorder.Record(audit.Event{
		ID: r.newID(), Kind: audit.KindTurn, Time: t.record.Timestamp,
		UserID: key.UserID, SessionID: key.SessionID, Agent: string(t.record.Agent),
		Fields: map[string]any{
			"turn_id":           t.record.ID,
			"turn_index":        index,
			"sources":           len(t.record.Sources),
			"used_web_fallback": t.record.UsedWebFallback,
			"backend":           string(t.backend),
		},
	})

	if t.backend == reasoning.Stub || t.backend == reasoning.Fallback || t.record.UsedWebFallback {
		r.logger.Warn("turn answered in degraded mode",
			"session_id", key.SessionID,
			"backend", string(t.backend),
			"used_web_fallback", t.record.UsedWebFallback)
		r.recorder.Record(audit.Event{
			ID: r.newID(), Kind: audit.KindDegraded, Time: t.record.Timestamp,
			UserID: key.UserID, SessionID: key.SessionID, Agent: string(t.record.Agent),
			Fields: map[string]any{"backend": string(t.backend), "used_web_fallback": t.record.UsedWebFallback},
		})
	}
}

func (r *Router) fail(key session.Key, s *session.Session, err error) {
	level := slog.LevelWarn
	if errors.Is(err, cberrors.ErrInvariant) {
		level = slog.LevelError
	}
	r.logger.Log(context.Background(), level, "turn not recorded",
		"session_id", key.SessionID,
		"turn_index", s.TurnCount,
		"error", err)
	r.recorder.Record(audit.Event{
		ID: r.newID(), Kind: audit.KindTurnFailed, Time: r.now(),
		UserID: key.UserID, SessionID: key.SessionID, Agent: string(s.ActiveAgent),
		Fields: map[string]any{"error": err.Error()},
	})
}

// Session returns a copy of the stored session.
func (r *Router) Session(ctx context.Context, sessionID, userID string) (*session.Session, error) {
	return r.store.Load(ctx, session.Key{UserID: userID, SessionID: sessionID})
}

// Reset forgets a session; the next turn starts over in Intake.
func (r *Router) Reset(ctx context.Context, sessionID, userID string) error {
	key := session.Key{UserID: userID, SessionID: sessionID}
	unlock, err := r.locks.Lock(ctx, key.String())
	if err != nil {
		return err
	}
	defer unlock()
	return r.store.Delete(ctx, key)
}

// Message returns the text to show the user for a ProcessTurn error.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, cberrors.ErrInvalidInput) {
		return "Please type a message."
	}
	return FailureMessage
}

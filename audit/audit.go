// Package audit records what the assistant did: turns, handoffs, degraded
// operation and index builds.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sweetpotato0/carebridge/pkg/logging"
	"github.com/sweetpotato0/carebridge/pkg/metrics"
)

// Kind classifies an event.
type Kind string

const (
	KindTurn       Kind = "turn"
	KindHandoff    Kind = "handoff"
	KindDegraded   Kind = "degraded"
	KindTurnFailed Kind = "turn_failed"
	KindIndexBuilt Kind = "index_built"
)

// Event is one audit entry.
type Event struct {
	ID        string         `json:"id" bson:"_id"`
	Kind      Kind           `json:"kind" bson:"kind"`
	Time      time.Time      `json:"time" bson:"time"`
	UserID    string         `json:"user_id,omitempty" bson:"user_id,omitempty"`
	SessionID string         `json:"session_id,omitempty" bson:"session_id,omitempty"`
	Agent     string         `json:"agent,omitempty" bson:"agent,omitempty"`
	Fields    map[string]any `json:"fields,omitempty" bson:"fields,omitempty"`
}

// Sink persists events.
type Sink interface {
	Write(ctx context.Context, e Event) error
}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(l *slog.Logger) *LogSink {
	if l == nil {
		l = logging.WithComponent("audit")
	}
	return &LogSink{logger: l}
}

func (s *LogSink) Write(ctx context.Context, e Event) error {
	attrs := []any{
		"event_id", e.ID,
		"kind", string(e.Kind),
		"user_id", e.UserID,
		"session_id", e.SessionID,
	}
	if e.Agent != "" {
		attrs = append(attrs, "agent", e.Agent)
	}
	for k, v := range e.Fields {
		attrs = append(attrs, k, v)
	}
	s.logger.InfoContext(ctx, "audit event", attrs...)
	return nil
}

type Option func(*Recorder)

// WithBuffer sets how many events may wait for the sink.
func WithBuffer(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.buffer = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithWriteTimeout bounds each sink write.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// Recorder forwards events to a sink from a background goroutine. Record
// never blocks: when the buffer is full the event is dropped and counted.
// A nil *Recorder discards everything.
type Recorder struct {
	sink         Sink
	buffer       int
	writeTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	events chan Event
	done   chan struct{}
}

// NewRecorder starts a recorder writing to sink.
func NewRecorder(sink Sink, opts ...Option) *Recorder {
	r := &Recorder{
		sink:         sink,
		buffer:       256,
		writeTimeout: 5 * time.Second,
		logger:       logging.WithComponent("audit"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.events = make(chan Event, r.buffer)
	r.done = make(chan struct{})
	go r.run()
	return r
}

// Record enqueues e. It reports whether the event was accepted.
func (r *Recorder) Record(e Event) bool {
	if r == nil {
		return false
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.events <- e:
		return true
	default:
		r.metrics.IncEventsDropped()
		r.logger.Warn("audit buffer full, dropping event", "kind", string(e.Kind), "session_id", e.SessionID)
		return false
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		if err := r.sink.Write(ctx, e); err != nil {
			r.logger.Error("failed to write audit event", "kind", string(e.Kind), "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits until the buffered ones are
// written or ctx is done.
func (r *Recorder) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

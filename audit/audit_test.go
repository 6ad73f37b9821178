package audit

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sweetpotato0/carebridge/pkg/logging"
	"github.com/sweetpotato0/carebridge/pkg/metrics"
)

type memorySink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (s *memorySink) Write(ctx context.Context, e Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *memorySink) kinds() []Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Kind, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

func TestRecorderDeliversInOrder(t *testing.T) {
	sink := &memorySink{}
	r := NewRecorder(sink, WithLogger(logging.Discard()))

	for _, k := range []Kind{KindTurn, KindHandoff, KindDegraded} {
		if !r.Record(Event{Kind: k, SessionID: "s1"}) {
			t.Fatalf("Record(%s) rejected", k)
		}
	}
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := sink.kinds()
	want := []Kind{KindTurn, KindHandoff, KindDegraded}
	if len(got) != len(want) {
		t.Fatalf("events = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
	if sink.events[0].Time.IsZero() {
		t.Error("event time not stamped")
	}

	if r.Record(Event{Kind: KindTurn}) {
		t.Error("Record accepted after Close")
	}
}

func TestRecorderDropsWhenFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	sink := &memorySink{block: make(chan struct{})}
	r := NewRecorder(sink, WithBuffer(1), WithMetrics(m), WithLogger(logging.Discard()))

	// The writer holds one event while blocked; one more fits the buffer.
	accepted := 0
	for range 10 {
		if r.Record(Event{Kind: KindTurn}) {
			accepted++
		}
	}
	if accepted < 1 || accepted > 2 {
		t.Errorf("accepted = %d, want 1 or 2", accepted)
	}
	if dropped := testutil.ToFloat64(m.EventsDropped); int(dropped) != 10-accepted {
		t.Errorf("dropped = %v, want %d", dropped, 10-accepted)
	}

	close(sink.block)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(sink.kinds()) != accepted {
		t.Errorf("written = %d, want %d", len(sink.kinds()), accepted)
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	if r.Record(Event{Kind: KindTurn}) {
		t.Error("nil recorder accepted an event")
	}
	if err := r.Close(context.Background()); err != nil {
		t.Error(err)
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(logging.New(&buf, "json", "info"))
	err := sink.Write(context.Background(), Event{
		ID: "e1", Kind: KindHandoff, UserID: "u1", SessionID: "s1", Agent: "Intake",
		Fields: map[string]any{"reason": "patient_identified"},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"kind":"handoff"`, `"session_id":"s1"`, `"reason":"patient_identified"`, `"agent":"Intake"`} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log line %s lacks %s", buf.String(), want)
		}
	}
}

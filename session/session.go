// Package session holds the per-conversation state the router advances one
// turn at a time.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/sweetpotato0/carebridge/agent"
	"github.com/sweetpotato0/carebridge/citation"
	cberrors "github.com/sweetpotato0/carebridge/errors"
	"github.com/sweetpotato0/carebridge/patient"
)

// Key identifies a session. The same session id under two users names two sessions.
type Key struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func (k Key) String() string {
	return k.UserID + "/" + k.SessionID
}

// Turn is one user message and the response to it. Immutable once recorded.
type Turn struct {
	ID              string              `json:"id"`
	RawText         string              `json:"raw_text"`
	Agent           agent.Name          `json:"agent_name"`
	Response        string              `json:"response_text"`
	Sources         []citation.Citation `json:"sources"`
	UsedWebFallback bool                `json:"used_web_fallback"`
	Timestamp       time.Time           `json:"timestamp"`
}

// HandoffRecord is one transition of control. TurnIndex is the zero-based
// turn during which it happened.
type HandoffRecord struct {
	From      agent.Name          `json:"from_agent"`
	To        agent.Name          `json:"to_agent"`
	Reason    agent.HandoffReason `json:"reason"`
	TurnIndex int                 `json:"turn_index"`
	Timestamp time.Time           `json:"timestamp"`
}

// Label renders the record as "From->To".
func (h HandoffRecord) Label() string {
	return string(h.From) + "->" + string(h.To)
}

// Session is the state of one conversation. Only the router mutates it, and
// only on a private clone that replaces the stored value when a turn commits.
type Session struct {
	Key          Key             `json:"key"`
	ActiveAgent  agent.Name      `json:"active_agent"`
	Patient      *patient.Record `json:"patient_context,omitempty"`
	PendingName  string          `json:"pending_name,omitempty"`
	TurnCount    int             `json:"turn_count"`
	HandoffTrail []HandoffRecord `json:"handoff_trail"`
	Turns        []Turn          `json:"turns"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// New creates a session in the Intake state.
func New(key Key, now time.Time) *Session {
	return &Session{
		Key:         key,
		ActiveAgent: agent.Intake,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Patient != nil {
		p := s.Patient.Clone()
		c.Patient = &p
	}
	c.HandoffTrail = append([]HandoffRecord(nil), s.HandoffTrail...)
	c.Turns = make([]Turn, len(s.Turns))
	for i, t := range s.Turns {
		t.Sources = append([]citation.Citation(nil), t.Sources...)
		c.Turns[i] = t
	}
	return &c
}

// State is the read-only view handed to agents.
func (s *Session) State() agent.State {
	st := agent.State{
		UserID:      s.Key.UserID,
		SessionID:   s.Key.SessionID,
		ActiveAgent: s.ActiveAgent,
		PendingName: s.PendingName,
		TurnCount:   s.TurnCount,
	}
	if s.Patient != nil {
		p := s.Patient.Clone()
		st.Patient = &p
	}
	return st
}

// Allowed reports whether from->to is an edge of the agent transition graph
// for the given reason.
func Allowed(from, to agent.Name, reason agent.HandoffReason) bool {
	switch {
	case from == agent.Intake && to == agent.Clinical:
		return reason == agent.ReasonPatientIdentified ||
			reason == agent.ReasonClinicalQuestion ||
			reason == agent.ReasonExplicitRequest
	case from == agent.Clinical && to == agent.Clinical:
		return reason == agent.ReasonPatientIdentified
	case from == agent.Intake && to == agent.Intake:
		return reason.Valid()
	}
	return false
}

// ValidateTrail checks that the handoff trail is a walk on the transition
// graph starting at Intake and ending at the active agent, with at most one
// handoff per turn. Violations wrap errors.ErrInvariant.
func (s *Session) ValidateTrail() error {
	if !s.ActiveAgent.Valid() {
		return fmt.Errorf("session %s: unknown active agent %q: %w", s.Key, s.ActiveAgent, cberrors.ErrInvariant)
	}
	if s.TurnCount != len(s.Turns) {
		return fmt.Errorf("session %s: turn count %d but %d turns: %w", s.Key, s.TurnCount, len(s.Turns), cberrors.ErrInvariant)
	}

	at := agent.Intake
	lastTurn := -1
	for i, h := range s.HandoffTrail {
		if h.From != at {
			return fmt.Errorf("session %s: handoff %d leaves %s while at %s: %w", s.Key, i, h.From, at, cberrors.ErrInvariant)
		}
		if !Allowed(h.From, h.To, h.Reason) {
			return fmt.Errorf("session %s: handoff %d %s (%s) not allowed: %w", s.Key, i, h.Label(), h.Reason, cberrors.ErrInvariant)
		}
		if h.TurnIndex <= lastTurn || h.TurnIndex >= s.TurnCount {
			return fmt.Errorf("session %s: handoff %d at turn %d out of order: %w", s.Key, i, h.TurnIndex, cberrors.ErrInvariant)
		}
		at, lastTurn = h.To, h.TurnIndex
	}
	if at != s.ActiveAgent {
		return fmt.Errorf("session %s: trail ends at %s but active agent is %s: %w", s.Key, at, s.ActiveAgent, cberrors.ErrInvariant)
	}
	if s.Patient != nil && s.ActiveAgent != agent.Clinical {
		return fmt.Errorf("session %s: identified patient outside clinical state: %w", s.Key, cberrors.ErrInvariant)
	}
	return nil
}

// Store persists sessions. Load returns an error wrapping errors.ErrNotFound
// for unknown keys. Implementations store copies.
type Store interface {
	Load(ctx context.Context, key Key) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, key Key) error
	Count(ctx context.Context) (int, error)
}

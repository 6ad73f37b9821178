// Package agent defines the conversational agents a session is routed between
// and the outcome each one reports back to the router.
package agent

import (
	"context"

	"github.com/sweetpotato0/carebridge/citation"
	"github.com/sweetpotato0/carebridge/patient"
	"github.com/sweetpotato0/carebridge/reasoning"
)

// Name identifies an agent.
type Name string

const (
	Intake   Name = "Intake"
	Clinical Name = "Clinical"
)

// Valid reports whether n names a known agent.
func (n Name) Valid() bool {
	return n == Intake || n == Clinical
}

// HandoffReason says why control moved between agents.
type HandoffReason string

const (
	ReasonPatientIdentified HandoffReason = "patient_identified"
	ReasonClinicalQuestion  HandoffReason = "clinical_question"
	ReasonExplicitRequest   HandoffReason = "explicit_request"
	ReasonNone              HandoffReason = "none"
)

// Valid reports whether r is a known reason.
func (r HandoffReason) Valid() bool {
	switch r {
	case ReasonPatientIdentified, ReasonClinicalQuestion, ReasonExplicitRequest, ReasonNone:
		return true
	}
	return false
}

// State is the read-only view of a session an agent works from. Agents never
// mutate it; changes are reported through Outcome and applied by the router.
type State struct {
	UserID      string
	SessionID   string
	ActiveAgent Name
	Patient     *patient.Record
	PendingName string
	TurnCount   int
}

// Input is one user message addressed to an agent.
type Input struct {
	Text  string
	State State
}

// Outcome is an agent's answer to one message.
type Outcome struct {
	// Agent is the agent that produced Response.
	Agent    Name
	Response string

	Sources         []citation.Citation
	UsedWebFallback bool
	Backend         reasoning.BackendUsed

	// Next is the agent the session should move to; empty keeps the current one.
	Next   Name
	Reason HandoffReason
	// Forward asks the router to hand this same message to Next, whose
	// response replaces Response.
	Forward bool

	// Patient is set when the message identified a patient.
	Patient *patient.Record
	// PendingName is the ambiguous name awaiting a disambiguating date.
	PendingName string
}

// Handler is an agent.
type Handler interface {
	Name() Name
	Handle(ctx context.Context, in Input) (Outcome, error)
}

package prompt

import (
	"strings"

	"github.com/sweetpotato0/carebridge/patient"
)

const (
	NotFound = "I couldn't find a patient with that name in our system. Could you please verify the spelling?"

	Ambiguous = "I found more than one patient with that name. To make sure I have the right record, " +
		"could you tell me your date of birth or your discharge date?"

	Welcome = "Hello! I'm your post-discharge care assistant. To look up your discharge record, " +
		"could you tell me your full name? If you have a medical question, you can also ask it right away."

	StillAmbiguous = "I still found more than one matching record. Could you share your full name " +
		"together with your date of birth?"

	LookupFailed = "I'm having trouble reaching patient records right now. Could you try again in a moment?"

	// Assist answers an identified patient whose message needs no clinical agent.
	Assist = "I'm here to help with questions about your recovery. What would you like to know?"
)

var greeting = MustTemplate("greeting", `Hello {{.Name}}! I found your discharge record from {{.DischargeDate}}.

I see you were discharged with a diagnosis of {{.PrimaryDiagnosis}}.
{{- if .Medications}}

How are you managing your medications? Are you experiencing any issues?
{{- end}}
{{- if .WarningSigns}}

Are you experiencing any of the warning signs we discussed?
{{- end}}
{{- if .NextAppointment}}

Reminder: Your next appointment is scheduled for {{.NextAppointment}}.
{{- end}}

How can I help you today?`)

// Greeting confirms an identified patient's discharge record.
func Greeting(rec patient.Record) string {
	out, err := greeting.Render(rec)
	if err != nil {
		// Record fields are plain strings and slices; rendering cannot fail.
		return "Hello " + rec.Name + "! How can I help you today?"
	}
	return strings.TrimSpace(out)
}

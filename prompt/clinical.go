package prompt

import (
	"fmt"

	"github.com/sweetpotato0/carebridge/patient"
	"github.com/sweetpotato0/carebridge/rag/document"
	"github.com/sweetpotato0/carebridge/websearch"
)

// Disclaimer is appended to every clinical answer.
const Disclaimer = "This assistant is for educational purposes only. Always consult healthcare professionals for medical advice."

// WebNotice opens answers that used web material.
const WebNotice = "*This answer includes recent information from web sources.*"

const clinicalInstructions = `Please provide a clear, evidence-based answer to the user's query.

Instructions:
1. Use the reference information provided above
2. Include inline citations like [Ref p.14]
3. Mention web material as (Web Source)
4. Keep language clear and patient-friendly
5. Say so if the information is limited`

// ClinicalQuestion wraps the patient's question with answering instructions.
func ClinicalQuestion(query string) string {
	return "User Query: " + query + "\n\n" + clinicalInstructions
}

// PatientContext describes the identified patient in one line.
func PatientContext(rec *patient.Record) string {
	if rec == nil {
		return ""
	}
	return fmt.Sprintf("Patient Context: %s, diagnosed with %s", rec.Name, rec.PrimaryDiagnosis)
}

// Reference renders the i-th (1-based) evidence chunk for the backend.
func Reference(i int, chunk document.EvidenceChunk) string {
	return fmt.Sprintf("[Reference %d (page %d)]:\n%s", i, chunk.PageNumber, chunk.Text)
}

// WebResult renders the i-th (1-based) web result for the backend.
func WebResult(i int, r websearch.Result) string {
	return fmt.Sprintf("[Web Result %d]:\nTitle: %s\nURL: %s\nContent: %s", i, r.Title, r.URL, r.Snippet)
}

// Grounding returns the ordered context blocks for a clinical question.
func Grounding(rec *patient.Record, evidence []document.EvidenceChunk, web []websearch.Result) []string {
	b := NewBuilder().Add(PatientContext(rec))
	for i, c := range evidence {
		b.Add(Reference(i+1, c))
	}
	for i, r := range web {
		b.Add(WebResult(i+1, r))
	}
	return b.Parts()
}

package reasoning

import (
	"strings"
	"unicode"
)

// ClinicalSystemPrompt instructs backends answering clinical questions.
const ClinicalSystemPrompt = `You are a clinical assistant providing evidence-based medical information to post-discharge patients.

Answer using the reference material provided. Cite references inline as [Ref p.X] and label web
material as (Web Source). Keep language clear and patient-friendly, acknowledge uncertainty when the
material is limited, and never make a diagnosis or prescribe treatment.`

const stubDefault = "I'm currently unable to access my medical knowledge base. " +
	"Both primary and fallback language model services are unavailable. " +
	"For actual medical advice, please consult your healthcare provider."

// stubRules are checked in order; the first rule with a matching keyword wins.
var stubRules = []struct {
	keywords []string
	text     string
}{
	{
		keywords: []string{"chest pain", "shortness of breath", "can't breathe", "fainted", "emergency", "bleeding"},
		text: "Symptoms like these can be serious. If you are experiencing them now, call emergency services " +
			"or go to the nearest emergency department. My medical knowledge base is currently unavailable.",
	},
	{
		keywords: []string{"kidney", "renal", "dialysis", "creatinine", "gfr"},
		text: "I'm currently unable to access my medical knowledge base to answer questions about kidney health. " +
			"Please review the warning signs in your discharge instructions and contact your nephrology team " +
			"if you notice swelling, reduced urine output or unusual fatigue.",
	},
	{
		keywords: []string{"medication", "medicine", "dose", "pill", "tablet", "side effect"},
		text: "I'm currently unable to access my medical knowledge base to answer medication questions. " +
			"Please follow the medication list in your discharge summary and ask your pharmacist or doctor " +
			"before changing any dose.",
	},
	{
		keywords: []string{"diet", "food", "eat", "salt", "sodium", "potassium", "fluid"},
		text: "I'm currently unable to access my medical knowledge base to answer diet questions. " +
			"Please follow the dietary guidance in your discharge instructions and ask your care team " +
			"for a referral to a dietitian.",
	},
}

// StubResponse is the deterministic answer used when no backend is available.
// Equal prompts always give equal text. Keywords match at the start of a word,
// so "eat" matches "eating" but not "treatment".
func StubResponse(prompt string) string {
	words := " " + strings.Join(strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	}), " ")
	for _, rule := range stubRules {
		for _, kw := range rule.keywords {
			if strings.Contains(words, " "+kw) {
				return rule.text
			}
		}
	}
	return stubDefault
}

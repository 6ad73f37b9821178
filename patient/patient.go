// Package patient defines discharge records and the lookup-by-name capability.
package patient

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Record is a snapshot of one patient's discharge information.
type Record struct {
	PatientID            string   `json:"patient_id"`
	Name                 string   `json:"name"`
	DateOfBirth          string   `json:"date_of_birth,omitempty"`
	AdmissionDate        string   `json:"admission_date,omitempty"`
	DischargeDate        string   `json:"discharge_date"`
	PrimaryDiagnosis     string   `json:"primary_diagnosis"`
	SecondaryDiagnoses   []string `json:"secondary_diagnoses,omitempty"`
	Procedures           []string `json:"procedures,omitempty"`
	Medications          []string `json:"medications,omitempty"`
	WarningSigns         []string `json:"warning_signs,omitempty"`
	FollowUpInstructions []string `json:"follow_up_instructions,omitempty"`
	NextAppointment      string   `json:"next_appointment,omitempty"`
	DischargeSummary     string   `json:"discharge_summary,omitempty"`
}

// Clone returns a copy that shares no slices with r.
func (r Record) Clone() Record {
	out := r
	out.SecondaryDiagnoses = cloneStrings(r.SecondaryDiagnoses)
	out.Procedures = cloneStrings(r.Procedures)
	out.Medications = cloneStrings(r.Medications)
	out.WarningSigns = cloneStrings(r.WarningSigns)
	out.FollowUpInstructions = cloneStrings(r.FollowUpInstructions)
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

// Status classifies a lookup.
type Status string

const (
	None Status = "none"
	One  Status = "one"
	Many Status = "many"
)

// LookupResult carries the matches of a lookup. Matches has exactly one
// element when Status is One.
type LookupResult struct {
	Status  Status
	Matches []Record
}

// ResultOf builds a LookupResult from a match list.
func ResultOf(matches []Record) LookupResult {
	switch len(matches) {
	case 0:
		return LookupResult{Status: None}
	case 1:
		return LookupResult{Status: One, Matches: matches}
	default:
		return LookupResult{Status: Many, Matches: matches}
	}
}

// Directory finds patients by name. A non-empty disambiguator is a date of
// birth or discharge date that narrows the matches.
type Directory interface {
	Lookup(ctx context.Context, name, disambiguator string) (LookupResult, error)
}

var dateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"01/02/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// ParseDate accepts ISO dates, M/D/YYYY and written month names.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var reDate = regexp.MustCompile(`(?i)\b(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4}|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.? \d{1,2},? \d{4})\b`)

// FindDate returns the first date mentioned in text, in the form it was written.
func FindDate(text string) (string, bool) {
	m := reDate.FindString(text)
	if m == "" {
		return "", false
	}
	if _, ok := ParseDate(normalizeWritten(m)); !ok {
		return "", false
	}
	return m, true
}

// MatchesDate reports whether the record's date of birth or discharge date
// equals the date written in s.
func (r Record) MatchesDate(s string) bool {
	want, ok := ParseDate(normalizeWritten(s))
	if !ok {
		return false
	}
	for _, field := range []string{r.DateOfBirth, r.DischargeDate} {
		if got, ok := ParseDate(field); ok && got.Equal(want) {
			return true
		}
	}
	return false
}

// normalizeWritten maps "sept. 3 2024" style input onto a layout ParseDate knows.
func normalizeWritten(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s[0] >= '0' && s[0] <= '9' {
		return s
	}
	fields := strings.Fields(strings.NewReplacer(",", " ", ".", " ").Replace(s))
	if len(fields) != 3 || len(fields[0]) < 3 {
		return s
	}
	month := strings.ToUpper(fields[0][:1]) + strings.ToLower(fields[0][1:3])
	return month + " " + fields[1] + ", " + fields[2]
}

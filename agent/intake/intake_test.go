package intake

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sweetpotato0/carebridge/agent"
	"github.com/sweetpotato0/carebridge/patient"
	"github.com/sweetpotato0/carebridge/pkg/logging"
	"github.com/sweetpotato0/carebridge/prompt"
)

type fakeDirectory struct {
	records []patient.Record
	err     error
	calls   []string
}

func (f *fakeDirectory) Lookup(ctx context.Context, name, disambiguator string) (patient.LookupResult, error) {
	f.calls = append(f.calls, name+"|"+disambiguator)
	if f.err != nil {
		return patient.LookupResult{}, f.err
	}
	var out []patient.Record
	for _, r := range f.records {
		if !strings.Contains(strings.ToLower(r.Name), strings.ToLower(name)) {
			continue
		}
		if disambiguator != "" && !r.MatchesDate(disambiguator) {
			continue
		}
		out = append(out, r.Clone())
	}
	return patient.ResultOf(out), nil
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{records: []patient.Record{
		{PatientID: "P001", Name: "John Smith", DateOfBirth: "1958-03-14", DischargeDate: "2025-01-10", PrimaryDiagnosis: "Chronic Kidney Disease Stage 3"},
		{PatientID: "P002", Name: "John Doe", DateOfBirth: "1970-07-01", DischargeDate: "2025-02-02", PrimaryDiagnosis: "Acute Kidney Injury"},
		{PatientID: "P003", Name: "John Carter", DateOfBirth: "1981-11-23", DischargeDate: "2025-02-20", PrimaryDiagnosis: "Nephrotic Syndrome"},
	}}
}

func TestExtractName(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"Hi, my name is John Smith", "John Smith", true},
		{"my name is john smith", "John Smith", true},
		{"I'm maria garcia and I was discharged last week", "Maria Garcia", true},
		{"This is Ana Lima, born 1/2/1960", "Ana Lima", true},
		{"John Smith", "John Smith", true},
		{"John Smith.", "John Smith", true},
		{"john smith", "", false},
		{"What is GFR?", "", false},
		{"Hello", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := ExtractName(tt.text)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ExtractName(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		state       agent.State
		wantNext    agent.Name
		wantReason  agent.HandoffReason
		wantForward bool
		wantText    string
		wantPending string
		wantPatient string
	}{
		{
			name:        "unique patient",
			text:        "Hi, my name is John Smith",
			wantNext:    agent.Clinical,
			wantReason:  agent.ReasonPatientIdentified,
			wantPatient: "P001",
		},
		{
			name:        "ambiguous name",
			text:        "My name is John",
			wantReason:  agent.ReasonNone,
			wantText:    prompt.Ambiguous,
			wantPending: "John",
		},
		{
			name:       "unknown name",
			text:       "my name is Zed Zulu",
			wantReason: agent.ReasonNone,
			wantText:   prompt.NotFound,
		},
		{
			name:        "date resolves pending name",
			text:        "My birthday is 1970-07-01",
			state:       agent.State{PendingName: "John"},
			wantNext:    agent.Clinical,
			wantReason:  agent.ReasonPatientIdentified,
			wantPatient: "P002",
		},
		{
			name:       "date matches nobody",
			text:       "1999-01-01",
			state:      agent.State{PendingName: "John"},
			wantReason: agent.ReasonNone,
			wantText:   prompt.NotFound,
		},
		{
			name:        "clinical question",
			text:        "What is chronic kidney disease?",
			wantNext:    agent.Clinical,
			wantReason:  agent.ReasonClinicalQuestion,
			wantForward: true,
		},
		{
			name:        "symptom phrased as introduction",
			text:        "I am having swelling in my legs",
			wantNext:    agent.Clinical,
			wantReason:  agent.ReasonClinicalQuestion,
			wantForward: true,
		},
		{
			name:        "explicit request",
			text:        "Can I talk to a doctor?",
			wantNext:    agent.Clinical,
			wantReason:  agent.ReasonExplicitRequest,
			wantForward: true,
		},
		{
			name:       "greeting",
			text:       "hello",
			wantReason: agent.ReasonNone,
			wantText:   prompt.Welcome,
		},
		{
			name:        "chatter while pending",
			text:        "hmm",
			state:       agent.State{PendingName: "John"},
			wantReason:  agent.ReasonNone,
			wantText:    prompt.Ambiguous,
			wantPending: "John",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(newDirectory(), WithLogger(logging.Discard()))
			out, err := a.Handle(context.Background(), agent.Input{Text: tt.text, State: tt.state})
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if out.Agent != agent.Intake {
				t.Errorf("agent = %s", out.Agent)
			}
			if out.Next != tt.wantNext || out.Reason != tt.wantReason || out.Forward != tt.wantForward {
				t.Errorf("next=%q reason=%q forward=%v, want %q %q %v", out.Next, out.Reason, out.Forward, tt.wantNext, tt.wantReason, tt.wantForward)
			}
			if tt.wantText != "" && out.Response != tt.wantText {
				t.Errorf("response = %q, want %q", out.Response, tt.wantText)
			}
			if out.PendingName != tt.wantPending {
				t.Errorf("pending = %q, want %q", out.PendingName, tt.wantPending)
			}
			if tt.wantPatient == "" {
				if out.Patient != nil {
					t.Errorf("unexpected patient %s", out.Patient.PatientID)
				}
				return
			}
			if out.Patient == nil || out.Patient.PatientID != tt.wantPatient {
				t.Fatalf("patient = %+v, want %s", out.Patient, tt.wantPatient)
			}
			if out.Response != prompt.Greeting(*out.Patient) {
				t.Errorf("response is not the greeting: %q", out.Response)
			}
		})
	}
}

func TestHandleLookupFailure(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("connection refused")}
	a := New(dir, WithLogger(logging.Discard()))

	out, err := a.Handle(context.Background(), agent.Input{Text: "my name is John Smith"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Response != prompt.LookupFailed || out.Next != "" {
		t.Errorf("outcome = %+v", out)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Handle(ctx, agent.Input{Text: "my name is John Smith"}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled Handle err = %v", err)
	}
}

func TestIdentify(t *testing.T) {
	a := New(newDirectory(), WithLogger(logging.Discard()))

	if out, ok := a.Identify(context.Background(), "I am John Carter"); !ok || out.Patient.PatientID != "P003" {
		t.Errorf("Identify unique = %+v, %v", out, ok)
	}
	if _, ok := a.Identify(context.Background(), "my name is John"); ok {
		t.Error("ambiguous name identified")
	}
	if _, ok := a.Identify(context.Background(), "what about potassium?"); ok {
		t.Error("message without a name identified")
	}
}

func TestCustomKeywords(t *testing.T) {
	a := New(nil, WithClinicalKeywords([]string{"Potassium"}), WithExplicitPhrases([]string{"Nurse Please"}), WithLogger(logging.Discard()))
	if !a.IsClinical("how much POTASSIUM is ok") {
		t.Error("custom keyword not matched")
	}
	if a.IsClinical("what is gfr") {
		t.Error("default keywords still active")
	}
	if !a.IsExplicitRequest("nurse please!") {
		t.Error("custom explicit phrase not matched")
	}
}

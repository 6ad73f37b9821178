package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/sweetpotato0/carebridge/agent"
	"github.com/sweetpotato0/carebridge/config"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	patients := filepath.Join(dir, "patients")
	docs := filepath.Join(dir, "docs")
	for _, d := range []string{patients, docs} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	files := map[string]string{
		filepath.Join(patients, "p010.json"): `{"patient_id":"P010","name":"Ana Lima","discharge_date":"2025-04-04","primary_diagnosis":"CKD Stage 4"}`,
		filepath.Join(docs, "ckd.txt"): "Chronic kidney disease is a gradual loss of kidney function. " +
			"Patients should watch for swelling in the legs and report it to their nephrologist.",
		filepath.Join(dir, "config.yaml"): strings.Join([]string{
			"log:",
			"  level: error",
			"rag:",
			"  index_path: " + filepath.Join(dir, "index.json"),
			"  min_score: 0.1",
			"llm:",
			"  primary:",
			"    provider: none",
			"  fallback:",
			"    provider: none",
			"web_search:",
			"  enabled: false",
			"patients:",
			"  dir: " + patients,
			"  fuzzy: false",
			"audit:",
			"  sink: log",
			"",
		}, "\n"),
	}
	for path, body := range files {
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return filepath.Join(dir, "config.yaml"), docs
}

func TestIndexCommand(t *testing.T) {
	cfgPath, docs := writeConfig(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", cfgPath, "index", docs})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("index: %v", err)
	}
	if !strings.Contains(out.String(), "from 1 documents") {
		t.Errorf("output = %q", out.String())
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(cfg.RAG.IndexPath); err != nil {
		t.Errorf("index not persisted: %v", err)
	}
}

func TestAppConversation(t *testing.T) {
	cfgPath, docs := writeConfig(t)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close(ctx)

	if _, err := a.indexer.Build(ctx, docs); err != nil {
		t.Fatalf("Build: %v", err)
	}

	steps := []struct {
		message  string
		agent    agent.Name
		handoffs []string
	}{
		{"Hello", agent.Intake, []string{}},
		{"My name is Ana Lima", agent.Intake, []string{"Intake->Clinical"}},
		{"Is swelling in my legs a concern?", agent.Clinical, []string{}},
	}
	for _, step := range steps {
		res, err := a.router.ProcessTurn(ctx, "s1", "u1", step.message)
		if err != nil {
			t.Fatalf("%q: %v", step.message, err)
		}
		if res.Agent != step.agent || !reflect.DeepEqual(res.Handoffs, step.handoffs) {
			t.Errorf("%q: agent %s handoffs %v, want %s %v", step.message, res.Agent, res.Handoffs, step.agent, step.handoffs)
		}
		if strings.TrimSpace(res.Response) == "" {
			t.Errorf("%q: empty response", step.message)
		}
	}

	s, err := a.router.Session(ctx, "s1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if s.TurnCount != 3 || s.Patient == nil || s.Patient.PatientID != "P010" {
		t.Errorf("session = %+v", s)
	}
}

func TestNewBackend(t *testing.T) {
	a := &app{cfg: &config.Config{LLM: config.LLMConfig{MaxTokens: 256, Temperature: 0.2}}}
	for _, provider := range []string{"gemini", "claude", "openai", "groq"} {
		b, err := a.newBackend(config.BackendConfig{Provider: provider, Model: "m"})
		if err != nil || b == nil {
			t.Fatalf("%s: backend %v, err %v", provider, b, err)
		}
		if b.Available() {
			t.Errorf("%s: available without an api key", provider)
		}
	}
	if b, err := a.newBackend(config.BackendConfig{Provider: "none"}); b != nil || err != nil {
		t.Errorf("none: %v, %v", b, err)
	}
	if _, err := a.newBackend(config.BackendConfig{Provider: "bogus"}); err == nil {
		t.Error("unknown provider accepted")
	}
	_ = a.Close(context.Background())
}

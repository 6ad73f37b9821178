package tavily

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	cberrors "github.com/sweetpotato0/carebridge/errors"
	"github.com/sweetpotato0/carebridge/pkg/logging"
)

func TestSearch(t *testing.T) {
	var got searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"title":" KDIGO 2024 ","url":"https://kdigo.org/ckd","content":"<p>CKD guideline update.</p>"},
			{"title":"dup","url":"https://kdigo.org/ckd","content":"again"},
			{"title":"empty","url":"https://example.org","content":"  "}
		]}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", BaseURL: srv.URL, Logger: logging.Discard()})
	results, err := c.Search(context.Background(), "latest CKD guidelines", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got.APIKey != "k" || got.MaxResults != 3 || got.SearchDepth != "basic" || got.Query != "latest CKD guidelines" {
		t.Errorf("request = %+v", got)
	}
	if len(results) != 1 {
		t.Fatalf("results = %+v, want 1", results)
	}
	if results[0].Title != "KDIGO 2024" || results[0].Snippet != "CKD guideline update." {
		t.Errorf("result = %+v", results[0])
	}
}

func TestSearchUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing key", Config{BaseURL: srv.URL}},
		{"error status", Config{APIKey: "k", BaseURL: srv.URL}},
		{"unreachable", Config{APIKey: "k", BaseURL: "http://127.0.0.1:0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logger = logging.Discard()
			_, err := New(tt.cfg).Search(context.Background(), "q", 3)
			if !errors.Is(err, cberrors.ErrWebSearchUnavailable) {
				t.Fatalf("err = %v, want ErrWebSearchUnavailable", err)
			}
		})
	}
}

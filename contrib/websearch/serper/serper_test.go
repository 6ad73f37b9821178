package serper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	cberrors "github.com/sweetpotato0/carebridge/errors"
)

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"organic":[
			{"title":"Low potassium diet","link":"https://kidney.org/diet","snippet":"Avoid bananas and oranges."},
			{"title":"Dialysis","link":"https://kidney.org/dialysis","snippet":"Dialysis filters blood."}
		]}`))
	}))
	defer srv.Close()

	results, err := Search{APIKey: "secret", BaseURL: srv.URL}.Search(context.Background(), "potassium diet", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].URL != "https://kidney.org/diet" {
		t.Fatalf("results = %+v", results)
	}

	_, err = Search{APIKey: "wrong", BaseURL: srv.URL}.Search(context.Background(), "q", 1)
	if !errors.Is(err, cberrors.ErrWebSearchUnavailable) {
		t.Fatalf("err = %v, want ErrWebSearchUnavailable", err)
	}
}

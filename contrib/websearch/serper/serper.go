// Package serper is a web search client for the serper.dev Google search API.
package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	cberrors "github.com/sweetpotato0/carebridge/errors"
	"github.com/sweetpotato0/carebridge/rag/preprocess"
	"github.com/sweetpotato0/carebridge/websearch"
)

const defaultBaseURL = "https://google.serper.dev"

// Search implements websearch.Searcher.
type Search struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

var _ websearch.Searcher = Search{}

func (s Search) Search(ctx context.Context, query string, maxResults int) ([]websearch.Result, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, fmt.Errorf("serper api key not set: %w", cberrors.ErrWebSearchUnavailable)
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	base := strings.TrimSuffix(s.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	body, _ := json.Marshal(map[string]any{"q": query, "num": maxResults})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create serper request: %w", err)
	}
	req.Header.Set("X-API-KEY", s.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serper request: %v: %w", err, cberrors.ErrWebSearchUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serper status %d: %w", resp.StatusCode, cberrors.ErrWebSearchUnavailable)
	}

	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode serper response: %v: %w", err, cberrors.ErrWebSearchUnavailable)
	}

	var out []websearch.Result
	for _, it := range raw.Organic {
		out = append(out, websearch.Result{
			Title:   strings.TrimSpace(it.Title),
			URL:     it.Link,
			Snippet: preprocess.CleanSnippet(it.Snippet, websearch.MaxSnippetRunes),
		})
	}
	out = websearch.Compact(out)
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}

// Package websearch defines the web search capability used when the reference
// index cannot answer a question.
package websearch

import (
	"context"
	"strings"
)

// Result is one web hit. Snippet holds cleaned page content.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher runs a web query. Implementations return errors wrapping
// errors.ErrWebSearchUnavailable when they are unconfigured or the provider fails.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// MaxSnippetRunes bounds the content kept per result.
const MaxSnippetRunes = 1000

// Compact drops results without a URL or content and removes duplicate URLs, keeping order.
func Compact(results []Result) []Result {
	seen := make(map[string]struct{}, len(results))
	out := results[:0:0]
	for _, r := range results {
		u := strings.TrimSpace(r.URL)
		if u == "" || strings.TrimSpace(r.Snippet) == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		r.URL = u
		out = append(out, r)
	}
	return out
}

// Package tavily is a web search client for the Tavily search API.
package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	cberrors "github.com/sweetpotato0/carebridge/errors"
	"github.com/sweetpotato0/carebridge/pkg/logging"
	"github.com/sweetpotato0/carebridge/rag/preprocess"
	"github.com/sweetpotato0/carebridge/websearch"
)

const defaultBaseURL = "https://api.tavily.com"

type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements websearch.Searcher.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

var _ websearch.Searcher = (*Client)(nil)

func New(cfg Config) *Client {
	c := &Client{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.logger == nil {
		c.logger = logging.WithComponent("websearch.tavily")
	}
	return c
}

type searchRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search posts the query and returns cleaned results.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]websearch.Result, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("tavily api key not set: %w", cberrors.ErrWebSearchUnavailable)
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	body, err := json.Marshal(searchRequest{
		APIKey:      c.apiKey,
		Query:       query,
		MaxResults:  maxResults,
		SearchDepth: "basic",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tavily request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create tavily request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily request: %v: %w", err, cberrors.ErrWebSearchUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("tavily search failed", "status", resp.StatusCode, "body", string(msg))
		return nil, fmt.Errorf("tavily status %d: %w", resp.StatusCode, cberrors.ErrWebSearchUnavailable)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode tavily response: %v: %w", err, cberrors.ErrWebSearchUnavailable)
	}

	out := make([]websearch.Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		out = append(out, websearch.Result{
			Title:   strings.TrimSpace(r.Title),
			URL:     r.URL,
			Snippet: preprocess.CleanSnippet(r.Content, websearch.MaxSnippetRunes),
		})
	}
	out = websearch.Compact(out)
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	c.logger.Debug("tavily search", "query", query, "results", len(out))
	return out, nil
}

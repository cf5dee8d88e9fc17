package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/threadloom/threadloom-backend/internal/llm"
)

const defaultSearchEndpoint = "https://api.tavily.com/search"

// WebSearch is the built-in search tool. It is only assembled into a
// request when the feature flag is on and a search API key is configured.
type WebSearch struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func NewWebSearch(apiKey string) *WebSearch {
	return &WebSearch{
		apiKey:   apiKey,
		endpoint: defaultSearchEndpoint,
		client:   &http.Client{Timeout: 20 * time.Second},
	}
}

func (w *WebSearch) Def() llm.ToolDef {
	return llm.ToolDef{
		Name:        "web_search",
		Description: "Search the web for up-to-date information. Returns a list of result snippets with source URLs.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query.",
				},
			},
			"required": []any{"query"},
		},
	}
}

func (w *WebSearch) Call(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("web_search requires a query")
	}

	body, err := json.Marshal(map[string]any{
		"api_key":     w.apiKey,
		"query":       query,
		"max_results": 5,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("search status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}

	var out strings.Builder
	for i, r := range result.Results {
		fmt.Fprintf(&out, "%d. %s\n%s\n%s\n\n", i+1, r.Title, r.URL, r.Content)
	}
	if out.Len() == 0 {
		return "no results", nil
	}
	return strings.TrimSpace(out.String()), nil
}

// Package catalog provides a read-only content catalog search tool.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/steward/internal/tools"
	"github.com/haasonsaas/steward/pkg/models"
)

// Item is a single catalog entry.
type Item struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Genre string  `json:"genre"`
	Year  int     `json:"year"`
	Score float64 `json:"score,omitempty"`
}

// SearchTool searches the catalog by title or genre. Reads only, so it
// executes without approval.
type SearchTool struct {
	items      []Item
	maxResults int
}

// NewSearchTool creates a catalog search tool over the given items.
func NewSearchTool(items []Item, maxResults int) *SearchTool {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &SearchTool{items: items, maxResults: maxResults}
}

// Name returns the tool name.
func (t *SearchTool) Name() string {
	return "search_catalog"
}

// Description describes the tool.
func (t *SearchTool) Description() string {
	return "Searches the content catalog by title or genre and returns matching entries."
}

// Schema defines the tool parameters.
func (t *SearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Text to match against titles and genres"},
    "limit": {"type": "integer", "description": "Maximum number of results to return"}
  },
  "required": ["query"]
}`)
}

// Risk classifies the tool as low risk.
func (t *SearchTool) Risk() models.RiskLevel {
	return models.RiskLow
}

// Execute runs the search.
func (t *SearchTool) Execute(_ context.Context, input json.RawMessage) (*tools.Result, error) {
	var params struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return &tools.Result{Content: fmt.Sprintf("invalid params: %v", err), IsError: true}, nil
	}
	query := strings.TrimSpace(strings.ToLower(params.Query))
	if query == "" {
		return &tools.Result{Content: "query is required", IsError: true}, nil
	}

	limit := t.maxResults
	if params.Limit > 0 && params.Limit < limit {
		limit = params.Limit
	}

	matches := make([]Item, 0, limit)
	for _, item := range t.items {
		if len(matches) >= limit {
			break
		}
		if strings.Contains(strings.ToLower(item.Title), query) ||
			strings.Contains(strings.ToLower(item.Genre), query) {
			matches = append(matches, item)
		}
	}

	payload, err := json.MarshalIndent(struct {
		Results []Item `json:"results"`
		Total   int    `json:"total"`
	}{
		Results: matches,
		Total:   len(matches),
	}, "", "  ")
	if err != nil {
		return &tools.Result{Content: fmt.Sprintf("failed to encode results: %v", err), IsError: true}, nil
	}

	return &tools.Result{Content: string(payload)}, nil
}

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maddsec/kalibot/logger"
	"github.com/maddsec/kalibot/provider"
)

const (
	defaultSearchResults = 3
	maxSearchResults     = 10

	noResultsMessage = "No results found."

	searchUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
)

// SearchConfig selects the search engine and carries its credentials.
type SearchConfig struct {
	Engine       string // duckduckgo, google, tavily, brave
	GoogleAPIKey string
	GoogleCSEID  string
	TavilyAPIKey string
	BraveAPIKey  string
}

// WebSearchTool searches the web with the configured engine. DuckDuckGo is
// the default because it needs no API key.
type WebSearchTool struct {
	cfg    SearchConfig
	client *http.Client
}

// NewWebSearchTool creates a web_search tool.
func NewWebSearchTool(cfg SearchConfig) *WebSearchTool {
	if cfg.Engine == "" {
		cfg.Engine = "duckduckgo"
	}
	return &WebSearchTool{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Def returns the tool definition.
func (t *WebSearchTool) Def() provider.ToolDef {
	return provider.ToolDef{
		Type: "function",
		Function: provider.FunctionDef{
			Name:        NameWebSearch,
			Description: "Search the web and return results. Use for finding current information, exploit writeups, tool documentation, etc.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The search query.",
					},
					"max_results": map[string]any{
						"type":        "integer",
						"description": "Maximum number of results to return. Defaults to 3.",
					},
					"engine": map[string]any{
						"type":        "string",
						"description": "Override the configured search engine: duckduckgo, google, tavily, or brave.",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

type webSearchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
	Engine     string `json:"engine,omitempty"`
}

// Run executes the tool.
func (t *WebSearchTool) Run(ctx context.Context, args json.RawMessage) string {
	var a webSearchArgs
	if errMsg := parseArgs(args, &a); errMsg != "" {
		return errMsg
	}
	a.Query = strings.TrimSpace(a.Query)
	if a.Query == "" {
		return "Error: 'query' argument is missing for web_search tool."
	}

	n := a.MaxResults
	if n <= 0 {
		n = defaultSearchResults
	}
	if n > maxSearchResults {
		n = maxSearchResults
	}

	engine := strings.TrimSpace(strings.ToLower(a.Engine))
	results, err := t.searchWith(ctx, engine, a.Query, n)
	if err != nil {
		var unknown *unknownEngineError
		if errors.As(err, &unknown) {
			return fmt.Sprintf("Error: Unknown search engine '%s'. Supported engines: duckduckgo, google, tavily, brave.", unknown.engine)
		}
		return fmt.Sprintf("Error: web search failed: %v", err)
	}
	return results
}

type unknownEngineError struct {
	engine string
}

func (e *unknownEngineError) Error() string {
	return fmt.Sprintf("unknown search engine %q", e.engine)
}

// search runs one query against the configured engine and formats the
// results. cve_search reuses it with its own queries and result counts.
func (t *WebSearchTool) search(ctx context.Context, query string, maxResults int) (string, error) {
	return t.searchWith(ctx, "", query, maxResults)
}

// searchWith runs one query against the given engine, falling back to the
// configured one when engine is empty.
func (t *WebSearchTool) searchWith(ctx context.Context, engine, query string, maxResults int) (string, error) {
	if engine == "" {
		engine = t.cfg.Engine
	}
	start := time.Now()

	var (
		results []searchResult
		err     error
	)
	switch engine {
	case "duckduckgo":
		results, err = t.searchDuckDuckGo(ctx, query, maxResults)
	case "google":
		results, err = t.searchGoogle(ctx, query, maxResults)
	case "tavily":
		results, err = t.searchTavily(ctx, query, maxResults)
	case "brave":
		results, err = t.searchBrave(ctx, query, maxResults)
	default:
		return "", &unknownEngineError{engine: engine}
	}
	if err != nil {
		return "", err
	}

	logger.Info("web search",
		"engine", engine,
		"results", len(results),
		"latencyMs", time.Since(start).Milliseconds())

	return formatResults(query, results), nil
}

// searchResult represents a single search result.
type searchResult struct {
	Title   string
	URL     string
	Snippet string
}

func formatResults(query string, results []searchResult) string {
	if len(results) == 0 {
		return noResultsMessage
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for: %s\n\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// searchDuckDuckGo scrapes the HTML endpoint, which works without a key.
func (t *WebSearchTool) searchDuckDuckGo(ctx context.Context, query string, maxResults int) ([]searchResult, error) {
	searchURL := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}

	var results []searchResult
	doc.Find("div.result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := s.Find("a.result__a").First()
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		if title == "" || href == "" {
			return true
		}
		results = append(results, searchResult{
			Title:   title,
			URL:     unwrapDuckDuckGoURL(href),
			Snippet: strings.TrimSpace(s.Find(".result__snippet").First().Text()),
		})
		return len(results) < maxResults
	})
	return results, nil
}

// unwrapDuckDuckGoURL resolves the redirect wrapper around result links.
func unwrapDuckDuckGoURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return raw
}

func (t *WebSearchTool) searchGoogle(ctx context.Context, query string, maxResults int) ([]searchResult, error) {
	if t.cfg.GoogleAPIKey == "" || t.cfg.GoogleCSEID == "" {
		return nil, errors.New("google search requires search.googleApiKey and search.googleCseId (or GOOGLE_API_KEY and GOOGLE_CSE_ID)")
	}

	params := url.Values{}
	params.Set("key", t.cfg.GoogleAPIKey)
	params.Set("cx", t.cfg.GoogleCSEID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://www.googleapis.com/customsearch/v1?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google returned status %d", resp.StatusCode)
	}

	var payload struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode google response: %w", err)
	}

	results := make([]searchResult, 0, len(payload.Items))
	for _, item := range payload.Items {
		results = append(results, searchResult{Title: item.Title, URL: item.Link, Snippet: item.Snippet})
	}
	return results, nil
}

func (t *WebSearchTool) searchTavily(ctx context.Context, query string, maxResults int) ([]searchResult, error) {
	if t.cfg.TavilyAPIKey == "" {
		return nil, errors.New("tavily search requires search.tavilyApiKey (or TAVILY_API_KEY)")
	}

	body, err := json.Marshal(map[string]any{
		"api_key":      t.cfg.TavilyAPIKey,
		"query":        query,
		"search_depth": "basic",
		"max_results":  maxResults,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.tavily.com/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily returned status %d", resp.StatusCode)
	}

	var payload struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode tavily response: %w", err)
	}

	results := make([]searchResult, 0, len(payload.Results))
	for _, item := range payload.Results {
		results = append(results, searchResult{Title: item.Title, URL: item.URL, Snippet: item.Content})
	}
	return results, nil
}

func (t *WebSearchTool) searchBrave(ctx context.Context, query string, maxResults int) ([]searchResult, error) {
	if t.cfg.BraveAPIKey == "" {
		return nil, errors.New("brave search requires search.braveApiKey (or BRAVE_SEARCH_API_KEY)")
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.search.brave.com/res/v1/web/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.cfg.BraveAPIKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave returned status %d", resp.StatusCode)
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode brave response: %w", err)
	}

	results := make([]searchResult, 0, len(payload.Web.Results))
	for _, item := range payload.Web.Results {
		results = append(results, searchResult{Title: item.Title, URL: item.URL, Snippet: item.Description})
	}
	return results, nil
}

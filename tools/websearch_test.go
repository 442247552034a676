package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
)

// fixedTransport routes the tool's HTTP calls to a test handler so no
// network is touched.
type fixedTransport struct {
	fn func(*http.Request) (*http.Response, error)
}

func (f *fixedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return f.fn(req)
}

func newTestSearchTool(cfg SearchConfig, fn func(*http.Request) (*http.Response, error)) *WebSearchTool {
	tool := NewWebSearchTool(cfg)
	tool.client = &http.Client{Transport: &fixedTransport{fn: fn}}
	return tool
}

func cannedResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func noNetwork(_ *http.Request) (*http.Response, error) {
	return nil, errors.New("unexpected network call")
}

const ddgResultsPage = `<html><body>
<div class="result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fsmb-guide&rut=abc">SMB enumeration guide</a>
  <a class="result__snippet">Walkthrough of enumerating SMB shares.</a>
</div>
<div class="result">
  <a class="result__a" href="https://example.org/nmap">Nmap reference</a>
  <a class="result__snippet">Port scanning basics.</a>
</div>
<div class="result">
  <a class="result__a" href="https://example.net/third">Third hit</a>
  <a class="result__snippet">Extra result.</a>
</div>
</body></html>`

func TestWebSearchMissingQuery(t *testing.T) {
	tool := newTestSearchTool(SearchConfig{}, noNetwork)
	want := "Error: 'query' argument is missing for web_search tool."

	if got := tool.Run(context.Background(), json.RawMessage(`{}`)); got != want {
		t.Errorf("Run() = %q, want %q", got, want)
	}
	if got := tool.Run(context.Background(), json.RawMessage(`{"query": "   "}`)); got != want {
		t.Errorf("Run(blank query) = %q, want %q", got, want)
	}
}

func TestWebSearchUnknownEngine(t *testing.T) {
	tool := newTestSearchTool(SearchConfig{}, noNetwork)
	got := tool.Run(context.Background(), json.RawMessage(`{"query": "nmap", "engine": "bing"}`))
	want := "Error: Unknown search engine 'bing'. Supported engines: duckduckgo, google, tavily, brave."
	if got != want {
		t.Errorf("Run() = %q, want %q", got, want)
	}
}

func TestWebSearchDuckDuckGo(t *testing.T) {
	var capturedQuery, capturedAgent, capturedHost string
	tool := newTestSearchTool(SearchConfig{}, func(req *http.Request) (*http.Response, error) {
		capturedQuery = req.URL.Query().Get("q")
		capturedAgent = req.Header.Get("User-Agent")
		capturedHost = req.URL.Host
		return cannedResponse(http.StatusOK, ddgResultsPage), nil
	})

	got := tool.Run(context.Background(), json.RawMessage(`{"query": "smb enumeration", "max_results": 2}`))
	t.Logf("formatted results:\n%s", got)

	if capturedHost != "html.duckduckgo.com" {
		t.Errorf("request host = %q, want %q", capturedHost, "html.duckduckgo.com")
	}
	if capturedQuery != "smb enumeration" {
		t.Errorf("query param = %q, want %q", capturedQuery, "smb enumeration")
	}
	if capturedAgent == "" {
		t.Error("request sent without a User-Agent")
	}

	want := "Search results for: smb enumeration\n\n" +
		"1. SMB enumeration guide\n   https://example.com/smb-guide\n   Walkthrough of enumerating SMB shares.\n\n" +
		"2. Nmap reference\n   https://example.org/nmap\n   Port scanning basics."
	if got != want {
		t.Errorf("Run() = %q, want %q", got, want)
	}
	if strings.Contains(got, "Third hit") {
		t.Error("max_results=2 still returned the third result")
	}
}

func TestWebSearchDuckDuckGoNoResults(t *testing.T) {
	tool := newTestSearchTool(SearchConfig{}, func(_ *http.Request) (*http.Response, error) {
		return cannedResponse(http.StatusOK, "<html><body></body></html>"), nil
	})
	got := tool.Run(context.Background(), json.RawMessage(`{"query": "zzz"}`))
	if got != noResultsMessage {
		t.Errorf("Run() = %q, want %q", got, noResultsMessage)
	}
}

func TestWebSearchReportsEngineStatus(t *testing.T) {
	tool := newTestSearchTool(SearchConfig{}, func(_ *http.Request) (*http.Response, error) {
		return cannedResponse(http.StatusInternalServerError, "upstream broke"), nil
	})
	got := tool.Run(context.Background(), json.RawMessage(`{"query": "nmap"}`))
	want := "Error: web search failed: duckduckgo returned status 500"
	if got != want {
		t.Errorf("Run() = %q, want %q", got, want)
	}
}

func TestWebSearchMissingCredentials(t *testing.T) {
	tests := []struct {
		name   string
		engine string
		want   string
	}{
		{
			name:   "google",
			engine: "google",
			want:   "Error: web search failed: google search requires search.googleApiKey and search.googleCseId (or GOOGLE_API_KEY and GOOGLE_CSE_ID)",
		},
		{
			name:   "tavily",
			engine: "tavily",
			want:   "Error: web search failed: tavily search requires search.tavilyApiKey (or TAVILY_API_KEY)",
		},
		{
			name:   "brave",
			engine: "brave",
			want:   "Error: web search failed: brave search requires search.braveApiKey (or BRAVE_SEARCH_API_KEY)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := newTestSearchTool(SearchConfig{Engine: tt.engine}, noNetwork)
			got := tool.Run(context.Background(), json.RawMessage(`{"query": "nmap"}`))
			if got != tt.want {
				t.Errorf("Run() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWebSearchEngineArgOverridesConfig(t *testing.T) {
	// Config says duckduckgo; the call asks for tavily and must hit the
	// tavily key check instead of scraping.
	tool := newTestSearchTool(SearchConfig{Engine: "duckduckgo"}, noNetwork)
	got := tool.Run(context.Background(), json.RawMessage(`{"query": "nmap", "engine": "Tavily"}`))
	want := "Error: web search failed: tavily search requires search.tavilyApiKey (or TAVILY_API_KEY)"
	if got != want {
		t.Errorf("Run() = %q, want %q", got, want)
	}
}

func TestWebSearchGoogle(t *testing.T) {
	var captured url.Values
	var capturedHost string
	tool := newTestSearchTool(SearchConfig{Engine: "google", GoogleAPIKey: "g-key", GoogleCSEID: "cse-42"},
		func(req *http.Request) (*http.Response, error) {
			captured = req.URL.Query()
			capturedHost = req.URL.Host + req.URL.Path
			payload, _ := json.Marshal(map[string]any{
				"items": []map[string]any{
					{"title": "Log4Shell analysis", "link": "https://example.com/log4shell", "snippet": "Exploit chain details."},
				},
			})
			return cannedResponse(http.StatusOK, string(payload)), nil
		})

	got := tool.Run(context.Background(), json.RawMessage(`{"query": "log4shell poc", "max_results": 5}`))

	if capturedHost != "www.googleapis.com/customsearch/v1" {
		t.Errorf("request target = %q, want %q", capturedHost, "www.googleapis.com/customsearch/v1")
	}
	if captured.Get("key") != "g-key" || captured.Get("cx") != "cse-42" {
		t.Errorf("credentials = key %q cx %q, want g-key and cse-42", captured.Get("key"), captured.Get("cx"))
	}
	if captured.Get("q") != "log4shell poc" {
		t.Errorf("q param = %q, want %q", captured.Get("q"), "log4shell poc")
	}
	if captured.Get("num") != "5" {
		t.Errorf("num param = %q, want %q", captured.Get("num"), "5")
	}
	if !strings.Contains(got, "Log4Shell analysis") || !strings.Contains(got, "https://example.com/log4shell") {
		t.Errorf("results missing from output: %q", got)
	}
}

func TestWebSearchTavily(t *testing.T) {
	var capturedBody map[string]any
	var contentType string
	tool := newTestSearchTool(SearchConfig{Engine: "tavily", TavilyAPIKey: "tv-key"},
		func(req *http.Request) (*http.Response, error) {
			contentType = req.Header.Get("Content-Type")
			raw, err := io.ReadAll(req.Body)
			if err != nil {
				return nil, err
			}
			if err := json.Unmarshal(raw, &capturedBody); err != nil {
				return nil, err
			}
			payload, _ := json.Marshal(map[string]any{
				"results": []map[string]any{
					{"title": "Kerberoasting guide", "url": "https://example.com/kerberoast", "content": "Ticket extraction walkthrough."},
				},
			})
			return cannedResponse(http.StatusOK, string(payload)), nil
		})

	got := tool.Run(context.Background(), json.RawMessage(`{"query": "kerberoasting"}`))
	t.Logf("captured tavily body: %v", capturedBody)

	if contentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", contentType)
	}
	if capturedBody["api_key"] != "tv-key" {
		t.Errorf("api_key = %v, want tv-key", capturedBody["api_key"])
	}
	if capturedBody["query"] != "kerberoasting" {
		t.Errorf("query = %v, want kerberoasting", capturedBody["query"])
	}
	if capturedBody["search_depth"] != "basic" {
		t.Errorf("search_depth = %v, want basic", capturedBody["search_depth"])
	}
	if capturedBody["max_results"] != float64(3) {
		t.Errorf("max_results = %v, want the default 3", capturedBody["max_results"])
	}
	if !strings.Contains(got, "Kerberoasting guide") {
		t.Errorf("results missing from output: %q", got)
	}
}

func TestWebSearchBrave(t *testing.T) {
	var capturedToken, capturedCount string
	tool := newTestSearchTool(SearchConfig{Engine: "brave", BraveAPIKey: "br-key"},
		func(req *http.Request) (*http.Response, error) {
			capturedToken = req.Header.Get("X-Subscription-Token")
			capturedCount = req.URL.Query().Get("count")
			payload, _ := json.Marshal(map[string]any{
				"web": map[string]any{
					"results": []map[string]any{
						{"title": "Nmap NSE scripts", "url": "https://example.com/nse", "description": "Script catalog."},
					},
				},
			})
			return cannedResponse(http.StatusOK, string(payload)), nil
		})

	got := tool.Run(context.Background(), json.RawMessage(`{"query": "nse scripts", "max_results": 99}`))

	if capturedToken != "br-key" {
		t.Errorf("X-Subscription-Token = %q, want br-key", capturedToken)
	}
	if capturedCount != "10" {
		t.Errorf("count param = %q, want results capped at 10", capturedCount)
	}
	if !strings.Contains(got, "Nmap NSE scripts") {
		t.Errorf("results missing from output: %q", got)
	}
}

func TestUnwrapDuckDuckGoURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "wrapped redirect",
			raw:  "//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fpage&rut=abc",
			want: "https://example.com/page",
		},
		{
			name: "direct link",
			raw:  "https://example.org/direct",
			want: "https://example.org/direct",
		},
		{
			name: "redirect without target",
			raw:  "/l/?rut=abc",
			want: "/l/?rut=abc",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := unwrapDuckDuckGoURL(tt.raw); got != tt.want {
				t.Errorf("unwrapDuckDuckGoURL(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestFormatResults(t *testing.T) {
	if got := formatResults("anything", nil); got != noResultsMessage {
		t.Errorf("formatResults(nil) = %q, want %q", got, noResultsMessage)
	}

	got := formatResults("smb", []searchResult{
		{Title: "One", URL: "https://a", Snippet: "first"},
		{Title: "Two", URL: "https://b", Snippet: "second"},
	})
	want := "Search results for: smb\n\n1. One\n   https://a\n   first\n\n2. Two\n   https://b\n   second"
	if got != want {
		t.Errorf("formatResults() = %q, want %q", got, want)
	}
}

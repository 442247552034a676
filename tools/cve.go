package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maddsec/kalibot/logger"
	"github.com/maddsec/kalibot/provider"
)

// CVESearchTool looks up CVE details through the web search tool. A CVE id
// is first queried against the MITRE and NVD sites, then retried as a plain
// query when the targeted search comes back empty.
type CVESearchTool struct {
	search *WebSearchTool
}

// NewCVESearchTool creates a cve_search tool on top of an existing
// WebSearchTool so both share one engine configuration.
func NewCVESearchTool(search *WebSearchTool) *CVESearchTool {
	return &CVESearchTool{search: search}
}

// Def returns the tool definition.
func (t *CVESearchTool) Def() provider.ToolDef {
	return provider.ToolDef{
		Type: "function",
		Function: provider.FunctionDef{
			Name:        NameCVESearch,
			Description: "Look up details for a CVE identifier, or search for CVEs matching a description.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"cve_id": map[string]any{
						"type":        "string",
						"description": "A CVE identifier, e.g. CVE-2021-44228.",
					},
					"query": map[string]any{
						"type":        "string",
						"description": "A free-form description to search CVE details for, used when no identifier is known.",
					},
				},
			},
		},
	}
}

type cveSearchArgs struct {
	CVEID string `json:"cve_id,omitempty"`
	Query string `json:"query,omitempty"`
}

// Run executes the tool.
func (t *CVESearchTool) Run(ctx context.Context, args json.RawMessage) string {
	var a cveSearchArgs
	if errMsg := parseArgs(args, &a); errMsg != "" {
		return errMsg
	}
	a.CVEID = strings.TrimSpace(a.CVEID)
	a.Query = strings.TrimSpace(a.Query)

	if a.CVEID == "" && a.Query == "" {
		return "Error: 'cve_id' or 'query' argument must be provided for cve_search tool."
	}

	if a.CVEID != "" {
		targeted := fmt.Sprintf("%s site:cve.mitre.org OR site:nvd.nist.gov", a.CVEID)
		results, err := t.search.search(ctx, targeted, 2)
		if err == nil && results != noResultsMessage {
			return results
		}
		if err != nil {
			logger.Warn("targeted CVE search failed, retrying broadly", "cveId", a.CVEID, "error", err)
		}
		results, err = t.search.search(ctx, a.CVEID, defaultSearchResults)
		if err != nil {
			return fmt.Sprintf("Error: CVE search failed: %v", err)
		}
		return results
	}

	results, err := t.search.search(ctx, fmt.Sprintf("CVE details for %s", a.Query), defaultSearchResults)
	if err != nil {
		return fmt.Sprintf("Error: CVE search failed: %v", err)
	}
	return results
}

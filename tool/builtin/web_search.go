package builtin

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hupe1980/agentplatform/core"
	"github.com/hupe1980/agentplatform/tool"
	"golang.org/x/net/html"
)

type webSearchArgs struct {
	Query string `json:"query" description:"The search query to perform."`
}

// SearchResult is one hit from the search backend.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// NewWebSearch returns the web_search tool backed by the DuckDuckGo HTML endpoint.
func NewWebSearch(opts Options) *tool.FunctionTool {
	return tool.NewFunctionToolFromStruct(
		WebSearch,
		"Performs a web search for a query and returns the top results as markdown links with snippets.",
		webSearchArgs{},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			if strings.TrimSpace(query) == "" {
				return nil, tool.NewToolError(WebSearch, "query must not be empty", tool.CodeValidation)
			}

			results, err := search(tc, opts, query)
			if err != nil {
				return nil, err
			}
			if len(results) == 0 {
				return "No results found! Try a less restrictive/shorter query.", nil
			}
			return FormatSearchResults(results), nil
		},
	)
}

func search(tc *core.ToolContext, opts Options, query string) ([]SearchResult, error) {
	endpoint, err := url.Parse(opts.SearchURL)
	if err != nil {
		return nil, fmt.Errorf("invalid search url: %w", err)
	}
	q := endpoint.Query()
	q.Set("q", query)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(tc.Context(), http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", opts.UserAgent)

	resp, err := httpClient(opts).Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request: unexpected status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}

	results := parseSearchResults(doc)
	if opts.MaxResults > 0 && len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}
	tc.Logger().Debug("tool.web_search.done", "results", len(results))
	return results, nil
}

// parseSearchResults walks the result page collecting result__a anchors and
// the result__snippet that follows each of them.
func parseSearchResults(doc *html.Node) []SearchResult {
	var results []SearchResult

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			switch {
			case hasClass(n, "result__a"):
				results = append(results, SearchResult{
					Title: collapseSpace(textContent(n)),
					URL:   resolveRedirect(attr(n, "href")),
				})
				return
			case hasClass(n, "result__snippet") && len(results) > 0:
				results[len(results)-1].Snippet = collapseSpace(textContent(n))
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return results
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

// FormatSearchResults renders results the way the model sees them.
func FormatSearchResults(results []SearchResult) string {
	var b strings.Builder
	b.WriteString("## Search Results\n")
	for _, r := range results {
		fmt.Fprintf(&b, "\n[%s](%s)\n", r.Title, r.URL)
		if r.Snippet != "" {
			b.WriteString(r.Snippet)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func httpClient(opts Options) *http.Client {
	if opts.HTTPClient != nil {
		return opts.HTTPClient
	}
	return http.DefaultClient
}

package builtin

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hupe1980/agentplatform/core"
	"github.com/hupe1980/agentplatform/tool"
	"golang.org/x/net/html"
)

type visitWebpageArgs struct {
	URL string `json:"url" description:"The url of the webpage to visit."`
}

// maxBodyBytes bounds how much of a page is read before extraction.
const maxBodyBytes = 5 << 20

// NewVisitWebpage returns the visit_webpage tool, which fetches a page and
// returns its readable text.
func NewVisitWebpage(opts Options) *tool.FunctionTool {
	return tool.NewFunctionToolFromStruct(
		VisitWebpage,
		"Visits a webpage at the given url and reads its content as text.",
		visitWebpageArgs{},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			raw, _ := args["url"].(string)
			u, err := url.Parse(strings.TrimSpace(raw))
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return nil, tool.NewToolError(VisitWebpage, fmt.Sprintf("invalid url %q", raw), tool.CodeValidation)
			}

			req, err := http.NewRequestWithContext(tc.Context(), http.MethodGet, u.String(), nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("User-Agent", opts.UserAgent)

			resp, err := httpClient(opts).Do(req)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", u, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 400 {
				// The model can pick another page; not a run failure.
				return fmt.Sprintf("Error fetching the webpage: HTTP %d", resp.StatusCode), nil
			}

			body := io.LimitReader(resp.Body, maxBodyBytes)
			if !strings.Contains(resp.Header.Get("Content-Type"), "html") {
				b, err := io.ReadAll(body)
				if err != nil {
					return nil, fmt.Errorf("read %s: %w", u, err)
				}
				return truncateContent(string(b), opts.MaxPageChars), nil
			}

			doc, err := html.Parse(body)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", u, err)
			}
			text := ExtractText(doc)
			tc.Logger().Debug("tool.visit_webpage.done", "url", u.String(), "chars", len(text))
			return truncateContent(text, opts.MaxPageChars), nil
		},
	)
}

func truncateContent(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "\n..._This content has been truncated to stay below " + fmt.Sprint(max) + " characters_...\n"
}

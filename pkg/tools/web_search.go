package tools

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/kadirpekel/reagent/pkg/config"
	"github.com/kadirpekel/reagent/pkg/httpclient"
)

const (
	maxSearchResults = 10
	maxSearchBody    = 5 << 20
	maxRedirects     = 5
)

var (
	ddgTitlePattern   = regexp.MustCompile(`(?s)<a[^>]+class="result__a"[^>]+href="([^"]+)"[^>]*>(.+?)</a>`)
	ddgSnippetPattern = regexp.MustCompile(`(?s)<a[^>]+class="result__snippet"[^>]*>(.+?)</a>`)
	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// SearchHit is one web result.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type webSearchArgs struct {
	Query      string `json:"query" jsonschema:"required,description=The search query"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=Maximum number of results,default=5"`
}

// WebSearcher queries the DuckDuckGo HTML endpoint, which needs no API key.
type WebSearcher struct {
	cfg    config.WebSearchConfig
	client *httpclient.Client
}

func NewWebSearcher(cfg config.WebSearchConfig) *WebSearcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://html.duckduckgo.com/html/"
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	hc := &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("too many redirects")
			}
			return nil
		},
	}
	opts := []httpclient.Option{httpclient.WithHTTPClient(hc)}
	if cfg.UserAgent != "" {
		opts = append(opts, httpclient.WithHeader("User-Agent", cfg.UserAgent))
	}
	return &WebSearcher{cfg: cfg, client: httpclient.New(opts...)}
}

// NewWebSearchTool exposes a WebSearcher as the web_search tool.
func NewWebSearchTool(cfg config.WebSearchConfig) (Tool, error) {
	s := NewWebSearcher(cfg)
	return NewFunctionTool(FunctionConfig{
		Name: config.ToolWebSearch,
		Description: "Search the web for current information. Use this when you need up-to-date " +
			"information, news or facts not in your training data.",
		Example: `web_search(query="latest developments in AI", max_results=3)`,
	}, func(ctx context.Context, args webSearchArgs) (ToolResult, error) {
		limit := args.MaxResults
		if limit <= 0 {
			limit = s.cfg.MaxResults
		}
		limit = min(limit, maxSearchResults)

		hits, err := s.Search(ctx, args.Query, limit)
		if err != nil {
			if ctx.Err() != nil {
				return ToolResult{}, ctx.Err()
			}
			slog.Warn("Web search failed", "query", args.Query, "error", err)
			return failure(config.ToolWebSearch, "Web search failed: "+err.Error()), nil
		}
		return ToolResult{
			Success: true,
			Content: formatSearchHits(args.Query, hits),
			Metadata: map[string]any{
				"query":         args.Query,
				"results_count": len(hits),
				"search_type":   "web",
			},
		}, nil
	})
}

// Search returns at most limit hits for query.
func (s *WebSearcher) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	hits := parseDuckDuckGo(string(body))
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// parseDuckDuckGo pairs result__a links with result__snippet anchors by position.
func parseDuckDuckGo(page string) []SearchHit {
	titles := ddgTitlePattern.FindAllStringSubmatch(page, 30)
	snippets := ddgSnippetPattern.FindAllStringSubmatch(page, 30)

	var hits []SearchHit
	for i, m := range titles {
		target := resolveRedirect(strings.ReplaceAll(m[1], "&amp;", "&"))
		title := cleanHTML(m[2])
		if target == "" || title == "" {
			continue
		}
		var snippet string
		if i < len(snippets) {
			snippet = cleanHTML(snippets[i][1])
		}
		hits = append(hits, SearchHit{Title: title, URL: target, Snippet: snippet})
	}
	return hits
}

// resolveRedirect unwraps //duckduckgo.com/l/?uddg=<url> links. Ad links are dropped.
func resolveRedirect(raw string) string {
	if strings.Contains(raw, "duckduckgo.com/y.js") {
		return ""
	}
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return raw
}

func cleanHTML(s string) string {
	s = htmlTagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

func formatSearchHits(query string, hits []SearchHit) string {
	if len(hits) == 0 {
		return fmt.Sprintf("No web results found for '%s'.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Web search results for '%s':\n\n", query)
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. **%s**\n   %s\n   URL: %s\n", i+1, h.Title, h.Snippet, h.URL)
	}
	return b.String()
}

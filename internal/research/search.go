package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// SearchHit is one web search result.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"link"`
	Snippet string `json:"snippet"`
	Date    string `json:"date,omitempty"`
}

// Searcher runs a web search query.
type Searcher interface {
	Search(ctx context.Context, query string, n int) ([]SearchHit, error)
}

// checkResp reads the response body and returns an error if the status is not 2xx.
// On error it includes the upstream body for debugging.
func checkResp(resp *http.Response, service, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s %s returned %d: %s", service, path, resp.StatusCode, strings.TrimSpace(string(body)))
}

// searchHTTPTimeout backs up the caller's deadline for search requests.
const searchHTTPTimeout = 20 * time.Second

// SerperSearcher queries the Serper Google Search API.
type SerperSearcher struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

func NewSerperSearcher(apiKey, endpoint string) *SerperSearcher {
	return &SerperSearcher{apiKey: apiKey, endpoint: endpoint, httpClient: &http.Client{Timeout: searchHTTPTimeout}}
}

func (s *SerperSearcher) Search(ctx context.Context, query string, n int) ([]SearchHit, error) {
	body, _ := json.Marshal(map[string]any{"q": query, "gl": "us", "hl": "en", "num": n})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("serper: %w", err)
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serper: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResp(resp, "serper", "/search"); err != nil {
		return nil, err
	}

	var result struct {
		Organic []SearchHit `json:"organic"`
		News    []SearchHit `json:"news"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("serper /search: decode: %w", err)
	}
	hits := append(result.Organic, result.News...)
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits, nil
}

// DuckDuckGoSearcher scrapes the DuckDuckGo HTML endpoint. It needs no key
// and is used when no search API key is configured.
type DuckDuckGoSearcher struct {
	endpoint   string
	httpClient *http.Client
}

func NewDuckDuckGoSearcher(endpoint string) *DuckDuckGoSearcher {
	if endpoint == "" {
		endpoint = "https://html.duckduckgo.com/html/"
	}
	return &DuckDuckGoSearcher{endpoint: endpoint, httpClient: &http.Client{Timeout: searchHTTPTimeout}}
}

func (s *DuckDuckGoSearcher) Search(ctx context.Context, query string, n int) ([]SearchHit, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; factcheck-agent/1.0)")
	req.Header.Set("Accept", "text/html")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResp(resp, "duckduckgo", "/html"); err != nil {
		return nil, err
	}
	return parseDuckDuckGo(io.LimitReader(resp.Body, 1<<20), n)
}

func parseDuckDuckGo(r io.Reader, n int) ([]SearchHit, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: parse html: %w", err)
	}

	var hits []SearchHit
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if len(hits) >= n {
			return
		}
		if node.Type == html.ElementNode && node.Data == "div" && hasClass(node, "result") {
			if hit := ddgHit(node); hit.URL != "" {
				hits = append(hits, hit)
			}
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return hits, nil
}

func ddgHit(n *html.Node) SearchHit {
	var hit SearchHit
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == "a" {
			switch {
			case hasClass(node, "result__a"):
				hit.URL = ddgTarget(attr(node, "href"))
				hit.Title = strings.Join(strings.Fields(nodeText(node)), " ")
			case hasClass(node, "result__snippet"):
				hit.Snippet = strings.Join(strings.Fields(nodeText(node)), " ")
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return hit
}

// ddgTarget unwraps DuckDuckGo redirect links.
func ddgTarget(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return href
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

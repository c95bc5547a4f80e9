package research

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

// Page is the readable text extracted from one fetched URL.
type Page struct {
	URL   string
	Title string
	Text  string
}

// PageFetcher downloads pages and reduces them to readable text.
type PageFetcher struct {
	client   *http.Client
	limiter  *rate.Limiter
	timeout  time.Duration
	maxBytes int64
	minChars int
	maxChars int
}

// NewPageFetcher returns a fetcher with a per-URL timeout, paced to rps
// requests per second across all goroutines.
func NewPageFetcher(timeout time.Duration, rps float64) *PageFetcher {
	return &PageFetcher{
		client:   &http.Client{},
		limiter:  rate.NewLimiter(rate.Limit(rps), 2),
		timeout:  timeout,
		maxBytes: 2 << 20,
		minChars: 200,
		maxChars: 8000,
	}
}

// Fetch downloads rawURL and extracts its text. Pages with too little text
// are reported as errors so callers can exclude them.
func (f *PageFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("fetch %q: unsupported url", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; factcheck-agent/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if err := checkResp(resp, "fetch", rawURL); err != nil {
		return nil, err
	}

	body := io.LimitReader(resp.Body, f.maxBytes)
	page := &Page{URL: rawURL}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "" || mediaType == "text/html" || mediaType == "application/xhtml+xml":
		page.Title, page.Text, err = ExtractText(body)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
	case strings.HasPrefix(mediaType, "text/"):
		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		page.Text = collapseText(string(raw))
	default:
		return nil, fmt.Errorf("fetch %s: unsupported content type %q", rawURL, mediaType)
	}

	if n := len([]rune(page.Text)); n < f.minChars {
		return nil, fmt.Errorf("fetch %s: only %d characters of text", rawURL, n)
	}
	page.Text = truncateRunes(page.Text, f.maxChars)
	return page, nil
}

// Subtrees that never carry article text.
var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"nav": true, "header": true, "footer": true, "aside": true,
	"form": true, "button": true, "iframe": true, "svg": true, "canvas": true,
}

var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "blockquote": true, "tr": true, "br": true, "figcaption": true,
	"dt": true, "dd": true, "pre": true, "table": true,
}

// ExtractText parses an HTML document and returns its title and readable
// body text. <article> or <main> is preferred over the whole body when present.
func ExtractText(r io.Reader) (title, text string, err error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	if t := findElement(doc, "title"); t != nil {
		title = strings.Join(strings.Fields(nodeText(t)), " ")
	}

	root := findElement(doc, "article")
	if root == nil {
		root = findElement(doc, "main")
	}
	if root == nil {
		root = doc
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			tag := strings.ToLower(n.Data)
			if skipTags[tag] || tag == "head" {
				return
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
			if blockTags[tag] {
				sb.WriteByte('\n')
			}
			return
		case html.TextNode:
			// Source newlines are plain whitespace in HTML.
			sb.WriteString(strings.Join(strings.Fields(n.Data), " "))
			sb.WriteByte(' ')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return title, collapseText(sb.String()), nil
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && strings.EqualFold(n.Data, tag) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

// collapseText squeezes runs of spaces inside lines and drops blank lines.
func collapseText(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

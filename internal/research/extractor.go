package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ayush/factcheck-agent/internal/models"
	"github.com/ayush/factcheck-agent/internal/observability"
)

// NoContentMarker is the context text when extraction found nothing usable.
const NoContentMarker = "NO_WEB_CONTENT"

const truncatedMarker = "\n[truncated]"

const (
	toolWebSearch = "web_search"
	toolFetchURL  = "fetch_url"
)

// ChatCompleter is the subset of *openai.Client the pipeline uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Fetcher downloads a page and extracts its text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// ExtractorConfig bounds one extraction call. Each model turn, search and
// page fetch runs under its own timeout.
type ExtractorConfig struct {
	Model            string
	MaxToolCalls     int
	FetchConcurrency int
	ContextBudget    int
	SearchResults    int
	AgentTimeout     time.Duration
	SearchTimeout    time.Duration
	FetchTimeout     time.Duration
}

// ExtractQuery describes what to look for. Focus narrows a follow-up pass.
type ExtractQuery struct {
	Statement string
	Source    string
	Context   string
	Focus     string
}

// FetchFailure is a page that was excluded from the context.
type FetchFailure struct {
	URL string
	Err string
}

// WebContext is the evidence gathered for one statement.
type WebContext struct {
	Text      string
	URLs      []string
	Pages     []Page
	Hits      []SearchHit
	Summary   string
	ToolCalls int
	Calls     []models.ToolCallRecord
	Failures  []FetchFailure
	Degraded  bool
	Fallback  bool
}

// HasContent reports whether any page text or search snippet was gathered.
func (w *WebContext) HasContent() bool {
	return w != nil && w.Text != "" && w.Text != NoContentMarker
}

// WebContextExtractor gathers supporting text through a model-directed
// search and fetch loop with a hard cap on tool invocations.
type WebContextExtractor struct {
	llm     ChatCompleter
	search  Searcher
	fetch   Fetcher
	cfg     ExtractorConfig
	metrics *observability.Metrics
	log     *zap.Logger
}

func NewWebContextExtractor(llm ChatCompleter, search Searcher, fetch Fetcher, cfg ExtractorConfig, metrics *observability.Metrics, log *zap.Logger) *WebContextExtractor {
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = 5
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 3
	}
	if cfg.ContextBudget <= 0 {
		cfg.ContextBudget = 12000
	}
	if cfg.SearchResults <= 0 {
		cfg.SearchResults = 6
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = 45 * time.Second
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 10 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 8 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WebContextExtractor{llm: llm, search: search, fetch: fetch, cfg: cfg, metrics: metrics, log: log}
}

var extractorTools = []openai.Tool{
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        toolWebSearch,
			Description: "Search the web. Returns titles, URLs and snippets.",
			Parameters: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"search query"}},"required":["query"]}`),
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        toolFetchURL,
			Description: "Fetch a web page and return its readable text.",
			Parameters: json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"absolute http(s) URL"}},"required":["url"]}`),
		},
	},
}

// extraction is the mutable state of one Extract call.
type extraction struct {
	wc      *WebContext
	fetched map[string]bool
}

// Extract never returns a nil WebContext. The error is ErrNoContent when
// nothing usable was found.
func (e *WebContextExtractor) Extract(ctx context.Context, q ExtractQuery) (*WebContext, error) {
	x := &extraction{wc: &WebContext{}, fetched: map[string]bool{}}

	agentErr := e.runAgent(ctx, q, x)
	if agentErr != nil {
		e.log.Warn("search agent failed, using direct search", zap.Error(agentErr))
	}
	if agentErr != nil || (len(x.wc.Pages) == 0 && len(x.wc.Hits) == 0) {
		if x.wc.ToolCalls < e.cfg.MaxToolCalls && ctx.Err() == nil {
			x.wc.Fallback = true
			e.directSearch(ctx, q, x)
		}
	}

	wc := x.wc
	wc.Text = e.assemble(wc)
	if wc.Text == "" {
		wc.Text = NoContentMarker
		wc.Degraded = true
		if agentErr != nil {
			return wc, fmt.Errorf("%w (search agent: %v)", ErrNoContent, agentErr)
		}
		return wc, ErrNoContent
	}
	if len(wc.Pages) == 0 {
		wc.Degraded = true
	}
	return wc, nil
}

func (e *WebContextExtractor) runAgent(ctx context.Context, q ExtractQuery, x *extraction) error {
	if e.llm == nil {
		return errors.New("no reasoning capability configured")
	}

	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(extractorSystemPrompt, e.cfg.MaxToolCalls)},
		{Role: openai.ChatMessageRoleUser, Content: buildExtractorPrompt(q)},
	}

	// One turn more than the tool budget so the model can always answer.
	for turn := 0; turn <= e.cfg.MaxToolCalls; turn++ {
		req := openai.ChatCompletionRequest{
			Model:       e.cfg.Model,
			Messages:    msgs,
			Tools:       extractorTools,
			Temperature: 0.1,
		}
		if x.wc.ToolCalls >= e.cfg.MaxToolCalls {
			req.ToolChoice = "none"
		}

		turnCtx, cancel := context.WithTimeout(ctx, e.cfg.AgentTimeout)
		resp, err := e.llm.CreateChatCompletion(turnCtx, req)
		cancel()
		if err != nil {
			if turn == 0 {
				return err
			}
			e.log.Warn("search agent turn failed, keeping partial context", zap.Int("turn", turn), zap.Error(err))
			return nil
		}
		if len(resp.Choices) == 0 {
			return nil
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			x.wc.Summary = strings.TrimSpace(msg.Content)
			return nil
		}
		msgs = append(msgs, msg)
		msgs = append(msgs, e.runTools(ctx, msg.ToolCalls, x)...)
	}
	return nil
}

// runTools executes one turn of directives within the remaining budget and
// answers every tool call id, searches first and then fetches concurrently.
func (e *WebContextExtractor) runTools(ctx context.Context, calls []openai.ToolCall, x *extraction) []openai.ChatCompletionMessage {
	replies := make([]string, len(calls))
	var (
		fetches []int
		urls    []string
	)

	for i, call := range calls {
		args := struct {
			Query string `json:"query"`
			URL   string `json:"url"`
		}{}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			replies[i] = "error: arguments are not valid JSON"
			continue
		}
		if x.wc.ToolCalls >= e.cfg.MaxToolCalls {
			replies[i] = "error: tool budget exhausted, answer with what you have"
			continue
		}

		switch call.Function.Name {
		case toolWebSearch:
			x.wc.ToolCalls++
			replies[i] = e.doSearch(ctx, call.Function.Arguments, args.Query, x)
		case toolFetchURL:
			if x.fetched[args.URL] {
				replies[i] = "error: already fetched"
				continue
			}
			x.wc.ToolCalls++
			x.fetched[args.URL] = true
			fetches = append(fetches, i)
			urls = append(urls, args.URL)
		default:
			replies[i] = "error: unknown tool " + call.Function.Name
		}
	}

	if len(fetches) > 0 {
		for j, page := range e.fetchAll(ctx, urls, x) {
			i := fetches[j]
			if page == nil {
				replies[i] = "error: page could not be fetched"
				continue
			}
			replies[i] = fmt.Sprintf("TITLE: %s\nURL: %s\n\n%s", page.Title, page.URL, truncateRunes(page.Text, 3000))
		}
	}

	msgs := make([]openai.ChatCompletionMessage, len(calls))
	for i, call := range calls {
		msgs[i] = openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    replies[i],
			ToolCallID: call.ID,
		}
	}
	return msgs
}

func (e *WebContextExtractor) doSearch(ctx context.Context, rawArgs, query string, x *extraction) string {
	e.metrics.RecordToolCall(toolWebSearch)
	rec := models.ToolCallRecord{Name: toolWebSearch, Arguments: rawArgs}

	searchCtx, cancel := context.WithTimeout(ctx, e.cfg.SearchTimeout)
	hits, err := e.search.Search(searchCtx, query, e.cfg.SearchResults)
	cancel()
	if err != nil {
		rec.Error = err.Error()
		x.wc.Calls = append(x.wc.Calls, rec)
		e.log.Warn("web search failed", zap.String("query", query), zap.Error(err))
		return "error: search failed"
	}
	rec.OK = true
	x.wc.Calls = append(x.wc.Calls, rec)

	var sb strings.Builder
	for i, h := range hits {
		if !x.hasHit(h.URL) {
			x.wc.Hits = append(x.wc.Hits, h)
		}
		fmt.Fprintf(&sb, "[%d] %s\n%s\n%s\n\n", i+1, h.Title, h.URL, h.Snippet)
	}
	if sb.Len() == 0 {
		return "no results"
	}
	return sb.String()
}

func (x *extraction) hasHit(url string) bool {
	for _, h := range x.wc.Hits {
		if h.URL == url {
			return true
		}
	}
	return false
}

// fetchAll fetches urls with bounded fan-out. Each fetch has its own
// timeout; a failure only drops that page.
func (e *WebContextExtractor) fetchAll(ctx context.Context, urls []string, x *extraction) []*Page {
	pages := make([]*Page, len(urls))
	errs := make([]error, len(urls))

	var g errgroup.Group
	g.SetLimit(e.cfg.FetchConcurrency)
	for i, u := range urls {
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
			defer cancel()
			pages[i], errs[i] = e.fetch.Fetch(fetchCtx, u)
			return nil
		})
	}
	_ = g.Wait()

	for i, u := range urls {
		e.metrics.RecordToolCall(toolFetchURL)
		e.metrics.RecordFetch(errs[i] == nil)
		rec := models.ToolCallRecord{Name: toolFetchURL, Arguments: u, OK: errs[i] == nil}
		if errs[i] != nil {
			rec.Error = errs[i].Error()
			x.wc.Failures = append(x.wc.Failures, FetchFailure{URL: u, Err: errs[i].Error()})
			e.log.Info("page excluded", zap.String("url", u), zap.Error(errs[i]))
			pages[i] = nil
		} else {
			x.wc.Pages = append(x.wc.Pages, *pages[i])
		}
		x.wc.Calls = append(x.wc.Calls, rec)
	}
	return pages
}

// directSearch searches for the statement and fetches the top hits without
// the model, spending only the remaining tool budget.
func (e *WebContextExtractor) directSearch(ctx context.Context, q ExtractQuery, x *extraction) {
	query := q.Statement
	if q.Focus != "" {
		query = q.Focus
	}
	args, _ := json.Marshal(map[string]string{"query": query})
	x.wc.ToolCalls++
	e.doSearch(ctx, string(args), query, x)

	var urls []string
	for _, h := range x.wc.Hits {
		if x.wc.ToolCalls >= e.cfg.MaxToolCalls || len(urls) >= e.cfg.FetchConcurrency {
			break
		}
		if h.URL == "" || x.fetched[h.URL] {
			continue
		}
		x.fetched[h.URL] = true
		x.wc.ToolCalls++
		urls = append(urls, h.URL)
	}
	if len(urls) > 0 {
		e.fetchAll(ctx, urls, x)
	}
}

// assemble concatenates pages, search snippets and the agent summary up to
// the context budget, and records the examined URLs.
func (e *WebContextExtractor) assemble(wc *WebContext) string {
	var sb strings.Builder
	seen := map[string]bool{}
	for i, p := range wc.Pages {
		fmt.Fprintf(&sb, "SOURCE [%d]: %s\nURL: %s\n%s\n\n", i+1, p.Title, p.URL, p.Text)
		if !seen[p.URL] {
			seen[p.URL] = true
			wc.URLs = append(wc.URLs, p.URL)
		}
	}

	var snippets strings.Builder
	for _, h := range wc.Hits {
		if h.Snippet == "" || h.URL == "" {
			continue
		}
		fmt.Fprintf(&snippets, "- %s (%s): %s\n", h.Title, h.URL, h.Snippet)
		if !seen[h.URL] {
			seen[h.URL] = true
			wc.URLs = append(wc.URLs, h.URL)
		}
	}
	if snippets.Len() > 0 {
		sb.WriteString("SEARCH RESULTS:\n")
		sb.WriteString(snippets.String())
		sb.WriteString("\n")
	}

	if sb.Len() == 0 {
		return ""
	}
	if wc.Summary != "" {
		sb.WriteString("AGENT NOTES:\n")
		sb.WriteString(wc.Summary)
	}

	return clipToBudget(strings.TrimSpace(sb.String()), e.cfg.ContextBudget)
}

// clipToBudget cuts s to at most budget runes, marking the cut.
func clipToBudget(s string, budget int) string {
	if len([]rune(s)) <= budget {
		return s
	}
	if budget <= len(truncatedMarker) {
		return truncateRunes(s, max(budget, 0))
	}
	return truncateRunes(s, budget-len(truncatedMarker)) + truncatedMarker
}

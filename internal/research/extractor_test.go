package research

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestExtractor(chat ChatCompleter, s Searcher, f Fetcher, cfg ExtractorConfig) *WebContextExtractor {
	cfg.Model = "test-model"
	return NewWebContextExtractor(chat, s, f, cfg, nil, zap.NewNop())
}

func TestExtractAgentLoop(t *testing.T) {
	chat := &fakeChat{script: []chatStep{
		toolReply(search("one big beautiful bill medicaid")),
		toolReply(fetch("https://www.cbo.gov/report"), fetch("https://broken.example/x")),
		textReply("CBO projects Medicaid reductions."),
	}}
	searcher := &fakeSearcher{hits: []SearchHit{{Title: "CBO", URL: "https://www.cbo.gov/report", Snippet: "Estimate of budgetary effects"}}}
	fetcher := &fakeFetcher{pages: map[string]string{"https://www.cbo.gov/report": "The bill reduces federal Medicaid spending."}}

	wc, err := newTestExtractor(chat, searcher, fetcher, ExtractorConfig{}).Extract(context.Background(), ExtractQuery{Statement: "The bill cuts Medicaid"})
	require.NoError(t, err)

	assert.Equal(t, 3, wc.ToolCalls)
	assert.False(t, wc.Degraded)
	assert.False(t, wc.Fallback)
	require.Len(t, wc.Pages, 1)
	require.Len(t, wc.Failures, 1)
	assert.Equal(t, "https://broken.example/x", wc.Failures[0].URL)
	assert.Equal(t, []string{"https://www.cbo.gov/report"}, wc.URLs)
	assert.Equal(t, "CBO projects Medicaid reductions.", wc.Summary)
	assert.Contains(t, wc.Text, "SOURCE [1]: Title of https://www.cbo.gov/report")
	assert.Contains(t, wc.Text, "The bill reduces federal Medicaid spending.")
	assert.Contains(t, wc.Text, "AGENT NOTES:")
	assert.Len(t, wc.Calls, 3)

	// Every tool call id is answered before the next turn.
	last := chat.requests[2].Messages
	var toolMsgs int
	for _, m := range last {
		if m.Role == openai.ChatMessageRoleTool {
			toolMsgs++
		}
	}
	assert.Equal(t, 3, toolMsgs)
}

func TestExtractEnforcesToolCap(t *testing.T) {
	chat := &fakeChat{script: []chatStep{
		toolReply(fetch("https://a.example/1"), fetch("https://a.example/2"), fetch("https://a.example/3")),
		textReply("done"),
	}}
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://a.example/1": "page one",
		"https://a.example/2": "page two",
		"https://a.example/3": "page three",
	}}

	wc, err := newTestExtractor(chat, &fakeSearcher{}, fetcher, ExtractorConfig{MaxToolCalls: 2}).
		Extract(context.Background(), ExtractQuery{Statement: "s"})
	require.NoError(t, err)

	assert.Equal(t, 2, wc.ToolCalls)
	assert.Len(t, fetcher.fetched, 2)
	assert.Len(t, wc.Pages, 2)
	require.Len(t, chat.requests, 2)
	assert.Equal(t, "none", chat.requests[1].ToolChoice)
}

func TestExtractBoundsModelTurns(t *testing.T) {
	chat := &fakeChat{script: []chatStep{toolReply(search("again"))}}
	searcher := &fakeSearcher{hits: []SearchHit{{Title: "t", URL: "https://s.example", Snippet: "snippet"}}}

	wc, err := newTestExtractor(chat, searcher, &fakeFetcher{}, ExtractorConfig{MaxToolCalls: 2}).
		Extract(context.Background(), ExtractQuery{Statement: "s"})
	require.NoError(t, err)

	assert.Equal(t, 3, chat.calls())
	assert.Equal(t, 2, wc.ToolCalls)
	assert.Len(t, searcher.calls, 2)
	assert.True(t, wc.Degraded, "snippets only")
	assert.Contains(t, wc.Text, "SEARCH RESULTS:")
}

func TestExtractSkipsRepeatedURL(t *testing.T) {
	chat := &fakeChat{script: []chatStep{
		toolReply(fetch("https://a.example/1")),
		toolReply(fetch("https://a.example/1")),
		textReply("done"),
	}}
	fetcher := &fakeFetcher{pages: map[string]string{"https://a.example/1": "text"}}

	wc, err := newTestExtractor(chat, &fakeSearcher{}, fetcher, ExtractorConfig{}).
		Extract(context.Background(), ExtractQuery{Statement: "s"})
	require.NoError(t, err)
	assert.Len(t, fetcher.fetched, 1)
	assert.Equal(t, 1, wc.ToolCalls)
}

func TestExtractFallsBackToDirectSearch(t *testing.T) {
	chat := &fakeChat{script: []chatStep{chatError(errors.New("dial tcp: connection refused"))}}
	searcher := &fakeSearcher{hits: []SearchHit{
		{Title: "A", URL: "https://a.example/1", Snippet: "alpha"},
		{Title: "B", URL: "https://b.example/2", Snippet: "beta"},
	}}
	fetcher := &fakeFetcher{pages: map[string]string{"https://a.example/1": "alpha page"}}

	wc, err := newTestExtractor(chat, searcher, fetcher, ExtractorConfig{}).
		Extract(context.Background(), ExtractQuery{Statement: "claim"})
	require.NoError(t, err)

	assert.True(t, wc.Fallback)
	assert.Equal(t, []string{"claim"}, searcher.calls)
	assert.Equal(t, 3, wc.ToolCalls)
	assert.Len(t, wc.Pages, 1)
	assert.Len(t, wc.Failures, 1)
	assert.ElementsMatch(t, []string{"https://a.example/1", "https://b.example/2"}, wc.URLs)
}

func TestExtractNoContent(t *testing.T) {
	chat := &fakeChat{script: []chatStep{chatError(errors.New("unreachable"))}}
	searcher := &fakeSearcher{err: errors.New("search down")}

	wc, err := newTestExtractor(chat, searcher, &fakeFetcher{}, ExtractorConfig{}).
		Extract(context.Background(), ExtractQuery{Statement: "claim"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoContent)
	require.NotNil(t, wc)
	assert.Equal(t, NoContentMarker, wc.Text)
	assert.True(t, wc.Degraded)
	assert.False(t, wc.HasContent())
	assert.Empty(t, wc.URLs)
}

func TestExtractTruncatesToBudget(t *testing.T) {
	chat := &fakeChat{script: []chatStep{
		toolReply(fetch("https://a.example/1"), fetch("https://a.example/2")),
		textReply("done"),
	}}
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://a.example/1": longText("alpha", 2000),
		"https://a.example/2": longText("beta", 2000),
	}}

	wc, err := newTestExtractor(chat, &fakeSearcher{}, fetcher, ExtractorConfig{ContextBudget: 500}).
		Extract(context.Background(), ExtractQuery{Statement: "s"})
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(wc.Text)), 500)
	assert.True(t, strings.HasSuffix(wc.Text, truncatedMarker))
	assert.Len(t, wc.URLs, 2, "truncation never drops examined URLs")
}

// stallingChat answers with replies in order, then blocks until the
// caller's context ends.
type stallingChat struct {
	mu      sync.Mutex
	replies []chatStep
}

func (c *stallingChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.mu.Lock()
	if len(c.replies) > 0 {
		step := c.replies[0]
		c.replies = c.replies[1:]
		c.mu.Unlock()
		return step.resp, step.err
	}
	c.mu.Unlock()
	<-ctx.Done()
	return openai.ChatCompletionResponse{}, ctx.Err()
}

type stallingSearcher struct{}

func (stallingSearcher) Search(ctx context.Context, query string, n int) ([]SearchHit, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func extractWithin(t *testing.T, limit time.Duration, e *WebContextExtractor, q ExtractQuery) (*WebContext, error) {
	t.Helper()
	type out struct {
		wc  *WebContext
		err error
	}
	done := make(chan out, 1)
	go func() {
		wc, err := e.Extract(context.Background(), q)
		done <- out{wc, err}
	}()
	select {
	case o := <-done:
		return o.wc, o.err
	case <-time.After(limit):
		t.Fatalf("extraction still running after %s", limit)
		return nil, nil
	}
}

func TestExtractStalledModelAndSearchTimeOut(t *testing.T) {
	e := newTestExtractor(&stallingChat{}, stallingSearcher{}, &fakeFetcher{}, ExtractorConfig{
		AgentTimeout:  50 * time.Millisecond,
		SearchTimeout: 50 * time.Millisecond,
	})

	wc, err := extractWithin(t, 2*time.Second, e, ExtractQuery{Statement: "claim"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoContent)
	assert.Contains(t, err.Error(), "deadline exceeded")
	require.NotNil(t, wc)
	assert.True(t, wc.Fallback)
	assert.True(t, wc.Degraded)
	require.Len(t, wc.Calls, 1)
	assert.False(t, wc.Calls[0].OK)
}

func TestExtractStalledLaterTurnKeepsContext(t *testing.T) {
	chat := &stallingChat{replies: []chatStep{toolReply(fetch("https://a.example/1"))}}
	fetcher := &fakeFetcher{pages: map[string]string{"https://a.example/1": "page one"}}
	e := newTestExtractor(chat, stallingSearcher{}, fetcher, ExtractorConfig{AgentTimeout: 50 * time.Millisecond})

	wc, err := extractWithin(t, 2*time.Second, e, ExtractQuery{Statement: "claim"})
	require.NoError(t, err)
	assert.False(t, wc.Fallback)
	require.Len(t, wc.Pages, 1)
	assert.Equal(t, "https://a.example/1", wc.Pages[0].URL)
}

// gatedFetcher records how many fetches run at once. The slow URL blocks
// until its context ends; every other URL answers after a short pause.
type gatedFetcher struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	slow     string
}

func (f *gatedFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if url == f.slow {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	select {
	case <-time.After(20 * time.Millisecond):
		return &Page{URL: url, Title: url, Text: "text of " + url}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestExtractFetchFanOutIsBoundedAndTimedPerURL(t *testing.T) {
	urls := []string{
		"https://a.example/1",
		"https://slow.example/2",
		"https://a.example/3",
		"https://a.example/4",
		"https://a.example/5",
	}
	var calls []toolCall
	for _, u := range urls {
		calls = append(calls, fetch(u))
	}
	chat := &fakeChat{script: []chatStep{toolReply(calls...), textReply("done")}}
	fetcher := &gatedFetcher{slow: "https://slow.example/2"}

	e := newTestExtractor(chat, &fakeSearcher{}, fetcher, ExtractorConfig{
		MaxToolCalls:     6,
		FetchConcurrency: 2,
		FetchTimeout:     100 * time.Millisecond,
	})
	wc, err := extractWithin(t, 2*time.Second, e, ExtractQuery{Statement: "claim"})
	require.NoError(t, err)

	assert.LessOrEqual(t, fetcher.peak, 2)
	assert.Equal(t, 2, fetcher.peak, "fan-out should use the whole limit")
	require.Len(t, wc.Failures, 1)
	assert.Equal(t, "https://slow.example/2", wc.Failures[0].URL)
	assert.Contains(t, wc.Failures[0].Err, "deadline exceeded")
	assert.Len(t, wc.Pages, 4)
}

package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/ayush/factcheck-agent/internal/models"
	"github.com/ayush/factcheck-agent/internal/store"
)

// fakeChat replays scripted completions in order. Once the script runs out
// it keeps returning the last entry.
type fakeChat struct {
	mu       sync.Mutex
	script   []chatStep
	requests []openai.ChatCompletionRequest
}

type chatStep struct {
	resp openai.ChatCompletionResponse
	err  error
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.script) == 0 {
		return openai.ChatCompletionResponse{}, errors.New("no scripted response")
	}
	step := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	return step.resp, step.err
}

func (f *fakeChat) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func textReply(content string) chatStep {
	return chatStep{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: content,
		}}},
	}}
}

func chatError(err error) chatStep { return chatStep{err: err} }

type toolCall struct {
	name string
	args map[string]string
}

func toolReply(calls ...toolCall) chatStep {
	var tcs []openai.ToolCall
	for i, c := range calls {
		args, _ := json.Marshal(c.args)
		tcs = append(tcs, openai.ToolCall{
			ID:   fmt.Sprintf("call_%d_%s", i, c.name),
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      c.name,
				Arguments: string(args),
			},
		})
	}
	return chatStep{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			ToolCalls: tcs,
		}}},
	}}
}

func search(q string) toolCall { return toolCall{name: toolWebSearch, args: map[string]string{"query": q}} }
func fetch(u string) toolCall  { return toolCall{name: toolFetchURL, args: map[string]string{"url": u}} }

type fakeSearcher struct {
	mu    sync.Mutex
	hits  []SearchHit
	err   error
	calls []string
}

func (f *fakeSearcher) Search(ctx context.Context, query string, n int) ([]SearchHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, query)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > n {
		return f.hits[:n], nil
	}
	return f.hits, nil
}

// fakeFetcher serves pages by URL; unknown URLs fail.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	fetched []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	text, ok := f.pages[url]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fetch %s: returned 404", url)
	}
	return &Page{URL: url, Title: "Title of " + url, Text: text}, nil
}

// memProfiles emulates the unique name_normalized constraint.
type memProfiles struct {
	mu     sync.Mutex
	byName map[string]*models.SpeakerProfile
	err    error
	// results backs ProfileStats when set.
	results *memResults
}

func newMemProfiles() *memProfiles {
	return &memProfiles{byName: map[string]*models.SpeakerProfile{}}
}

func (m *memProfiles) GetOrCreateProfile(ctx context.Context, name, normalized string) (*models.SpeakerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if p, ok := m.byName[normalized]; ok {
		return p, nil
	}
	p := &models.SpeakerProfile{ID: uuid.NewString(), Name: name, NameNormalized: normalized, Type: models.ProfilePerson}
	m.byName[normalized] = p
	return p, nil
}

// memResults is an in-memory result store and fingerprint index.
type memResults struct {
	mu        sync.Mutex
	rows      []*models.ResearchResult
	insertErr error
	findErr   error
}

func (m *memResults) InsertResult(ctx context.Context, res *models.ResearchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	cp := *res
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memResults) GetResult(ctx context.Context, id string) (*models.ResearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memResults) FindByFingerprint(ctx context.Context, fp string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return "", false, m.findErr
	}
	for _, r := range m.rows {
		if r.Fingerprint == fp {
			return r.ID, true, nil
		}
	}
	return "", false, nil
}

func (m *memResults) SearchResults(ctx context.Context, q models.SearchQuery) (*models.SearchPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page := &models.SearchPage{}
	for _, r := range m.rows {
		if q.Status != "" && r.Status != q.Status {
			continue
		}
		if q.Search != "" && !strings.Contains(strings.ToLower(r.Statement), strings.ToLower(q.Search)) {
			continue
		}
		if q.TriFactorOnly && !r.IsTriFactor() {
			continue
		}
		page.Total++
		if r.IsTriFactor() {
			page.TriFactorCount++
		}
		page.Results = append(page.Results, *r)
	}
	return page, nil
}

func (m *memResults) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]string
	err     error
}

func newMemCache() *memCache { return &memCache{entries: map[string]string{}} }

func (c *memCache) Lookup(ctx context.Context, fp string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	return c.entries[fp], nil
}

func (c *memCache) Remember(ctx context.Context, fp, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if _, ok := c.entries[fp]; !ok {
		c.entries[fp] = id
	}
	return nil
}

type memTraces struct {
	mu     sync.Mutex
	traces []*models.ResearchTrace
}

func (m *memTraces) InsertTrace(ctx context.Context, t *models.ResearchTrace) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traces = append(m.traces, t)
	return fmt.Sprintf("trace-%d", len(m.traces)), nil
}

func (m *memTraces) GetTrace(ctx context.Context, researchID string) (*models.ResearchTrace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.traces) - 1; i >= 0; i-- {
		if m.traces[i].ResearchID == researchID {
			return m.traces[i], nil
		}
	}
	return nil, store.ErrNotFound
}

type memFiles struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemFiles() *memFiles { return &memFiles{objects: map[string][]byte{}} }

func (m *memFiles) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memFiles) Download(ctx context.Context, key string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, "", store.ErrNotFound
	}
	return data, "text/plain; charset=utf-8", nil
}

// stubWeb returns canned extraction passes in order.
type stubWeb struct {
	mu      sync.Mutex
	passes  []webPass
	queries []ExtractQuery
}

type webPass struct {
	wc  *WebContext
	err error
}

func (s *stubWeb) Extract(ctx context.Context, q ExtractQuery) (*WebContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if len(s.passes) == 0 {
		return &WebContext{Text: NoContentMarker, Degraded: true}, ErrNoContent
	}
	p := s.passes[0]
	if len(s.passes) > 1 {
		s.passes = s.passes[1:]
	}
	return p.wc, p.err
}

// stubResearcher returns canned verdicts in order.
type stubResearcher struct {
	mu      sync.Mutex
	results []researchOutcome
	inputs  []ResearchInput
}

type researchOutcome struct {
	v   *Verdict
	err error
}

func (s *stubResearcher) Research(ctx context.Context, in ResearchInput) (*Verdict, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, in)
	out := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	if out.err != nil && out.v == nil {
		return FallbackVerdict(out.err), []string{"garbage"}, out.err
	}
	return out.v, []string{`{"status":"..."}`}, out.err
}

func longText(seed string, n int) string {
	var sb strings.Builder
	for sb.Len() < n {
		sb.WriteString(seed)
		sb.WriteString(" ")
	}
	return sb.String()
}

func (m *memProfiles) GetProfile(ctx context.Context, id string) (*models.SpeakerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byName {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memProfiles) FindProfiles(ctx context.Context, fragment string, limit int) ([]models.SpeakerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SpeakerProfile
	for name, p := range m.byName {
		if strings.Contains(name, fragment) && len(out) < limit {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memProfiles) ProfileStats(ctx context.Context, id string) (*models.ProfileStats, error) {
	if _, err := m.GetProfile(ctx, id); err != nil {
		return nil, err
	}
	stats := &models.ProfileStats{
		ProfileID:        id,
		RecentStatements: []models.ProfileStatement{},
		Stats:            models.StatementStats{Categories: []models.CategoryCount{}, StatusBreakdown: map[string]int{}},
	}
	if m.results == nil {
		return stats, nil
	}
	m.results.mu.Lock()
	defer m.results.mu.Unlock()
	byCategory := map[string]int{}
	for i := len(m.results.rows) - 1; i >= 0; i-- {
		r := m.results.rows[i]
		if r.ProfileID == nil || *r.ProfileID != id {
			continue
		}
		stats.Stats.TotalStatements++
		stats.Stats.StatusBreakdown[string(r.Status)]++
		byCategory[string(r.Category)]++
		if len(stats.RecentStatements) < 10 {
			stats.RecentStatements = append(stats.RecentStatements, models.ProfileStatement{
				ID: r.ID, Statement: r.Statement, Verdict: r.Verdict, Status: r.Status,
				Correction: r.Correction, Country: r.Country, Category: r.Category, CreatedAt: r.ProcessedAt,
			})
		}
	}
	for c, n := range byCategory {
		stats.Stats.Categories = append(stats.Stats.Categories, models.CategoryCount{Category: c, Count: n})
	}
	return stats, nil
}

func (m *memProfiles) UpdateProfile(ctx context.Context, id string, upd models.ProfileUpdate) (*models.SpeakerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var target *models.SpeakerProfile
	for _, p := range m.byName {
		if p.ID == id {
			target = p
		}
	}
	if target == nil {
		return nil, store.ErrNotFound
	}
	if upd.NameNormalized != nil && *upd.NameNormalized != target.NameNormalized {
		if _, taken := m.byName[*upd.NameNormalized]; taken {
			return nil, store.ErrConflict
		}
		delete(m.byName, target.NameNormalized)
		target.NameNormalized = *upd.NameNormalized
		m.byName[target.NameNormalized] = target
	}
	if upd.Name != nil {
		target.Name = *upd.Name
	}
	if upd.Type != nil {
		target.Type = *upd.Type
	}
	if upd.Country != nil {
		target.Country = *upd.Country
	}
	if upd.Party != nil {
		target.Party = *upd.Party
	}
	if upd.Position != nil {
		target.Position = *upd.Position
	}
	if upd.CredibilityScore != nil {
		target.CredibilityScore = *upd.CredibilityScore
	}
	cp := *target
	return &cp, nil
}

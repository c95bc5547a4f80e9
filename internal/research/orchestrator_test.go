package research

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ayush/factcheck-agent/internal/models"
	"github.com/ayush/factcheck-agent/internal/observability"
)

type pipelineFixture struct {
	orch     *Orchestrator
	web      *stubWeb
	llm      *stubResearcher
	results  *memResults
	profiles *memProfiles
	cache    *memCache
	traces   *memTraces
	files    *memFiles
	metrics  *observability.Metrics
}

func newPipeline(web *stubWeb, llm *stubResearcher) *pipelineFixture {
	f := &pipelineFixture{
		web:      web,
		llm:      llm,
		results:  &memResults{},
		profiles: newMemProfiles(),
		cache:    newMemCache(),
		traces:   &memTraces{},
		files:    newMemFiles(),
		metrics:  observability.NewMetrics(prometheus.NewRegistry()),
	}
	f.orch = NewOrchestrator(Deps{
		Profiles:  NewProfileResolver(f.profiles),
		Dedup:     NewDeduplicator(f.results, f.cache, zap.NewNop()),
		Web:       web,
		LLM:       llm,
		Resources: NewResourceAnalyzer(DefaultDomainRules()),
		Results:   f.results,
		Traces:    f.traces,
		Evidence:  f.files,
		Metrics:   f.metrics,
		Log:       zap.NewNop(),
	}, OrchestratorConfig{})
	return f
}

func obbbRequest() models.ResearchRequest {
	return models.ResearchRequest{
		Statement: "One Big Beautiful Bill includes $1.7 trillion in mandatory savings",
		Source:    "Donald Trump administration",
		Context:   "White House fact sheet on the reconciliation bill",
		Datetime:  time.Date(2025, 6, 7, 15, 22, 28, 709000000, time.UTC),
	}
}

func testVerdict(status models.Status, confidence float64, sources ...CitedSource) *Verdict {
	return &Verdict{
		Status:       status,
		Verdict:      "Assessment of the statement.",
		ValidSources: "2",
		Confidence:   confidence,
		Summary:      "Summary.",
		KeyFindings:  []string{"Finding one"},
		Sources:      sources,
		Perspectives: []models.ExpertPerspective{{
			ExpertName:      "Budget Analyst",
			Stance:          models.StanceNeutral,
			Reasoning:       "Reasoning.",
			ConfidenceLevel: confidence,
			Summary:         "Reasoning.",
			SourceType:      models.SourceLLM,
		}},
	}
}

func richContext() *WebContext {
	pages := []Page{
		{URL: "https://www.cbo.gov/publication/61367", Title: "CBO estimate", Text: longText("cbo", 1200)},
		{URL: "https://www.reuters.com/world/us/bill", Title: "Reuters", Text: longText("reuters", 1200)},
	}
	return &WebContext{
		Text:      longText("context", 2400),
		URLs:      []string{pages[0].URL, pages[1].URL},
		Pages:     pages,
		Summary:   "Two sources confirm the savings figure.",
		ToolCalls: 3,
		Calls:     []models.ToolCallRecord{{Name: toolWebSearch, Arguments: `{"query":"obbb"}`, OK: true}},
	}
}

func assertMethodHonoursErrors(t *testing.T, res *models.ResearchResult) {
	t.Helper()
	tokens := map[string]string{stageLLM: "llm", stageWeb: "web_search"}
	for _, e := range res.ResearchErrors {
		stage, _, _ := strings.Cut(e, ":")
		if tok, ok := tokens[stage]; ok {
			assert.NotContains(t, strings.Split(strings.TrimPrefix(res.ResearchMethod, "tri-factor:"), "+"), tok,
				"method %q lists failed stage %q", res.ResearchMethod, stage)
		}
	}
}

func TestRunWithoutWebEvidence(t *testing.T) {
	f := newPipeline(
		&stubWeb{passes: []webPass{{wc: &WebContext{Text: NoContentMarker, Degraded: true}, err: ErrNoContent}}},
		&stubResearcher{results: []researchOutcome{{v: testVerdict(models.StatusUnverifiable, 35)}}},
	)

	resp, err := f.orch.Run(context.Background(), obbbRequest())
	require.NoError(t, err)

	assert.Equal(t, models.StatusUnverifiable, resp.Status)
	assert.Equal(t, 0, resp.ResourcesAgreed.Count)
	assert.Equal(t, 0, resp.ResourcesDisagreed.Count)
	assert.Equal(t, "0%", resp.ResourcesAgreed.Total)
	assert.Equal(t, "0%", resp.ResourcesDisagreed.Total)
	assert.NotEmpty(t, resp.ExpertPerspectives)
	assert.Equal(t, 35, resp.ConfidenceScore)
	assert.False(t, resp.IsDuplicate)
	assert.Equal(t, resp.ID, resp.DatabaseID)
	assert.Contains(t, resp.ResearchErrors, "web_extraction: no content found")
	assert.Equal(t, "llm", resp.ResearchMethod)
	assert.False(t, resp.ResearchMetadata.TriFactor)
	require.NotNil(t, resp.FallbackReason)
	assert.Contains(t, *resp.FallbackReason, "no web content")
	require.NotNil(t, resp.ProfileID)
	assert.Equal(t, "One Big Beautiful Bill includes $1.7 trillion in mandatory savings", resp.RequestStatement)
	assertMethodHonoursErrors(t, resp.ResearchResult)

	// Thin first pass triggers one narrower enhancement attempt.
	require.Len(t, f.web.queries, 2)
	assert.NotEmpty(t, f.web.queries[1].Focus)
	assert.Len(t, f.llm.inputs, 1)
	assert.Contains(t, resp.ResearchMetadata.Stages, StateEnhanced)
	assert.False(t, resp.ResearchMetadata.EnhancementApplied)

	assert.Equal(t, 1, f.results.count())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.StageFailuresTotal.WithLabelValues(stageWeb)))
}

func TestRunTriFactor(t *testing.T) {
	wc := richContext()
	f := newPipeline(
		&stubWeb{passes: []webPass{{wc: wc}}},
		&stubResearcher{results: []researchOutcome{{v: testVerdict(models.StatusTrue, 80,
			CitedSource{URL: wc.URLs[0], Title: "CBO", Stance: models.StanceSupporting},
			CitedSource{URL: wc.URLs[1], Title: "Reuters", Stance: models.StanceSupporting},
			CitedSource{URL: "https://made-up.example/x", Stance: models.StanceOpposing},
		)}}},
	)

	resp, err := f.orch.Run(context.Background(), obbbRequest())
	require.NoError(t, err)

	assert.Equal(t, "tri-factor:llm+web_search+resource_analysis", resp.ResearchMethod)
	assert.True(t, resp.IsTriFactor())
	assert.True(t, resp.ResearchMetadata.TriFactor)
	assert.Empty(t, resp.ResearchErrors)
	assert.Nil(t, resp.FallbackReason)
	assert.Equal(t, 80, resp.ConfidenceScore)
	assert.Equal(t, 2, resp.ResourcesAgreed.Count)
	assert.Equal(t, "100%", resp.ResourcesAgreed.Total)
	assert.Equal(t, 1, resp.ResearchMetadata.IgnoredCitations)
	assert.Equal(t, 2, resp.ResearchMetadata.WebResultsCount)
	assert.Equal(t, "Web research summary: Two sources confirm the savings figure.", resp.AdditionalContext)
	assert.Equal(t, []string{StateReceived, StateProfileResolved, StateDuplicateChecked, StateContextGathered,
		StateLLMResearched, StateAnalyzed, StateScored, StatePersisted}, resp.ResearchMetadata.Stages)
	assert.Len(t, f.web.queries, 1, "rich context skips enhancement")

	// Side effects after commit.
	assert.Equal(t, resp.ID, f.cache.entries[resp.Fingerprint])
	require.Len(t, f.traces.traces, 1)
	trace := f.traces.traces[0]
	assert.Equal(t, resp.ID, trace.ResearchID)
	require.Len(t, trace.Pages, 2)
	assert.Equal(t, evidenceKey(resp.ID, 1), trace.Pages[0].ObjectKey)
	data, _, err := f.files.Download(context.Background(), evidenceKey(resp.ID, 2))
	require.NoError(t, err)
	assert.Contains(t, string(data), "URL: https://www.reuters.com/world/us/bill")
}

func TestRunDuplicate(t *testing.T) {
	f := newPipeline(
		&stubWeb{passes: []webPass{{wc: richContext()}}},
		&stubResearcher{results: []researchOutcome{{v: testVerdict(models.StatusTrue, 70)}}},
	)
	ctx := context.Background()

	first, err := f.orch.Run(ctx, obbbRequest())
	require.NoError(t, err)

	again := obbbRequest()
	again.Statement = "  one big beautiful bill INCLUDES $1.7 trillion in mandatory   savings"
	second, err := f.orch.Run(ctx, again)
	require.NoError(t, err)

	assert.True(t, second.IsDuplicate)
	assert.Equal(t, first.DatabaseID, second.DatabaseID)
	assert.Equal(t, again.Statement, second.RequestStatement)
	assert.Equal(t, 1, f.results.count())
	assert.Len(t, f.llm.inputs, 1)
}

func TestRunDuplicateFromIndexWithColdCache(t *testing.T) {
	f := newPipeline(
		&stubWeb{passes: []webPass{{wc: richContext()}}},
		&stubResearcher{results: []researchOutcome{{v: testVerdict(models.StatusTrue, 70)}}},
	)
	ctx := context.Background()
	first, err := f.orch.Run(ctx, obbbRequest())
	require.NoError(t, err)
	delete(f.cache.entries, first.Fingerprint)

	second, err := f.orch.Run(ctx, obbbRequest())
	require.NoError(t, err)
	assert.True(t, second.IsDuplicate)
	assert.Equal(t, first.ID, second.ID)
}

func TestRunPersistenceFailure(t *testing.T) {
	f := newPipeline(
		&stubWeb{passes: []webPass{{wc: richContext()}}},
		&stubResearcher{results: []researchOutcome{{v: testVerdict(models.StatusTrue, 70)}}},
	)
	f.results.insertErr = errors.New("connection reset")

	resp, err := f.orch.Run(context.Background(), obbbRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Nil(t, resp)
	assert.Empty(t, f.cache.entries)
	assert.Empty(t, f.traces.traces)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ResearchTotal.WithLabelValues("failed")))
}

func TestRunEnhancementRecoversWeb(t *testing.T) {
	rich := richContext()
	f := newPipeline(
		&stubWeb{passes: []webPass{
			{wc: &WebContext{Text: NoContentMarker, Degraded: true}, err: ErrNoContent},
			{wc: rich},
		}},
		&stubResearcher{results: []researchOutcome{
			{v: testVerdict(models.StatusUnverifiable, 30)},
			{v: testVerdict(models.StatusFactualError, 75,
				CitedSource{URL: rich.URLs[0], Stance: models.StanceOpposing},
				CitedSource{URL: rich.URLs[1], Stance: models.StanceSupporting},
			)},
		}},
	)

	resp, err := f.orch.Run(context.Background(), obbbRequest())
	require.NoError(t, err)

	assert.Equal(t, models.StatusFactualError, resp.Status)
	assert.Equal(t, "tri-factor:llm+web_search+web_enhancement+resource_analysis", resp.ResearchMethod)
	assert.Empty(t, resp.ResearchErrors)
	assert.True(t, resp.ResearchMetadata.EnhancementApplied)
	require.Len(t, f.llm.inputs, 2)
	assert.Equal(t, "Finding one", f.llm.inputs[1].Focus)
	assert.Equal(t, rich.URLs, f.llm.inputs[1].URLs)
	// n=2, one corroborating OPPOSING source: 75 * (1 - 0.4*0.5)
	assert.Equal(t, 60, resp.ConfidenceScore)
}

func TestRunModelFailure(t *testing.T) {
	f := newPipeline(
		&stubWeb{passes: []webPass{{wc: richContext()}}},
		&stubResearcher{results: []researchOutcome{{err: errors.Join(ErrParse, errors.New("no JSON object in reply"))}}},
	)

	resp, err := f.orch.Run(context.Background(), obbbRequest())
	require.NoError(t, err)

	assert.Equal(t, models.StatusUnverifiable, resp.Status)
	assert.Equal(t, 0, resp.ConfidenceScore)
	assert.Equal(t, "web_search", resp.ResearchMethod)
	require.Len(t, resp.ResearchErrors, 1)
	assert.True(t, strings.HasPrefix(resp.ResearchErrors[0], "llm_research: "))
	require.NotNil(t, resp.FallbackReason)
	assert.Contains(t, *resp.FallbackReason, "could not be parsed")
	require.Len(t, resp.ExpertPerspectives, 1)
	assert.Equal(t, models.SourceSystem, resp.ExpertPerspectives[0].SourceType)
	assert.Empty(t, resp.LLMFindings)
	assertMethodHonoursErrors(t, resp.ResearchResult)
}

func TestRunDegradedStoresFailOpen(t *testing.T) {
	f := newPipeline(
		&stubWeb{passes: []webPass{{wc: richContext()}}},
		&stubResearcher{results: []researchOutcome{{v: testVerdict(models.StatusTrue, 70)}}},
	)
	f.results.findErr = errors.New("index unavailable")
	f.profiles.err = errors.New("profiles unavailable")

	resp, err := f.orch.Run(context.Background(), obbbRequest())
	require.NoError(t, err)

	assert.Nil(t, resp.ProfileID)
	assert.Contains(t, resp.ResearchErrors, "profile: profiles unavailable")
	assert.Contains(t, resp.ResearchErrors, "dedup: index unavailable")
	assert.Equal(t, 1, f.results.count())
}

func TestRunFallsBackToModelCountryAndCategory(t *testing.T) {
	v := testVerdict(models.StatusTrue, 70)
	v.Country, v.Category = "us", models.CategoryEconomy
	f := newPipeline(&stubWeb{passes: []webPass{{wc: richContext()}}}, &stubResearcher{results: []researchOutcome{{v: v}}})

	resp, err := f.orch.Run(context.Background(), obbbRequest())
	require.NoError(t, err)
	assert.Equal(t, "us", resp.Country)
	assert.Equal(t, models.CategoryEconomy, resp.Category)
	assert.Empty(t, resp.RequestCountry)

	req := obbbRequest()
	req.Statement = "A different statement"
	req.Country, req.Category = "gb", models.CategoryPolitics
	resp, err = f.orch.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "gb", resp.Country)
	assert.Equal(t, models.CategoryPolitics, resp.Category)
}

func TestMergeContextsStaysWithinBudget(t *testing.T) {
	first := &WebContext{Text: strings.Repeat("a", 12000), URLs: []string{"https://a.example"}, Pages: []Page{{URL: "https://a.example"}}}
	second := &WebContext{Text: strings.Repeat("b", 12000), URLs: []string{"https://b.example"}, Pages: []Page{{URL: "https://b.example"}}}

	merged := mergeContexts(first, second, 12000)
	assert.LessOrEqual(t, len([]rune(merged.Text)), 12000)
	assert.True(t, strings.HasPrefix(merged.Text, "aaa"))
	assert.Contains(t, merged.Text, followUpHeader+"bbb")
	assert.True(t, strings.HasSuffix(merged.Text, truncatedMarker))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, merged.URLs)
	assert.False(t, merged.Degraded)

	short := mergeContexts(&WebContext{Text: "short first pass"}, second, 12000)
	assert.LessOrEqual(t, len([]rune(short.Text)), 12000)
	assert.True(t, strings.HasPrefix(short.Text, "short first pass"+followUpHeader))

	untouched := mergeContexts(&WebContext{Text: "one"}, &WebContext{Text: "two"}, 12000)
	assert.Equal(t, "one"+followUpHeader+"two", untouched.Text)

	onlySecond := mergeContexts(&WebContext{Text: NoContentMarker}, second, 500)
	assert.Len(t, []rune(onlySecond.Text), 500)
}

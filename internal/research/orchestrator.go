package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ayush/factcheck-agent/internal/models"
	"github.com/ayush/factcheck-agent/internal/observability"
)

// Pipeline states, in order.
const (
	StateReceived         = "RECEIVED"
	StateProfileResolved  = "PROFILE_RESOLVED"
	StateDuplicateChecked = "DUPLICATE_CHECKED"
	StateContextGathered  = "CONTEXT_GATHERED"
	StateLLMResearched    = "LLM_RESEARCHED"
	StateEnhanced         = "ENHANCED"
	StateAnalyzed         = "ANALYZED"
	StateScored           = "SCORED"
	StatePersisted        = "PERSISTED"
	StateDuplicate        = "DUPLICATE_SHORT_CIRCUIT"
)

// WebExtractor gathers web context for a statement.
type WebExtractor interface {
	Extract(ctx context.Context, q ExtractQuery) (*WebContext, error)
}

// Researcher produces a verdict. On failure it still returns a usable
// fallback verdict together with the error.
type Researcher interface {
	Research(ctx context.Context, in ResearchInput) (*Verdict, []string, error)
}

// ResultStore is the durable store of research results.
type ResultStore interface {
	InsertResult(ctx context.Context, res *models.ResearchResult) error
	GetResult(ctx context.Context, id string) (*models.ResearchResult, error)
}

// TraceStore archives pipeline traces.
type TraceStore interface {
	InsertTrace(ctx context.Context, trace *models.ResearchTrace) (string, error)
}

// FileStore defines the interface for file storage.
type FileStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, string, error)
}

// evidenceKey is the object key of the n-th page snapshot of a result.
func evidenceKey(researchID string, n int) string {
	return fmt.Sprintf("evidence/%s/%d.txt", researchID, n)
}

// OrchestratorConfig tunes the pipeline.
type OrchestratorConfig struct {
	ThinContextChars  int
	ContextBudget     int
	SideEffectTimeout time.Duration
}

// Deps are the collaborators of an Orchestrator. Traces, Evidence and
// Metrics may be nil.
type Deps struct {
	Profiles  *ProfileResolver
	Dedup     *Deduplicator
	Web       WebExtractor
	LLM       Researcher
	Resources *ResourceAnalyzer
	Results   ResultStore
	Traces    TraceStore
	Evidence  FileStore
	Metrics   *observability.Metrics
	Log       *zap.Logger
}

// Orchestrator runs the tri-factor research pipeline.
type Orchestrator struct {
	Deps
	cfg   OrchestratorConfig
	now   func() time.Time
	newID func() string
}

func NewOrchestrator(deps Deps, cfg OrchestratorConfig) *Orchestrator {
	if cfg.ThinContextChars <= 0 {
		cfg.ThinContextChars = 1500
	}
	if cfg.ContextBudget <= 0 {
		cfg.ContextBudget = 12000
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = 30 * time.Second
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Orchestrator{
		Deps:  deps,
		cfg:   cfg,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// pipelineRun accumulates the state of one request.
type pipelineRun struct {
	last    time.Time
	events  []models.StageEvent
	errors  []string
	replies []string
}

// enter closes the current stage; err annotates it in the trace.
func (o *Orchestrator) enter(run *pipelineRun, state string, err error) {
	now := o.now()
	ev := models.StageEvent{
		Stage:      state,
		At:         now,
		DurationMS: now.Sub(run.last).Milliseconds(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	run.events = append(run.events, ev)
	run.last = now
}

// fail records a non-fatal stage failure in research_errors.
func (o *Orchestrator) fail(run *pipelineRun, stage string, err error) {
	run.errors = append(run.errors, stageError(stage, err))
	o.Metrics.RecordStageFailure(stage)
	o.Log.Warn("research stage degraded", zap.String("stage", stage), zap.Error(err))
}

// Run researches one validated request. The only error it returns is a
// wrapped ErrPersistence; every other failure degrades the result.
func (o *Orchestrator) Run(ctx context.Context, req models.ResearchRequest) (*models.ResearchResponse, error) {
	start := o.now()
	run := &pipelineRun{last: start}
	o.enter(run, StateReceived, nil)

	var profileID *string
	profile, err := o.Profiles.Resolve(ctx, req.Source)
	if err != nil {
		o.fail(run, stageProfile, err)
	} else if profile != nil {
		profileID = &profile.ID
	}
	o.enter(run, StateProfileResolved, err)

	dedup, err := o.Dedup.Check(ctx, req.Statement)
	if err != nil {
		o.fail(run, stageDedup, err)
	}
	if dedup.Duplicate {
		prior, gerr := o.Results.GetResult(ctx, dedup.PriorID)
		if gerr == nil {
			o.enter(run, StateDuplicateChecked, nil)
			o.enter(run, StateDuplicate, nil)
			o.Metrics.RecordOutcome("duplicate", o.now().Sub(start).Seconds())
			o.Log.Info("duplicate statement", zap.String("research_id", prior.ID))
			return models.NewResearchResponse(req, prior, true), nil
		}
		err = fmt.Errorf("prior result %s unavailable: %w", dedup.PriorID, gerr)
		o.fail(run, stageDedup, err)
	}
	o.enter(run, StateDuplicateChecked, err)

	// Web and model failures are recorded after enhancement, which may
	// recover them.
	query := ExtractQuery{Statement: req.Statement, Source: req.Source, Context: req.Context}
	wc, webErr := o.Web.Extract(ctx, query)
	if wc == nil {
		wc = &WebContext{Text: NoContentMarker, Degraded: true}
	}
	o.enter(run, StateContextGathered, webErr)

	verdict, replies, llmErr := o.LLM.Research(ctx, ResearchInput{Request: req, WebContext: wc.Text, URLs: wc.URLs})
	run.replies = append(run.replies, replies...)
	o.enter(run, StateLLMResearched, llmErr)

	enhanced := false
	if o.needsEnhancement(wc) && ctx.Err() == nil {
		nwc, nv, ok := o.enhance(ctx, run, req, wc, verdict, llmErr)
		if ok {
			enhanced = true
			wc, webErr = nwc, nil
			if nv != nil {
				verdict, llmErr = nv, nil
			}
		}
		o.enter(run, StateEnhanced, nil)
	}
	if webErr != nil {
		o.fail(run, stageWeb, webErr)
	}
	if llmErr != nil {
		o.fail(run, stageLLM, llmErr)
	}

	var report ResourceReport
	if llmErr == nil {
		report = o.Resources.Analyze(verdict.Sources, wc.URLs)
	} else {
		report = o.Resources.Analyze(nil, nil)
	}
	o.enter(run, StateAnalyzed, nil)

	score := AggregateConfidence(verdict.Confidence, verdict.Status, report)
	o.enter(run, StateScored, nil)

	res := o.assemble(req, run, dedup.Fingerprint, profileID, wc, webErr, verdict, llmErr, enhanced, report, score)

	if err := o.Results.InsertResult(ctx, res); err != nil {
		o.Metrics.RecordOutcome("failed", o.now().Sub(start).Seconds())
		o.Log.Error("persist research result", zap.String("research_id", res.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	o.enter(run, StatePersisted, nil)

	o.Metrics.RecordOutcome("persisted", o.now().Sub(start).Seconds())
	o.Metrics.RecordStatus(string(res.Status))
	o.Log.Info("research persisted",
		zap.String("research_id", res.ID),
		zap.String("status", string(res.Status)),
		zap.Int("confidence", res.ConfidenceScore),
		zap.String("method", res.ResearchMethod),
		zap.Int("errors", len(res.ResearchErrors)),
	)

	o.afterCommit(ctx, res, run, wc)
	return models.NewResearchResponse(req, res, false), nil
}

// needsEnhancement is the thin-result predicate for the second pass.
func (o *Orchestrator) needsEnhancement(wc *WebContext) bool {
	return wc.Degraded || !wc.HasContent() || len([]rune(wc.Text)) < o.cfg.ThinContextChars
}

// enhance runs a narrower extraction and, when it finds new sources,
// re-runs the model over the merged context. It reports ok=false when it
// added nothing; its failures are only logged.
func (o *Orchestrator) enhance(ctx context.Context, run *pipelineRun, req models.ResearchRequest, wc *WebContext, v *Verdict, llmErr error) (*WebContext, *Verdict, bool) {
	focus := enhancementFocus(req, v, llmErr)
	ewc, err := o.Web.Extract(ctx, ExtractQuery{
		Statement: req.Statement,
		Source:    req.Source,
		Context:   req.Context,
		Focus:     focus,
	})
	if err != nil || ewc == nil || !ewc.HasContent() {
		o.Log.Info("enhancement pass found nothing", zap.String("stage", stageEnhancement), zap.Error(err))
		return nil, nil, false
	}

	merged := mergeContexts(wc, ewc, o.cfg.ContextBudget)
	if len(merged.URLs) == len(wc.URLs) {
		return nil, nil, false
	}

	nv, replies, err := o.LLM.Research(ctx, ResearchInput{
		Request:    req,
		WebContext: merged.Text,
		URLs:       merged.URLs,
		Focus:      focus,
	})
	run.replies = append(run.replies, replies...)
	if err != nil {
		o.Log.Warn("enhancement research failed, keeping first verdict", zap.String("stage", stageEnhancement), zap.Error(err))
		if llmErr != nil {
			// The merged context still counts as web evidence.
			return merged, nil, true
		}
		return nil, nil, false
	}
	return merged, nv, true
}

func enhancementFocus(req models.ResearchRequest, v *Verdict, llmErr error) string {
	if llmErr == nil && v != nil {
		if v.Correction != nil && *v.Correction != "" {
			return *v.Correction
		}
		if len(v.KeyFindings) > 0 {
			return v.KeyFindings[0]
		}
	}
	focus := req.Statement
	if req.Source != "" {
		focus = req.Source + " " + focus
	}
	return focus + " fact check"
}

const followUpHeader = "\n\nFOLLOW-UP RESEARCH:\n"

// mergeContexts combines two passes, keeping the first pass's order. The
// merged text stays within budget runes; when both passes have text, the
// follow-up keeps up to half of it.
func mergeContexts(a, b *WebContext, budget int) *WebContext {
	out := &WebContext{
		Summary:   b.Summary,
		ToolCalls: a.ToolCalls + b.ToolCalls,
		Calls:     append(append([]models.ToolCallRecord{}, a.Calls...), b.Calls...),
		Failures:  append(append([]FetchFailure{}, a.Failures...), b.Failures...),
		Fallback:  a.Fallback || b.Fallback,
	}
	seen := map[string]bool{}
	for _, u := range append(append([]string{}, a.URLs...), b.URLs...) {
		if !seen[u] {
			seen[u] = true
			out.URLs = append(out.URLs, u)
		}
	}
	pageSeen := map[string]bool{}
	for _, p := range append(append([]Page{}, a.Pages...), b.Pages...) {
		if !pageSeen[p.URL] {
			pageSeen[p.URL] = true
			out.Pages = append(out.Pages, p)
		}
	}
	out.Hits = append(append([]SearchHit{}, a.Hits...), b.Hits...)

	switch {
	case a.HasContent():
		followUp := clipToBudget(b.Text, max(budget/2, budget-len(followUpHeader)-len([]rune(a.Text))))
		first := clipToBudget(a.Text, budget-len(followUpHeader)-len([]rune(followUp)))
		out.Text = first + followUpHeader + followUp
	default:
		out.Text = clipToBudget(b.Text, budget)
	}
	out.Degraded = len(out.Pages) == 0
	return out
}

func (o *Orchestrator) assemble(
	req models.ResearchRequest, run *pipelineRun, fingerprint string, profileID *string,
	wc *WebContext, webErr error, v *Verdict, llmErr error, enhanced bool,
	report ResourceReport, score int,
) *models.ResearchResult {
	now := o.now()
	llmOK := llmErr == nil
	webOK := webErr == nil && wc.HasContent()
	resOK := llmOK && report.Considered > 0

	var method []string
	if llmOK {
		method = append(method, "llm")
	}
	if webOK {
		method = append(method, "web_search")
	}
	if webOK && enhanced {
		method = append(method, "web_enhancement")
	}
	if resOK {
		method = append(method, stageResources)
	}
	researchMethod := strings.Join(method, "+")
	switch {
	case llmOK && webOK && resOK:
		researchMethod = "tri-factor:" + researchMethod
	case researchMethod == "":
		researchMethod = "fallback"
	}

	sourcesUsed := append([]string{}, method...)

	country := req.Country
	if country == "" && llmOK {
		country = v.Country
	}
	category := req.Category
	if category == "" && llmOK {
		category = v.Category
	}

	keyFindings := append([]string{}, v.KeyFindings...)
	if len(keyFindings) == 0 {
		keyFindings = []string{v.Verdict}
	}
	llmFindings := []string{}
	if llmOK {
		llmFindings = append(llmFindings, v.KeyFindings...)
	}
	summary := v.Summary
	if summary == "" {
		summary = v.Verdict
	}
	additional := ""
	if webOK && wc.Summary != "" {
		additional = "Web research summary: " + wc.Summary
	}

	stages := make([]string, 0, len(run.events)+1)
	timings := map[string]int64{}
	for _, ev := range run.events {
		stages = append(stages, ev.Stage)
		timings[ev.Stage] = ev.DurationMS
	}
	stages = append(stages, StatePersisted)

	res := &models.ResearchResult{
		ID:                 o.newID(),
		Statement:          req.Statement,
		Source:             req.Source,
		Context:            req.Context,
		Datetime:           req.Datetime,
		StatementDate:      req.StatementDate,
		Country:            country,
		Category:           category,
		Fingerprint:        fingerprint,
		ValidSources:       v.ValidSources,
		Verdict:            v.Verdict,
		Status:             v.Status,
		Correction:         v.Correction,
		ResourcesAgreed:    report.Agreed,
		ResourcesDisagreed: report.Disagreed,
		ExpertPerspectives: v.Perspectives,
		Experts:            v.Experts,
		ResearchMethod:     researchMethod,
		ConfidenceScore:    score,
		ResearchSummary:    summary,
		AdditionalContext:  additional,
		KeyFindings:        keyFindings,
		LLMFindings:        llmFindings,
		WebFindings:        webFindings(wc, webOK),
		ResourceFindings:   report.Findings(),
		ResearchMetadata: models.ResearchMetadata{
			SourcesUsed:        sourcesUsed,
			Timestamp:          now,
			TriFactor:          llmOK && webOK && resOK,
			WebResultsCount:    len(wc.URLs),
			ResourcesAnalysed:  report.Considered,
			IgnoredCitations:   len(report.Ignored),
			ToolCalls:          wc.ToolCalls,
			FetchFailures:      len(wc.Failures),
			WebDegraded:        wc.Degraded,
			EnhancementApplied: enhanced,
			Stages:             stages,
			TimingsMS:          timings,
			ModelNotes:         v.Notes,
		},
		ProfileID:      profileID,
		ProcessedAt:    now,
		ResearchErrors: append([]string{}, run.errors...),
		FallbackReason: fallbackReason(llmErr, webOK),
	}
	if !res.Status.Valid() {
		res.Status = models.StatusUnverifiable
	}
	return res
}

func webFindings(wc *WebContext, ok bool) []string {
	if !ok {
		return []string{"No web content could be extracted for this statement"}
	}
	out := []string{fmt.Sprintf("Examined %d sources with %d tool calls", len(wc.URLs), wc.ToolCalls)}
	if wc.Fallback {
		out = append(out, "Search agent unavailable or empty; direct search was used")
	}
	for _, p := range wc.Pages {
		title := p.Title
		if title == "" {
			title = p.URL
		}
		out = append(out, fmt.Sprintf("Read: %s (%s)", title, NormalizeDomain(p.URL)))
	}
	if len(wc.Failures) > 0 {
		out = append(out, fmt.Sprintf("%d pages could not be fetched", len(wc.Failures)))
	}
	return out
}

func fallbackReason(llmErr error, webOK bool) *string {
	var reason string
	switch {
	case llmErr != nil && errors.Is(llmErr, ErrParse):
		reason = "model output could not be parsed; returned UNVERIFIABLE fallback"
	case llmErr != nil:
		reason = "research model unavailable; returned UNVERIFIABLE fallback"
	case !webOK:
		reason = "no web content available; verdict relies on model knowledge only"
	default:
		return nil
	}
	return &reason
}

// afterCommit runs the best-effort side effects of a persisted result on a
// context detached from the request.
func (o *Orchestrator) afterCommit(parent context.Context, res *models.ResearchResult, run *pipelineRun, wc *WebContext) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), o.cfg.SideEffectTimeout)
	defer cancel()

	o.Dedup.Remember(ctx, res.Fingerprint, res.ID)

	var pages []models.PageSnapshot
	for i, p := range wc.Pages {
		snap := models.PageSnapshot{Index: i + 1, URL: p.URL, Title: p.Title, Chars: len([]rune(p.Text))}
		if o.Evidence != nil {
			key := evidenceKey(res.ID, i+1)
			body := fmt.Sprintf("URL: %s\nTITLE: %s\n\n%s\n", p.URL, p.Title, p.Text)
			if err := o.Evidence.Upload(ctx, key, []byte(body), "text/plain; charset=utf-8"); err != nil {
				o.Log.Warn("evidence snapshot upload failed", zap.String("key", key), zap.Error(err))
			} else {
				snap.ObjectKey = key
			}
		}
		pages = append(pages, snap)
	}

	if o.Traces == nil {
		return
	}
	trace := &models.ResearchTrace{
		ResearchID:   res.ID,
		Fingerprint:  res.Fingerprint,
		Stages:       run.events,
		ToolCalls:    wc.Calls,
		ModelReplies: run.replies,
		Pages:        pages,
		Errors:       res.ResearchErrors,
	}
	if _, err := o.Traces.InsertTrace(ctx, trace); err != nil {
		o.Log.Warn("trace archive failed", zap.String("research_id", res.ID), zap.Error(err))
	}
}

package models

import (
	"strings"
	"time"
)

// Status is the fact-check classification of a statement.
type Status string

const (
	StatusTrue          Status = "TRUE"
	StatusFactualError  Status = "FACTUAL_ERROR"
	StatusDeceptiveLie  Status = "DECEPTIVE_LIE"
	StatusManipulative  Status = "MANIPULATIVE"
	StatusPartiallyTrue Status = "PARTIALLY_TRUE"
	StatusOutOfContext  Status = "OUT_OF_CONTEXT"
	StatusUnverifiable  Status = "UNVERIFIABLE"
)

// Statuses lists every status in display order.
var Statuses = []Status{
	StatusTrue, StatusFactualError, StatusDeceptiveLie, StatusManipulative,
	StatusPartiallyTrue, StatusOutOfContext, StatusUnverifiable,
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Polarity reports whether the status affirms (+1) or denies (-1) the
// statement. UNVERIFIABLE is 0.
func (s Status) Polarity() int {
	switch s {
	case StatusTrue, StatusPartiallyTrue:
		return 1
	case StatusFactualError, StatusDeceptiveLie, StatusManipulative, StatusOutOfContext:
		return -1
	}
	return 0
}

// ParseStatus accepts loose model output such as "partially true".
func ParseStatus(raw string) (Status, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	st := Status(s)
	return st, st.Valid()
}

// Category is the subject area of a statement.
type Category string

const (
	CategoryPolitics      Category = "politics"
	CategoryEconomy       Category = "economy"
	CategoryEnvironment   Category = "environment"
	CategoryMilitary      Category = "military"
	CategoryHealthcare    Category = "healthcare"
	CategoryEducation     Category = "education"
	CategoryTechnology    Category = "technology"
	CategorySocial        Category = "social"
	CategoryInternational Category = "international"
	CategoryOther         Category = "other"
)

var Categories = []Category{
	CategoryPolitics, CategoryEconomy, CategoryEnvironment, CategoryMilitary,
	CategoryHealthcare, CategoryEducation, CategoryTechnology, CategorySocial,
	CategoryInternational, CategoryOther,
}

func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// Stance is the position of a perspective or reference toward the statement.
type Stance string

const (
	StanceSupporting Stance = "SUPPORTING"
	StanceOpposing   Stance = "OPPOSING"
	StanceNeutral    Stance = "NEUTRAL"
)

// ParseStance maps model output onto a stance, defaulting to NEUTRAL.
func ParseStance(raw string) Stance {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUPPORTING", "SUPPORTS", "SUPPORT", "AGREE", "AGREED":
		return StanceSupporting
	case "OPPOSING", "OPPOSES", "OPPOSE", "CONTRADICTS", "DISAGREE", "DISAGREED":
		return StanceOpposing
	}
	return StanceNeutral
}

// SourceType names where a perspective came from.
type SourceType string

const (
	SourceLLM      SourceType = "llm"
	SourceWeb      SourceType = "web"
	SourceResource SourceType = "resource"
	SourceSystem   SourceType = "system"
)

// ReferenceCategory buckets an evidence source by publisher kind.
type ReferenceCategory string

const (
	RefMainstream ReferenceCategory = "mainstream"
	RefGovernance ReferenceCategory = "governance"
	RefAcademic   ReferenceCategory = "academic"
	RefMedical    ReferenceCategory = "medical"
	RefOther      ReferenceCategory = "other"
)

type Credibility string

const (
	CredibilityHigh   Credibility = "high"
	CredibilityMedium Credibility = "medium"
	CredibilityLow    Credibility = "low"
)

// ResearchRequest is the JSON body for POST /api/research.
type ResearchRequest struct {
	Statement     string    `json:"statement"                validate:"notblank,max=5000"`
	Source        string    `json:"source,omitempty"         validate:"max=255"`
	Context       string    `json:"context,omitempty"        validate:"max=20000"`
	Datetime      time.Time `json:"datetime"                 validate:"required"`
	StatementDate string    `json:"statement_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Country       string    `json:"country,omitempty"        validate:"omitempty,len=2,alpha"`
	Category      Category  `json:"category,omitempty"       validate:"omitempty,category"`
}

// EvidenceReference is one web source counted toward a ResourceAnalysis.
type EvidenceReference struct {
	URL         string            `json:"url"`
	Title       string            `json:"title,omitempty"`
	Domain      string            `json:"domain"`
	Category    ReferenceCategory `json:"category"`
	Country     string            `json:"country"`
	Credibility Credibility       `json:"credibility"`
	Stance      Stance            `json:"stance"`
	KeyFinding  string            `json:"key_finding,omitempty"`
}

// ResourceAnalysis aggregates the references that share one stance.
type ResourceAnalysis struct {
	Total          string              `json:"total"`
	Count          int                 `json:"count"`
	Mainstream     int                 `json:"mainstream"`
	Governance     int                 `json:"governance"`
	Academic       int                 `json:"academic"`
	Medical        int                 `json:"medical"`
	Other          int                 `json:"other"`
	MajorCountries []string            `json:"major_countries"`
	References     []EvidenceReference `json:"references"`
}

// EmptyResourceAnalysis is the zero-evidence aggregate.
func EmptyResourceAnalysis() ResourceAnalysis {
	return ResourceAnalysis{
		Total:          "0%",
		MajorCountries: []string{},
		References:     []EvidenceReference{},
	}
}

// ExpertPerspective is one analyst voice on the statement.
type ExpertPerspective struct {
	ExpertName      string     `json:"expert_name"`
	Stance          Stance     `json:"stance"`
	Reasoning       string     `json:"reasoning"`
	ConfidenceLevel float64    `json:"confidence_level"`
	Summary         string     `json:"summary"`
	SourceType      SourceType `json:"source_type"`
	ExpertiseArea   string     `json:"expertise_area"`
	PublicationDate string     `json:"publication_date,omitempty"`
}

// ExpertOpinion is the legacy four-persona commentary.
type ExpertOpinion struct {
	Critic  string `json:"critic,omitempty"`
	Devil   string `json:"devil,omitempty"`
	Nerd    string `json:"nerd,omitempty"`
	Psychic string `json:"psychic,omitempty"`
}

func (e ExpertOpinion) Empty() bool {
	return e.Critic == "" && e.Devil == "" && e.Nerd == "" && e.Psychic == ""
}

// ResearchMetadata describes how a result was produced.
type ResearchMetadata struct {
	SourcesUsed        []string         `json:"sources_used"`
	Timestamp          time.Time        `json:"timestamp"`
	TriFactor          bool             `json:"tri_factor"`
	WebResultsCount    int              `json:"web_results_count"`
	ResourcesAnalysed  int              `json:"resources_analysed"`
	IgnoredCitations   int              `json:"ignored_citations"`
	ToolCalls          int              `json:"tool_calls"`
	FetchFailures      int              `json:"fetch_failures"`
	WebDegraded        bool             `json:"web_degraded"`
	EnhancementApplied bool             `json:"enhancement_applied"`
	Stages             []string         `json:"stages"`
	TimingsMS          map[string]int64 `json:"timings_ms"`
	ModelNotes         string           `json:"model_notes,omitempty"`
}

// ResearchResult is the persisted outcome of one research pipeline run.
type ResearchResult struct {
	ID            string    `json:"id"`
	Statement     string    `json:"statement"`
	Source        string    `json:"source,omitempty"`
	Context       string    `json:"context,omitempty"`
	Datetime      time.Time `json:"datetime"`
	StatementDate string    `json:"statement_date,omitempty"`
	Country       string    `json:"country,omitempty"`
	Category      Category  `json:"category,omitempty"`
	Fingerprint   string    `json:"fingerprint"`

	ValidSources       string              `json:"valid_sources"`
	Verdict            string              `json:"verdict"`
	Status             Status              `json:"status"`
	Correction         *string             `json:"correction"`
	ResourcesAgreed    ResourceAnalysis    `json:"resources_agreed"`
	ResourcesDisagreed ResourceAnalysis    `json:"resources_disagreed"`
	ExpertPerspectives []ExpertPerspective `json:"expert_perspectives"`
	Experts            ExpertOpinion       `json:"experts"`
	ResearchMethod     string              `json:"research_method"`
	ConfidenceScore    int                 `json:"confidence_score"`
	ResearchSummary    string              `json:"research_summary"`
	AdditionalContext  string              `json:"additional_context"`
	KeyFindings        []string            `json:"key_findings"`
	LLMFindings        []string            `json:"llm_findings"`
	WebFindings        []string            `json:"web_findings"`
	ResourceFindings   []string            `json:"resource_findings"`
	ResearchMetadata   ResearchMetadata    `json:"research_metadata"`

	ProfileID      *string   `json:"profile_id"`
	ProcessedAt    time.Time `json:"processed_at"`
	CreatedAt      time.Time `json:"created_at"`
	ResearchErrors []string  `json:"research_errors"`
	FallbackReason *string   `json:"fallback_reason"`
}

// IsTriFactor reports whether model, web and resource evidence all contributed.
func (r *ResearchResult) IsTriFactor() bool {
	return strings.HasPrefix(r.ResearchMethod, "tri-factor:")
}

// ResearchResponse is the API view of a result, echoing the request.
type ResearchResponse struct {
	*ResearchResult
	RequestStatement     string    `json:"request_statement"`
	RequestSource        string    `json:"request_source,omitempty"`
	RequestContext       string    `json:"request_context,omitempty"`
	RequestDatetime      time.Time `json:"request_datetime"`
	RequestStatementDate string    `json:"request_statement_date,omitempty"`
	RequestCountry       string    `json:"request_country,omitempty"`
	RequestCategory      Category  `json:"request_category,omitempty"`
	DatabaseID           string    `json:"database_id"`
	IsDuplicate          bool      `json:"is_duplicate"`
}

// NewResearchResponse wraps a stored result for the caller that sent req.
func NewResearchResponse(req ResearchRequest, res *ResearchResult, duplicate bool) *ResearchResponse {
	return &ResearchResponse{
		ResearchResult:       res,
		RequestStatement:     req.Statement,
		RequestSource:        req.Source,
		RequestContext:       req.Context,
		RequestDatetime:      req.Datetime,
		RequestStatementDate: req.StatementDate,
		RequestCountry:       req.Country,
		RequestCategory:      req.Category,
		DatabaseID:           res.ID,
		IsDuplicate:          duplicate,
	}
}

// SearchQuery holds the filters for GET /api/research.
type SearchQuery struct {
	Search        string `json:"search,omitempty"`
	Status        Status `json:"status,omitempty"`
	Country       string `json:"country,omitempty"`
	Category      string `json:"category,omitempty"`
	ProfileID     string `json:"profile,omitempty"`
	TriFactorOnly bool   `json:"tri_factor_only,omitempty"`
	Limit         int    `json:"-"`
	Offset        int    `json:"-"`
}

// SearchPage is one page of search results.
type SearchPage struct {
	Results        []ResearchResult
	Total          int
	TriFactorCount int
}

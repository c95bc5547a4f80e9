package research

import (
	"fmt"
	"strings"

	"github.com/ayush/factcheck-agent/internal/models"
)

const extractorSystemPrompt = `You are a research assistant gathering evidence for a fact-check.
Use web_search to find reporting, official data and fact-checks about the statement,
then fetch_url on the most authoritative results. You may make at most %d tool calls in total.
Prefer primary sources: government statistics, official records, peer-reviewed research,
established news agencies and fact-checking organisations.
When you have enough material, reply without tool calls with a short plain-text summary of
what the sources say, naming each source you relied on.`

func buildExtractorPrompt(q ExtractQuery) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "STATEMENT: %s\n", q.Statement)
	if q.Source != "" {
		fmt.Fprintf(&sb, "SPEAKER: %s\n", q.Source)
	}
	if q.Context != "" {
		fmt.Fprintf(&sb, "CONTEXT: %s\n", q.Context)
	}
	if q.Focus != "" {
		fmt.Fprintf(&sb, "\nA first search pass came back thin. Focus narrowly on: %s\n", q.Focus)
	}
	return sb.String()
}

const researchSystemPrompt = `You are a professional fact-checker. Assess the statement for truthfulness,
manipulation and missing context, using the web evidence provided and your own knowledge.

STATUS (choose exactly one):
- TRUE: accurate, in context, not misleading
- FACTUAL_ERROR: contains demonstrably incorrect facts or figures
- DECEPTIVE_LIE: false and presented in a way intended to deceive
- MANIPULATIVE: uses true facts to build a false impression by omission or framing
- PARTIALLY_TRUE: mixes accurate and inaccurate elements
- OUT_OF_CONTEXT: technically correct but missing context that changes its meaning
- UNVERIFIABLE: not enough reliable information to decide

SOURCES: list every web source you relied on. Use only URLs that appear in the evidence list.
stance is SUPPORTING when the source backs the statement, OPPOSING when it contradicts it,
NEUTRAL otherwise.

EXPERT PERSPECTIVES: write 4 or 5 distinct expert voices, each with its own methodology.
If an expert has too little information, give them a NEUTRAL stance and a low confidence.

Reply with a single JSON object and nothing else:
{
  "status": "one of the seven values",
  "verdict": "one sentence stating the rating and the key evidence",
  "correction": "precise correction, or null if the statement is TRUE",
  "valid_sources": "short summary such as '4 (Reuters, BLS, CBO, AP)'",
  "country": "ISO 3166-1 alpha-2 code of the speaker, lowercase, or null",
  "category": "politics|economy|environment|military|healthcare|education|technology|social|international|other",
  "confidence_score": 0-100,
  "research_summary": "two or three sentences",
  "key_findings": ["finding", "..."],
  "sources": [{"url": "...", "title": "...", "stance": "SUPPORTING|OPPOSING|NEUTRAL", "key_finding": "..."}],
  "experts": {"critic": "...", "devil": "...", "nerd": "...", "psychic": "..."},
  "expert_perspectives": [{
    "expert_name": "...", "expertise_area": "...", "stance": "SUPPORTING|OPPOSING|NEUTRAL",
    "confidence_level": 0-100, "summary": "one line", "reasoning": "...", "publication_date": "YYYY-MM-DD or null"
  }],
  "research_metadata": "misinformation risk and correction urgency in one or two sentences"
}`

// ResearchInput is everything the model sees for one verdict.
type ResearchInput struct {
	Request    models.ResearchRequest
	WebContext string
	URLs       []string
	Focus      string
}

func buildResearchPrompt(in ResearchInput) string {
	req := in.Request
	var sb strings.Builder
	fmt.Fprintf(&sb, "STATEMENT: %s\n", req.Statement)
	if req.Source != "" {
		fmt.Fprintf(&sb, "SOURCE: %s\n", req.Source)
	}
	if req.Context != "" {
		fmt.Fprintf(&sb, "CONTEXT: %s\n", req.Context)
	}
	if req.StatementDate != "" {
		fmt.Fprintf(&sb, "STATEMENT DATE: %s\n", req.StatementDate)
	}
	if req.Country != "" {
		fmt.Fprintf(&sb, "COUNTRY: %s\n", req.Country)
	}
	if req.Category != "" {
		fmt.Fprintf(&sb, "CATEGORY: %s\n", req.Category)
	}
	fmt.Fprintf(&sb, "REQUEST TIME: %s\n", req.Datetime.UTC().Format("2006-01-02T15:04:05Z"))
	if in.Focus != "" {
		fmt.Fprintf(&sb, "FOCUS: %s\n", in.Focus)
	}

	sb.WriteString("\nWEB EVIDENCE:\n")
	if in.WebContext == "" || in.WebContext == NoContentMarker {
		sb.WriteString("WEB EXTRACTION FAILED: no web content could be retrieved. " +
			"Base the analysis on established knowledge, say so in the verdict, " +
			"leave sources empty and prefer UNVERIFIABLE when the claim cannot be checked.\n")
	} else {
		sb.WriteString(in.WebContext)
		sb.WriteString("\n\nEVIDENCE URLS:\n")
		for i, u := range in.URLs {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, u)
		}
	}
	return sb.String()
}

func correctivePrompt(err error) string {
	return fmt.Sprintf("Your previous reply could not be used: %v. "+
		"Reply again with only the JSON object described in the instructions. "+
		"status must be one of TRUE, FACTUAL_ERROR, DECEPTIVE_LIE, MANIPULATIVE, "+
		"PARTIALLY_TRUE, OUT_OF_CONTEXT, UNVERIFIABLE and verdict must not be empty.", err)
}

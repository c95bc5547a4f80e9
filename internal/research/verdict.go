package research

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ayush/factcheck-agent/internal/models"
)

// CitedSource is a reference the model says it relied on.
type CitedSource struct {
	URL        string
	Title      string
	Stance     models.Stance
	KeyFinding string
}

// Verdict is the validated outcome of the research model.
type Verdict struct {
	Status       models.Status
	Verdict      string
	Correction   *string
	ValidSources string
	Country      string
	Category     models.Category
	Confidence   float64
	Summary      string
	KeyFindings  []string
	Sources      []CitedSource
	Experts      models.ExpertOpinion
	Perspectives []models.ExpertPerspective
	Notes        string
}

// flexFloat accepts 85, 85.5, "85", "85%" or null.
type flexFloat struct {
	Value float64
	Set   bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", s)
		}
		f.Value, f.Set = v, true
		return nil
	}
	if err := json.Unmarshal(b, &f.Value); err != nil {
		return err
	}
	f.Set = true
	return nil
}

// flexText accepts a string, a number, or any JSON value rendered compactly.
type flexText string

func (t *flexText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = flexText(s)
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return err
	}
	*t = flexText(buf.String())
	return nil
}

type rawPerspective struct {
	ExpertName      string    `json:"expert_name"     validate:"notblank"`
	ExpertiseArea   string    `json:"expertise_area"`
	Stance          string    `json:"stance"          validate:"omitempty,stance"`
	ConfidenceLevel flexFloat `json:"confidence_level"`
	Summary         string    `json:"summary"`
	Reasoning       string    `json:"reasoning"`
	PublicationDate *string   `json:"publication_date"`
}

type rawSource struct {
	URL        string `json:"url"    validate:"notblank"`
	Title      string `json:"title"`
	Stance     string `json:"stance" validate:"omitempty,stance"`
	KeyFinding string `json:"key_finding"`
}

type rawVerdict struct {
	Status             string               `json:"status"  validate:"factstatus"`
	Verdict            string               `json:"verdict" validate:"notblank"`
	Correction         *string              `json:"correction"`
	ValidSources       flexText             `json:"valid_sources"`
	Country            *string              `json:"country"`
	Category           *string              `json:"category"`
	ConfidenceScore    flexFloat            `json:"confidence_score"`
	ResearchSummary    string               `json:"research_summary"`
	KeyFindings        []string             `json:"key_findings"`
	Sources            []rawSource          `json:"sources"             validate:"dive"`
	Experts            models.ExpertOpinion `json:"experts"`
	ExpertPerspectives []rawPerspective     `json:"expert_perspectives" validate:"dive"`
	ResearchMetadata   flexText             `json:"research_metadata"`
}

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// extractJSON pulls the JSON object out of a reply that may be wrapped in
// prose or a code fence.
func extractJSON(text string) (string, error) {
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return "", errors.New("no JSON object in reply")
	}
	return text[start : end+1], nil
}

// ParseVerdict decodes and validates a model reply. Errors wrap ErrParse.
func ParseVerdict(v *validator.Validate, reply string) (*Verdict, error) {
	body, err := extractJSON(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	var raw rawVerdict
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrParse, err)
	}
	normalizeRaw(&raw)
	if err := v.Struct(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(raw.ExpertPerspectives) == 0 && raw.Experts.Empty() {
		return nil, fmt.Errorf("%w: no expert perspectives", ErrParse)
	}

	status, _ := models.ParseStatus(raw.Status)
	out := &Verdict{
		Status:       status,
		Verdict:      strings.TrimSpace(raw.Verdict),
		ValidSources: strings.TrimSpace(string(raw.ValidSources)),
		Summary:      strings.TrimSpace(raw.ResearchSummary),
		KeyFindings:  nonEmpty(raw.KeyFindings),
		Experts:      raw.Experts,
		Notes:        strings.TrimSpace(string(raw.ResearchMetadata)),
	}
	if raw.Correction != nil {
		if c := strings.TrimSpace(*raw.Correction); c != "" && !strings.EqualFold(c, "null") {
			out.Correction = &c
		}
	}
	if raw.Country != nil {
		if c := strings.ToLower(strings.TrimSpace(*raw.Country)); len(c) == 2 {
			out.Country = c
		}
	}
	if raw.Category != nil {
		if c := models.Category(strings.ToLower(strings.TrimSpace(*raw.Category))); c.Valid() {
			out.Category = c
		}
	}

	for _, s := range raw.Sources {
		out.Sources = append(out.Sources, CitedSource{
			URL:        strings.TrimSpace(s.URL),
			Title:      strings.TrimSpace(s.Title),
			Stance:     models.ParseStance(s.Stance),
			KeyFinding: strings.TrimSpace(s.KeyFinding),
		})
	}

	for _, p := range raw.ExpertPerspectives {
		ep := models.ExpertPerspective{
			ExpertName:      strings.TrimSpace(p.ExpertName),
			Stance:          models.ParseStance(p.Stance),
			Reasoning:       strings.TrimSpace(p.Reasoning),
			ConfidenceLevel: clamp(p.ConfidenceLevel.Value),
			Summary:         strings.TrimSpace(p.Summary),
			SourceType:      models.SourceLLM,
			ExpertiseArea:   strings.TrimSpace(p.ExpertiseArea),
		}
		if p.PublicationDate != nil {
			ep.PublicationDate = strings.TrimSpace(*p.PublicationDate)
		}
		if ep.Summary == "" {
			ep.Summary = oneLine(ep.Reasoning)
		}
		out.Perspectives = append(out.Perspectives, ep)
	}
	if len(out.Perspectives) == 0 {
		out.Perspectives = PerspectivesFromLegacy(raw.Experts)
	}

	switch {
	case raw.ConfidenceScore.Set:
		out.Confidence = clamp(raw.ConfidenceScore.Value)
	default:
		out.Confidence = meanConfidence(out.Perspectives)
	}
	if out.ValidSources == "" {
		out.ValidSources = fmt.Sprintf("%d", len(out.Sources))
	}
	return out, nil
}

// normalizeRaw upper-cases enum fields so validation is case-insensitive.
func normalizeRaw(raw *rawVerdict) {
	if st, ok := models.ParseStatus(raw.Status); ok {
		raw.Status = string(st)
	}
	for i := range raw.ExpertPerspectives {
		raw.ExpertPerspectives[i].Stance = normalizeStanceLabel(raw.ExpertPerspectives[i].Stance)
	}
	for i := range raw.Sources {
		raw.Sources[i].Stance = normalizeStanceLabel(raw.Sources[i].Stance)
	}
}

func normalizeStanceLabel(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return string(models.ParseStance(s))
}

type legacyPersona struct {
	name, area string
	stance     models.Stance
	confidence float64
}

var legacyPersonas = []legacyPersona{
	{"Critical Analyst", "Critical analysis and logical reasoning", models.StanceNeutral, 75},
	{"Devil's Advocate", "Counter-arguments and alternative readings", models.StanceOpposing, 70},
	{"Technical Expert", "Data, statistics and technical detail", models.StanceNeutral, 85},
	{"Predictive Analyst", "Consequences and likely developments", models.StanceNeutral, 60},
}

// PerspectivesFromLegacy converts the four-persona commentary into
// perspectives with fixed stances and confidences.
func PerspectivesFromLegacy(e models.ExpertOpinion) []models.ExpertPerspective {
	texts := []string{e.Critic, e.Devil, e.Nerd, e.Psychic}
	var out []models.ExpertPerspective
	for i, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		p := legacyPersonas[i]
		out = append(out, models.ExpertPerspective{
			ExpertName:      p.name,
			Stance:          p.stance,
			Reasoning:       text,
			ConfidenceLevel: p.confidence,
			Summary:         oneLine(text),
			SourceType:      models.SourceLLM,
			ExpertiseArea:   p.area,
		})
	}
	return out
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

func meanConfidence(ps []models.ExpertPerspective) float64 {
	if len(ps) == 0 {
		return 50
	}
	var sum float64
	for _, p := range ps {
		sum += p.ConfidenceLevel
	}
	return clamp(sum / float64(len(ps)))
}

// oneLine returns the first sentence of s, capped at 160 characters. A
// sentence ends at '.', '!' or '?' followed by a space, so a decimal such
// as "1.7" does not end it.
func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if i := strings.Index(s, ". "); i > 0 {
		s = s[:i+1]
	}
	for _, end := range []string{"! ", "? "} {
		if i := strings.Index(s, end); i > 0 {
			s = s[:i+1]
		}
	}
	if r := []rune(s); len(r) > 160 {
		s = string(r[:157]) + "..."
	}
	return s
}

func nonEmpty(in []string) []string {
	out := []string{}
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
